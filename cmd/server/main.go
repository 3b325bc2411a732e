package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"rendezvous/signal/internal/api"
	"rendezvous/signal/internal/config"
	"rendezvous/signal/internal/conns"
	"rendezvous/signal/internal/events"
	"rendezvous/signal/internal/health"
	"rendezvous/signal/internal/relay"
	"rendezvous/signal/internal/rooms"
	"rendezvous/signal/internal/store"
	"rendezvous/signal/internal/sweeper"
	"rendezvous/signal/internal/transport"
)

func main() {
	// Load .env file if present (ignored if missing)
	_ = godotenv.Load()

	cfg := config.Load()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: config.ParseLevel(cfg.Server.LogLevel)}))
	slog.SetDefault(logger)

	st, err := store.Open(cfg.Store.Driver, cfg.StorePath())
	if err != nil {
		logger.Error("open store", "driver", cfg.Store.Driver, "path", cfg.StorePath(), "error", err)
		os.Exit(1)
	}
	defer st.Close()

	lc := rooms.New(st, rooms.Options{
		DefaultTTL:             cfg.Rooms.TTL,
		MaxTTL:                 cfg.Rooms.MaxTTL,
		DefaultMaxParticipants: cfg.Rooms.MaxParticipants,
		Logger:                 logger.With("component", "rooms"),
	})
	ev := events.NewStore(0)
	rl := relay.New(lc, conns.NewRegistry(), relay.Options{
		Logger:      logger.With("component", "relay"),
		SendTimeout: cfg.WS.WriteTimeout,
		Events:      ev,
	})
	purge := sweeper.PurgerFunc(func(ctx context.Context) ([]string, error) {
		if n := rl.RetryStale(ctx); n > 0 {
			logger.Warn("stale participants pending", "count", n)
		}
		return lc.PurgeExpired(ctx)
	})
	sw := sweeper.New(purge, cfg.Sweeper.Interval, logger.With("component", "sweeper"), rl.EvictRoom)
	wss := transport.NewServer(rl, transport.Options{
		OriginPatterns: cfg.Server.AllowedOrigins,
		ReadLimit:      cfg.WS.MaxMessageBytes,
		Logger:         logger.With("component", "ws"),
	})

	h := api.NewHandlers(cfg, lc, rl, sw, ev, logger.With("component", "api"))
	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           logMiddleware(logger, api.NewRouter(h, wss.HandleWS)),
		ReadHeaderTimeout: 5 * time.Second,
	}

	var grpcHealth *health.GRPCServer
	if cfg.GRPC.HealthAddr != "" {
		lis, err := net.Listen("tcp", cfg.GRPC.HealthAddr)
		if err != nil {
			logger.Error("grpc health listen", "addr", cfg.GRPC.HealthAddr, "error", err)
			os.Exit(1)
		}
		grpcHealth = health.NewGRPCServer()
		go func() {
			if err := grpcHealth.Serve(lis); err != nil {
				logger.Error("grpc health serve", "error", err)
			}
		}()
		logger.Info("grpc health listening", "addr", cfg.GRPC.HealthAddr)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	sw.Start(ctx)

	// Graceful shutdown on SIGINT/SIGTERM
	done := make(chan struct{})
	go func() {
		defer close(done)
		<-ctx.Done()
		logger.Info("shutdown signal received; stopping server")
		if grpcHealth != nil {
			grpcHealth.SetServing(false)
		}
		sw.Stop()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		rl.CloseAll("server shutting down")
		if err := wss.Drain(shutdownCtx); err != nil {
			logger.Warn("connections still open at exit", "count", rl.ConnectionCount())
		}
		if grpcHealth != nil {
			grpcHealth.Stop()
		}
	}()

	logger.Info("server starting", "addr", cfg.Addr())
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
	<-done
}

func logMiddleware(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		logger.Debug("http request", "method", r.Method, "path", r.URL.Path, "took", time.Since(start))
	})
}
