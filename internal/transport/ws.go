package transport

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"github.com/google/uuid"
	ws "nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"rendezvous/signal/internal/relay"
)

const DefaultReadLimit = 64 << 10

type Options struct {
	// OriginPatterns are host patterns accepted in the Origin header.
	OriginPatterns []string
	ReadLimit      int64
	Logger         *slog.Logger
}

// Server upgrades HTTP requests to WebSocket connections and feeds their
// frames to the relay, one goroutine per connection.
type Server struct {
	relay     *relay.Relay
	origins   []string
	readLimit int64
	log       *slog.Logger

	active sync.WaitGroup
}

func NewServer(rl *relay.Relay, opts Options) *Server {
	s := &Server{relay: rl, origins: opts.OriginPatterns, readLimit: opts.ReadLimit, log: opts.Logger}
	if s.readLimit <= 0 {
		s.readLimit = DefaultReadLimit
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	return s
}

// conn adapts a websocket connection to conns.Transport. Writes are safe for
// concurrent use.
type conn struct {
	c *ws.Conn
}

func (c *conn) Send(ctx context.Context, msg any) error {
	return wsjson.Write(ctx, c.c, msg)
}

func (c *conn) Close(reason string) error {
	return c.c.Close(ws.StatusNormalClosure, reason)
}

func (s *Server) HandleWS(w http.ResponseWriter, r *http.Request) {
	c, err := ws.Accept(w, r, &ws.AcceptOptions{OriginPatterns: s.origins})
	if err != nil {
		s.log.Warn("ws accept", "remote", r.RemoteAddr, "error", err)
		return
	}
	c.SetReadLimit(s.readLimit)

	s.active.Add(1)
	defer s.active.Done()

	id := uuid.NewString()
	ctx := r.Context()
	if err := s.relay.Connect(ctx, id, &conn{c: c}); err != nil {
		s.log.Warn("ws greet", "socket_id", id, "error", err)
		s.relay.Disconnect(ctx, id)
		_ = c.Close(ws.StatusInternalError, "greeting failed")
		return
	}
	defer s.relay.Disconnect(ctx, id)

	for {
		typ, data, err := c.Read(ctx)
		if err != nil {
			if st := ws.CloseStatus(err); st == -1 && !errors.Is(err, context.Canceled) {
				s.log.Debug("ws read", "socket_id", id, "error", err)
			}
			break
		}
		if typ != ws.MessageText && typ != ws.MessageBinary {
			continue
		}
		s.relay.HandleFrame(ctx, id, data)
	}
	_ = c.Close(ws.StatusNormalClosure, "done")
}

// Drain waits for every connection handler to return or for ctx to end.
func (s *Server) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.active.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
