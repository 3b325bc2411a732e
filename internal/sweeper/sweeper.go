package sweeper

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const DefaultInterval = time.Hour

// Purger deletes expired rooms and reports their codes.
type Purger interface {
	PurgeExpired(ctx context.Context) ([]string, error)
}

// PurgerFunc adapts a function to Purger.
type PurgerFunc func(ctx context.Context) ([]string, error)

func (f PurgerFunc) PurgeExpired(ctx context.Context) ([]string, error) { return f(ctx) }

// Sweeper periodically reclaims expired rooms. Lazy expiry on reads is what
// keeps clients correct; a missed or failed sweep only delays cleanup.
type Sweeper struct {
	purger   Purger
	interval time.Duration
	log      *slog.Logger
	onPurged func(ctx context.Context, code string)

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New returns a stopped sweeper. onPurged, when set, runs for every purged code.
func New(p Purger, interval time.Duration, logger *slog.Logger, onPurged func(ctx context.Context, code string)) *Sweeper {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{purger: p, interval: interval, log: logger, onPurged: onPurged}
}

// Start launches the ticker loop. Calling Start on a running sweeper is a no-op.
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.loop(ctx, s.done)
	s.log.Info("sweeper started", "interval", s.interval)
}

// Stop cancels the loop and waits for it to exit.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (s *Sweeper) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single sweep. Failures are logged, never returned.
func (s *Sweeper) RunOnce(ctx context.Context) int {
	codes, err := s.purger.PurgeExpired(ctx)
	if err != nil {
		s.log.Error("sweep failed", "error", err, "purged", len(codes))
	}
	if s.onPurged != nil {
		for _, code := range codes {
			s.onPurged(ctx, code)
		}
	}
	return len(codes)
}
