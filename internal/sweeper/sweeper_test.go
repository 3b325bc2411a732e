package sweeper

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakePurger struct {
	calls atomic.Int32
	codes []string
	err   error
}

func (f *fakePurger) PurgeExpired(context.Context) ([]string, error) {
	f.calls.Add(1)
	return f.codes, f.err
}

func TestRunOnceNotifiesPurged(t *testing.T) {
	p := &fakePurger{codes: []string{"aaa111", "bbb222"}}
	var mu sync.Mutex
	var got []string
	s := New(p, time.Hour, nil, func(_ context.Context, code string) {
		mu.Lock()
		got = append(got, code)
		mu.Unlock()
	})
	if n := s.RunOnce(context.Background()); n != 2 {
		t.Fatalf("expected 2 purged, got %d", n)
	}
	if strings.Join(got, ",") != "aaa111,bbb222" {
		t.Fatalf("unexpected notifications %v", got)
	}
}

func TestRunOnceSwallowsErrors(t *testing.T) {
	var buf bytes.Buffer
	p := &fakePurger{err: errors.New("store down")}
	s := New(p, time.Hour, slog.New(slog.NewTextHandler(&buf, nil)), nil)
	if n := s.RunOnce(context.Background()); n != 0 {
		t.Fatalf("expected 0, got %d", n)
	}
	if !strings.Contains(buf.String(), "sweep failed") {
		t.Fatalf("failure not logged: %q", buf.String())
	}
}

func TestPurgerFunc(t *testing.T) {
	var calls int
	s := New(PurgerFunc(func(context.Context) ([]string, error) {
		calls++
		return []string{"ccc333"}, nil
	}), time.Hour, nil, nil)
	if n := s.RunOnce(context.Background()); n != 1 || calls != 1 {
		t.Fatalf("expected one purge from one call, got n=%d calls=%d", n, calls)
	}
}

func TestStartStop(t *testing.T) {
	p := &fakePurger{}
	s := New(p, 5*time.Millisecond, nil, nil)
	s.Start(context.Background())
	s.Start(context.Background())

	deadline := time.Now().Add(2 * time.Second)
	for p.calls.Load() < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("sweeper never ticked")
		}
		time.Sleep(time.Millisecond)
	}
	s.Stop()
	after := p.calls.Load()
	time.Sleep(30 * time.Millisecond)
	if p.calls.Load() != after {
		t.Fatalf("sweeper kept running after Stop")
	}
	s.Stop()
}

func TestStopOnParentCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := New(&fakePurger{}, time.Hour, nil, nil)
	s.Start(ctx)
	cancel()
	done := make(chan struct{})
	go func() { s.Stop(); close(done) }()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Stop hung after parent cancel")
	}
}
