package config

import (
	"log/slog"
	"os"
	"reflect"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	// Clear relevant envs
	for _, k := range []string{"HOST", "PORT", "LOG_LEVEL", "ALLOWED_ORIGINS", "API_KEY", "STORE_DRIVER",
		"DATA_FILE", "SQLITE_PATH", "ROOM_TTL_HOURS", "ROOM_MAX_TTL_HOURS", "MAX_PARTICIPANTS_PER_ROOM",
		"SWEEP_INTERVAL", "WS_MAX_MESSAGE_BYTES", "WS_WRITE_TIMEOUT", "GRPC_HEALTH_ADDR"} {
		os.Unsetenv(k)
	}

	c := Load()

	if c.Addr() != "0.0.0.0:8000" {
		t.Fatalf("expected default addr 0.0.0.0:8000, got %q", c.Addr())
	}
	if c.Server.LogLevel != "info" {
		t.Fatalf("expected default log level info, got %q", c.Server.LogLevel)
	}
	if !reflect.DeepEqual(c.Server.AllowedOrigins, []string{"localhost:8000", "localhost:3000"}) {
		t.Fatalf("unexpected origins %v", c.Server.AllowedOrigins)
	}
	if c.Store.Driver != "file" || c.StorePath() != "data/rooms.json" {
		t.Fatalf("unexpected store %q %q", c.Store.Driver, c.StorePath())
	}
	if c.Rooms.TTL != 24*time.Hour || c.Rooms.MaxTTL != 168*time.Hour || c.Rooms.MaxParticipants != 50 {
		t.Fatalf("unexpected room defaults %+v", c.Rooms)
	}
	if c.Sweeper.Interval != time.Hour {
		t.Fatalf("expected hourly sweep, got %v", c.Sweeper.Interval)
	}
	if c.WS.MaxMessageBytes != 65536 || c.WS.WriteTimeout != 10*time.Second {
		t.Fatalf("unexpected ws defaults %+v", c.WS)
	}
	if c.GRPC.HealthAddr != ":9090" {
		t.Fatalf("unexpected grpc addr %q", c.GRPC.HealthAddr)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("PORT", "9100")
	t.Setenv("STORE_DRIVER", "SQLite")
	t.Setenv("SQLITE_PATH", "/tmp/r.db")
	t.Setenv("ROOM_TTL_HOURS", "0.5")
	t.Setenv("SWEEP_INTERVAL", "90s")
	t.Setenv("ALLOWED_ORIGINS", " a.example.com , ,b.example.com")

	c := Load()

	if c.Server.Port != "9100" {
		t.Fatalf("expected port 9100, got %q", c.Server.Port)
	}
	if c.Store.Driver != "sqlite" || c.StorePath() != "/tmp/r.db" {
		t.Fatalf("unexpected store %q %q", c.Store.Driver, c.StorePath())
	}
	if c.Rooms.TTL != 30*time.Minute {
		t.Fatalf("expected 30m ttl, got %v", c.Rooms.TTL)
	}
	if c.Sweeper.Interval != 90*time.Second {
		t.Fatalf("expected 90s interval, got %v", c.Sweeper.Interval)
	}
	if !reflect.DeepEqual(c.Server.AllowedOrigins, []string{"a.example.com", "b.example.com"}) {
		t.Fatalf("unexpected origins %v", c.Server.AllowedOrigins)
	}
}

func TestParseLevel(t *testing.T) {
	if ParseLevel("debug") != slog.LevelDebug || ParseLevel("WARN") != slog.LevelWarn || ParseLevel("bogus") != slog.LevelInfo {
		t.Fatalf("unexpected level mapping")
	}
}
