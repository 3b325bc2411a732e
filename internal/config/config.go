package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server struct {
		Host           string
		Port           string
		LogLevel       string
		AllowedOrigins []string
	}
	API struct {
		Key string
	}
	Store struct {
		Driver     string
		Path       string
		SQLitePath string
	}
	Rooms struct {
		TTL             time.Duration
		MaxTTL          time.Duration
		MaxParticipants int
	}
	Sweeper struct {
		Interval time.Duration
	}
	WS struct {
		MaxMessageBytes int64
		WriteTimeout    time.Duration
	}
	GRPC struct {
		HealthAddr string
	}
}

// Addr is the HTTP listen address.
func (c Config) Addr() string { return c.Server.Host + ":" + c.Server.Port }

// StorePath is the location used by the configured store driver.
func (c Config) StorePath() string {
	if strings.EqualFold(c.Store.Driver, "sqlite") {
		return c.Store.SQLitePath
	}
	return c.Store.Path
}

func Load() Config {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.allowed_origins", "localhost:8000,localhost:3000")

	v.SetDefault("api.key", "dev-api-key-change-in-production")

	v.SetDefault("store.driver", "file")
	v.SetDefault("store.path", "data/rooms.json")
	v.SetDefault("store.sqlite_path", "data/rooms.db")

	v.SetDefault("rooms.ttl_hours", 24)
	v.SetDefault("rooms.max_ttl_hours", 168)
	v.SetDefault("rooms.max_participants", 50)

	v.SetDefault("sweeper.interval", "1h")

	v.SetDefault("ws.max_message_bytes", 65536)
	v.SetDefault("ws.write_timeout", "10s")

	v.SetDefault("grpc.health_addr", ":9090")

	// Map envs
	v.BindEnv("server.host", "HOST")
	v.BindEnv("server.port", "PORT")
	v.BindEnv("server.log_level", "LOG_LEVEL")
	v.BindEnv("server.allowed_origins", "ALLOWED_ORIGINS")

	v.BindEnv("api.key", "API_KEY")

	v.BindEnv("store.driver", "STORE_DRIVER")
	v.BindEnv("store.path", "DATA_FILE")
	v.BindEnv("store.sqlite_path", "SQLITE_PATH")

	v.BindEnv("rooms.ttl_hours", "ROOM_TTL_HOURS")
	v.BindEnv("rooms.max_ttl_hours", "ROOM_MAX_TTL_HOURS")
	v.BindEnv("rooms.max_participants", "MAX_PARTICIPANTS_PER_ROOM")

	v.BindEnv("sweeper.interval", "SWEEP_INTERVAL")

	v.BindEnv("ws.max_message_bytes", "WS_MAX_MESSAGE_BYTES")
	v.BindEnv("ws.write_timeout", "WS_WRITE_TIMEOUT")

	v.BindEnv("grpc.health_addr", "GRPC_HEALTH_ADDR")

	var c Config
	c.Server.Host = v.GetString("server.host")
	c.Server.Port = toString(v.Get("server.port"))
	c.Server.LogLevel = v.GetString("server.log_level")
	c.Server.AllowedOrigins = splitList(v.GetString("server.allowed_origins"))

	c.API.Key = v.GetString("api.key")

	c.Store.Driver = strings.ToLower(v.GetString("store.driver"))
	c.Store.Path = v.GetString("store.path")
	c.Store.SQLitePath = v.GetString("store.sqlite_path")

	c.Rooms.TTL = hours(v.GetFloat64("rooms.ttl_hours"))
	c.Rooms.MaxTTL = hours(v.GetFloat64("rooms.max_ttl_hours"))
	c.Rooms.MaxParticipants = v.GetInt("rooms.max_participants")

	c.Sweeper.Interval = v.GetDuration("sweeper.interval")

	c.WS.MaxMessageBytes = v.GetInt64("ws.max_message_bytes")
	c.WS.WriteTimeout = v.GetDuration("ws.write_timeout")

	c.GRPC.HealthAddr = v.GetString("grpc.health_addr")

	slog.Info("config loaded",
		"addr", c.Addr(),
		"store", c.Store.Driver,
		"store_path", c.StorePath(),
		"room_ttl", c.Rooms.TTL,
		"sweep_interval", c.Sweeper.Interval,
		"grpc_health", c.GRPC.HealthAddr,
	)
	return c
}

// ParseLevel maps a LOG_LEVEL value to a slog level, defaulting to info.
func ParseLevel(s string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo
	}
	return l
}

func toString(v any) string { return fmt.Sprint(v) }

func hours(h float64) time.Duration { return time.Duration(h * float64(time.Hour)) }

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
