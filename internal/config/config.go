// Package config reads process settings from the environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/park285/boardroom/pkg/clock"
)

var ErrInvalid = errors.New("invalid configuration")

// ServerConfig drives cmd/boardserver.
type ServerConfig struct {
	HTTPAddr       string   `env:"HTTP_ADDR" envDefault:":8080"`
	RedisURL       string   `env:"REDIS_URL"`
	DatabaseURL    string   `env:"DATABASE_URL"`
	AllowedRooms   []string `env:"ALLOWED_ROOMS" envSeparator:","`
	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envSeparator:","`
	RoomTTLSec     int      `env:"ROOM_TTL_SEC" envDefault:"86400"`
	TickIntervalMs int      `env:"TICK_INTERVAL_MS" envDefault:"250"`

	DefaultBaseSeconds      int `env:"DEFAULT_BASE_SECONDS" envDefault:"300"`
	DefaultIncrementSeconds int `env:"DEFAULT_INCREMENT_SECONDS" envDefault:"0"`
}

func (c *ServerConfig) RoomTTL() time.Duration { return time.Duration(c.RoomTTLSec) * time.Second }

func (c *ServerConfig) TickInterval() time.Duration {
	return time.Duration(c.TickIntervalMs) * time.Millisecond
}

// ClientConfig drives cmd/boardctl.
type ClientConfig struct {
	ServerURL         string  `env:"BOARD_SERVER_URL"`
	PlayerID          string  `env:"PLAYER_ID"`
	PlayerName        string  `env:"PLAYER_NAME"`
	LayoutFile        string  `env:"BOARD_LAYOUT_FILE" envDefault:"boards.yaml"`
	ProximityRadius   float64 `env:"PROXIMITY_RADIUS" envDefault:"0"`
	MessagesDir       string  `env:"MESSAGES_DIR"`
	ReconnectAttempts int     `env:"RECONNECT_ATTEMPTS" envDefault:"5"`
}

func LoadServer() (*ServerConfig, error) {
	cfg, err := env.ParseAs[ServerConfig]()
	if err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}
	cfg.HTTPAddr = strings.TrimSpace(cfg.HTTPAddr)
	cfg.RedisURL = strings.TrimSpace(cfg.RedisURL)
	cfg.DatabaseURL = strings.TrimSpace(cfg.DatabaseURL)
	cfg.AllowedRooms = cleanList(cfg.AllowedRooms)
	cfg.AllowedOrigins = cleanList(cfg.AllowedOrigins)

	if cfg.HTTPAddr == "" {
		return nil, fmt.Errorf("%w: HTTP_ADDR is required", ErrInvalid)
	}
	if cfg.RoomTTLSec <= 0 {
		return nil, fmt.Errorf("%w: ROOM_TTL_SEC must be positive", ErrInvalid)
	}
	if cfg.TickIntervalMs < 10 {
		return nil, fmt.Errorf("%w: TICK_INTERVAL_MS must be at least 10", ErrInvalid)
	}
	if !clock.ValidBase(cfg.DefaultBaseSeconds) {
		return nil, fmt.Errorf("%w: DEFAULT_BASE_SECONDS %d not in %v", ErrInvalid, cfg.DefaultBaseSeconds, clock.BaseSeconds)
	}
	if !clock.ValidIncrement(cfg.DefaultIncrementSeconds) {
		return nil, fmt.Errorf("%w: DEFAULT_INCREMENT_SECONDS %d not in %v", ErrInvalid, cfg.DefaultIncrementSeconds, clock.IncrementSeconds)
	}
	return &cfg, nil
}

func LoadClient() (*ClientConfig, error) {
	cfg, err := env.ParseAs[ClientConfig]()
	if err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}
	cfg.ServerURL = strings.TrimSpace(cfg.ServerURL)
	cfg.PlayerID = strings.TrimSpace(cfg.PlayerID)
	cfg.PlayerName = strings.TrimSpace(cfg.PlayerName)
	cfg.LayoutFile = strings.TrimSpace(cfg.LayoutFile)
	cfg.MessagesDir = strings.TrimSpace(cfg.MessagesDir)

	if cfg.ServerURL == "" {
		return nil, fmt.Errorf("%w: BOARD_SERVER_URL is required", ErrInvalid)
	}
	if cfg.ProximityRadius < 0 {
		return nil, fmt.Errorf("%w: PROXIMITY_RADIUS must not be negative", ErrInvalid)
	}
	if cfg.ReconnectAttempts < 0 {
		cfg.ReconnectAttempts = 0
	}
	if cfg.PlayerName == "" {
		cfg.PlayerName = cfg.PlayerID
	}
	return &cfg, nil
}

func cleanList(in []string) []string {
	var out []string
	for _, p := range in {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
