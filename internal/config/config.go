// Package config loads client configuration from the environment, with
// optional .env support for local development.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates client configuration values loaded from environment variables.
type Config struct {
	Env     string
	Profile string

	// APIBaseURL is the REST origin, typically ending in /api.
	APIBaseURL string
	// SocketURL is derived from APIBaseURL: path suffix stripped, ws scheme.
	SocketURL string

	ReconnectBase        time.Duration
	MaxReconnectAttempts int
	HandshakeTimeout     time.Duration
	BootstrapTimeout     time.Duration
}

// Load parses configuration from the current environment. A .env file in
// the working directory is honored when present.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		Env:        getEnv("APP_ENV", "dev"),
		Profile:    getEnv("PSNCHAT_PROFILE", "default"),
		APIBaseURL: os.Getenv("API_BASE_URL"),
	}
	if cfg.APIBaseURL == "" {
		return Config{}, fmt.Errorf("API_BASE_URL is required")
	}
	cfg.SocketURL = SocketURLFromAPI(cfg.APIBaseURL)

	base, err := parseDurationEnv("RECONNECT_BASE_DELAY", time.Second)
	if err != nil {
		return Config{}, err
	}
	cfg.ReconnectBase = base

	attempts, err := parseIntEnv("MAX_RECONNECT_ATTEMPTS", 5)
	if err != nil {
		return Config{}, err
	}
	if attempts < 1 {
		return Config{}, fmt.Errorf("MAX_RECONNECT_ATTEMPTS must be positive")
	}
	cfg.MaxReconnectAttempts = attempts

	handshake, err := parseDurationEnv("SOCKET_HANDSHAKE_TIMEOUT", 20*time.Second)
	if err != nil {
		return Config{}, err
	}
	cfg.HandshakeTimeout = handshake

	bootstrap, err := parseDurationEnv("BOOTSTRAP_TIMEOUT", 10*time.Second)
	if err != nil {
		return Config{}, err
	}
	cfg.BootstrapTimeout = bootstrap

	return cfg, nil
}

// SocketURLFromAPI turns a REST base URL into the socket endpoint: the
// /api path suffix is dropped and the scheme swapped to ws/wss.
func SocketURLFromAPI(apiBase string) string {
	u := strings.TrimRight(apiBase, "/")
	u = strings.TrimSuffix(u, "/api")
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u + "/ws"
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func parseDurationEnv(key string, def time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s duration: %w", key, err)
	}
	return d, nil
}

func parseIntEnv(key string, def int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s integer: %w", key, err)
	}
	return n, nil
}
