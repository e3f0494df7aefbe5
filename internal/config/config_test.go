package config

import (
	"testing"
	"time"
)

func TestSocketURLFromAPI(t *testing.T) {
	cases := []struct {
		api  string
		want string
	}{
		{"http://localhost:5000/api", "ws://localhost:5000/ws"},
		{"https://api.psn.example/api", "wss://api.psn.example/ws"},
		{"https://api.psn.example/api/", "wss://api.psn.example/ws"},
		{"http://10.0.2.2:5000", "ws://10.0.2.2:5000/ws"},
	}
	for _, c := range cases {
		if got := SocketURLFromAPI(c.api); got != c.want {
			t.Errorf("SocketURLFromAPI(%q) = %q, want %q", c.api, got, c.want)
		}
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("API_BASE_URL", "http://localhost:5000/api")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.SocketURL != "ws://localhost:5000/ws" {
		t.Errorf("SocketURL = %q", cfg.SocketURL)
	}
	if cfg.ReconnectBase != time.Second {
		t.Errorf("ReconnectBase = %v, want 1s", cfg.ReconnectBase)
	}
	if cfg.MaxReconnectAttempts != 5 {
		t.Errorf("MaxReconnectAttempts = %d, want 5", cfg.MaxReconnectAttempts)
	}
	if cfg.BootstrapTimeout != 10*time.Second {
		t.Errorf("BootstrapTimeout = %v, want 10s", cfg.BootstrapTimeout)
	}
}

func TestLoadRequiresBaseURL(t *testing.T) {
	t.Setenv("API_BASE_URL", "")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for missing API_BASE_URL")
	}
}

func TestLoadRejectsBadDuration(t *testing.T) {
	t.Setenv("API_BASE_URL", "http://localhost:5000/api")
	t.Setenv("RECONNECT_BASE_DELAY", "soon")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for invalid RECONNECT_BASE_DELAY")
	}
}
