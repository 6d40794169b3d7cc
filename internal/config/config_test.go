package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()
	if cfg.Addr != ":8787" {
		t.Fatalf("expected default addr :8787, got %q", cfg.Addr)
	}
	if cfg.AccessTTL != 15*time.Minute {
		t.Fatalf("expected access ttl 15m, got %s", cfg.AccessTTL)
	}
	if !cfg.AuthEnabled {
		t.Fatal("expected auth enabled by default")
	}
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("API_ADDR", ":9999")
	t.Setenv("AUTH_ENABLED", "false")
	t.Setenv("DEV_BYPASS_EMAIL", "dev@terravest.local")
	cfg := Load()
	if cfg.Addr != ":9999" {
		t.Fatalf("expected addr :9999, got %q", cfg.Addr)
	}
	if cfg.AuthEnabled {
		t.Fatal("expected auth disabled")
	}
	if cfg.DevBypassEmail != "dev@terravest.local" {
		t.Fatalf("unexpected bypass email %q", cfg.DevBypassEmail)
	}
}

func TestDevBypassActive(t *testing.T) {
	cases := []struct {
		name string
		cfg  Config
		want bool
	}{
		{name: "auth enabled", cfg: Config{AppEnv: "dev", AuthEnabled: true, DevBypassEmail: "dev@x"}, want: false},
		{name: "no email", cfg: Config{AppEnv: "dev", AuthEnabled: false}, want: false},
		{name: "dev bypass", cfg: Config{AppEnv: "dev", AuthEnabled: false, DevBypassEmail: "dev@x"}, want: true},
		{name: "production never", cfg: Config{AppEnv: "Production", AuthEnabled: false, DevBypassEmail: "dev@x"}, want: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.cfg.DevBypassActive(); got != tc.want {
				t.Fatalf("DevBypassActive() = %v, want %v", got, tc.want)
			}
		})
	}
}
