package config

import (
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	t.Run("Defaults", func(t *testing.T) {
		t.Setenv("AUTH_SECRET", "s3cret")

		cfg, err := Load(false)
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if cfg.DBFile != "huddle.db" || cfg.APIAddr != ":8080" || cfg.AdminAddr != "localhost:8081" {
			t.Errorf("unexpected defaults: %+v", cfg)
		}
		if cfg.TokenExpiry != 24*time.Hour {
			t.Errorf("token expiry = %s", cfg.TokenExpiry)
		}
		if cfg.AllowedOrigins != nil {
			t.Errorf("expected no allowed origins, got %v", cfg.AllowedOrigins)
		}
	})

	t.Run("Overrides", func(t *testing.T) {
		t.Setenv("AUTH_SECRET", "s3cret")
		t.Setenv("HUDDLE_DB", "/data/team.db")
		t.Setenv("TOKEN_EXPIRY", "30m")
		t.Setenv("ALLOWED_ORIGINS", "https://a.example.com, https://b.example.com ,")

		cfg, err := Load(false)
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if cfg.DBFile != "/data/team.db" {
			t.Errorf("db file = %s", cfg.DBFile)
		}
		if cfg.TokenExpiry != 30*time.Minute {
			t.Errorf("token expiry = %s", cfg.TokenExpiry)
		}
		if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[1] != "https://b.example.com" {
			t.Errorf("allowed origins = %v", cfg.AllowedOrigins)
		}
	})

	t.Run("MissingSecret", func(t *testing.T) {
		t.Setenv("AUTH_SECRET", "")

		if _, err := Load(false); err == nil {
			t.Error("expected missing AUTH_SECRET to fail")
		}
		// CLI commands talk to the admin API and need no secret.
		if _, err := Load(true); err != nil {
			t.Errorf("cli mode rejected: %v", err)
		}
	})

	t.Run("BadExpiry", func(t *testing.T) {
		t.Setenv("AUTH_SECRET", "s3cret")
		t.Setenv("TOKEN_EXPIRY", "not-a-duration")
		if _, err := Load(false); err == nil {
			t.Error("expected bad TOKEN_EXPIRY to fail")
		}

		t.Setenv("TOKEN_EXPIRY", "-1h")
		if _, err := Load(false); err == nil {
			t.Error("expected negative TOKEN_EXPIRY to fail")
		}
	})

	t.Run("VapidKeysMustPair", func(t *testing.T) {
		t.Setenv("AUTH_SECRET", "s3cret")
		t.Setenv("VAPID_PUBLIC_KEY", "pub")
		t.Setenv("VAPID_PRIVATE_KEY", "")
		if _, err := Load(false); err == nil {
			t.Error("expected lone public key to fail")
		}

		t.Setenv("VAPID_PRIVATE_KEY", "priv")
		cfg, err := Load(false)
		if err != nil {
			t.Fatalf("paired keys rejected: %v", err)
		}
		if cfg.VAPIDPublicKey != "pub" || cfg.VAPIDPrivateKey != "priv" {
			t.Errorf("vapid keys = %q, %q", cfg.VAPIDPublicKey, cfg.VAPIDPrivateKey)
		}
	})
}
