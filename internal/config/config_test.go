package config

import (
	"strings"
	"testing"
	"time"
)

func TestParseDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("DB_DRIVER", "sqlite")

	cfg, err := Parse()
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Fatalf("HTTPAddr = %q, want :8080", cfg.HTTPAddr)
	}
	if cfg.SessionTTL != 12*time.Hour {
		t.Fatalf("SessionTTL = %v, want 12h", cfg.SessionTTL)
	}
	if len(cfg.CORSOrigins) != 2 {
		t.Fatalf("CORSOrigins = %v, want 2 entries", cfg.CORSOrigins)
	}
	if cfg.SMTPEnabled() || cfg.SMSEnabled() {
		t.Fatal("expected transports disabled by default")
	}
}

func TestParseRequiresSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	t.Setenv("DB_DRIVER", "sqlite")

	_, err := Parse()
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "parse env:") {
		t.Fatalf("expected parse env prefix, got %v", err)
	}
}

func TestParseRequiresPostgresDSN(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("DB_DRIVER", "postgres")
	t.Setenv("POSTGRES_DSN", "")

	if _, err := Parse(); err == nil {
		t.Fatal("expected missing dsn error")
	}
}

func TestParseRejectsUnknownDriver(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("DB_DRIVER", "oracle")

	if _, err := Parse(); err == nil || !strings.Contains(err.Error(), "oracle") {
		t.Fatalf("expected unsupported driver error, got %v", err)
	}
}
