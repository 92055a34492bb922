package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("SESSION_DRIVER", "")
	t.Setenv("JOURNAL_DRIVER", "")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Auth.ChallengeWindow != 5*time.Minute {
		t.Fatalf("unexpected challenge window %s", cfg.Auth.ChallengeWindow)
	}
	if cfg.Ledger.MaxAnchorAge != 150 {
		t.Fatalf("unexpected anchor age %d", cfg.Ledger.MaxAnchorAge)
	}
	if cfg.Storage.SessionDriver != DriverRedis || cfg.Storage.JournalDriver != DriverPostgres {
		t.Fatalf("unexpected drivers %+v", cfg.Storage)
	}
	if cfg.Address() != cfg.HTTP.Host+":"+cfg.HTTP.Port {
		t.Fatalf("unexpected address %s", cfg.Address())
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("AUTH_CHALLENGE_WINDOW", "90")
	t.Setenv("TX_POLL_INTERVAL", "50ms")
	t.Setenv("RATE_LIMIT_RPS", "2.5")
	t.Setenv("JOURNAL_DRIVER", "memory")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Auth.ChallengeWindow != 90*time.Second {
		t.Fatalf("seconds fallback not applied: %s", cfg.Auth.ChallengeWindow)
	}
	if cfg.Orchestrator.PollInterval != 50*time.Millisecond {
		t.Fatalf("unexpected poll interval %s", cfg.Orchestrator.PollInterval)
	}
	if cfg.RateLimit.RPS != 2.5 {
		t.Fatalf("unexpected rps %v", cfg.RateLimit.RPS)
	}
	if cfg.Storage.JournalDriver != DriverMemory {
		t.Fatalf("unexpected journal driver %s", cfg.Storage.JournalDriver)
	}
}

func TestValidateRejectsUnknownDrivers(t *testing.T) {
	t.Setenv("SESSION_DRIVER", "etcd")
	if _, err := Load(); err == nil {
		t.Fatalf("expected an error for an unknown session driver")
	}
}

func TestValidateRequiresSecretInProduction(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("JWT_SECRET", "")
	if _, err := Load(); err == nil {
		t.Fatalf("expected an error without JWT_SECRET in production")
	}
}

func TestTrustedProxies(t *testing.T) {
	t.Setenv("JOURNAL_DRIVER", "memory")
	t.Setenv("RATE_LIMIT_TRUSTED_PROXIES", " 10.0.0.0/8, ,192.0.2.1")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(cfg.RateLimit.TrustedProxies) != 2 || cfg.RateLimit.TrustedProxies[1] != "192.0.2.1" {
		t.Fatalf("unexpected proxies %q", cfg.RateLimit.TrustedProxies)
	}

	t.Setenv("RATE_LIMIT_TRUSTED_PROXIES", "proxy.internal")
	if _, err := Load(); err == nil {
		t.Fatalf("expected an error for a hostname proxy entry")
	}
}
