package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DISCORD_TOKEN", "")
	t.Setenv("STREAM_CHECK_INTERVAL", "")
	t.Setenv("TEAM_SYNC_INTERVAL", "")
	t.Setenv("PROBE_TIMEOUT", "")
	t.Setenv("BROWSER_PROBES", "")
	t.Setenv("DB_DSN", "")
	t.Setenv("HTTP_ADDR", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.StreamCheckInterval != time.Minute {
		t.Errorf("StreamCheckInterval = %v, want 1m", cfg.StreamCheckInterval)
	}
	if cfg.TeamSyncInterval != 30*time.Minute {
		t.Errorf("TeamSyncInterval = %v, want 30m", cfg.TeamSyncInterval)
	}
	if cfg.ProbeTimeout != 10*time.Second {
		t.Errorf("ProbeTimeout = %v, want 10s", cfg.ProbeTimeout)
	}
	if !cfg.BrowserProbes {
		t.Error("BrowserProbes should default to enabled")
	}
	if cfg.HTTPAddr != ":8080" {
		t.Errorf("HTTPAddr = %s, want :8080", cfg.HTTPAddr)
	}
	if cfg.DBDsn == "" {
		t.Error("DBDsn should have a local default")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("STREAM_CHECK_INTERVAL", "15s")
	t.Setenv("TEAM_SYNC_INTERVAL", "1h")
	t.Setenv("BROWSER_PROBES", "0")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.StreamCheckInterval != 15*time.Second {
		t.Errorf("StreamCheckInterval = %v, want 15s", cfg.StreamCheckInterval)
	}
	if cfg.TeamSyncInterval != time.Hour {
		t.Errorf("TeamSyncInterval = %v, want 1h", cfg.TeamSyncInterval)
	}
	if cfg.BrowserProbes {
		t.Error("BROWSER_PROBES=0 should disable browser probes")
	}
}

func TestLoadInvalidDuration(t *testing.T) {
	t.Setenv("STREAM_CHECK_INTERVAL", "soon")
	if _, err := Load(); err == nil {
		t.Error("Load() should reject a malformed duration")
	}

	t.Setenv("STREAM_CHECK_INTERVAL", "-5s")
	if _, err := Load(); err == nil {
		t.Error("Load() should reject a non-positive duration")
	}
}

func TestValidateDiscordReady(t *testing.T) {
	cfg := &Config{}
	if err := cfg.ValidateDiscordReady(); err == nil {
		t.Error("ValidateDiscordReady() should fail without a token")
	}
	cfg.DiscordToken = "tok"
	if err := cfg.ValidateDiscordReady(); err != nil {
		t.Errorf("ValidateDiscordReady() error = %v", err)
	}
}
