package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_DefaultsWhenNoFile(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("expected default port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Database.DSN != "" {
		t.Errorf("expected empty default dsn, got %q", cfg.Database.DSN)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestLoad_TOMLOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.toml")
	contents := `
log_level = "debug"

[server]
port = 9090

[redis]
addr = "localhost:6379"
ttl = "1m"
`
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("expected port 9090, got %d", cfg.Server.Port)
	}
	if cfg.Redis.TTL.Duration != time.Minute {
		t.Errorf("expected ttl 1m, got %s", cfg.Redis.TTL)
	}
	// Untouched sections keep their defaults.
	if cfg.Server.ShutdownTimeout.Duration != 15*time.Second {
		t.Errorf("expected default shutdown timeout, got %s", cfg.Server.ShutdownTimeout)
	}
}

func TestLoad_EnvOverridesTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.toml")
	if err := os.WriteFile(path, []byte("[server]\nport = 9090\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("LOANENGINE_SERVER_PORT", "7070")
	t.Setenv("LOANENGINE_DATABASE_DSN", "postgres://loans:secret@db/loans")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 7070 {
		t.Errorf("expected env port 7070, got %d", cfg.Server.Port)
	}
	if cfg.Database.DSN != "postgres://loans:secret@db/loans" {
		t.Errorf("expected env dsn, got %q", cfg.Database.DSN)
	}
}

func TestValidate_Rejections(t *testing.T) {
	cfg := Defaults()
	cfg.Server.Port = 0
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for port 0")
	}

	cfg = Defaults()
	cfg.LogLevel = "verbose"
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for unknown log level")
	}

	cfg = Defaults()
	cfg.Redis.Addr = "localhost:6379"
	cfg.Redis.TTL = duration{}
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for zero redis ttl")
	}
}
