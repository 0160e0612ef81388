package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	if cfg.Server.Port != 8000 {
		t.Fatalf("unexpected default port %d", cfg.Server.Port)
	}
	if cfg.Auth.Algorithm != "HS256" || cfg.Auth.TokenExpiry != 30*time.Minute {
		t.Fatalf("unexpected auth defaults %+v", cfg.Auth)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestLoadYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "promptseq.yaml")
	data := `
project_name: custom
server:
  port: 9001
engine:
  fail_fast: true
  fan_out_limit: 8
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ProjectName != "custom" || cfg.Server.Port != 9001 {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	if !cfg.Engine.FailFast || cfg.Engine.FanOutLimit != 8 {
		t.Fatalf("engine values not applied: %+v", cfg.Engine)
	}
	// Untouched settings keep their defaults.
	if cfg.Auth.Algorithm != "HS256" {
		t.Fatalf("default lost: %+v", cfg.Auth)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "promptseq.yaml")
	if err := os.WriteFile(path, []byte("database:\n  url: from-file.db\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("DATABASE_URL", "from-env.db")
	t.Setenv("SECRET_KEY", "env-secret")
	t.Setenv("ACCESS_TOKEN_EXPIRE_MINUTES", "5")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Database.URL != "from-env.db" {
		t.Fatalf("env should override file, got %q", cfg.Database.URL)
	}
	if cfg.Auth.SecretKey != "env-secret" || cfg.Auth.TokenExpiry != 5*time.Minute {
		t.Fatalf("env auth values not applied: %+v", cfg.Auth)
	}
}

func TestLoadMissingFileFails(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("missing explicit config file should fail")
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := Default()
	cfg.Auth.Algorithm = "none"
	if err := cfg.Validate(); err == nil {
		t.Fatal("bad algorithm accepted")
	}

	cfg = Default()
	cfg.Server.Port = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("bad port accepted")
	}

	cfg = Default()
	cfg.Engine.FanOutLimit = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("bad fan_out_limit accepted")
	}
}
