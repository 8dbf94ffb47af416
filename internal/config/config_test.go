package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/convai/dialog-router/internal/config"
)

func TestLoad_FromConfigDir(t *testing.T) {
	home := filepath.Join(t.TempDir(), "home")
	dir := filepath.Join(home, ".dialogrouter")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("orchestrator:\n  max_length: 4\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("HOME", home)
	t.Setenv("DIALOGROUTER_HOME", dir)

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Orchestrator.MaxLength != 4 {
		t.Fatalf("expected max_length=4 got %d", cfg.Orchestrator.MaxLength)
	}
	if cfg.NeedsGenesis {
		t.Fatalf("expected NeedsGenesis=false when config.yaml exists")
	}
}

func TestLoad_MissingConfigSetsNeedsGenesisAndDefaults(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("DIALOGROUTER_HOME", dir)

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if !cfg.NeedsGenesis {
		t.Fatalf("expected NeedsGenesis=true for fresh home dir")
	}
	if cfg.Orchestrator.MaxLength != 10 {
		t.Fatalf("expected default max_length=10 got %d", cfg.Orchestrator.MaxLength)
	}
	if cfg.HTTP.BindAddr != "127.0.0.1:8080" {
		t.Fatalf("expected default bind addr, got %q", cfg.HTTP.BindAddr)
	}
}

func TestLoad_EnvOverridesWinOverFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("log_level: info\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("DIALOGROUTER_HOME", dir)
	t.Setenv("DIALOGROUTER_LOG_LEVEL", "debug")
	t.Setenv("DIALOGROUTER_MAX_LENGTH", "7")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("expected env override log_level=debug, got %q", cfg.LogLevel)
	}
	if cfg.Orchestrator.MaxLength != 7 {
		t.Fatalf("expected env override max_length=7, got %d", cfg.Orchestrator.MaxLength)
	}
}

func TestFingerprint_StableForSameConfig(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("DIALOGROUTER_HOME", dir)

	cfg1, err := config.Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	cfg2, err := config.Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg1.Fingerprint() != cfg2.Fingerprint() {
		t.Fatalf("expected stable fingerprint across loads")
	}
}
