package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Server.Addr != ":9090" {
		t.Errorf("addr = %q", cfg.Server.Addr)
	}
	if cfg.Queue.MaxAttempts != 3 || cfg.Queue.RetentionDays != 7 {
		t.Errorf("queue defaults = %+v", cfg.Queue)
	}
	if cfg.Inference.FastModel == "" || cfg.Inference.FullModel == "" {
		t.Error("model tiers not defaulted")
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
server:
  addr: ":8080"
inference:
  api_key: from-file
  full_model: custom-model
queue:
  batch_size: 25
  drain_interval: 30s
log_level: debug
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Addr != ":8080" {
		t.Errorf("addr = %q", cfg.Server.Addr)
	}
	if cfg.Inference.FullModel != "custom-model" {
		t.Errorf("full model = %q", cfg.Inference.FullModel)
	}
	if cfg.Inference.FastModel == "" {
		t.Error("unset fast model lost its default")
	}
	if cfg.Queue.BatchSize != 25 {
		t.Errorf("batch size = %d", cfg.Queue.BatchSize)
	}
	if cfg.Queue.DrainInterval != 30*time.Second {
		t.Errorf("drain interval = %v", cfg.Queue.DrainInterval)
	}
	if cfg.Queue.MaxAttempts != 3 {
		t.Errorf("max attempts lost its default: %d", cfg.Queue.MaxAttempts)
	}
}

func TestLoadAPIKeyFromEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("log_level: info\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv(apiKeyEnv, "from-env")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Inference.APIKey != "from-env" {
		t.Errorf("api key = %q", cfg.Inference.APIKey)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
