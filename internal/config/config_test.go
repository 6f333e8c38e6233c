package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"

	"github.com/mxwtnb/ampo/internal/config"
)

// ============================================================================
// Test: Load
// ============================================================================

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load("", nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.NATSURL != "nats://localhost:4222" {
		t.Errorf("nats url got %q", cfg.NATSURL)
	}
	if cfg.ListenAddr != ":8080" || cfg.MetricsAddr != ":9090" {
		t.Errorf("addrs got %q / %q", cfg.ListenAddr, cfg.MetricsAddr)
	}
	if cfg.EventBuffer != 4096 || cfg.PersistBatchSize != 100 {
		t.Errorf("buffers got %d / %d", cfg.EventBuffer, cfg.PersistBatchSize)
	}
	if cfg.PersistFlush != 250*time.Millisecond {
		t.Errorf("flush got %s", cfg.PersistFlush)
	}
	if cfg.SnapshotEvery != 1000 {
		t.Errorf("snapshot interval got %d", cfg.SnapshotEvery)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("log level got %q", cfg.LogLevel)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("AMPO_NATS_URL", "nats://broker:4222")
	t.Setenv("AMPO_LOG_LEVEL", "debug")

	cfg, err := config.Load("", nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.NATSURL != "nats://broker:4222" {
		t.Errorf("nats url got %q, want env value", cfg.NATSURL)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("log level got %q, want debug", cfg.LogLevel)
	}
}

func TestLoad_FlagsOverride(t *testing.T) {
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("listen-addr", ":8080", "")
	flags.Int("event-buffer", 4096, "")
	if err := flags.Parse([]string{"--listen-addr", ":7070", "--event-buffer", "128"}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}

	cfg, err := config.Load("", flags)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddr != ":7070" {
		t.Errorf("listen addr got %q, want :7070", cfg.ListenAddr)
	}
	if cfg.EventBuffer != 128 {
		t.Errorf("event buffer got %d, want 128", cfg.EventBuffer)
	}
}

func TestLoad_ConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := "nats-url: nats://filehost:4222\npersist-batch-size: 7\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := config.Load(path, nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.NATSURL != "nats://filehost:4222" {
		t.Errorf("nats url got %q, want file value", cfg.NATSURL)
	}
	if cfg.PersistBatchSize != 7 {
		t.Errorf("batch size got %d, want 7", cfg.PersistBatchSize)
	}

	if _, err := config.Load(filepath.Join(dir, "missing.yaml"), nil); err == nil {
		t.Error("explicit missing config file must fail")
	}
}
