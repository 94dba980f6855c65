package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_NoFileUsesDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	cfg, err := Load(filepath.Join(tmpDir, "does-not-exist.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.PageSize != 4096 {
		t.Errorf("PageSize = %d, want 4096", cfg.PageSize)
	}
	if cfg.Listen.Port != 1094 {
		t.Errorf("Listen.Port = %d, want 1094", cfg.Listen.Port)
	}
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	content := `
listen:
  address: "127.0.0.1"
  port: 2094
async:
  seg_size: 65536
  max_per_req: 4
buffer_pool:
  max_total: 64MiB
logging:
  level: debug
`
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Listen.Port != 2094 {
		t.Errorf("Listen.Port = %d, want 2094", cfg.Listen.Port)
	}
	if cfg.Async.SegSize != 65536 {
		t.Errorf("Async.SegSize = %d, want 65536", cfg.Async.SegSize)
	}
	if cfg.Logging.Level != "DEBUG" {
		t.Errorf("Logging.Level = %q, want DEBUG (normalized uppercase)", cfg.Logging.Level)
	}
	// Untouched fields still get their defaults.
	if cfg.PageSize != 4096 {
		t.Errorf("PageSize = %d, want 4096", cfg.PageSize)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte("listen:\n  port: 2094\n"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	t.Setenv("XROOTD_LISTEN_PORT", "3094")

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Listen.Port != 3094 {
		t.Errorf("Listen.Port = %d, want 3094 (env override)", cfg.Listen.Port)
	}
}

func TestValidate_RejectsBadPageSize(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.PageSize = 512
	if err := Validate(cfg); err == nil {
		t.Fatal("expected validation error for non-4096 page size")
	}
}

func TestValidate_RejectsBadLogLevel(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Logging.Level = "VERBOSE"
	if err := Validate(cfg); err == nil {
		t.Fatal("expected validation error for invalid log level")
	}
}

func TestSaveConfig_RoundTrip(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "out.yaml")

	cfg := GetDefaultConfig()
	cfg.Listen.Port = 5094
	if err := SaveConfig(cfg, path); err != nil {
		t.Fatalf("SaveConfig: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Listen.Port != 5094 {
		t.Errorf("Listen.Port = %d, want 5094", loaded.Listen.Port)
	}
}
