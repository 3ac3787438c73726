package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultValues(t *testing.T) {
	cfg := Default()
	if cfg.DebugeeHost != "localhost" || cfg.DebugeePort != 9222 {
		t.Fatalf("unexpected debuggee defaults: %+v", cfg)
	}
	if cfg.Username != "default" || cfg.Hostname != "default" || cfg.Tag != "default" {
		t.Fatalf("unexpected identity defaults: %+v", cfg)
	}
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DebugeePort != 9222 {
		t.Fatalf("expected defaults, got %+v", cfg)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "chromon.yaml")
	contents := "debugeehost: 10.0.0.5\ndebugeeport: 9333\nusername: alice\n"
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DebugeeHost != "10.0.0.5" || cfg.DebugeePort != 9333 {
		t.Fatalf("yaml overrides not applied: %+v", cfg)
	}
	if cfg.Username != "alice" {
		t.Fatalf("expected overridden username, got %s", cfg.Username)
	}
	if cfg.Tag != "default" {
		t.Fatalf("expected untouched field to keep its default, got %s", cfg.Tag)
	}
}

func TestValidateRejectsBadPort(t *testing.T) {
	cfg := Default()
	cfg.DebugeePort = 70000
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for out-of-range port")
	}
}

func TestValidateRequiresRemoteHostWhenEnabled(t *testing.T) {
	cfg := Default()
	cfg.Remote.Enable = true
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for missing remote host")
	}
	cfg.Remote.Host = "collector.internal"
	cfg.Remote.Port = 9999
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
}
