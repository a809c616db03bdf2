package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig("/tmp/example")

	if cfg.MaxIterations != 10 {
		t.Errorf("expected default max iterations 10, got %d", cfg.MaxIterations)
	}
	if cfg.MaxStuckIterations != 10 {
		t.Errorf("expected default max stuck iterations 10, got %d", cfg.MaxStuckIterations)
	}
	if cfg.TokenThreshold != 10_000 {
		t.Errorf("expected default token threshold 10000, got %d", cfg.TokenThreshold)
	}
	if !cfg.EnableCouplingCheck {
		t.Errorf("coupling check should be enabled by default")
	}
	if cfg.EnableRuntimePhase {
		t.Errorf("runtime phase should be disabled by default")
	}
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	dir := t.TempDir()

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.MaxIterations != 10 {
		t.Errorf("expected defaults for missing config file")
	}
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()

	cfg := DefaultConfig(dir)
	cfg.MaxIterations = 5
	cfg.ImageTag = "custom-tag"
	cfg.EnableRuntimePhase = true

	if err := cfg.Save(); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if loaded.MaxIterations != 5 {
		t.Errorf("expected max iterations 5, got %d", loaded.MaxIterations)
	}
	if loaded.ImageTag != "custom-tag" {
		t.Errorf("expected image tag round-trip, got %q", loaded.ImageTag)
	}
	if !loaded.EnableRuntimePhase {
		t.Errorf("expected runtime phase flag round-trip")
	}
}

func TestLoadCorruptConfigFails(t *testing.T) {
	dir := t.TempDir()
	stateDir := filepath.Join(dir, StateDirName)
	if err := os.MkdirAll(stateDir, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(stateDir, "config.json"), []byte("{nope"), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(dir); err == nil {
		t.Errorf("expected error for corrupt config")
	}
}

func TestResolvedImageTag(t *testing.T) {
	tests := []struct {
		root string
		want string
	}{
		{"/home/user/My Project", "buildmender-my-project"},
		{"/srv/shop_api", "buildmender-shop_api"},
		{"/x/...", "buildmender-project"},
	}

	for _, tt := range tests {
		cfg := DefaultConfig(tt.root)
		if got := cfg.ResolvedImageTag(); got != tt.want {
			t.Errorf("ResolvedImageTag(%q) = %q, want %q", tt.root, got, tt.want)
		}
	}
}

func TestResolvedImageTagOverride(t *testing.T) {
	cfg := DefaultConfig("/tmp/x")
	cfg.ImageTag = "pinned"
	if cfg.ResolvedImageTag() != "pinned" {
		t.Errorf("explicit image tag must win")
	}
}
