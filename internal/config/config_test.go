package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfigIsValid(t *testing.T) {
	if err := Validate(DefaultConfig()); err != nil {
		t.Fatalf("default config must validate: %v", err)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "classmon.yaml")
	cfg := DefaultConfig()
	cfg.Thresholds.SoundMax = 75
	cfg.API.Addr = ":8080"
	if err := Save(path, cfg); err != nil {
		t.Fatalf("save: %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Thresholds.SoundMax != 75 {
		t.Fatalf("threshold not round-tripped, got %v", loaded.Thresholds.SoundMax)
	}
	if loaded.API.Addr != ":8080" {
		t.Fatalf("addr not round-tripped, got %q", loaded.API.Addr)
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "partial.json")
	if err := os.WriteFile(path, []byte(`{"logLevel": "debug"}`), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("explicit value lost, got %q", cfg.LogLevel)
	}
	if cfg.API.Addr == "" || cfg.Storage.Driver == "" {
		t.Fatalf("defaults must fill unset fields: %+v", cfg)
	}
	if cfg.Thresholds.SoundMax != 80 {
		t.Fatalf("default sound threshold must be 80, got %v", cfg.Thresholds.SoundMax)
	}
}

func TestValidateRejectsBadThresholds(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Thresholds.TempLow = 30
	cfg.Thresholds.TempHigh = 20
	if err := Validate(cfg); err == nil {
		t.Fatalf("inverted temperature bounds must fail validation")
	}
}

func TestManagerUpdate(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "classmon.yaml")
	if err := Save(path, DefaultConfig()); err != nil {
		t.Fatalf("save: %v", err)
	}
	m, err := NewManager(path)
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	next := *m.Get()
	next.Thresholds.COMax = 12
	if err := m.Update(&next); err != nil {
		t.Fatalf("update: %v", err)
	}
	if m.Get().Thresholds.COMax != 12 {
		t.Fatalf("update not visible through Get")
	}
	reloaded, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.Thresholds.COMax != 12 {
		t.Fatalf("update must persist to disk")
	}
}
