package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"ewradio/internal/config"
	"ewradio/internal/score"
)

func TestDefault(t *testing.T) {
	cfg := config.Default()
	if cfg.Backend != "portaudio" {
		t.Errorf("expected backend 'portaudio', got %q", cfg.Backend)
	}
	if cfg.SampleRate != 48000 {
		t.Errorf("expected 48 kHz, got %d", cfg.SampleRate)
	}
	if cfg.Volume != 1.0 {
		t.Errorf("expected volume 1.0, got %v", cfg.Volume)
	}
	e := cfg.Engine
	if e.DestroyDelayFactor != 4 {
		t.Errorf("expected destroy delay factor 4, got %v", e.DestroyDelayFactor)
	}
	if e.StaticFade() >= e.SignalFade() {
		t.Error("static bed should respond faster than signals")
	}
	if e.ReleaseThreshold > e.AcquireThreshold {
		t.Error("release threshold above acquire threshold")
	}
	if e != e.Normalize() {
		t.Error("defaults should already be normalized")
	}
}

func TestSaveAndLoad(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)

	cfg := config.Default()
	cfg.Backend = "oto"
	cfg.Scorer = "lock"
	cfg.AssetDir = "/srv/audio"
	cfg.Volume = 0.75
	cfg.Engine.SignalFadeMs = 120

	if err := config.Save(cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded := config.Load()
	if loaded.Backend != cfg.Backend {
		t.Errorf("backend: want %q got %q", cfg.Backend, loaded.Backend)
	}
	if loaded.Scorer != cfg.Scorer {
		t.Errorf("scorer: want %q got %q", cfg.Scorer, loaded.Scorer)
	}
	if loaded.AssetDir != cfg.AssetDir {
		t.Errorf("asset dir: want %q got %q", cfg.AssetDir, loaded.AssetDir)
	}
	if loaded.Volume != cfg.Volume {
		t.Errorf("volume: want %v got %v", cfg.Volume, loaded.Volume)
	}
	if loaded.Engine.SignalFade() != 120*time.Millisecond {
		t.Errorf("signal fade: got %v", loaded.Engine.SignalFade())
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	cfg := config.Load()
	if cfg.Backend == "" {
		t.Error("expected non-empty backend from defaults")
	}
}

func TestLoadCorruptFile(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)

	path := filepath.Join(dir, "ewradio", "config.json")
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte("not json {{{"), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg := config.Load()
	if cfg.Backend != "portaudio" {
		t.Errorf("expected default backend on corrupt file, got %q", cfg.Backend)
	}
}

func TestLoadFilePartialKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "radio.json")
	doc := `{"backend":"headless","engine":{"acquire_threshold":0.2,"release_threshold":0.5,"static_fade_ms":-1}}`
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := config.LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Backend != "headless" {
		t.Errorf("backend: got %q", cfg.Backend)
	}
	if cfg.ListenAddr != ":8080" {
		t.Errorf("listen addr should keep default, got %q", cfg.ListenAddr)
	}
	if cfg.Engine.AcquireThreshold != 0.2 || cfg.Engine.ReleaseThreshold != 0.2 {
		t.Errorf("thresholds not normalized: %+v", cfg.Engine)
	}
	if cfg.Engine.StaticFadeMs != 80 {
		t.Errorf("negative fade should reset, got %d", cfg.Engine.StaticFadeMs)
	}

	if _, err := config.LoadFile(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("expected error for missing explicit file")
	}
}

func TestScorerModel(t *testing.T) {
	e := config.DefaultEngine()
	if _, ok := e.Scorer("lock").(*score.LockScorer); !ok {
		t.Error("lock model should build a LockScorer")
	}
	e.FieldExponent = 2
	f, ok := e.Scorer("field").(*score.FieldScorer)
	if !ok || f.Exponent != 2 {
		t.Errorf("field scorer: %#v", e.Scorer("field"))
	}
}
