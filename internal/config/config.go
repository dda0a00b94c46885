// Package config manages persistent settings for ewradio.
// Settings are stored as JSON at os.UserConfigDir()/ewradio/config.json.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"ewradio/internal/score"
)

// Config holds all persistent settings.
type Config struct {
	Backend      string  `json:"backend"`
	SampleRate   int     `json:"sample_rate"`
	Volume       float64 `json:"volume"`
	Scorer       string  `json:"scorer"`
	AssetDir     string  `json:"asset_dir"`
	AssetBaseURL string  `json:"asset_base_url"`
	ListenAddr   string  `json:"listen_addr"`
	DBPath       string  `json:"db_path"`
	Engine       Engine  `json:"engine"`
}

// Engine holds the mixing tunables.
type Engine struct {
	SignalFadeMs       int     `json:"signal_fade_ms"`
	StaticFadeMs       int     `json:"static_fade_ms"`
	DestroyDelayFactor float64 `json:"destroy_delay_factor"`

	// A signal gets a node once its score exceeds AcquireThreshold and keeps
	// it until the score drops to ReleaseThreshold or below. Scores under
	// SilenceFloor hold the node at the gain floor.
	AcquireThreshold float64 `json:"acquire_threshold"`
	ReleaseThreshold float64 `json:"release_threshold"`
	SilenceFloor     float64 `json:"silence_floor"`

	MaxSignalGain float64 `json:"max_signal_gain"`
	JammingGain   float64 `json:"jamming_gain"`
	StaticLevel   float64 `json:"static_level"`
	ToneCutoffHz  float64 `json:"tone_cutoff_hz"`

	LockFreqFactor       float64 `json:"lock_freq_factor"`
	LockBandwidthFactor  float64 `json:"lock_bandwidth_factor"`
	LockLevelMargin      float64 `json:"lock_level_margin"`
	FieldFreqFactor      float64 `json:"field_freq_factor"`
	FieldBandwidthFactor float64 `json:"field_bandwidth_factor"`
	FieldLevelTolerance  float64 `json:"field_level_tolerance"`
	FieldExponent        float64 `json:"field_exponent"`

	PreloadParallel int `json:"preload_parallel"`
}

// Default returns a Config populated with sensible defaults.
func Default() Config {
	return Config{
		Backend:    "portaudio",
		SampleRate: 48000,
		Volume:     1.0,
		Scorer:     "field",
		AssetDir:   "assets",
		ListenAddr: ":8080",
		DBPath:     "ewradio.db",
		Engine:     DefaultEngine(),
	}
}

// DefaultEngine returns the default mixing tunables.
func DefaultEngine() Engine {
	return Engine{
		SignalFadeMs:         250,
		StaticFadeMs:         80,
		DestroyDelayFactor:   4,
		AcquireThreshold:     0.01,
		ReleaseThreshold:     0.005,
		SilenceFloor:         0.05,
		MaxSignalGain:        0.8,
		JammingGain:          0.9,
		StaticLevel:          0.3,
		LockFreqFactor:       score.DefaultLockFreqFactor,
		LockBandwidthFactor:  score.DefaultLockBandwidthFactor,
		LockLevelMargin:      score.DefaultLockLevelMargin,
		FieldFreqFactor:      score.DefaultFieldFreqFactor,
		FieldBandwidthFactor: score.DefaultFieldBandwidthFactor,
		FieldLevelTolerance:  score.DefaultFieldLevelTolerance,
		FieldExponent:        score.DefaultFieldExponent,
		PreloadParallel:      4,
	}
}

// Normalize replaces out-of-range values with defaults and restores the
// ordering ReleaseThreshold <= AcquireThreshold.
func (e Engine) Normalize() Engine {
	d := DefaultEngine()
	if e.SignalFadeMs <= 0 {
		e.SignalFadeMs = d.SignalFadeMs
	}
	if e.StaticFadeMs <= 0 {
		e.StaticFadeMs = d.StaticFadeMs
	}
	if e.DestroyDelayFactor < 1 {
		e.DestroyDelayFactor = d.DestroyDelayFactor
	}
	if e.AcquireThreshold < 0 || e.AcquireThreshold >= 1 {
		e.AcquireThreshold = d.AcquireThreshold
	}
	if e.ReleaseThreshold < 0 {
		e.ReleaseThreshold = d.ReleaseThreshold
	}
	if e.ReleaseThreshold > e.AcquireThreshold {
		e.ReleaseThreshold = e.AcquireThreshold
	}
	if e.SilenceFloor < 0 || e.SilenceFloor > 1 {
		e.SilenceFloor = d.SilenceFloor
	}
	e.MaxSignalGain = unit(e.MaxSignalGain, d.MaxSignalGain)
	e.JammingGain = unit(e.JammingGain, d.JammingGain)
	e.StaticLevel = unit(e.StaticLevel, d.StaticLevel)
	if e.ToneCutoffHz < 0 {
		e.ToneCutoffHz = 0
	}
	e.LockFreqFactor = positive(e.LockFreqFactor, d.LockFreqFactor)
	e.LockBandwidthFactor = positive(e.LockBandwidthFactor, d.LockBandwidthFactor)
	if e.LockLevelMargin < 0 {
		e.LockLevelMargin = d.LockLevelMargin
	}
	e.FieldFreqFactor = positive(e.FieldFreqFactor, d.FieldFreqFactor)
	e.FieldBandwidthFactor = positive(e.FieldBandwidthFactor, d.FieldBandwidthFactor)
	e.FieldLevelTolerance = positive(e.FieldLevelTolerance, d.FieldLevelTolerance)
	e.FieldExponent = positive(e.FieldExponent, d.FieldExponent)
	if e.PreloadParallel <= 0 {
		e.PreloadParallel = d.PreloadParallel
	}
	return e
}

// SignalFade returns the signal ramp duration.
func (e Engine) SignalFade() time.Duration {
	return time.Duration(e.SignalFadeMs) * time.Millisecond
}

// StaticFade returns the static bed ramp duration.
func (e Engine) StaticFade() time.Duration {
	return time.Duration(e.StaticFadeMs) * time.Millisecond
}

// Scorer builds the named proximity model with these tolerances.
func (e Engine) Scorer(model string) score.Scorer {
	if model == "lock" {
		return &score.LockScorer{
			FreqFactor:      e.LockFreqFactor,
			BandwidthFactor: e.LockBandwidthFactor,
			LevelMargin:     e.LockLevelMargin,
		}
	}
	return &score.FieldScorer{
		FreqFactor:      e.FieldFreqFactor,
		BandwidthFactor: e.FieldBandwidthFactor,
		LevelTolerance:  e.FieldLevelTolerance,
		Exponent:        e.FieldExponent,
	}
}

func unit(v, def float64) float64 {
	if v <= 0 || v > 1 {
		return def
	}
	return v
}

func positive(v, def float64) float64 {
	if v <= 0 {
		return def
	}
	return v
}

// Path returns the absolute path to the config file.
func Path() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "ewradio", "config.json"), nil
}

// Load reads the config file and returns it. If the file is missing or
// unreadable, the default config is returned, never an error.
func Load() Config {
	path, err := Path()
	if err != nil {
		return Default()
	}
	cfg, err := LoadFile(path)
	if err != nil {
		return Default()
	}
	return cfg
}

// LoadFile reads an explicit config file. Fields absent from the file keep
// their defaults.
func LoadFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Default(), err
	}
	cfg := Default()
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Default(), err
	}
	cfg.Engine = cfg.Engine.Normalize()
	return cfg, nil
}

// Save writes cfg to disk, creating the directory if needed.
func Save(cfg Config) error {
	path, err := Path()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
