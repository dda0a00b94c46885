// Package tuning holds the value types exchanged between the control surface
// and the radio engine: the listener's tuning configuration and the catalog of
// signal descriptors it is matched against.
package tuning

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// ErrInvalidConfiguration is returned when a tuning configuration or a
// catalog entry cannot be accepted. The engine keeps its previous state.
var ErrInvalidConfiguration = errors.New("invalid configuration")

// LevelWindow is a dynamic-range window in dB.
type LevelWindow struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Width returns Max-Min.
func (w LevelWindow) Width() float64 { return w.Max - w.Min }

// Config is the listener's current control state. It is a value: every
// update replaces it wholesale.
type Config struct {
	CenterFrequency float64 `json:"center_frequency"` // Hz
	Bandwidth       float64 `json:"bandwidth"`        // Hz, > 0
	MinLevel        float64 `json:"min_level"`        // dB
	MaxLevel        float64 `json:"max_level"`        // dB
}

// Window returns the tuning's level window.
func (c Config) Window() LevelWindow {
	return LevelWindow{Min: c.MinLevel, Max: c.MaxLevel}
}

// Signal describes one potential audio source in the catalog. Jamming
// sources are marked explicitly; the engine never infers behaviour from
// which fields happen to be set.
type Signal struct {
	ID          string      `json:"id"`
	Frequency   float64     `json:"frequency"` // Hz
	Bandwidth   float64     `json:"bandwidth"` // Hz
	LevelWindow LevelWindow `json:"level_window"`
	AssetPath   string      `json:"asset_path"`
	Jamming     bool        `json:"is_jamming_source"`
	Active      bool        `json:"active"`
	// Priority orders simultaneously overlapping jammers; higher wins.
	Priority int `json:"priority,omitempty"`
	// ToneCutoff is an optional low-pass cutoff in Hz for this signal's
	// voice. Zero means unfiltered.
	ToneCutoff float64 `json:"tone_cutoff,omitempty"`
}

// Validate checks a configuration and the catalog it is paired with. The
// returned error wraps ErrInvalidConfiguration.
func Validate(c Config, catalog []Signal) error {
	if err := c.validate(); err != nil {
		return err
	}
	seen := make(map[string]struct{}, len(catalog))
	for i, s := range catalog {
		if err := s.validate(); err != nil {
			return fmt.Errorf("catalog[%d]: %w", i, err)
		}
		if _, dup := seen[s.ID]; dup {
			return fmt.Errorf("%w: duplicate signal id %q", ErrInvalidConfiguration, s.ID)
		}
		seen[s.ID] = struct{}{}
	}
	return nil
}

func (c Config) validate() error {
	switch {
	case !finite(c.CenterFrequency, c.Bandwidth, c.MinLevel, c.MaxLevel):
		return fmt.Errorf("%w: non-finite tuning value", ErrInvalidConfiguration)
	case c.Bandwidth <= 0:
		return fmt.Errorf("%w: bandwidth must be positive, got %v", ErrInvalidConfiguration, c.Bandwidth)
	case c.CenterFrequency < 0:
		return fmt.Errorf("%w: negative center frequency %v", ErrInvalidConfiguration, c.CenterFrequency)
	case c.MinLevel > c.MaxLevel:
		return fmt.Errorf("%w: min level %v above max level %v", ErrInvalidConfiguration, c.MinLevel, c.MaxLevel)
	}
	return nil
}

func (s Signal) validate() error {
	switch {
	case strings.TrimSpace(s.ID) == "":
		return fmt.Errorf("%w: signal id is required", ErrInvalidConfiguration)
	case !finite(s.Frequency, s.Bandwidth, s.LevelWindow.Min, s.LevelWindow.Max, s.ToneCutoff):
		return fmt.Errorf("%w: signal %q has a non-finite value", ErrInvalidConfiguration, s.ID)
	case s.Bandwidth <= 0:
		return fmt.Errorf("%w: signal %q bandwidth must be positive", ErrInvalidConfiguration, s.ID)
	case s.LevelWindow.Min > s.LevelWindow.Max:
		return fmt.Errorf("%w: signal %q level window is inverted", ErrInvalidConfiguration, s.ID)
	case s.ToneCutoff < 0:
		return fmt.Errorf("%w: signal %q tone cutoff is negative", ErrInvalidConfiguration, s.ID)
	}
	return nil
}

func finite(vs ...float64) bool {
	for _, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
