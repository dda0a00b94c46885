// Package score computes how well a tuning configuration matches a signal
// descriptor. Two models are provided: a binary lock model for dashboards that
// show a "locked" indicator, and a continuous distance field that produces a
// gradual "tuning in" effect.
//
// Both models scale the frequency tolerance by the signal's own bandwidth, so
// wide signals are easier to find than narrow ones.
package score

import (
	"math"

	"ewradio/internal/tuning"
)

// Scorer maps a tuning configuration and a descriptor to a score in [0, 1].
type Scorer interface {
	Score(t tuning.Config, s tuning.Signal) float64
}

const (
	// DefaultLockFreqFactor is the lock model's frequency tolerance as a
	// fraction of the signal bandwidth.
	DefaultLockFreqFactor = 0.25
	// DefaultLockBandwidthFactor is tighter than the frequency tolerance.
	DefaultLockBandwidthFactor = 0.10
	// DefaultLockLevelMargin is the slack in dB allowed when checking that the
	// tuning's level window covers the signal's.
	DefaultLockLevelMargin = 3.0

	// DefaultFieldFreqFactor is the continuous model's frequency tolerance as
	// a multiple of the signal bandwidth.
	DefaultFieldFreqFactor = 1.0
	// DefaultFieldBandwidthFactor scales the bandwidth tolerance.
	DefaultFieldBandwidthFactor = 1.0
	// DefaultFieldLevelTolerance is the uncovered dB at which the level
	// sub-score reaches zero.
	DefaultFieldLevelTolerance = 30.0
	// DefaultFieldExponent steepens the combined score so the signal stays
	// silent until the listener is close.
	DefaultFieldExponent = 4.0
)

// LockScorer is the threshold/lock model. Score is 1 when locked, else 0.
type LockScorer struct {
	FreqFactor      float64
	BandwidthFactor float64
	LevelMargin     float64
}

// NewLockScorer returns a LockScorer with default tolerances.
func NewLockScorer() *LockScorer {
	return &LockScorer{
		FreqFactor:      DefaultLockFreqFactor,
		BandwidthFactor: DefaultLockBandwidthFactor,
		LevelMargin:     DefaultLockLevelMargin,
	}
}

// Locked reports whether t is locked onto s.
func (l *LockScorer) Locked(t tuning.Config, s tuning.Signal) bool {
	if s.Bandwidth <= 0 {
		return false
	}
	if math.Abs(t.CenterFrequency-s.Frequency) > l.FreqFactor*s.Bandwidth {
		return false
	}
	if math.Abs(t.Bandwidth-s.Bandwidth) > l.BandwidthFactor*s.Bandwidth {
		return false
	}
	return t.MinLevel <= s.LevelWindow.Min+l.LevelMargin &&
		t.MaxLevel >= s.LevelWindow.Max-l.LevelMargin
}

// Score implements Scorer.
func (l *LockScorer) Score(t tuning.Config, s tuning.Signal) float64 {
	if l.Locked(t, s) {
		return 1
	}
	return 0
}

// FieldScorer is the continuous distance-field model. Each sub-score is
// max(0, 1-error/tolerance); the product is raised to Exponent.
type FieldScorer struct {
	FreqFactor      float64
	BandwidthFactor float64
	LevelTolerance  float64
	Exponent        float64
}

// NewFieldScorer returns a FieldScorer with default tolerances.
func NewFieldScorer() *FieldScorer {
	return &FieldScorer{
		FreqFactor:      DefaultFieldFreqFactor,
		BandwidthFactor: DefaultFieldBandwidthFactor,
		LevelTolerance:  DefaultFieldLevelTolerance,
		Exponent:        DefaultFieldExponent,
	}
}

// Components returns the three sub-scores (frequency, bandwidth, level).
func (f *FieldScorer) Components(t tuning.Config, s tuning.Signal) (freq, bw, level float64) {
	if s.Bandwidth <= 0 {
		return 0, 0, 0
	}
	freq = closeness(math.Abs(t.CenterFrequency-s.Frequency), f.FreqFactor*s.Bandwidth)
	bw = closeness(math.Abs(t.Bandwidth-s.Bandwidth), f.BandwidthFactor*s.Bandwidth)
	level = closeness(uncovered(t.Window(), s.LevelWindow), f.LevelTolerance)
	return freq, bw, level
}

// Score implements Scorer.
func (f *FieldScorer) Score(t tuning.Config, s tuning.Signal) float64 {
	freq, bw, level := f.Components(t, s)
	p := freq * bw * level
	if p <= 0 {
		return 0
	}
	exp := f.Exponent
	if exp <= 0 {
		exp = 1
	}
	return clamp01(math.Pow(p, exp))
}

// closeness is max(0, 1-err/tol). A non-positive tolerance demands an exact
// match.
func closeness(err, tol float64) float64 {
	if tol <= 0 {
		if err == 0 {
			return 1
		}
		return 0
	}
	return math.Max(0, 1-err/tol)
}

// uncovered returns how many dB of the signal window fall outside the tuning
// window.
func uncovered(tw, sw tuning.LevelWindow) float64 {
	return math.Max(0, tw.Min-sw.Min) + math.Max(0, sw.Max-tw.Max)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// New returns the scorer named by model ("lock" or "field"). Unknown names
// fall back to the field model.
func New(model string) Scorer {
	if model == "lock" {
		return NewLockScorer()
	}
	return NewFieldScorer()
}
