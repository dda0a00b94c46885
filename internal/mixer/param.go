package mixer

import "math"

// Epsilon is the gain floor. Gains are never exactly zero so exponential
// ramps stay well defined and reversible.
const Epsilon = 1e-4

// Param is an audio-rate parameter advanced once per rendered sample. A ramp
// moves the value exponentially from its current level to the target over a
// fixed number of samples, matching Web Audio's exponentialRampToValueAtTime.
//
// Param is not safe for concurrent use; Graph serialises access.
type Param struct {
	value     float64
	target    float64
	ratio     float64
	remaining int
}

// NewParam returns a Param resting at v (floored at Epsilon).
func NewParam(v float64) *Param {
	v = Floor(v)
	return &Param{value: v, target: v}
}

// Floor clamps v to at least Epsilon.
func Floor(v float64) float64 {
	if math.IsNaN(v) || v < Epsilon {
		return Epsilon
	}
	return v
}

// RampTo schedules an exponential ramp to target over samples. A new ramp
// supersedes any ramp in progress, starting from the current value.
func (p *Param) RampTo(target float64, samples int) {
	target = Floor(target)
	p.target = target
	if samples <= 0 || p.value == target {
		p.value = target
		p.remaining = 0
		return
	}
	p.ratio = math.Pow(target/p.value, 1/float64(samples))
	p.remaining = samples
}

// Set jumps to v immediately, cancelling any ramp.
func (p *Param) Set(v float64) {
	p.RampTo(v, 0)
}

// Value returns the current value.
func (p *Param) Value() float64 { return p.value }

// Target returns the value the param is ramping toward (or resting at).
func (p *Param) Target() float64 { return p.target }

// Ramping reports whether a ramp is in progress.
func (p *Param) Ramping() bool { return p.remaining > 0 }

// next advances one sample and returns the value to apply to it.
func (p *Param) next() float64 {
	if p.remaining > 0 {
		p.remaining--
		if p.remaining == 0 {
			p.value = p.target
		} else {
			p.value *= p.ratio
		}
	}
	return p.value
}
