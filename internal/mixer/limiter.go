package mixer

import "github.com/gopxl/beep/v2"

const (
	// LimiterCeiling is the peak level the master bus is held under.
	LimiterCeiling = 0.95

	// limiterMinGain bounds how far a burst can pull the bus down (-20 dB).
	limiterMinGain = 0.1
	// limiterAttack pulls gain down quickly when a block peaks over the
	// ceiling; limiterRelease recovers slowly to avoid pumping.
	limiterAttack  = 0.8
	limiterRelease = 0.02
)

// limiter is a block-based peak limiter on the summed bus. It only ever
// reduces gain: below the ceiling the signal passes untouched.
type limiter struct {
	src  beep.Streamer
	gain float64
}

func newLimiter(src beep.Streamer) *limiter {
	return &limiter{src: src, gain: 1}
}

func (l *limiter) Stream(samples [][2]float64) (int, bool) {
	n, ok := l.src.Stream(samples)
	if n == 0 {
		return n, ok
	}

	// Apply the current gain before updating it, clamping whatever the
	// attack has not caught yet.
	peak := 0.0
	for i := range samples[:n] {
		for c := range 2 {
			v := samples[i][c]
			peak = max(peak, v, -v)
			v *= l.gain
			samples[i][c] = min(max(v, -1), 1)
		}
	}

	desired := 1.0
	if peak > LimiterCeiling {
		desired = max(LimiterCeiling/peak, limiterMinGain)
	}
	coeff := limiterRelease
	if desired < l.gain {
		coeff = limiterAttack
	}
	l.gain += coeff * (desired - l.gain)
	return n, ok
}

func (l *limiter) Err() error { return l.src.Err() }
