package mixer

import (
	"math"
	"math/cmplx"
	"sync"

	"github.com/gopxl/beep/v2"
	"github.com/mjibson/go-dsp/fft"
)

// Tap is a pass-through streamer that keeps the most recent mono mix in a
// ring buffer for spectrum display.
type Tap struct {
	s    beep.Streamer
	mu   sync.Mutex
	buf  []float64
	pos  int
	size int
}

// NewTap wraps s with a ring buffer of bufSize samples.
func NewTap(s beep.Streamer, bufSize int) *Tap {
	return &Tap{
		s:    s,
		buf:  make([]float64, bufSize),
		size: bufSize,
	}
}

// Stream passes audio through while capturing a mono mix.
func (t *Tap) Stream(samples [][2]float64) (int, bool) {
	n, ok := t.s.Stream(samples)
	t.mu.Lock()
	for i := range n {
		t.buf[t.pos] = (samples[i][0] + samples[i][1]) / 2
		t.pos = (t.pos + 1) % t.size
	}
	t.mu.Unlock()
	return n, ok
}

// Err returns the underlying streamer's error.
func (t *Tap) Err() error {
	return t.s.Err()
}

// Samples returns the last n samples in chronological order.
func (t *Tap) Samples(n int) []float64 {
	if n > t.size {
		n = t.size
	}
	out := make([]float64, n)
	t.mu.Lock()
	start := (t.pos - n + t.size) % t.size
	for i := range n {
		out[i] = t.buf[(start+i)%t.size]
	}
	t.mu.Unlock()
	return out
}

// minDB is the floor reported for empty bins.
const minDB = -120.0

// Spectrum returns bins magnitudes in dBFS covering 0..Nyquist, computed from
// a Hann-windowed FFT of the last 2*bins samples. Purely decorative.
func (t *Tap) Spectrum(bins int) []float64 {
	if bins <= 0 {
		return nil
	}
	n := 2 * bins
	if n > t.size {
		n = t.size - t.size%2
		bins = n / 2
	}
	x := t.Samples(n)
	for i := range x {
		x[i] *= 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/float64(n-1)))
	}
	spectrum := fft.FFTReal(x)
	out := make([]float64, bins)
	norm := float64(n) / 4 // Hann coherent gain is 0.5.
	for i := range out {
		mag := cmplx.Abs(spectrum[i]) / norm
		db := 20 * math.Log10(mag)
		if math.IsInf(db, -1) || math.IsNaN(db) || db < minDB {
			db = minDB
		}
		out[i] = db
	}
	return out
}
