package mixer

import "math"

// lowPass is a one-pole stereo low-pass filter used as the tone-shaping stage
// of a voice.
type lowPass struct {
	cutoff float64
	alpha  float64
	l, r   float64
}

func newLowPass(cutoff, sampleRate float64) *lowPass {
	f := &lowPass{}
	f.setCutoff(cutoff, sampleRate)
	return f
}

func (f *lowPass) setCutoff(cutoff, sampleRate float64) {
	nyquist := sampleRate / 2
	if cutoff > nyquist {
		cutoff = nyquist
	}
	f.cutoff = cutoff
	f.alpha = 1 - math.Exp(-2*math.Pi*cutoff/sampleRate)
}

func (f *lowPass) process(l, r float64) (float64, float64) {
	f.l += f.alpha * (l - f.l)
	f.r += f.alpha * (r - f.r)
	return f.l, f.r
}
