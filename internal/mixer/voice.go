package mixer

import (
	"time"

	"github.com/gopxl/beep/v2"
)

// Voice is one playback node: source → optional tone filter → gain → bus.
type Voice struct {
	g       *Graph
	src     beep.Streamer
	gain    *Param
	tone    *lowPass
	buf     [][2]float64
	stopped bool
}

// RampGain ramps the voice's gain toward target over d.
func (v *Voice) RampGain(target float64, d time.Duration) {
	v.g.mu.Lock()
	v.gain.RampTo(target, v.g.Samples(d))
	v.g.mu.Unlock()
}

// Gain returns the gain applied to the most recently rendered sample.
func (v *Voice) Gain() float64 {
	v.g.mu.Lock()
	defer v.g.mu.Unlock()
	return v.gain.Value()
}

// GainTarget returns the gain the voice is ramping toward.
func (v *Voice) GainTarget() float64 {
	v.g.mu.Lock()
	defer v.g.mu.Unlock()
	return v.gain.Target()
}

// SetTone sets the low-pass cutoff in Hz. Zero removes the filter.
func (v *Voice) SetTone(cutoff float64) {
	v.g.mu.Lock()
	defer v.g.mu.Unlock()
	if cutoff <= 0 {
		v.tone = nil
		return
	}
	sr := float64(v.g.format.SampleRate)
	if v.tone == nil {
		v.tone = newLowPass(cutoff, sr)
		return
	}
	v.tone.setCutoff(cutoff, sr)
}

// Tone returns the low-pass cutoff, or 0 when unfiltered.
func (v *Voice) Tone() float64 {
	v.g.mu.Lock()
	defer v.g.mu.Unlock()
	if v.tone == nil {
		return 0
	}
	return v.tone.cutoff
}

// Stop halts playback immediately and disconnects the voice from the bus.
// Stopping twice is harmless.
func (v *Voice) Stop() {
	g := v.g
	g.mu.Lock()
	defer g.mu.Unlock()
	if v.stopped {
		return
	}
	v.stopped = true
	for i, other := range g.voices {
		if other == v {
			g.voices = append(g.voices[:i], g.voices[i+1:]...)
			break
		}
	}
}

// Stopped reports whether the voice has been stopped or its source ended.
func (v *Voice) Stopped() bool {
	v.g.mu.Lock()
	defer v.g.mu.Unlock()
	return v.stopped
}

// mixInto adds the voice's output to out. Called with g.mu held.
func (v *Voice) mixInto(out [][2]float64) {
	if cap(v.buf) < len(out) {
		v.buf = make([][2]float64, len(out))
	}
	buf := v.buf[:len(out)]
	n, ok := v.src.Stream(buf)
	for i := 0; i < n; i++ {
		l, r := buf[i][0], buf[i][1]
		if v.tone != nil {
			l, r = v.tone.process(l, r)
		}
		gain := v.gain.next()
		out[i][0] += l * gain
		out[i][1] += r * gain
	}
	if !ok {
		v.stopped = true
	}
}
