// Package mixer is the engine's audio rendering graph. Voices (looping asset
// buffers or generated noise) pass through an optional tone filter and a gain
// stage into a shared output bus, followed by a peak limiter, master volume
// and a spectrum tap. The whole graph is a beep.Streamer pulled by an output
// backend.
package mixer

import (
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/gopxl/beep/v2"
	"github.com/gopxl/beep/v2/effects"
)

const tapSize = 4096

// Graph owns the output bus and every live voice. It is safe for concurrent
// use: the output backend renders from its own goroutine while the engine
// reconfigures voices.
type Graph struct {
	mu     sync.Mutex
	format beep.Format
	voices []*Voice

	limit  *limiter
	master *effects.Volume
	tap    *Tap
	out    beep.Streamer

	volume float64
	muted  bool
}

// New returns an empty stereo graph rendering at sampleRate.
func New(sampleRate beep.SampleRate) *Graph {
	g := &Graph{
		format: beep.Format{SampleRate: sampleRate, NumChannels: 2, Precision: 4},
		volume: 1,
	}
	g.limit = newLimiter(bus{g})
	g.master = &effects.Volume{Streamer: g.limit, Base: 2}
	g.tap = NewTap(g.master, tapSize)
	g.out = g.tap
	return g
}

// Format returns the graph's render format.
func (g *Graph) Format() beep.Format { return g.format }

// Stream renders the mix into samples. It always fills the buffer and never
// ends, so backends can pull from it indefinitely.
func (g *Graph) Stream(samples [][2]float64) (int, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	n, _ := g.out.Stream(samples)
	for i := n; i < len(samples); i++ {
		samples[i] = [2]float64{}
	}
	return len(samples), true
}

// Err implements beep.Streamer.
func (g *Graph) Err() error { return nil }

// Render pulls frames from the graph without an output device.
func (g *Graph) Render(frames int) [][2]float64 {
	buf := make([][2]float64, frames)
	g.Stream(buf)
	return buf
}

// Samples converts a duration to a sample count at the graph's rate.
func (g *Graph) Samples(d time.Duration) int {
	return g.format.SampleRate.N(d)
}

// PlayBuffer starts a voice looping buf indefinitely at gain (floored at
// Epsilon). Playback starts immediately so later ramps fade in rather than
// stutter-start.
func (g *Graph) PlayBuffer(buf *beep.Buffer, gain float64) *Voice {
	var src beep.Streamer
	if buf == nil || buf.Len() == 0 {
		src = beep.Silence(-1)
	} else {
		src = beep.Loop(-1, buf.Streamer(0, buf.Len()))
	}
	return g.play(src, gain)
}

// PlayNoise starts a voice of white noise at gain.
func (g *Graph) PlayNoise(seed uint64, gain float64) *Voice {
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	src := beep.StreamerFunc(func(samples [][2]float64) (int, bool) {
		for i := range samples {
			l := rng.Float64()*2 - 1
			r := rng.Float64()*2 - 1
			samples[i] = [2]float64{l, r}
		}
		return len(samples), true
	})
	return g.play(src, gain)
}

func (g *Graph) play(src beep.Streamer, gain float64) *Voice {
	v := &Voice{g: g, src: src, gain: NewParam(gain)}
	g.mu.Lock()
	g.voices = append(g.voices, v)
	g.mu.Unlock()
	return v
}

// VoiceCount returns the number of voices connected to the bus.
func (g *Graph) VoiceCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.voices)
}

// StopAll stops and disconnects every voice.
func (g *Graph) StopAll() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, v := range g.voices {
		v.stopped = true
	}
	g.voices = nil
}

// SetVolume sets master volume in [0, 1].
func (g *Graph) SetVolume(vol float64) {
	if vol < 0 || math.IsNaN(vol) {
		vol = 0
	}
	if vol > 1 {
		vol = 1
	}
	g.mu.Lock()
	g.volume = vol
	g.applyMasterLocked()
	g.mu.Unlock()
}

// Volume returns master volume.
func (g *Graph) Volume() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.volume
}

// SetMuted silences or restores the master output without touching volume.
func (g *Graph) SetMuted(muted bool) {
	g.mu.Lock()
	g.muted = muted
	g.applyMasterLocked()
	g.mu.Unlock()
}

// Muted reports whether the master output is muted.
func (g *Graph) Muted() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.muted
}

func (g *Graph) applyMasterLocked() {
	g.master.Silent = g.muted || g.volume == 0
	if g.volume > 0 {
		g.master.Volume = math.Log2(g.volume)
	}
}

// LimiterGain returns the bus limiter's current gain; 1 means it is idle.
func (g *Graph) LimiterGain() float64 {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.limit.gain
}

// Spectrum returns a decorative magnitude spectrum of the recent output.
func (g *Graph) Spectrum(bins int) []float64 {
	return g.tap.Spectrum(bins)
}

// bus sums live voices. It runs with g.mu held by Graph.Stream.
type bus struct{ g *Graph }

func (b bus) Stream(samples [][2]float64) (int, bool) {
	for i := range samples {
		samples[i] = [2]float64{}
	}
	g := b.g
	live := g.voices[:0]
	for _, v := range g.voices {
		if v.stopped {
			continue
		}
		v.mixInto(samples)
		if !v.stopped {
			live = append(live, v)
		}
	}
	for i := len(live); i < len(g.voices); i++ {
		g.voices[i] = nil
	}
	g.voices = live
	return len(samples), true
}

func (b bus) Err() error { return nil }
