// Package output drives a platform audio device from a beep.Streamer.
package output

import (
	"fmt"

	"github.com/gopxl/beep/v2"
)

// Backend names accepted by New.
const (
	NamePortAudio = "portaudio"
	NameOto       = "oto"
	NameHeadless  = "headless"
)

// FrameSize is the number of stereo frames written per device cycle
// (10 ms at 48 kHz).
const FrameSize = 480

// Backend pulls audio from a streamer and plays it.
type Backend interface {
	// Name identifies the backend.
	Name() string
	// Start begins pulling from src. It is called once.
	Start(src beep.Streamer) error
	// Resume restarts a suspended device. It is idempotent.
	Resume() error
	// Close stops playback and releases the device.
	Close() error
}

// New opens the named backend at rate.
func New(name string, rate beep.SampleRate) (Backend, error) {
	switch name {
	case NamePortAudio:
		return NewPortAudio(rate)
	case NameOto:
		return NewOto(rate)
	case NameHeadless, "":
		return NewHeadless(rate, true), nil
	default:
		return nil, fmt.Errorf("unknown audio backend %q", name)
	}
}

// fill pulls exactly len(frames) frames from src, padding with silence if
// the streamer ends early.
func fill(src beep.Streamer, frames [][2]float64) {
	n := 0
	for n < len(frames) {
		k, ok := src.Stream(frames[n:])
		n += k
		if !ok || k == 0 {
			break
		}
	}
	for i := n; i < len(frames); i++ {
		frames[i] = [2]float64{}
	}
}

// clamp limits v to [-1.0, 1.0].
func clamp(v float64) float32 {
	if v > 1.0 {
		return 1.0
	}
	if v < -1.0 {
		return -1.0
	}
	return float32(v)
}
