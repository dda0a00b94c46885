package output

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"
	"github.com/gopxl/beep/v2"
)

// Oto plays through an oto context. The device pulls audio from the graph
// through an io.Reader producing float32 little-endian stereo frames.
type Oto struct {
	mu     sync.Mutex
	ctx    *oto.Context
	player *oto.Player
}

// NewOto creates the process-wide oto context and waits for the device.
func NewOto(rate beep.SampleRate) (*Oto, error) {
	ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   int(rate),
		ChannelCount: 2,
		Format:       oto.FormatFloat32LE,
		BufferSize:   rate.D(FrameSize * 4),
	})
	if err != nil {
		return nil, fmt.Errorf("oto context: %w", err)
	}
	select {
	case <-ready:
	case <-time.After(5 * time.Second):
		return nil, fmt.Errorf("oto context: device not ready")
	}
	return &Oto{ctx: ctx}, nil
}

// Name implements Backend.
func (o *Oto) Name() string { return NameOto }

// Start implements Backend.
func (o *Oto) Start(src beep.Streamer) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.player != nil {
		return nil
	}
	o.player = o.ctx.NewPlayer(newFloatReader(src))
	o.player.Play()
	slog.Info("audio output started", "backend", NameOto)
	return nil
}

// Resume resumes a suspended context.
func (o *Oto) Resume() error {
	if err := o.ctx.Resume(); err != nil {
		return fmt.Errorf("oto resume: %w", err)
	}
	return nil
}

// Close implements Backend. The oto context itself cannot be destroyed, so
// it is suspended instead.
func (o *Oto) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	var err error
	if o.player != nil {
		err = o.player.Close()
		o.player = nil
	}
	if serr := o.ctx.Suspend(); err == nil {
		err = serr
	}
	slog.Info("audio output closed", "backend", NameOto)
	return err
}

// floatReader renders a streamer as interleaved float32 LE bytes.
type floatReader struct {
	src    beep.Streamer
	frames [][2]float64
}

func newFloatReader(src beep.Streamer) *floatReader {
	return &floatReader{src: src, frames: make([][2]float64, FrameSize)}
}

func (r *floatReader) Read(p []byte) (int, error) {
	const frameBytes = 8
	n := len(p) / frameBytes
	if n == 0 {
		return 0, nil
	}
	if n > len(r.frames) {
		n = len(r.frames)
	}
	frames := r.frames[:n]
	fill(r.src, frames)
	for i, f := range frames {
		binary.LittleEndian.PutUint32(p[i*frameBytes:], math.Float32bits(clamp(f[0])))
		binary.LittleEndian.PutUint32(p[i*frameBytes+4:], math.Float32bits(clamp(f[1])))
	}
	return n * frameBytes, nil
}
