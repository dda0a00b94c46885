package output

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/gopxl/beep/v2"
	"github.com/gordonklaus/portaudio"
)

// paStream abstracts a PortAudio output stream for testing.
type paStream interface {
	Start() error
	Stop() error
	Close() error
	Write() error
}

// PortAudio plays through the default PortAudio output device using a
// blocking write loop.
type PortAudio struct {
	mu      sync.Mutex
	rate    beep.SampleRate
	stream  paStream
	buf     []float32
	src     beep.Streamer
	stopCh  chan struct{}
	wg      sync.WaitGroup
	running atomic.Bool
	closed  bool

	terminate func() error
}

// NewPortAudio initialises PortAudio and opens the default output device.
func NewPortAudio(rate beep.SampleRate) (*PortAudio, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio init: %w", err)
	}
	buf := make([]float32, FrameSize*2)
	stream, err := portaudio.OpenDefaultStream(0, 2, float64(rate), FrameSize, buf)
	if err != nil {
		portaudio.Terminate()
		return nil, fmt.Errorf("portaudio open: %w", err)
	}
	p := newPortAudio(rate, stream, buf)
	p.terminate = portaudio.Terminate
	return p, nil
}

func newPortAudio(rate beep.SampleRate, stream paStream, buf []float32) *PortAudio {
	return &PortAudio{rate: rate, stream: stream, buf: buf}
}

// Name implements Backend.
func (p *PortAudio) Name() string { return NamePortAudio }

// Start implements Backend.
func (p *PortAudio) Start(src beep.Streamer) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.src = src
	return p.startLocked()
}

// Resume restarts the stream if it is not running.
func (p *PortAudio) Resume() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.src == nil || p.closed {
		return nil
	}
	return p.startLocked()
}

func (p *PortAudio) startLocked() error {
	if p.running.Load() {
		return nil
	}
	if err := p.stream.Start(); err != nil {
		return fmt.Errorf("portaudio start: %w", err)
	}
	p.stopCh = make(chan struct{})
	p.running.Store(true)
	p.wg.Add(1)
	go func() { defer p.wg.Done(); p.writeLoop(p.src, p.stopCh) }()
	slog.Info("audio output started", "backend", NamePortAudio, "rate", int(p.rate))
	return nil
}

// stop halts the write loop.
//
// Pa_StopStream unblocks a pending Pa_WriteStream, so the stream is stopped
// before waiting for the loop. The stream object must not be closed until the
// loop has exited.
func (p *PortAudio) stop() {
	if !p.running.CompareAndSwap(true, false) {
		return
	}
	close(p.stopCh)
	p.stream.Stop()
	p.wg.Wait()
}

// Close implements Backend.
func (p *PortAudio) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	p.stop()
	err := p.stream.Close()
	if p.terminate != nil {
		p.terminate()
	}
	slog.Info("audio output closed", "backend", NamePortAudio)
	return err
}

func (p *PortAudio) writeLoop(src beep.Streamer, stopCh <-chan struct{}) {
	frames := make([][2]float64, len(p.buf)/2)
	for {
		select {
		case <-stopCh:
			return
		default:
		}

		fill(src, frames)
		for i, f := range frames {
			p.buf[2*i] = clamp(f[0])
			p.buf[2*i+1] = clamp(f[1])
		}

		// Write blocks until the device wants more samples, which paces
		// the loop.
		if err := p.stream.Write(); err != nil {
			if p.running.CompareAndSwap(true, false) {
				slog.Warn("portaudio write", "err", err)
				p.stream.Stop()
			}
			return
		}
	}
}
