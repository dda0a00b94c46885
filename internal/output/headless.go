package output

import (
	"sync"
	"time"

	"github.com/gopxl/beep/v2"
)

// Headless discards audio. With realtime set it pulls the source at the
// sample rate so the graph advances as it would on a device; otherwise the
// caller renders the graph itself.
type Headless struct {
	rate     beep.SampleRate
	realtime bool

	mu      sync.Mutex
	stopCh  chan struct{}
	wg      sync.WaitGroup
	started bool
}

// NewHeadless returns a Headless backend.
func NewHeadless(rate beep.SampleRate, realtime bool) *Headless {
	return &Headless{rate: rate, realtime: realtime}
}

// Name implements Backend.
func (h *Headless) Name() string { return NameHeadless }

// Start implements Backend.
func (h *Headless) Start(src beep.Streamer) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.started {
		return nil
	}
	h.started = true
	if !h.realtime {
		return nil
	}
	h.stopCh = make(chan struct{})
	h.wg.Add(1)
	go func() { defer h.wg.Done(); h.pump(src, h.stopCh) }()
	return nil
}

// Resume implements Backend.
func (h *Headless) Resume() error { return nil }

// Close implements Backend.
func (h *Headless) Close() error {
	h.mu.Lock()
	stopCh := h.stopCh
	h.stopCh = nil
	h.mu.Unlock()
	if stopCh != nil {
		close(stopCh)
		h.wg.Wait()
	}
	return nil
}

func (h *Headless) pump(src beep.Streamer, stopCh <-chan struct{}) {
	frames := make([][2]float64, FrameSize)
	ticker := time.NewTicker(h.rate.D(FrameSize))
	defer ticker.Stop()
	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			fill(src, frames)
		}
	}
}
