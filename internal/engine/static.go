package engine

import (
	"time"

	"ewradio/internal/fade"
	"ewradio/internal/mixer"
)

// staticBed is the persistent background noise. Its level tracks tuning
// quality inversely: base*(1-best), kept within [Epsilon, base].
type staticBed struct {
	voice  *mixer.Voice
	base   float64
	fade   time.Duration
	target float64
}

func newStaticBed(g *mixer.Graph, seed uint64, base float64, d time.Duration) *staticBed {
	return &staticBed{
		voice:  g.PlayNoise(seed, mixer.Epsilon),
		base:   base,
		fade:   d,
		target: mixer.Epsilon,
	}
}

func (b *staticBed) targetFor(best float64) float64 {
	v := b.base * (1 - best)
	if v > b.base {
		v = b.base
	}
	return mixer.Floor(v)
}

// update ramps toward the level for best unless already heading there.
func (b *staticBed) update(s *fade.Scheduler, best float64) {
	target := b.targetFor(best)
	if target == b.target {
		return
	}
	s.RampTo(b.voice, target, b.fade)
	b.target = target
}

// silence fades the bed down without stopping it.
func (b *staticBed) silence(s *fade.Scheduler) {
	if b.target == mixer.Epsilon {
		return
	}
	s.RampTo(b.voice, mixer.Epsilon, b.fade)
	b.target = mixer.Epsilon
}
