package engine

import (
	"log/slog"
	"time"

	"ewradio/internal/assets"
	"ewradio/internal/fade"
	"ewradio/internal/mixer"
)

// node is the runtime state of one instantiated signal.
type node struct {
	id     string
	asset  string
	voice  *mixer.Voice
	target float64
	tone   float64
}

// nodePool owns the instantiated signal voices, at most one per signal id.
// All methods run under the engine lock.
type nodePool struct {
	graph *mixer.Graph
	sched *fade.Scheduler
	fade  time.Duration
	nodes map[string]*node

	created   int
	destroyed int
	swaps     int
}

func newNodePool(g *mixer.Graph, s *fade.Scheduler, d time.Duration) *nodePool {
	return &nodePool{graph: g, sched: s, fade: d, nodes: make(map[string]*node)}
}

func (p *nodePool) get(id string) *node { return p.nodes[id] }

// acquire returns the node for id playing a, creating it silent if needed.
// A node playing a different asset is stopped first.
func (p *nodePool) acquire(id string, a *assets.Asset) *node {
	if n, ok := p.nodes[id]; ok {
		if n.asset == a.Path {
			return n
		}
		slog.Debug("signal asset changed", "signal_id", id, "from", n.asset, "to", a.Path)
		p.teardown(n)
		p.swaps++
	}
	n := &node{
		id:     id,
		asset:  a.Path,
		voice:  p.graph.PlayBuffer(a.Buffer, mixer.Epsilon),
		target: mixer.Epsilon,
	}
	p.nodes[id] = n
	p.created++
	slog.Debug("signal node created", "signal_id", id, "path", a.Path)
	return n
}

// ramp moves n toward target unless it is already heading there. A node
// that is fading out is reclaimed.
func (p *nodePool) ramp(n *node, target float64) {
	target = mixer.Floor(target)
	if n.target == target && !p.fadingOut(n) {
		return
	}
	if p.sched.RampTo(n.voice, target, p.fade) {
		slog.Debug("signal node reclaimed", "signal_id", n.id)
	}
	n.target = target
}

// setTone applies a low-pass cutoff when it differs from the current one.
func (p *nodePool) setTone(n *node, cutoff float64) {
	if n.tone == cutoff {
		return
	}
	n.voice.SetTone(cutoff)
	n.tone = cutoff
}

// release fades id out. The node stays in the pool until the fade
// completion destroys it.
func (p *nodePool) release(id string) {
	n, ok := p.nodes[id]
	if !ok || p.fadingOut(n) {
		return
	}
	n.target = mixer.Epsilon
	p.sched.FadeOutAndDestroy(n.voice, p.fade, func() { p.destroy(n) })
}

func (p *nodePool) fadingOut(n *node) bool { return p.sched.FadingOut(n.voice) }

// destroy is the fade completion callback.
func (p *nodePool) destroy(n *node) {
	n.voice.Stop()
	if p.nodes[n.id] == n {
		delete(p.nodes, n.id)
	}
	p.destroyed++
	slog.Debug("signal node destroyed", "signal_id", n.id)
}

// teardown stops n immediately, abandoning any pending fade.
func (p *nodePool) teardown(n *node) {
	p.sched.Cancel(n.voice)
	n.voice.Stop()
	if p.nodes[n.id] == n {
		delete(p.nodes, n.id)
	}
	p.destroyed++
}

// stopAll tears down every node.
func (p *nodePool) stopAll() {
	for _, n := range p.nodes {
		p.teardown(n)
	}
}

func (p *nodePool) count() int { return len(p.nodes) }
