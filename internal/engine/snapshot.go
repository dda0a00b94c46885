package engine

import (
	"slices"
	"strings"

	"ewradio/internal/assets"
	"ewradio/internal/fade"
	"ewradio/internal/mixer"
	"ewradio/internal/tuning"
)

// NodeStatus describes one instantiated signal node.
type NodeStatus struct {
	SignalID  string  `json:"signal_id"`
	AssetPath string  `json:"asset_path"`
	Target    float64 `json:"gain_target"`
	Gain      float64 `json:"gain"`
	Tone      float64 `json:"tone,omitempty"`
	FadingOut bool    `json:"fading_out"`
}

// Stats counts engine operations since construction.
type Stats struct {
	Updates      int          `json:"updates"`
	NodesCreated int          `json:"nodes_created"`
	NodesDropped int          `json:"nodes_destroyed"`
	AssetSwaps   int          `json:"asset_swaps"`
	Fades        fade.Stats   `json:"fades"`
	Assets       assets.Stats `json:"assets"`
}

// Snapshot is a read-only view of the engine.
type Snapshot struct {
	Ready        bool               `json:"ready"`
	Backend      string             `json:"backend,omitempty"`
	Volume       float64            `json:"volume"`
	Muted        bool               `json:"muted"`
	LimiterGain  float64            `json:"limiter_gain"`
	Tuning       *tuning.Config     `json:"tuning,omitempty"`
	Signals      int                `json:"signals"`
	Jammer       string             `json:"jammer,omitempty"`
	Best         float64            `json:"best_proximity"`
	StaticTarget float64            `json:"static_target"`
	Scores       map[string]float64 `json:"scores,omitempty"`
	Nodes        []NodeStatus       `json:"nodes"`
	Audible      []string           `json:"audible"`
	Loading      []string           `json:"loading,omitempty"`
	Stats        Stats              `json:"stats"`
}

// Snapshot returns the current engine status. Nodes are sorted by id.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	s := Snapshot{
		Ready:        e.ready,
		Volume:       e.graph.Volume(),
		Muted:        e.graph.Muted(),
		LimiterGain:  e.graph.LimiterGain(),
		Signals:      len(e.catalog),
		Jammer:       e.jammer,
		Best:         e.best,
		StaticTarget: e.static.target,
		Nodes:        []NodeStatus{},
		Audible:      []string{},
		Stats:        e.statsLocked(),
	}
	if e.ready && e.backend != nil {
		s.Backend = e.backend.Name()
	}
	if e.hasState {
		t := e.tuning
		s.Tuning = &t
	}
	if len(e.scores) > 0 {
		s.Scores = make(map[string]float64, len(e.scores))
		for id, sc := range e.scores {
			s.Scores[id] = sc
		}
	}
	for _, n := range e.pool.nodes {
		st := NodeStatus{
			SignalID:  n.id,
			AssetPath: n.asset,
			Target:    n.target,
			Gain:      n.voice.Gain(),
			Tone:      n.tone,
			FadingOut: e.pool.fadingOut(n),
		}
		s.Nodes = append(s.Nodes, st)
		if !st.FadingOut && st.Target > mixer.Epsilon {
			s.Audible = append(s.Audible, n.id)
		}
	}
	slices.SortFunc(s.Nodes, func(a, b NodeStatus) int {
		return strings.Compare(a.SignalID, b.SignalID)
	})
	slices.Sort(s.Audible)
	for id := range e.loading {
		s.Loading = append(s.Loading, id)
	}
	slices.Sort(s.Loading)
	return s
}

// Stats returns operation counters.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.statsLocked()
}

func (e *Engine) statsLocked() Stats {
	return Stats{
		Updates:      e.updates,
		NodesCreated: e.pool.created,
		NodesDropped: e.pool.destroyed,
		AssetSwaps:   e.pool.swaps,
		Fades:        e.sched.Stats(),
		Assets:       e.cache.Stats(),
	}
}

// PendingLoads returns the number of asset loads in flight.
func (e *Engine) PendingLoads() int { return e.cache.InFlight() }

// NodeCount returns the number of instantiated signal nodes.
func (e *Engine) NodeCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pool.count()
}
