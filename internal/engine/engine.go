// Package engine is the radio's tuning controller. It converges the audible
// mix to the state implied by the listener's tuning and the signal catalog:
// scoring signals, arbitrating jammers, loading assets, and fading nodes in
// and out on the mixer graph.
//
// Every mutating call runs under one engine lock, as do fade completions and
// asset-load completions, so each update is a single transaction over the
// node pool and cache.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/gopxl/beep/v2"

	"ewradio/internal/assets"
	"ewradio/internal/config"
	"ewradio/internal/fade"
	"ewradio/internal/jamming"
	"ewradio/internal/mixer"
	"ewradio/internal/output"
	"ewradio/internal/score"
	"ewradio/internal/tuning"
)

// ErrBackendUnavailable is returned by Init when no audio output can be
// opened. The engine stays disabled.
var ErrBackendUnavailable = errors.New("audio backend unavailable")

// OpenFunc opens an output backend by name.
type OpenFunc func(name string, rate beep.SampleRate) (output.Backend, error)

// Options configures an Engine.
type Options struct {
	Config     config.Engine
	SampleRate beep.SampleRate
	Volume     float64

	// Backend, when set, is used as is. Otherwise Init opens BackendName
	// with Open (output.New by default).
	Backend     output.Backend
	BackendName string
	Open        OpenFunc

	// Cache takes precedence over Loader.
	Cache  *assets.Cache
	Loader assets.Loader

	Clock     fade.Clock
	Scorer    score.Scorer
	NoiseSeed uint64
}

// Engine is one radio instance. It owns the mixer graph, the node pool, the
// static bed and the asset cache.
type Engine struct {
	mu sync.Mutex

	cfg     config.Engine
	graph   *mixer.Graph
	cache   *assets.Cache
	sched   *fade.Scheduler
	scorer  score.Scorer
	arbiter *jamming.Arbiter
	pool    *nodePool
	static  *staticBed

	backend     output.Backend
	backendName string
	open        OpenFunc
	initialized bool
	ready       bool
	initErr     error

	hasState bool
	tuning   tuning.Config
	catalog  []tuning.Signal
	scores   map[string]float64
	loading  map[string]string // signal id -> asset path
	jammer   string
	best     float64
	updates  int

	onWarning    func(error)
	onReconciled func()
}

// New builds an engine. Nothing is audible until Init succeeds.
func New(opts Options) *Engine {
	cfg := opts.Config.Normalize()
	rate := opts.SampleRate
	if rate <= 0 {
		rate = 48000
	}
	cache := opts.Cache
	if cache == nil {
		loader := opts.Loader
		if loader == nil {
			loader = assets.DirLoader{Root: "."}
		}
		cache = assets.NewCache(loader, rate)
	}
	scorer := opts.Scorer
	if scorer == nil {
		scorer = cfg.Scorer("field")
	}
	open := opts.Open
	if open == nil {
		open = output.New
	}
	seed := opts.NoiseSeed
	if seed == 0 {
		seed = 0x5eed
	}

	e := &Engine{
		cfg:         cfg,
		graph:       mixer.New(rate),
		cache:       cache,
		scorer:      scorer,
		arbiter:     jamming.New(),
		backend:     opts.Backend,
		backendName: opts.BackendName,
		open:        open,
		scores:      make(map[string]float64),
		loading:     make(map[string]string),
	}
	e.sched = fade.New(opts.Clock, &e.mu, cfg.DestroyDelayFactor)
	e.pool = newNodePool(e.graph, e.sched, cfg.SignalFade())
	e.static = newStaticBed(e.graph, seed, cfg.StaticLevel, cfg.StaticFade())
	if opts.Volume > 0 {
		e.graph.SetVolume(opts.Volume)
	}
	cache.SetOnSettled(e.assetSettled)
	return e
}

// Init opens and starts the audio output. A failure is reported once, as
// ErrBackendUnavailable; later calls return the same result.
func (e *Engine) Init() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.initialized {
		return e.initErr
	}
	e.initialized = true

	b := e.backend
	if b == nil {
		var err error
		b, err = e.open(e.backendName, e.graph.Format().SampleRate)
		if err != nil {
			e.initErr = fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
			slog.Error("audio engine disabled", "backend", e.backendName, "err", err)
			return e.initErr
		}
	}
	if err := b.Start(e.graph); err != nil {
		b.Close()
		e.initErr = fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
		slog.Error("audio engine disabled", "backend", b.Name(), "err", err)
		return e.initErr
	}
	e.backend = b
	e.ready = true
	e.static.update(e.sched, e.best)
	if e.hasState {
		e.reconcileLocked()
	}
	slog.Info("audio engine ready", "backend", b.Name(), "rate", int(e.graph.Format().SampleRate))
	return nil
}

// Resume restarts a suspended output. It is idempotent and a no-op while the
// engine is not ready.
func (e *Engine) Resume() error {
	e.mu.Lock()
	b, ready := e.backend, e.ready
	e.mu.Unlock()
	if !ready {
		return nil
	}
	return b.Resume()
}

// IsReady reports whether Init succeeded and the engine has not been closed.
func (e *Engine) IsReady() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ready
}

// SetOnWarning registers fn to receive non-fatal problems such as asset load
// failures. fn is called without the engine lock held.
func (e *Engine) SetOnWarning(fn func(error)) {
	e.mu.Lock()
	e.onWarning = fn
	e.mu.Unlock()
}

// SetOnReconciled registers fn to run after a finished load changes the mix
// outside of a command. fn is called without the engine lock held.
func (e *Engine) SetOnReconciled(fn func()) {
	e.mu.Lock()
	e.onReconciled = fn
	e.mu.Unlock()
}

// UpdateState replaces the tuning and catalog and converges the mix. An
// invalid configuration is rejected with an error wrapping
// tuning.ErrInvalidConfiguration and the previous state is kept. Calling it
// again with unchanged input schedules no further work.
func (e *Engine) UpdateState(t tuning.Config, catalog []tuning.Signal) error {
	if err := tuning.Validate(t, catalog); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.setStateLocked(t, slices.Clone(catalog))
	return nil
}

// Retune replaces only the tuning and keeps the last accepted catalog.
func (e *Engine) Retune(t tuning.Config) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := tuning.Validate(t, e.catalog); err != nil {
		return err
	}
	e.setStateLocked(t, e.catalog)
	return nil
}

// ReplaceCatalog replaces only the catalog and keeps the last accepted
// tuning. It fails with ErrInvalidConfiguration if no tuning was ever set.
func (e *Engine) ReplaceCatalog(catalog []tuning.Signal) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := tuning.Validate(e.tuning, catalog); err != nil {
		return err
	}
	e.setStateLocked(e.tuning, slices.Clone(catalog))
	return nil
}

func (e *Engine) setStateLocked(t tuning.Config, catalog []tuning.Signal) {
	e.tuning = t
	e.catalog = catalog
	e.hasState = true
	e.updates++
	if e.ready {
		e.reconcileLocked()
	}
}

// State returns the last accepted tuning and catalog.
func (e *Engine) State() (tuning.Config, []tuning.Signal, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tuning, slices.Clone(e.catalog), e.hasState
}

// Preload loads every asset the catalog references, at most
// PreloadParallel at a time.
func (e *Engine) Preload(ctx context.Context, catalog []tuning.Signal) error {
	paths := make([]string, 0, len(catalog))
	for _, s := range catalog {
		paths = append(paths, s.AssetPath)
	}
	return e.cache.Preload(ctx, paths, e.cfg.PreloadParallel)
}

// SetMasterVolume sets the output volume in [0, 1].
func (e *Engine) SetMasterVolume(v float64) { e.graph.SetVolume(v) }

// Mute silences the output without changing the volume.
func (e *Engine) Mute() { e.graph.SetMuted(true) }

// Unmute restores the output.
func (e *Engine) Unmute() { e.graph.SetMuted(false) }

// StopAll stops every signal node immediately, abandons pending fades and
// in-flight asset loads, and forgets the current state. The static bed is
// faded down but kept running. Cached assets survive.
func (e *Engine) StopAll() {
	e.mu.Lock()
	e.pool.stopAll()
	e.sched.CancelAll()
	e.static.silence(e.sched)
	e.hasState = false
	e.catalog = nil
	e.jammer = ""
	e.best = 0
	clear(e.scores)
	clear(e.loading)
	e.mu.Unlock()

	// Load completions take the engine lock, so drain outside it.
	e.cache.Drain()
	slog.Debug("audio engine stopped all nodes")
}

// Close stops everything and releases the output device.
func (e *Engine) Close() error {
	e.StopAll()
	e.cache.Close()

	e.mu.Lock()
	defer e.mu.Unlock()
	e.graph.StopAll()
	e.ready = false
	if e.backend != nil && e.initErr == nil {
		return e.backend.Close()
	}
	return nil
}

// SpectrumSnapshot returns a decorative magnitude spectrum of the output.
func (e *Engine) SpectrumSnapshot(bins int) []float64 {
	if !e.IsReady() {
		return nil
	}
	return e.graph.Spectrum(bins)
}

// reconcileLocked drives the pool toward the stored state.
func (e *Engine) reconcileLocked() {
	t, catalog := e.tuning, e.catalog
	present := make(map[string]struct{}, len(catalog))
	for _, s := range catalog {
		present[s.ID] = struct{}{}
	}
	clear(e.scores)
	clear(e.loading)

	best := 0.0
	if jam := e.arbiter.Resolve(t, catalog); jam != nil {
		if e.jammer != jam.ID {
			slog.Info("jamming in effect", "signal_id", jam.ID)
		}
		e.jammer = jam.ID
		for id := range e.pool.nodes {
			if id != jam.ID {
				e.pool.release(id)
			}
		}
		if n := e.nodeFor(*jam); n != nil {
			e.pool.ramp(n, e.cfg.JammingGain)
		}
		best = 1
	} else {
		if e.jammer != "" {
			slog.Info("jamming cleared", "signal_id", e.jammer)
		}
		e.jammer = ""
		for _, s := range catalog {
			if s.Jamming {
				e.pool.release(s.ID)
				continue
			}
			sc := 0.0
			if s.Active {
				sc = e.scorer.Score(t, s)
			}
			e.scores[s.ID] = sc
			best = max(best, sc)

			n := e.pool.get(s.ID)
			live := n != nil && !e.pool.fadingOut(n)
			if sc <= e.cfg.ReleaseThreshold || (!live && sc <= e.cfg.AcquireThreshold) {
				e.pool.release(s.ID)
				continue
			}
			if n = e.nodeFor(s); n != nil {
				e.pool.ramp(n, e.gainFor(sc))
			}
		}
	}

	for id := range e.pool.nodes {
		if _, ok := present[id]; !ok {
			e.pool.release(id)
		}
	}
	e.best = best
	e.static.update(e.sched, best)
}

// gainFor maps a score to a node gain. Scores under the silence floor keep
// the node instantiated at the gain floor.
func (e *Engine) gainFor(sc float64) float64 {
	if sc < e.cfg.SilenceFloor {
		return mixer.Epsilon
	}
	return sc * e.cfg.MaxSignalGain
}

// nodeFor returns the node for s, creating it if its asset is ready. While
// the asset loads it returns nil, and any node still playing an older asset
// is stopped.
func (e *Engine) nodeFor(s tuning.Signal) *node {
	a := &assets.Asset{}
	if s.AssetPath != "" {
		var pending *assets.Pending
		a, pending = e.cache.Ensure(s.AssetPath)
		if pending != nil {
			e.loading[s.ID] = s.AssetPath
			if n := e.pool.get(s.ID); n != nil && n.asset != s.AssetPath {
				e.pool.teardown(n)
				e.pool.swaps++
			}
			return nil
		}
	}
	n := e.pool.acquire(s.ID, a)
	tone := s.ToneCutoff
	if tone == 0 {
		tone = e.cfg.ToneCutoffHz
	}
	e.pool.setTone(n, tone)
	return n
}

// assetSettled runs when a load finishes. Successful loads re-converge the
// mix so the signal becomes audible without another update. Failed loads
// stop counting as loading until the next update retries them.
func (e *Engine) assetSettled(path string, _ *assets.Asset, err error) {
	if errors.Is(err, context.Canceled) {
		return
	}

	e.mu.Lock()
	waiting := false
	for id, p := range e.loading {
		if p == path {
			waiting = true
			if err != nil {
				delete(e.loading, id)
			}
		}
	}
	if err != nil {
		warn := e.onWarning
		e.mu.Unlock()
		if warn != nil {
			warn(err)
		}
		return
	}
	if !waiting || !e.ready || !e.hasState {
		e.mu.Unlock()
		return
	}
	e.reconcileLocked()
	notify := e.onReconciled
	e.mu.Unlock()

	if notify != nil {
		notify()
	}
}
