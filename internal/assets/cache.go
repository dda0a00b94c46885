// Package assets loads and memoises decoded audio assets by path.
//
// Each distinct path has at most one outstanding load at any time: concurrent
// requests for a path that is already loading share the same Pending handle.
// Successful loads are cached for the lifetime of the cache and never evicted.
// Failed loads are not cached, so the next request retries.
package assets

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gopxl/beep/v2"
	"golang.org/x/sync/errgroup"
)

// Asset is a decoded audio buffer at the cache's sample rate.
type Asset struct {
	Path   string
	Buffer *beep.Buffer
}

// Duration returns the playing time of the asset.
func (a *Asset) Duration() time.Duration {
	if a == nil || a.Buffer == nil {
		return 0
	}
	return a.Buffer.Format().SampleRate.D(a.Buffer.Len())
}

// LoadError reports a failed asset load.
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("asset load failed: %s: %v", e.Path, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// Pending is an in-flight load. All callers asking for the same path while it
// loads receive the same Pending.
type Pending struct {
	path  string
	done  chan struct{}
	asset *Asset
	err   error
}

// Path returns the asset path being loaded.
func (p *Pending) Path() string { return p.path }

// Done is closed once the load has settled.
func (p *Pending) Done() <-chan struct{} { return p.done }

// Wait blocks until the load settles or ctx is done.
func (p *Pending) Wait(ctx context.Context) (*Asset, error) {
	select {
	case <-p.done:
		return p.asset, p.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Stats counts cache activity.
type Stats struct {
	Started   int `json:"started"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Cached    int `json:"cached"`
	InFlight  int `json:"in_flight"`
}

// SettledFunc is called once per load, after the cache has been updated and
// before the Pending's Done channel closes.
type SettledFunc func(path string, a *Asset, err error)

// Cache memoises decoded assets.
type Cache struct {
	loader Loader
	rate   beep.SampleRate

	mu        sync.Mutex
	assets    map[string]*Asset
	inflight  map[string]*Pending
	onSettled SettledFunc
	stats     Stats

	gen *generation
}

// generation groups the loads started between two drains. Loads join the
// current generation under Cache.mu, so a drained generation never grows
// while it is being waited on.
type generation struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func newGeneration() *generation {
	ctx, cancel := context.WithCancel(context.Background())
	return &generation{ctx: ctx, cancel: cancel}
}

// NewCache returns a Cache that fetches with loader and decodes to rate.
func NewCache(loader Loader, rate beep.SampleRate) *Cache {
	return &Cache{
		loader:   loader,
		rate:     rate,
		assets:   make(map[string]*Asset),
		inflight: make(map[string]*Pending),
		gen:      newGeneration(),
	}
}

// SetOnSettled registers fn to observe every completed or failed load.
func (c *Cache) SetOnSettled(fn SettledFunc) {
	c.mu.Lock()
	c.onSettled = fn
	c.mu.Unlock()
}

// Ensure returns the cached asset for path, or the Pending load for it,
// starting one if none is in flight. Exactly one of the results is non-nil.
// Ensure never blocks on I/O.
func (c *Cache) Ensure(path string) (*Asset, *Pending) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if a, ok := c.assets[path]; ok {
		return a, nil
	}
	if p, ok := c.inflight[path]; ok {
		return nil, p
	}
	p := &Pending{path: path, done: make(chan struct{})}
	c.inflight[path] = p
	c.stats.Started++
	c.gen.wg.Add(1)
	go c.load(c.gen, p)
	slog.Debug("asset load started", "path", path)
	return nil, p
}

// Get returns a cached asset without starting a load.
func (c *Cache) Get(path string) (*Asset, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	a, ok := c.assets[path]
	return a, ok
}

// Loading reports whether path has a load in flight.
func (c *Cache) Loading(path string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.inflight[path]
	return ok
}

// InFlight returns the number of outstanding loads.
func (c *Cache) InFlight() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.inflight)
}

// Stats returns a snapshot of the counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := c.stats
	st.Cached = len(c.assets)
	st.InFlight = len(c.inflight)
	return st
}

// Preload ensures every path and waits for all of them, running at most
// parallel waits at once. It returns the first load error.
func (c *Cache) Preload(ctx context.Context, paths []string, parallel int) error {
	var g errgroup.Group
	if parallel > 0 {
		g.SetLimit(parallel)
	}
	seen := make(map[string]struct{}, len(paths))
	for _, path := range paths {
		if _, dup := seen[path]; dup || path == "" {
			continue
		}
		seen[path] = struct{}{}
		g.Go(func() error {
			a, p := c.Ensure(path)
			if a != nil {
				return nil
			}
			_, err := p.Wait(ctx)
			return err
		})
	}
	return g.Wait()
}

// Drain cancels every in-flight load and waits for the loaders to return.
// Cached assets are kept and the cache stays usable. Loads started while
// Drain runs are left to the next Drain. Drain must not be called from a
// SettledFunc.
func (c *Cache) Drain() {
	c.mu.Lock()
	old := c.gen
	c.gen = newGeneration()
	c.mu.Unlock()

	old.cancel()
	old.wg.Wait()
}

// Close cancels outstanding loads and waits for them.
func (c *Cache) Close() {
	c.Drain()
	c.mu.Lock()
	c.gen.cancel()
	c.mu.Unlock()
}

func (c *Cache) load(gen *generation, p *Pending) {
	defer gen.wg.Done()

	a, err := c.fetch(gen.ctx, p.path)

	c.mu.Lock()
	delete(c.inflight, p.path)
	if err == nil {
		c.assets[p.path] = a
		c.stats.Completed++
	} else {
		c.stats.Failed++
	}
	cb := c.onSettled
	c.mu.Unlock()

	switch {
	case err == nil:
		slog.Debug("asset loaded", "path", p.path, "duration", a.Duration())
	case errors.Is(err, context.Canceled):
		slog.Debug("asset load cancelled", "path", p.path)
	default:
		slog.Warn("asset load failed", "path", p.path, "err", err)
	}

	p.asset, p.err = a, err
	if cb != nil {
		cb(p.path, a, err)
	}
	close(p.done)
}

func (c *Cache) fetch(ctx context.Context, path string) (*Asset, error) {
	rc, err := c.loader.Load(ctx, path)
	if err != nil {
		return nil, &LoadError{Path: path, Err: err}
	}
	defer rc.Close()

	buf, err := Decode(rc, c.rate)
	if err != nil {
		return nil, &LoadError{Path: path, Err: err}
	}
	if err := ctx.Err(); err != nil {
		return nil, &LoadError{Path: path, Err: err}
	}
	return &Asset{Path: path, Buffer: buf}, nil
}
