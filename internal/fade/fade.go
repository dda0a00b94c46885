// Package fade schedules smooth gain transitions and deferred node teardown.
//
// Ramps themselves run on the audio clock inside the mixer; this package only
// decides when they start and, for fade-outs, when the node may be destroyed.
// Destruction is deferred by a safety margin (a multiple of the ramp length)
// so the ramp has audibly finished before the node stops; stopping early
// truncates the fade and clicks.
//
// Every pending destruction is a Task. A later RampTo on the same node cancels
// it, which is the only way to abort a scheduled transition.
package fade

import (
	"log/slog"
	"sync"
	"time"

	"ewradio/internal/mixer"
)

// DefaultDestroyFactor is the destruction delay as a multiple of the fade.
const DefaultDestroyFactor = 4.0

// Node is anything with a rampable gain.
type Node interface {
	RampGain(target float64, d time.Duration)
}

type taskState int

const (
	taskPending taskState = iota
	taskCancelled
	taskDone
)

// Task is a pending fade-out-and-destroy for one node.
type Task struct {
	s       *Scheduler
	node    Node
	timer   Timer
	destroy func()
	state   taskState
}

// Pending reports whether the destruction has neither run nor been cancelled.
// The scheduler's lock must be held.
func (t *Task) Pending() bool { return t.state == taskPending }

// Cancel aborts the destruction. The scheduler's lock must be held. It
// reports whether the task was still pending.
func (t *Task) Cancel() bool {
	if t.state != taskPending {
		return false
	}
	t.state = taskCancelled
	t.timer.Stop()
	delete(t.s.pending, t.node)
	t.s.stats.Cancellations++
	return true
}

// Stats counts scheduler operations.
type Stats struct {
	Ramps         int `json:"ramps"`
	FadeOuts      int `json:"fade_outs"`
	Cancellations int `json:"cancellations"`
	Destroys      int `json:"destroys"`
}

// Scheduler issues ramps and owns pending destructions.
//
// Callers hold lock while calling any method; timer callbacks acquire the same
// lock before touching a task, so a cancelled task can never be destroyed.
type Scheduler struct {
	clock   Clock
	lock    sync.Locker
	factor  float64
	pending map[Node]*Task
	stats   Stats
}

// New returns a Scheduler. A non-positive factor uses DefaultDestroyFactor.
func New(clock Clock, lock sync.Locker, factor float64) *Scheduler {
	if clock == nil {
		clock = RealClock{}
	}
	if factor <= 0 {
		factor = DefaultDestroyFactor
	}
	return &Scheduler{
		clock:   clock,
		lock:    lock,
		factor:  factor,
		pending: make(map[Node]*Task),
	}
}

// RampTo starts a ramp of n's gain toward target over d. Any pending
// destruction of n is cancelled first, reclaiming the node as live; the
// return value reports whether that happened.
func (s *Scheduler) RampTo(n Node, target float64, d time.Duration) bool {
	reclaimed := false
	if t, ok := s.pending[n]; ok {
		reclaimed = t.Cancel()
	}
	n.RampGain(mixer.Floor(target), d)
	s.stats.Ramps++
	return reclaimed
}

// FadeOutAndDestroy ramps n to the gain floor over d and runs destroy after
// d times the destroy factor. If n already has a pending fade-out, that task
// is returned unchanged.
func (s *Scheduler) FadeOutAndDestroy(n Node, d time.Duration, destroy func()) *Task {
	if t, ok := s.pending[n]; ok {
		return t
	}
	n.RampGain(mixer.Epsilon, d)
	t := &Task{s: s, node: n, destroy: destroy}
	delay := time.Duration(float64(d) * s.factor)
	t.timer = s.clock.AfterFunc(delay, func() { s.fire(t) })
	s.pending[n] = t
	s.stats.FadeOuts++
	return t
}

// DestroyDelay returns the teardown delay used for a fade of length d.
func (s *Scheduler) DestroyDelay(d time.Duration) time.Duration {
	return time.Duration(float64(d) * s.factor)
}

// FadingOut reports whether n has a pending destruction.
func (s *Scheduler) FadingOut(n Node) bool {
	_, ok := s.pending[n]
	return ok
}

// Cancel aborts n's pending destruction, if any, without issuing a ramp.
// Used when the caller tears the node down itself.
func (s *Scheduler) Cancel(n Node) bool {
	if t, ok := s.pending[n]; ok {
		return t.Cancel()
	}
	return false
}

// PendingCount returns the number of pending destructions.
func (s *Scheduler) PendingCount() int { return len(s.pending) }

// CancelAll cancels every pending destruction without running it. Used by a
// hard teardown that stops the nodes itself.
func (s *Scheduler) CancelAll() {
	for _, t := range s.pending {
		t.Cancel()
	}
}

// Stats returns operation counters.
func (s *Scheduler) Stats() Stats { return s.stats }

func (s *Scheduler) fire(t *Task) {
	s.lock.Lock()
	defer s.lock.Unlock()
	if t.state != taskPending {
		slog.Debug("stale fade timer ignored")
		return
	}
	t.state = taskDone
	delete(s.pending, t.node)
	s.stats.Destroys++
	t.destroy()
}
