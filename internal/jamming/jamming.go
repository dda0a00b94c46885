// Package jamming decides whether an adversarial jamming source overrides
// normal mixing for the current tuning.
package jamming

import (
	"math"

	"ewradio/internal/tuning"
)

// Arbiter resolves the jamming source in effect, if any.
type Arbiter struct{}

// New returns an Arbiter.
func New() *Arbiter { return &Arbiter{} }

// Overlaps reports whether jammer j covers tuning t: the frequency offset is
// less than half the average of the two bandwidths.
func Overlaps(t tuning.Config, j tuning.Signal) bool {
	return math.Abs(t.CenterFrequency-j.Frequency) < overlapRadius(t, j)
}

func overlapRadius(t tuning.Config, j tuning.Signal) float64 {
	return (t.Bandwidth + j.Bandwidth) / 4
}

// Resolve returns the jammer in effect for t, or nil. Only entries that are
// both jamming sources and active are considered. When several overlap, the
// highest Priority wins, then the smallest offset relative to the overlap
// radius, then catalog order.
func (a *Arbiter) Resolve(t tuning.Config, catalog []tuning.Signal) *tuning.Signal {
	best := -1
	bestOffset := 0.0
	for i := range catalog {
		j := &catalog[i]
		if !j.Jamming || !j.Active || !Overlaps(t, *j) {
			continue
		}
		offset := math.Abs(t.CenterFrequency-j.Frequency) / overlapRadius(t, *j)
		if best < 0 {
			best, bestOffset = i, offset
			continue
		}
		cur := &catalog[best]
		if j.Priority > cur.Priority || (j.Priority == cur.Priority && offset < bestOffset) {
			best, bestOffset = i, offset
		}
	}
	if best < 0 {
		return nil
	}
	found := catalog[best]
	return &found
}
