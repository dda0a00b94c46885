package score

import (
	"math"
	"testing"

	"ewradio/internal/tuning"
)

func fmStation() tuning.Signal {
	return tuning.Signal{
		ID:          "fm",
		Frequency:   100.8e6,
		Bandwidth:   200e3,
		LevelWindow: tuning.LevelWindow{Min: -60, Max: -30},
		Active:      true,
	}
}

func looseTuning(freq, bw float64) tuning.Config {
	return tuning.Config{CenterFrequency: freq, Bandwidth: bw, MinLevel: -120, MaxLevel: 0}
}

func TestExactMatchScoresOne(t *testing.T) {
	s := fmStation()
	tu := looseTuning(100.8e6, 200e3)

	if got := NewFieldScorer().Score(tu, s); math.Abs(got-1) > 1e-9 {
		t.Errorf("field score: got %f, want 1", got)
	}
	if got := NewLockScorer().Score(tu, s); got != 1 {
		t.Errorf("lock score: got %f, want 1", got)
	}
}

func TestFieldScoreMonotonicInFrequency(t *testing.T) {
	f := NewFieldScorer()
	s := fmStation()
	prev := -1.0
	// Walk from 400 kHz away down to an exact match.
	for off := 400e3; off >= 0; off -= 5e3 {
		got := f.Score(looseTuning(s.Frequency+off, s.Bandwidth), s)
		if got < prev {
			t.Fatalf("score decreased while approaching: offset %.0f got %f prev %f", off, got, prev)
		}
		if got < 0 || got > 1 {
			t.Fatalf("score out of range at offset %.0f: %f", off, got)
		}
		prev = got
	}
}

func TestFieldScoreSteepening(t *testing.T) {
	f := NewFieldScorer()
	s := fmStation()
	// Half a bandwidth away: the raw frequency closeness is 0.5, so the
	// steepened score is 0.5^4.
	got := f.Score(looseTuning(s.Frequency+100e3, s.Bandwidth), s)
	if math.Abs(got-0.0625) > 1e-9 {
		t.Errorf("got %f, want 0.0625", got)
	}
	if got := f.Score(looseTuning(s.Frequency+300e3, s.Bandwidth), s); got != 0 {
		t.Errorf("beyond tolerance should score 0, got %f", got)
	}
}

func TestFrequencyToleranceScalesWithBandwidth(t *testing.T) {
	f := NewFieldScorer()
	narrow := fmStation()
	narrow.Bandwidth = 10e3
	wide := fmStation()
	wide.Bandwidth = 400e3

	// Tune the same absolute distance off, matching each bandwidth.
	nScore := f.Score(looseTuning(narrow.Frequency+8e3, narrow.Bandwidth), narrow)
	wScore := f.Score(looseTuning(wide.Frequency+8e3, wide.Bandwidth), wide)
	if wScore <= nScore {
		t.Errorf("wide signal should be easier to find: wide=%f narrow=%f", wScore, nScore)
	}

	l := NewLockScorer()
	if l.Locked(looseTuning(narrow.Frequency+8e3, narrow.Bandwidth), narrow) {
		t.Error("narrow signal should not lock 8 kHz off")
	}
	if !l.Locked(looseTuning(wide.Frequency+8e3, wide.Bandwidth), wide) {
		t.Error("wide signal should lock 8 kHz off")
	}
}

func TestLockRequiresLevelCoverage(t *testing.T) {
	l := NewLockScorer()
	s := fmStation()
	tu := tuning.Config{CenterFrequency: s.Frequency, Bandwidth: s.Bandwidth, MinLevel: -50, MaxLevel: -40}
	if l.Locked(tu, s) {
		t.Error("narrow level window should not lock")
	}
	// Within the 3 dB margin on both edges.
	tu.MinLevel, tu.MaxLevel = -58, -32
	if !l.Locked(tu, s) {
		t.Error("level window within margin should lock")
	}
}

func TestLockRequiresBandwidthMatch(t *testing.T) {
	l := NewLockScorer()
	s := fmStation()
	if l.Locked(looseTuning(s.Frequency, s.Bandwidth*1.5), s) {
		t.Error("50% bandwidth error should not lock")
	}
	if !l.Locked(looseTuning(s.Frequency, s.Bandwidth*1.05), s) {
		t.Error("5% bandwidth error should lock")
	}
}

func TestFieldLevelComponent(t *testing.T) {
	f := NewFieldScorer()
	s := fmStation()
	tu := tuning.Config{CenterFrequency: s.Frequency, Bandwidth: s.Bandwidth, MinLevel: -45, MaxLevel: -30}
	_, _, level := f.Components(tu, s)
	// 15 dB of the signal window is uncovered out of a 30 dB tolerance.
	if math.Abs(level-0.5) > 1e-9 {
		t.Errorf("level component: got %f, want 0.5", level)
	}
}

func TestNewSelectsModel(t *testing.T) {
	if _, ok := New("lock").(*LockScorer); !ok {
		t.Error("expected lock scorer")
	}
	if _, ok := New("field").(*FieldScorer); !ok {
		t.Error("expected field scorer")
	}
	if _, ok := New("bogus").(*FieldScorer); !ok {
		t.Error("unknown model should fall back to field scorer")
	}
}
