package dsp

import (
	"math"
	"testing"

	"github.com/mindstream-labs/mindstream/internal/types"
)

func pushEEGSine(p *EEGProcessor, freq, amp float64, n int, leadOff bool) {
	fs := types.RateEEG
	for i := 0; i < n; i++ {
		v := amp * math.Sin(2*math.Pi*freq*float64(i)/fs)
		p.Ring.Push(types.EEGSample{
			TS:         float64(i) / fs,
			CH1:        v,
			CH2:        v,
			CH1LeadOff: leadOff,
			CH2LeadOff: leadOff,
		})
	}
}

func TestEEGTickEmptyIsInsufficient(t *testing.T) {
	p := NewEEGProcessor(2000)
	w := p.Tick(1.0).(*types.EEGWindow)
	if w.Quality != types.QualityInsufficient {
		t.Errorf("empty tick should be insufficient, got %s", w.Quality)
	}
	if w.SampleCount != 0 {
		t.Errorf("expected 0 samples, got %d", w.SampleCount)
	}
	if w.CH1 == nil || w.SQI1 == nil {
		t.Error("insufficient window should carry empty, non-nil slices")
	}
}

func TestEEGTickAlphaDominant(t *testing.T) {
	p := NewEEGProcessor(2000)
	pushEEGSine(p, 10, 30, 500, false) // 2 s of clean alpha
	w := p.Tick(2.0).(*types.EEGWindow)

	if w.SampleCount != 500 {
		t.Fatalf("expected 500 samples, got %d", w.SampleCount)
	}
	if w.Quality != types.QualityGood {
		t.Errorf("clean alpha should score good, got %s", w.Quality)
	}
	if w.Bands1.Alpha <= w.Bands1.Beta {
		t.Errorf("alpha band should dominate: alpha=%.3f beta=%.3f", w.Bands1.Alpha, w.Bands1.Beta)
	}
	if w.Indices.Relaxation == nil {
		t.Fatal("relaxation index should be derivable")
	}
	if *w.Indices.Relaxation < 0.5 {
		t.Errorf("alpha-dominant signal should relax > 0.5, got %.3f", *w.Indices.Relaxation)
	}
}

func TestEEGLeadOffZeroesSQI(t *testing.T) {
	p := NewEEGProcessor(2000)
	pushEEGSine(p, 10, 30, 250, true)
	w := p.Tick(1.0).(*types.EEGWindow)

	for i, v := range w.SQI1 {
		if v != 0 {
			t.Fatalf("lead-off sample %d should have SQI 0, got %.3f", i, v)
		}
	}
	if w.Quality == types.QualityGood {
		t.Error("all-lead-off window must not be good")
	}
}

func TestEEGCursorAdvances(t *testing.T) {
	p := NewEEGProcessor(2000)
	pushEEGSine(p, 10, 30, 250, false)
	first := p.Tick(1.0).(*types.EEGWindow)
	second := p.Tick(1.5).(*types.EEGWindow)
	if first.SampleCount != 250 {
		t.Errorf("first tick should drain 250 samples, got %d", first.SampleCount)
	}
	if second.SampleCount != 0 {
		t.Errorf("second tick should find nothing new, got %d", second.SampleCount)
	}
}

func TestRatioNilOnZeroDenominator(t *testing.T) {
	if got := ratio(1, 0); got != nil {
		t.Errorf("expected nil for zero denominator, got %v", *got)
	}
	if got := ratio(3, 2); got == nil || *got != 1.5 {
		t.Error("expected 1.5")
	}
}
