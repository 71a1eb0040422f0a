package dsp

import "math"

// Welch-style power spectral density: Hann-windowed segments with 50%
// overlap, averaged periodograms. Falls back to a single segment when the
// input is shorter than the segment size.
const welchSegment = 256

// PSD returns power per frequency bin and the bin width in Hz.
func PSD(samples []float64, fs float64) ([]float64, float64) {
	if len(samples) < 8 {
		return nil, 0
	}
	seg := welchSegment
	if len(samples) < seg {
		seg = len(samples)
	}
	step := seg / 2
	nBins := seg/2 + 1
	acc := make([]float64, nBins)
	window := hann(seg)
	var windowPower float64
	for _, w := range window {
		windowPower += w * w
	}

	count := 0
	for start := 0; start+seg <= len(samples); start += step {
		periodogram(samples[start:start+seg], window, windowPower, fs, acc)
		count++
	}
	if count == 0 {
		periodogram(samples[:seg], window, windowPower, fs, acc)
		count = 1
	}
	for i := range acc {
		acc[i] /= float64(count)
	}
	return acc, fs / float64(seg)
}

// periodogram accumulates one windowed segment's PSD into acc via a direct
// DFT. Segment sizes stay small (<=256) so the quadratic cost is bounded.
func periodogram(seg, window []float64, windowPower, fs float64, acc []float64) {
	n := len(seg)
	mean := 0.0
	for _, v := range seg {
		mean += v
	}
	mean /= float64(n)

	for k := 0; k < len(acc); k++ {
		var re, im float64
		for i := 0; i < n; i++ {
			v := (seg[i] - mean) * window[i]
			phase := -2 * math.Pi * float64(k) * float64(i) / float64(n)
			re += v * math.Cos(phase)
			im += v * math.Sin(phase)
		}
		p := (re*re + im*im) / (fs * windowPower)
		if k != 0 && k != len(acc)-1 {
			p *= 2 // fold negative frequencies
		}
		acc[k] += p
	}
}

func hann(n int) []float64 {
	w := make([]float64, n)
	for i := range w {
		w[i] = 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/float64(n-1)))
	}
	return w
}

// BandPower integrates the PSD over [lo, hi) Hz.
func BandPower(psd []float64, binHz, lo, hi float64) float64 {
	if len(psd) == 0 || binHz <= 0 {
		return 0
	}
	var sum float64
	for k, p := range psd {
		f := float64(k) * binHz
		if f >= lo && f < hi {
			sum += p * binHz
		}
	}
	return sum
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var s float64
	for _, x := range xs {
		s += x
	}
	return s / float64(len(xs))
}

func stddev(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	m := mean(xs)
	var s float64
	for _, x := range xs {
		s += (x - m) * (x - m)
	}
	return math.Sqrt(s / float64(len(xs)-1))
}
