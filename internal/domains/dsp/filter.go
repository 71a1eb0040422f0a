package dsp

import "math"

// Biquad is a direct-form-II-transposed second-order IIR section. Filter
// state persists across ticks so a stream can be filtered in window-sized
// chunks without edge artifacts.
type Biquad struct {
	b0, b1, b2, a1, a2 float64
	z1, z2             float64
}

func (f *Biquad) Process(x float64) float64 {
	y := f.b0*x + f.z1
	f.z1 = f.b1*x - f.a1*y + f.z2
	f.z2 = f.b2*x - f.a2*y
	return y
}

func (f *Biquad) Reset() { f.z1, f.z2 = 0, 0 }

// NewLowPass builds a Butterworth-style low-pass biquad (RBJ cookbook).
func NewLowPass(fs, fc float64) *Biquad {
	w0 := 2 * math.Pi * fc / fs
	alpha := math.Sin(w0) / math.Sqrt2
	cosw := math.Cos(w0)
	a0 := 1 + alpha
	return &Biquad{
		b0: (1 - cosw) / 2 / a0,
		b1: (1 - cosw) / a0,
		b2: (1 - cosw) / 2 / a0,
		a1: -2 * cosw / a0,
		a2: (1 - alpha) / a0,
	}
}

// NewHighPass builds a Butterworth-style high-pass biquad.
func NewHighPass(fs, fc float64) *Biquad {
	w0 := 2 * math.Pi * fc / fs
	alpha := math.Sin(w0) / math.Sqrt2
	cosw := math.Cos(w0)
	a0 := 1 + alpha
	return &Biquad{
		b0: (1 + cosw) / 2 / a0,
		b1: -(1 + cosw) / a0,
		b2: (1 + cosw) / 2 / a0,
		a1: -2 * cosw / a0,
		a2: (1 - alpha) / a0,
	}
}

// NewNotch builds a notch biquad at fc with the given Q.
func NewNotch(fs, fc, q float64) *Biquad {
	w0 := 2 * math.Pi * fc / fs
	alpha := math.Sin(w0) / (2 * q)
	cosw := math.Cos(w0)
	a0 := 1 + alpha
	return &Biquad{
		b0: 1 / a0,
		b1: -2 * cosw / a0,
		b2: 1 / a0,
		a1: -2 * cosw / a0,
		a2: (1 - alpha) / a0,
	}
}

// Chain applies a fixed cascade of sections.
type Chain []*Biquad

func (c Chain) Process(x float64) float64 {
	for _, f := range c {
		x = f.Process(x)
	}
	return x
}

func (c Chain) Reset() {
	for _, f := range c {
		f.Reset()
	}
}

// ProcessInto filters src into dst, reusing dst's backing array.
func (c Chain) ProcessInto(dst []float64, src []float64) []float64 {
	dst = dst[:0]
	for _, x := range src {
		dst = append(dst, c.Process(x))
	}
	return dst
}

// NewBandPass builds a band-pass as a high-pass/low-pass cascade.
// Second-order sections; steeper rolloff was not needed in practice.
func NewBandPass(fs, lo, hi float64) Chain {
	return Chain{NewHighPass(fs, lo), NewLowPass(fs, hi)}
}

// EEGFilter is the standard EEG chain: 0.5-50 Hz band-pass plus 50 and 60 Hz
// mains notches (Q=30).
func EEGFilter(fs float64) Chain {
	return Chain{
		NewHighPass(fs, 0.5),
		NewLowPass(fs, 50),
		NewNotch(fs, 50, 30),
		NewNotch(fs, 60, 30),
	}
}

// PPGFilter is the 0.5-8 Hz pulse band-pass.
func PPGFilter(fs float64) Chain {
	return NewBandPass(fs, 0.5, 8)
}

// OnePoleHP removes the gravity/DC component per accelerometer axis.
type OnePoleHP struct {
	alpha      float64
	prevX      float64
	prevY      float64
	primed     bool
}

func NewOnePoleHP(fs, fc float64) *OnePoleHP {
	rc := 1 / (2 * math.Pi * fc)
	dt := 1 / fs
	return &OnePoleHP{alpha: rc / (rc + dt)}
}

func (f *OnePoleHP) Process(x float64) float64 {
	if !f.primed {
		f.primed = true
		f.prevX = x
		f.prevY = 0
		return 0
	}
	y := f.alpha * (f.prevY + x - f.prevX)
	f.prevX = x
	f.prevY = y
	return y
}
