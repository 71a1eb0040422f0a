package dsp

import (
	"math"

	"github.com/mindstream-labs/mindstream/internal/types"
	"github.com/mindstream-labs/mindstream/pkg/ring"
)

const (
	ppgMinSamples = 16
	// rolling history for peak detection and RR accumulation
	ppgHistorySeconds = 10
	// minimum inter-beat distance (refractory period)
	ppgRefractoryMs = 300
	// RR intervals resampled at this rate for the LF/HF spectrum
	rrResampleHz = 4.0
)

// ppgPoint is one filtered sample in the rolling detection buffer.
type ppgPoint struct {
	ts float64
	v  float64
}

// PPGProcessor filters the pulse waveform, finds beats and derives the HRV
// set once per tick. Peak detection runs over a rolling window so beats
// spanning tick boundaries are not lost.
type PPGProcessor struct {
	Ring   *ring.Ring[types.PPGSample]
	cursor uint64
	fs     float64
	chain  Chain

	history  []ppgPoint
	peaks    []float64 // beat timestamps
	flt      []float64
	sqi      []float64
}

func NewPPGProcessor(capacity int) *PPGProcessor {
	return &PPGProcessor{
		Ring:  ring.New[types.PPGSample](capacity),
		fs:    types.RatePPG,
		chain: PPGFilter(types.RatePPG),
	}
}

func (p *PPGProcessor) Sensor() types.SensorKind { return types.SensorPPG }

func (p *PPGProcessor) Tick(now float64) any {
	samples, next, _ := p.Ring.SnapshotSince(p.cursor)
	p.cursor = next

	w := &types.PPGWindow{TS: now, SampleCount: len(samples)}
	if len(samples) < ppgMinSamples {
		w.Quality = types.QualityInsufficient
		w.Filtered, w.SQI = []float64{}, []float64{}
		return w
	}

	var redSum, irSum float64
	p.flt = p.flt[:0]
	for _, s := range samples {
		redSum += s.Red
		irSum += s.IR
		v := p.chain.Process(s.IR)
		p.flt = append(p.flt, v)
		p.history = append(p.history, ppgPoint{ts: s.TS, v: v})
	}
	w.RedMean = redSum / float64(len(samples))
	w.IRMean = irSum / float64(len(samples))
	p.trimHistory(samples[len(samples)-1].TS)

	p.detectPeaks()
	rr := p.rrIntervals()
	w.HRV = hrvIndices(rr)

	p.sqi = ppgSQI(p.sqi, p.history, p.peaks, len(samples))
	w.Filtered = append([]float64(nil), p.flt...)
	w.SQI = append([]float64(nil), p.sqi...)
	w.Quality = overallQuality(p.sqi)
	return w
}

func (p *PPGProcessor) trimHistory(latest float64) {
	cutoff := latest - ppgHistorySeconds
	i := 0
	for i < len(p.history) && p.history[i].ts < cutoff {
		i++
	}
	p.history = p.history[i:]
	j := 0
	for j < len(p.peaks) && p.peaks[j] < cutoff {
		j++
	}
	p.peaks = p.peaks[j:]
}

// detectPeaks rescans the rolling buffer with an adaptive threshold and a
// refractory period, rebuilding the beat list.
func (p *PPGProcessor) detectPeaks() {
	p.peaks = p.peaks[:0]
	if len(p.history) < 3 {
		return
	}
	var peak float64
	for _, pt := range p.history {
		if pt.v > peak {
			peak = pt.v
		}
	}
	if peak <= 0 {
		return
	}
	threshold := 0.5 * peak
	refractory := ppgRefractoryMs / 1000.0
	lastBeat := math.Inf(-1)
	for i := 1; i < len(p.history)-1; i++ {
		cur := p.history[i]
		if cur.v < threshold {
			continue
		}
		if cur.v >= p.history[i-1].v && cur.v > p.history[i+1].v && cur.ts-lastBeat >= refractory {
			p.peaks = append(p.peaks, cur.ts)
			lastBeat = cur.ts
		}
	}
}

// rrIntervals returns inter-beat intervals in milliseconds, rejecting
// physiologically impossible beats (<300 ms or >2 s).
func (p *PPGProcessor) rrIntervals() []float64 {
	var rr []float64
	for i := 1; i < len(p.peaks); i++ {
		ms := (p.peaks[i] - p.peaks[i-1]) * 1000
		if ms >= 300 && ms <= 2000 {
			rr = append(rr, ms)
		}
	}
	return rr
}

// hrvIndices computes the HRV metric set from the RR series; indices needing
// more data than available come back nil.
func hrvIndices(rr []float64) types.HRVIndices {
	var h types.HRVIndices
	if len(rr) < 2 {
		return h
	}
	m := mean(rr)
	bpm := 60000 / m
	sdnn := stddev(rr)
	h.BPM = &bpm
	h.SDNN = &sdnn

	diffs := make([]float64, 0, len(rr)-1)
	var sumSq float64
	var nn50 int
	for i := 1; i < len(rr); i++ {
		d := rr[i] - rr[i-1]
		diffs = append(diffs, d)
		sumSq += d * d
		if math.Abs(d) > 50 {
			nn50++
		}
	}
	rmssd := math.Sqrt(sumSq / float64(len(diffs)))
	pnn50 := float64(nn50) / float64(len(diffs))
	sdsd := stddev(diffs)
	h.RMSSD = &rmssd
	h.PNN50 = &pnn50
	h.SDSD = &sdsd

	// Poincare descriptors from RMSSD/SDNN relations.
	sd1 := rmssd / math.Sqrt2
	sd2sq := 2*sdnn*sdnn - sd1*sd1
	if sd2sq > 0 {
		sd2 := math.Sqrt(sd2sq)
		h.SD2 = &sd2
	}
	h.SD1 = &sd1

	if lf, hf, ok := rrSpectrum(rr); ok {
		h.LF = &lf
		h.HF = &hf
		if hf > 0 {
			lfhf := lf / hf
			h.LFHF = &lfhf
		}
	}
	return h
}

// rrSpectrum resamples the RR series at a uniform rate and integrates the
// LF (0.04-0.15 Hz) and HF (0.15-0.4 Hz) bands of its PSD.
func rrSpectrum(rr []float64) (lf, hf float64, ok bool) {
	if len(rr) < 8 {
		return 0, 0, false
	}
	// cumulative beat times in seconds
	times := make([]float64, len(rr)+1)
	for i, v := range rr {
		times[i+1] = times[i] + v/1000
	}
	span := times[len(times)-1]
	n := int(span * rrResampleHz)
	if n < 16 {
		return 0, 0, false
	}
	resampled := make([]float64, n)
	seg := 1
	for i := 0; i < n; i++ {
		t := float64(i) / rrResampleHz
		for seg < len(times)-1 && times[seg] < t {
			seg++
		}
		// linear interpolation of RR value across the beat interval
		t0, t1 := times[seg-1], times[seg]
		v0 := rr[seg-1]
		v1 := v0
		if seg < len(rr) {
			v1 = rr[seg]
		}
		frac := 0.0
		if t1 > t0 {
			frac = (t - t0) / (t1 - t0)
		}
		resampled[i] = v0 + (v1-v0)*frac
	}
	psd, bin := PSD(resampled, rrResampleHz)
	if psd == nil {
		return 0, 0, false
	}
	return BandPower(psd, bin, 0.04, 0.15), BandPower(psd, bin, 0.15, 0.4), true
}

// ppgSQI scores the last n samples by correlating each beat against the mean
// beat template; samples outside any beat inherit the nearest beat's score.
func ppgSQI(dst []float64, history []ppgPoint, peaks []float64, n int) []float64 {
	dst = dst[:0]
	if n > len(history) {
		n = len(history)
	}
	if len(peaks) < 3 {
		for i := 0; i < n; i++ {
			dst = append(dst, 0.3) // not enough beats to judge
		}
		return dst
	}

	beats := sliceBeats(history, peaks)
	template := meanBeat(beats)
	scores := make([]float64, len(beats))
	for i, b := range beats {
		scores[i] = correlate(b, template)
	}

	tail := history[len(history)-n:]
	for _, pt := range tail {
		dst = append(dst, clamp01(scoreAt(pt.ts, peaks, scores)))
	}
	return dst
}

func sliceBeats(history []ppgPoint, peaks []float64) [][]float64 {
	beats := make([][]float64, 0, len(peaks)-1)
	idx := 0
	for i := 1; i < len(peaks); i++ {
		var beat []float64
		for idx < len(history) && history[idx].ts < peaks[i] {
			if history[idx].ts >= peaks[i-1] {
				beat = append(beat, history[idx].v)
			}
			idx++
		}
		if len(beat) > 2 {
			beats = append(beats, beat)
		}
	}
	return beats
}

// meanBeat averages beats after resampling each to a fixed length.
func meanBeat(beats [][]float64) []float64 {
	const tlen = 32
	if len(beats) == 0 {
		return nil
	}
	out := make([]float64, tlen)
	for _, b := range beats {
		for i := 0; i < tlen; i++ {
			pos := float64(i) * float64(len(b)-1) / float64(tlen-1)
			lo := int(pos)
			hi := lo
			if hi < len(b)-1 {
				hi++
			}
			frac := pos - float64(lo)
			out[i] += b[lo]*(1-frac) + b[hi]*frac
		}
	}
	for i := range out {
		out[i] /= float64(len(beats))
	}
	return out
}

func correlate(beat, template []float64) float64 {
	if template == nil || len(beat) < 3 {
		return 0
	}
	resampled := make([]float64, len(template))
	for i := range resampled {
		pos := float64(i) * float64(len(beat)-1) / float64(len(template)-1)
		lo := int(pos)
		hi := lo
		if hi < len(beat)-1 {
			hi++
		}
		frac := pos - float64(lo)
		resampled[i] = beat[lo]*(1-frac) + beat[hi]*frac
	}
	mb, mt := mean(resampled), mean(template)
	var num, db, dt float64
	for i := range template {
		b := resampled[i] - mb
		t := template[i] - mt
		num += b * t
		db += b * b
		dt += t * t
	}
	if db == 0 || dt == 0 {
		return 0
	}
	return num / math.Sqrt(db*dt)
}

func scoreAt(ts float64, peaks []float64, scores []float64) float64 {
	for i := 1; i < len(peaks); i++ {
		if ts < peaks[i] {
			if i-1 < len(scores) {
				return scores[i-1]
			}
			break
		}
	}
	if len(scores) > 0 {
		return scores[len(scores)-1]
	}
	return 0
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
