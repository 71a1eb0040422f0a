package dsp

import (
	"math"

	"github.com/mindstream-labs/mindstream/internal/types"
	"github.com/mindstream-labs/mindstream/pkg/ring"
)

// EEG band edges in Hz.
var eegBands = struct{ delta, theta, alpha, beta, gamma [2]float64 }{
	delta: [2]float64{0.5, 4},
	theta: [2]float64{4, 8},
	alpha: [2]float64{8, 13},
	beta:  [2]float64{13, 30},
	gamma: [2]float64{30, 50},
}

// Fewer samples than this in a tick yields an "insufficient" window.
const eegMinSamples = 64

// EEGProcessor filters the two EEG channels, scores per-sample quality and
// derives band powers and cognitive indices once per tick.
type EEGProcessor struct {
	Ring   *ring.Ring[types.EEGSample]
	cursor uint64
	fs     float64
	ch1    Chain
	ch2    Chain

	// scratch buffers reused across ticks
	raw1, raw2   []float64
	flt1, flt2   []float64
	sqi1, sqi2   []float64
}

func NewEEGProcessor(capacity int) *EEGProcessor {
	return &EEGProcessor{
		Ring: ring.New[types.EEGSample](capacity),
		fs:   types.RateEEG,
		ch1:  EEGFilter(types.RateEEG),
		ch2:  EEGFilter(types.RateEEG),
	}
}

func (p *EEGProcessor) Sensor() types.SensorKind { return types.SensorEEG }

// Tick drains the ring and produces one processed window.
func (p *EEGProcessor) Tick(now float64) any {
	samples, next, _ := p.Ring.SnapshotSince(p.cursor)
	p.cursor = next

	w := &types.EEGWindow{TS: now, SampleCount: len(samples)}
	if len(samples) < eegMinSamples {
		w.Quality = types.QualityInsufficient
		w.CH1, w.CH2 = []float64{}, []float64{}
		w.SQI1, w.SQI2 = []float64{}, []float64{}
		return w
	}

	p.raw1 = p.raw1[:0]
	p.raw2 = p.raw2[:0]
	for _, s := range samples {
		p.raw1 = append(p.raw1, s.CH1)
		p.raw2 = append(p.raw2, s.CH2)
	}
	p.flt1 = p.ch1.ProcessInto(p.flt1, p.raw1)
	p.flt2 = p.ch2.ProcessInto(p.flt2, p.raw2)

	p.sqi1 = eegSQI(p.sqi1, p.flt1, leadOff1(samples))
	p.sqi2 = eegSQI(p.sqi2, p.flt2, leadOff2(samples))

	psd1, bin1 := PSD(p.flt1, p.fs)
	psd2, bin2 := PSD(p.flt2, p.fs)
	w.Bands1 = bandPowers(psd1, bin1)
	w.Bands2 = bandPowers(psd2, bin2)
	w.Indices = eegIndices(w.Bands1, w.Bands2)

	w.CH1 = append([]float64(nil), p.flt1...)
	w.CH2 = append([]float64(nil), p.flt2...)
	w.SQI1 = append([]float64(nil), p.sqi1...)
	w.SQI2 = append([]float64(nil), p.sqi2...)
	w.Quality = overallQuality(p.sqi1, p.sqi2)
	return w
}

func leadOff1(s []types.EEGSample) []bool {
	out := make([]bool, len(s))
	for i := range s {
		out[i] = s[i].CH1LeadOff
	}
	return out
}

func leadOff2(s []types.EEGSample) []bool {
	out := make([]bool, len(s))
	for i := range s {
		out[i] = s[i].CH2LeadOff
	}
	return out
}

// eegSQI scores each sample 0..1 from amplitude and window variance bounds.
// Lead-off contact failure pins the score to zero.
func eegSQI(dst, filtered []float64, leadOff []bool) []float64 {
	dst = dst[:0]
	sd := stddev(filtered)
	varScore := 1.0
	if sd < 0.5 {
		varScore = sd / 0.5 // flat line, electrode likely floating
	} else if sd > 80 {
		varScore = math.Max(0, 1-(sd-80)/120)
	}
	for i, v := range filtered {
		amp := math.Abs(v)
		ampScore := 1.0
		if amp > 100 {
			ampScore = math.Max(0, 1-(amp-100)/200)
		}
		score := ampScore * varScore
		if i < len(leadOff) && leadOff[i] {
			score = 0
		}
		dst = append(dst, score)
	}
	return dst
}

func bandPowers(psd []float64, binHz float64) types.BandPowers {
	return types.BandPowers{
		Delta: BandPower(psd, binHz, eegBands.delta[0], eegBands.delta[1]),
		Theta: BandPower(psd, binHz, eegBands.theta[0], eegBands.theta[1]),
		Alpha: BandPower(psd, binHz, eegBands.alpha[0], eegBands.alpha[1]),
		Beta:  BandPower(psd, binHz, eegBands.beta[0], eegBands.beta[1]),
		Gamma: BandPower(psd, binHz, eegBands.gamma[0], eegBands.gamma[1]),
	}
}

// eegIndices derives the cognitive indices from channel-averaged band powers.
// CH1 is the left hemisphere, CH2 the right.
func eegIndices(b1, b2 types.BandPowers) types.EEGIndices {
	avg := types.BandPowers{
		Delta: (b1.Delta + b2.Delta) / 2,
		Theta: (b1.Theta + b2.Theta) / 2,
		Alpha: (b1.Alpha + b2.Alpha) / 2,
		Beta:  (b1.Beta + b2.Beta) / 2,
		Gamma: (b1.Gamma + b2.Gamma) / 2,
	}
	total := avg.Delta + avg.Theta + avg.Alpha + avg.Beta + avg.Gamma
	return types.EEGIndices{
		Focus:              ratio(avg.Beta, avg.Alpha+avg.Theta),
		Relaxation:         ratio(avg.Alpha, avg.Alpha+avg.Beta),
		Stress:             ratio(avg.Beta+avg.Gamma, avg.Alpha+avg.Theta),
		HemisphericBalance: ratio(b1.Alpha-b2.Alpha, b1.Alpha+b2.Alpha),
		CognitiveLoad:      ratio(avg.Theta, avg.Alpha),
		EmotionalStability: ratio(avg.Alpha+avg.Theta, avg.Gamma),
		TotalPower:         &total,
	}
}

// ratio returns num/den, or nil when the denominator vanishes.
func ratio(num, den float64) *float64 {
	if den == 0 {
		return nil
	}
	v := num / den
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

func overallQuality(sqis ...[]float64) types.SignalQuality {
	var sum float64
	var n int
	for _, s := range sqis {
		for _, v := range s {
			sum += v
			n++
		}
	}
	if n == 0 {
		return types.QualityInsufficient
	}
	if sum/float64(n) >= 0.6 {
		return types.QualityGood
	}
	return types.QualityPoor
}
