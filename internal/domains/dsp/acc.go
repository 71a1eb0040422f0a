package dsp

import (
	"math"

	"github.com/mindstream-labs/mindstream/internal/types"
	"github.com/mindstream-labs/mindstream/pkg/ring"
)

const accMinSamples = 4

// Activity thresholds over mean movement magnitude, in milli-g.
const (
	accStationaryMax = 200.0
	accSittingMax    = 600.0
	accWalkingMax    = 1000.0
)

// ACCProcessor removes gravity per axis with a high-pass, then classifies
// activity from the movement-magnitude envelope.
type ACCProcessor struct {
	Ring   *ring.Ring[types.ACCSample]
	cursor uint64
	hpX    *OnePoleHP
	hpY    *OnePoleHP
	hpZ    *OnePoleHP

	dx, dy, dz []float64
	mag        []float64
}

func NewACCProcessor(capacity int) *ACCProcessor {
	return &ACCProcessor{
		Ring: ring.New[types.ACCSample](capacity),
		hpX:  NewOnePoleHP(types.RateACC, 0.3),
		hpY:  NewOnePoleHP(types.RateACC, 0.3),
		hpZ:  NewOnePoleHP(types.RateACC, 0.3),
	}
}

func (p *ACCProcessor) Sensor() types.SensorKind { return types.SensorACC }

func (p *ACCProcessor) Tick(now float64) any {
	samples, next, _ := p.Ring.SnapshotSince(p.cursor)
	p.cursor = next

	w := &types.ACCWindow{TS: now, SampleCount: len(samples)}
	if len(samples) < accMinSamples {
		w.Quality = types.QualityInsufficient
		w.Activity = types.ActivityStationary
		w.DeltaX, w.DeltaY, w.DeltaZ = []float64{}, []float64{}, []float64{}
		return w
	}

	p.dx, p.dy, p.dz, p.mag = p.dx[:0], p.dy[:0], p.dz[:0], p.mag[:0]
	for _, s := range samples {
		x := p.hpX.Process(s.X)
		y := p.hpY.Process(s.Y)
		z := p.hpZ.Process(s.Z)
		p.dx = append(p.dx, x)
		p.dy = append(p.dy, y)
		p.dz = append(p.dz, z)
		p.mag = append(p.mag, math.Sqrt(x*x+y*y+z*z))
	}

	w.DeltaX = append([]float64(nil), p.dx...)
	w.DeltaY = append([]float64(nil), p.dy...)
	w.DeltaZ = append([]float64(nil), p.dz...)
	w.AvgMovement = mean(p.mag)
	w.StdMovement = stddev(p.mag)
	for _, m := range p.mag {
		if m > w.MaxMovement {
			w.MaxMovement = m
		}
	}
	w.Activity = classifyActivity(w.AvgMovement)
	w.Quality = types.QualityGood
	return w
}

func classifyActivity(avgMag float64) types.ActivityState {
	switch {
	case avgMag < accStationaryMax:
		return types.ActivityStationary
	case avgMag < accSittingMax:
		return types.ActivitySitting
	case avgMag < accWalkingMax:
		return types.ActivityWalking
	default:
		return types.ActivityRunning
	}
}
