package dsp

import (
	"sync"

	"github.com/mindstream-labs/mindstream/internal/types"
)

// BatteryProcessor is the trivial fourth pipeline: it republishes the most
// recent battery level at its cadence.
type BatteryProcessor struct {
	mu     sync.Mutex
	latest *types.BatterySample
}

func NewBatteryProcessor() *BatteryProcessor { return &BatteryProcessor{} }

func (p *BatteryProcessor) Sensor() types.SensorKind { return types.SensorBattery }

// Update stores the newest sample from the adapter.
func (p *BatteryProcessor) Update(s types.BatterySample) {
	p.mu.Lock()
	p.latest = &s
	p.mu.Unlock()
}

func (p *BatteryProcessor) Tick(now float64) any {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.latest == nil {
		return nil
	}
	return &types.BatteryWindow{TS: now, Level: p.latest.Level}
}
