package engine

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/mindstream-labs/mindstream/internal/types"
)

// monitorState keeps the counters the 1 Hz ticker differentiates to get
// observed rates and drop rates.
type monitorState struct {
	mu        sync.Mutex
	proc      *process.Process
	lastTick  time.Time
	lastEEG   uint64
	lastPPG   uint64
	lastACC   uint64
	lastDrops uint64
	lastPush  uint64
	lastRates map[types.SensorKind]float64
	health    float64
}

func (m *monitorState) rates() map[types.SensorKind]float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[types.SensorKind]float64, len(m.lastRates))
	for k, v := range m.lastRates {
		out[k] = v
	}
	return out
}

func (c *Coordinator) healthScore() float64 {
	c.mon.mu.Lock()
	defer c.mon.mu.Unlock()
	if c.mon.health == 0 {
		return 1
	}
	return c.mon.health
}

// monitorLoop publishes monitoring_metrics once per second.
func (c *Coordinator) monitorLoop() {
	defer c.wg.Done()
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err == nil {
		c.mon.proc = proc
	} else {
		c.logger.Warnf("process metrics unavailable: %v", err)
	}
	c.mon.lastTick = time.Now()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.publishMetrics()
		}
	}
}

func (c *Coordinator) publishMetrics() {
	now := time.Now()

	var cpuPct, ramMB float64
	if c.mon.proc != nil {
		if v, err := c.mon.proc.Percent(0); err == nil {
			cpuPct = v
		}
		if mi, err := c.mon.proc.MemoryInfo(); err == nil && mi != nil {
			ramMB = float64(mi.RSS) / 1024 / 1024
		}
	}

	rates := map[types.SensorKind]float64{}
	var dropDelta, pushDelta uint64
	var degradedFrac float64

	ss := c.streams.Load()
	c.mon.mu.Lock()
	elapsed := now.Sub(c.mon.lastTick).Seconds()
	if elapsed <= 0 {
		elapsed = 1
	}
	if ss != nil {
		eeg, ppg, acc := ss.eegSamples.Load(), ss.ppgSamples.Load(), ss.accSamples.Load()
		rates[types.SensorEEG] = float64(eeg-c.mon.lastEEG) / elapsed
		rates[types.SensorPPG] = float64(ppg-c.mon.lastPPG) / elapsed
		rates[types.SensorACC] = float64(acc-c.mon.lastACC) / elapsed
		c.mon.lastEEG, c.mon.lastPPG, c.mon.lastACC = eeg, ppg, acc

		drops, pushes := ss.totalDrops(), ss.ringPushes()
		if drops >= c.mon.lastDrops {
			dropDelta = drops - c.mon.lastDrops
		}
		if pushes >= c.mon.lastPush {
			pushDelta = pushes - c.mon.lastPush
		}
		c.mon.lastDrops, c.mon.lastPush = drops, pushes

		if n := len(ss.pipelines); n > 0 {
			degradedFrac = float64(len(ss.degraded())) / float64(n)
		}
	} else {
		c.mon.lastEEG, c.mon.lastPPG, c.mon.lastACC = 0, 0, 0
		c.mon.lastDrops, c.mon.lastPush = 0, 0
	}
	c.mon.lastTick = now
	c.mon.lastRates = rates

	// Health 0..1: mean of signal health (non-degraded pipelines) and
	// delivery health (1 - drop rate over the last second).
	dropRate := 0.0
	if pushDelta > 0 {
		dropRate = float64(dropDelta) / float64(pushDelta)
		if dropRate > 1 {
			dropRate = 1
		}
	}
	health := ((1 - degradedFrac) + (1 - dropRate)) / 2
	c.mon.health = health
	c.mon.mu.Unlock()

	c.updateMachineHealth(ss != nil, degradedFrac)

	c.bus.Publish(types.ChannelMonitoringMetrics, types.MessageTypeSensorData, map[string]any{
		"cpu_percent":    cpuPct,
		"ram_mb":         ramMB,
		"observed_rates": rates,
		"clients":        c.bus.ClientCount(),
		"buffer_drops":   dropDelta,
		"health_score":   health,
		"engine_state":   c.machine.Current(),
	})
}

// updateMachineHealth moves the engine between running and degraded based on
// the pipeline view. All live pipelines degraded at once degrades the engine;
// any of them recovering, or streaming stopping, brings it back.
func (c *Coordinator) updateMachineHealth(streaming bool, degradedFrac float64) {
	if streaming && degradedFrac >= 1 {
		if err := c.machine.Event(context.Background(), "degrade"); err == nil {
			c.logger.Warn("all pipelines degraded")
			c.bus.Publish(types.ChannelEvent, types.MessageTypeEvent, map[string]any{
				"event": "engine_degraded",
			})
		}
		return
	}
	if c.machine.Current() == "degraded" {
		if err := c.machine.Event(context.Background(), "recover"); err == nil {
			c.logger.Info("pipelines recovered")
			c.bus.Publish(types.ChannelEvent, types.MessageTypeEvent, map[string]any{
				"event": "engine_recovered",
			})
		}
	}
}

// Metrics builds the /metrics payload: process CPU and memory plus free
// space on the data volume.
func (c *Coordinator) Metrics() Metrics {
	m := Metrics{TS: float64(time.Now().UnixNano()) / 1e9}
	proc := c.mon.proc
	if proc == nil {
		if p, err := process.NewProcess(int32(os.Getpid())); err == nil {
			proc = p
		}
	}
	if proc != nil {
		if v, err := proc.Percent(0); err == nil {
			m.CPU = v
		}
		if mi, err := proc.MemoryInfo(); err == nil && mi != nil {
			m.RAMMB = float64(mi.RSS) / 1024 / 1024
		}
	}
	if usage, err := disk.Usage(c.cfg.Recorder.DataDir); err == nil {
		m.DiskMB = float64(usage.Free) / 1024 / 1024
	}
	return m
}
