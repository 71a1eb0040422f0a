package dsp

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mindstream-labs/mindstream/internal/types"
	"github.com/mindstream-labs/mindstream/pkg/Logger"
)

// Consecutive tick failures before a pipeline is marked degraded.
const degradedAfterFailures = 3

// Processor is the per-sensor DSP stage: drain the window, filter, derive
// indices. Tick returns the processed window or nil when there is nothing
// to emit.
type Processor interface {
	Sensor() types.SensorKind
	Tick(now float64) any
}

// Publisher is the bus-facing sink. Publish reports false when the message
// was refused; pipelines never block on it.
type Publisher interface {
	Publish(ch types.Channel, mt types.MessageType, data any) bool
}

// RecordSink receives processed windows while a recording is active. Append
// must not block the caller.
type RecordSink interface {
	Append(sensor types.SensorKind, kind types.DataType, payload any)
}

// Pipeline runs one Processor on a wall-clock ticker and fans its windows
// out to the bus and, when recording, the recorder. An internal panic is
// isolated to the tick that raised it.
type Pipeline struct {
	proc     Processor
	interval time.Duration
	pub      Publisher
	logger   *Logger.Logger

	mu       sync.Mutex
	recorder RecordSink

	failStreak   int
	degraded     atomic.Bool
	publishDrops atomic.Uint64
}

func NewPipeline(proc Processor, interval time.Duration, pub Publisher, logger *Logger.Logger) *Pipeline {
	return &Pipeline{proc: proc, interval: interval, pub: pub, logger: logger}
}

// SetRecorder installs (or with nil, removes) the recording sink.
func (p *Pipeline) SetRecorder(r RecordSink) {
	p.mu.Lock()
	p.recorder = r
	p.mu.Unlock()
}

// Degraded reports whether the pipeline has hit three consecutive failures
// without a good tick since.
func (p *Pipeline) Degraded() bool { return p.degraded.Load() }

// PublishDrops counts messages the bus refused.
func (p *Pipeline) PublishDrops() uint64 { return p.publishDrops.Load() }

func (p *Pipeline) Sensor() types.SensorKind { return p.proc.Sensor() }

// Run ticks until the context is cancelled.
func (p *Pipeline) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.tickOnce()
		}
	}
}

func (p *Pipeline) tickOnce() {
	defer func() {
		if r := recover(); r != nil {
			p.failStreak++
			p.logger.Errorf("%s pipeline tick failed: %v", p.proc.Sensor(), r)
			p.pub.Publish(types.ChannelEvent, types.MessageTypeEvent, map[string]any{
				"event":  "pipeline_error",
				"sensor": p.proc.Sensor(),
				"detail": "internal pipeline failure",
			})
			if p.failStreak >= degradedAfterFailures {
				p.degraded.Store(true)
			}
		}
	}()

	now := float64(time.Now().UnixNano()) / 1e9
	window := p.proc.Tick(now)
	if window == nil {
		return
	}

	p.failStreak = 0
	p.degraded.Store(false)

	sensor := p.proc.Sensor()
	ch := types.ProcessedChannel(sensor)
	mt := types.MessageTypeProcessedData
	kind := types.DataProcessed
	if sensor == types.SensorBattery {
		ch = types.ChannelBattery
		mt = types.MessageTypeSensorData
		kind = types.DataBattery
	}
	if !p.pub.Publish(ch, mt, window) {
		p.publishDrops.Add(1)
	}

	p.mu.Lock()
	rec := p.recorder
	p.mu.Unlock()
	if rec != nil {
		rec.Append(sensor, kind, window)
	}
}
