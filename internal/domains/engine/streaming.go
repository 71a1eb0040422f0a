package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mindstream-labs/mindstream/internal/config"
	"github.com/mindstream-labs/mindstream/internal/domains/dsp"
	"github.com/mindstream-labs/mindstream/internal/types"
	"github.com/mindstream-labs/mindstream/pkg/Logger"
)

// streamSet is one streaming run: the per-sensor processors, their rings and
// the four pipelines ticking against them. Created on start_streaming,
// disposed on stop.
type streamSet struct {
	eeg *dsp.EEGProcessor
	ppg *dsp.PPGProcessor
	acc *dsp.ACCProcessor
	bat *dsp.BatteryProcessor

	pipelines []*dsp.Pipeline
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	startedAt time.Time

	// observed raw sample counters, read by the monitor
	eegSamples atomic.Uint64
	ppgSamples atomic.Uint64
	accSamples atomic.Uint64
}

func newStreamSet(cfg config.StreamConfig, pub dsp.Publisher, logger *Logger.Logger) *streamSet {
	s := &streamSet{
		eeg:       dsp.NewEEGProcessor(cfg.RingCapacityEEG),
		ppg:       dsp.NewPPGProcessor(cfg.RingCapacityPPG),
		acc:       dsp.NewACCProcessor(cfg.RingCapacityACC),
		bat:       dsp.NewBatteryProcessor(),
		startedAt: time.Now(),
	}
	s.pipelines = []*dsp.Pipeline{
		dsp.NewPipeline(s.eeg, time.Duration(cfg.TickMsEEG)*time.Millisecond, pub, logger),
		dsp.NewPipeline(s.ppg, time.Duration(cfg.TickMsPPG)*time.Millisecond, pub, logger),
		dsp.NewPipeline(s.acc, time.Duration(cfg.TickMsACC)*time.Millisecond, pub, logger),
		dsp.NewPipeline(s.bat, time.Duration(cfg.TickMsBat)*time.Millisecond, pub, logger),
	}
	return s
}

func (s *streamSet) start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	for _, p := range s.pipelines {
		s.wg.Add(1)
		go func(p *dsp.Pipeline) {
			defer s.wg.Done()
			p.Run(ctx)
		}(p)
	}
}

// stop cancels the pipelines and waits up to deadline for them to drain.
// Returns false when a pipeline failed to observe cancellation in time.
func (s *streamSet) stop(deadline time.Duration) bool {
	if s.cancel != nil {
		s.cancel()
	}
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(deadline):
		return false
	}
}

// setRecorder attaches (or with nil, detaches) the recording sink on every
// pipeline.
func (s *streamSet) setRecorder(r dsp.RecordSink) {
	for _, p := range s.pipelines {
		p.SetRecorder(r)
	}
}

// ingest routes one decoded batch into the rings and counters.
func (s *streamSet) ingest(b types.RawBatch) {
	switch samples := b.Samples.(type) {
	case []types.EEGSample:
		s.eeg.Ring.PushBatch(samples)
		s.eegSamples.Add(uint64(len(samples)))
	case []types.PPGSample:
		s.ppg.Ring.PushBatch(samples)
		s.ppgSamples.Add(uint64(len(samples)))
	case []types.ACCSample:
		s.acc.Ring.PushBatch(samples)
		s.accSamples.Add(uint64(len(samples)))
	case []types.BatterySample:
		if len(samples) > 0 {
			s.bat.Update(samples[len(samples)-1])
		}
	}
}

func (s *streamSet) ringDrops() map[types.SensorKind]uint64 {
	return map[types.SensorKind]uint64{
		types.SensorEEG: s.eeg.Ring.Dropped(),
		types.SensorPPG: s.ppg.Ring.Dropped(),
		types.SensorACC: s.acc.Ring.Dropped(),
	}
}

func (s *streamSet) ringPushes() uint64 {
	return s.eeg.Ring.Pushes() + s.ppg.Ring.Pushes() + s.acc.Ring.Pushes()
}

func (s *streamSet) totalDrops() uint64 {
	var total uint64
	for _, d := range s.ringDrops() {
		total += d
	}
	for _, p := range s.pipelines {
		total += p.PublishDrops()
	}
	return total
}

func (s *streamSet) degraded() []types.SensorKind {
	var out []types.SensorKind
	for _, p := range s.pipelines {
		if p.Degraded() {
			out = append(out, p.Sensor())
		}
	}
	return out
}
