package device

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/mindstream-labs/mindstream/internal/types"
)

// ADC and gain constants from the device datasheet. Decoded values are in
// physical units: microvolts for EEG, milli-g for ACC.
const (
	eegLSBMicrovolt = 0.02235 // 4.5 V ref, 24x gain, 24-bit front end scaled to int16 transport
	accLSBMilliG    = 0.488   // +/-16 g range
)

// seqState tracks per-sensor sequence continuity and the timestamp anchor.
type seqState struct {
	anchored    bool
	anchorWall  float64 // wall time of the first observed frame
	anchorSeq   uint16
	nextSeq     uint16
	sampleIndex uint64 // samples decoded since anchor
	lastTS      float64
}

// decoder turns link frames into typed sample batches. Timestamps are
// monotonic seconds-since-epoch assigned from the device sequence plus an
// anchor wall time taken at the first frame.
type decoder struct {
	seq       map[types.SensorKind]*seqState
	onGap     func(sensor types.SensorKind, expected, observed uint16)
	decodeErr uint64
}

func newDecoder(onGap func(types.SensorKind, uint16, uint16)) *decoder {
	return &decoder{
		seq:   make(map[types.SensorKind]*seqState),
		onGap: onGap,
	}
}

// Decode parses one frame. Malformed frames return an error and are counted
// by the caller; no synthetic samples are ever inserted for gaps.
func (d *decoder) Decode(frame []byte) (types.RawBatch, error) {
	if len(frame) < frameHeaderLen {
		return types.RawBatch{}, fmt.Errorf("frame too short: %d bytes", len(frame))
	}
	sensor, ok := sensorForTag(frame[0])
	if !ok {
		return types.RawBatch{}, fmt.Errorf("unknown sensor tag 0x%02x", frame[0])
	}
	seq := binary.LittleEndian.Uint16(frame[1:3])
	n := int(frame[3])
	payload := frame[frameHeaderLen:]

	st := d.seq[sensor]
	if st == nil {
		st = &seqState{}
		d.seq[sensor] = st
	}
	if !st.anchored {
		st.anchored = true
		st.anchorWall = float64(time.Now().UnixNano()) / 1e9
		st.anchorSeq = seq
		st.nextSeq = seq
	}
	if seq != st.nextSeq && d.onGap != nil {
		d.onGap(sensor, st.nextSeq, seq)
	}
	st.nextSeq = seq + 1

	rate := sampleRate(sensor)
	stamp := func() float64 {
		ts := st.anchorWall + float64(st.sampleIndex)/rate
		// Strictly monotonic within a sensor even across re-anchoring.
		if ts <= st.lastTS {
			ts = st.lastTS + 1.0/(2.0*rate)
		}
		st.lastTS = ts
		st.sampleIndex++
		return ts
	}

	batch := types.RawBatch{Sensor: sensor}
	switch sensor {
	case types.SensorEEG:
		if len(payload) < n*eegRecordLen {
			return types.RawBatch{}, fmt.Errorf("eeg frame truncated")
		}
		samples := make([]types.EEGSample, 0, n)
		for i := 0; i < n; i++ {
			rec := payload[i*eegRecordLen:]
			ch1 := int16(binary.LittleEndian.Uint16(rec[0:2]))
			ch2 := int16(binary.LittleEndian.Uint16(rec[2:4]))
			flags := rec[4]
			samples = append(samples, types.EEGSample{
				TS:         stamp(),
				CH1:        float64(ch1) * eegLSBMicrovolt,
				CH2:        float64(ch2) * eegLSBMicrovolt,
				CH1LeadOff: flags&0x01 != 0,
				CH2LeadOff: flags&0x02 != 0,
			})
		}
		batch.Samples = samples
	case types.SensorPPG:
		if len(payload) < n*ppgRecordLen {
			return types.RawBatch{}, fmt.Errorf("ppg frame truncated")
		}
		samples := make([]types.PPGSample, 0, n)
		for i := 0; i < n; i++ {
			rec := payload[i*ppgRecordLen:]
			samples = append(samples, types.PPGSample{
				TS:  stamp(),
				Red: float64(binary.LittleEndian.Uint32(rec[0:4])),
				IR:  float64(binary.LittleEndian.Uint32(rec[4:8])),
			})
		}
		batch.Samples = samples
	case types.SensorACC:
		if len(payload) < n*accRecordLen {
			return types.RawBatch{}, fmt.Errorf("acc frame truncated")
		}
		samples := make([]types.ACCSample, 0, n)
		for i := 0; i < n; i++ {
			rec := payload[i*accRecordLen:]
			samples = append(samples, types.ACCSample{
				TS: stamp(),
				X:  float64(int16(binary.LittleEndian.Uint16(rec[0:2]))) * accLSBMilliG,
				Y:  float64(int16(binary.LittleEndian.Uint16(rec[2:4]))) * accLSBMilliG,
				Z:  float64(int16(binary.LittleEndian.Uint16(rec[4:6]))) * accLSBMilliG,
			})
		}
		batch.Samples = samples
	case types.SensorBattery:
		if len(payload) < n*batRecordLen {
			return types.RawBatch{}, fmt.Errorf("battery frame truncated")
		}
		samples := make([]types.BatterySample, 0, n)
		for i := 0; i < n; i++ {
			samples = append(samples, types.BatterySample{
				TS:    stamp(),
				Level: float64(payload[i]),
			})
		}
		batch.Samples = samples
	}
	batch.TS = st.lastTS
	return batch, nil
}

// Reset clears sequence anchors, used on reconnect so timestamps re-anchor.
func (d *decoder) Reset() {
	d.seq = make(map[types.SensorKind]*seqState)
}

func sampleRate(s types.SensorKind) float64 {
	switch s {
	case types.SensorEEG:
		return types.RateEEG
	case types.SensorPPG:
		return types.RatePPG
	case types.SensorACC:
		return types.RateACC
	default:
		return types.RateBattery
	}
}
