package device

import (
	"context"
	"time"

	"github.com/mindstream-labs/mindstream/internal/types"
)

// LinkEventKind is a raw transport notification, below the adapter's
// lifecycle events.
type LinkEventKind string

const (
	LinkUp   LinkEventKind = "up"
	LinkDown LinkEventKind = "down"
)

// LinkEvent is emitted by a Link implementation.
type LinkEvent struct {
	Kind   LinkEventKind
	Reason string
}

// Link abstracts the wireless transport to one sensor unit. The engine ships
// with a simulated implementation; a host BLE stack plugs in behind the same
// interface.
type Link interface {
	// Scan discovers nearby units for the given duration. A zero duration
	// returns immediately with an empty list. Returns types.CodeBluetoothError
	// wrapped in an EngineError when the host stack is unavailable.
	Scan(ctx context.Context, duration time.Duration) ([]Descriptor, error)

	// Connect dials the unit and starts notification delivery on Frames.
	Connect(ctx context.Context, address string) error

	// Disconnect tears the connection down. Idempotent.
	Disconnect() error

	// Frames delivers raw characteristic payloads in arrival order.
	Frames() <-chan []byte

	// Events delivers transport up/down notifications.
	Events() <-chan LinkEvent
}

// Frame wire format, shared by the decoder and the simulator:
//
//	byte 0     sensor tag (0x01 EEG, 0x02 PPG, 0x03 ACC, 0x04 battery)
//	bytes 1-2  uint16 LE frame sequence (per sensor, wraps)
//	byte 3     sample count n
//	bytes 4..  n * per-sensor sample records
//
// Sample records: EEG int16 ch1, int16 ch2, flags (5 B); PPG uint32 red,
// uint32 ir (8 B); ACC int16 x/y/z (6 B); battery one byte percent.
const (
	tagEEG     = 0x01
	tagPPG     = 0x02
	tagACC     = 0x03
	tagBattery = 0x04

	frameHeaderLen = 4

	eegRecordLen = 5
	ppgRecordLen = 8
	accRecordLen = 6
	batRecordLen = 1
)

func sensorForTag(tag byte) (types.SensorKind, bool) {
	switch tag {
	case tagEEG:
		return types.SensorEEG, true
	case tagPPG:
		return types.SensorPPG, true
	case tagACC:
		return types.SensorACC, true
	case tagBattery:
		return types.SensorBattery, true
	}
	return "", false
}
