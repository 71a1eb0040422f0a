package device

import (
	"time"

	"github.com/mindstream-labs/mindstream/internal/types"
)

// Descriptor identifies a discoverable sensor unit.
type Descriptor struct {
	Address  string    `json:"address"`
	Name     string    `json:"name"`
	LastSeen time.Time `json:"last_seen"`
	// RSSI is a best-effort signal-strength hint from the link layer;
	// it never gates any transition.
	RSSI *int `json:"rssi,omitempty"`
}

// State is the adapter lifecycle state.
type State string

const (
	StateIdle          State = "idle"
	StateScanning      State = "scanning"
	StateConnecting    State = "connecting"
	StateConnected     State = "connected"
	StateDisconnecting State = "disconnecting"
)

// EventKind enumerates adapter lifecycle events surfaced to the coordinator.
type EventKind string

const (
	EventConnected      EventKind = "connected"
	EventDisconnected   EventKind = "disconnected"
	EventBatteryChanged EventKind = "battery_changed"
	EventLeadOffChanged EventKind = "leadoff_changed"
	EventGapDetected    EventKind = "gap_detected"
)

// DisconnectReason explains a disconnected event.
type DisconnectReason string

const (
	ReasonRequested            DisconnectReason = "requested"
	ReasonUnexpectedDisconnect DisconnectReason = "unexpected_disconnect"
)

// Event is the adapter-to-coordinator lifecycle notification.
type Event struct {
	Kind    EventKind        `json:"kind"`
	Device  string           `json:"device,omitempty"`
	Reason  DisconnectReason `json:"reason,omitempty"`
	Sensor  types.SensorKind `json:"sensor,omitempty"`
	Battery float64          `json:"battery,omitempty"`
	LeadOff [2]bool          `json:"leadoff,omitempty"`
	// Gap telemetry: expected vs observed sequence numbers.
	Expected uint16 `json:"expected,omitempty"`
	Observed uint16 `json:"observed,omitempty"`
}

// Sink receives decoded raw batches. Implemented by the coordinator's
// streaming layer; pushes must not block.
type Sink interface {
	OnRawBatch(batch types.RawBatch)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(types.RawBatch)

func (f SinkFunc) OnRawBatch(b types.RawBatch) { f(b) }
