package engine

import "github.com/mindstream-labs/mindstream/internal/types"

// DeviceStatus is the device slice of the engine snapshot.
type DeviceStatus struct {
	State    string   `json:"state"`
	Address  string   `json:"address,omitempty"`
	Name     string   `json:"name,omitempty"`
	Battery  *float64 `json:"battery,omitempty"`
	LeadOff  *[2]bool `json:"leadoff,omitempty"`
	LastSeen float64  `json:"last_seen,omitempty"`
}

// StreamingStatus reports the live pipelines.
type StreamingStatus struct {
	Active    bool                          `json:"active"`
	SinceTS   float64                       `json:"since_ts,omitempty"`
	Rates     map[types.SensorKind]float64  `json:"observed_rates,omitempty"`
	RingDrops map[types.SensorKind]uint64   `json:"ring_drops,omitempty"`
	Degraded  []types.SensorKind            `json:"degraded_pipelines,omitempty"`
}

// RecordingStatus reports the open session, if any.
type RecordingStatus struct {
	Active    bool    `json:"active"`
	SessionID string  `json:"session_id,omitempty"`
	Name      string  `json:"session_name,omitempty"`
	StartedTS float64 `json:"started_ts,omitempty"`
}

// Status is the full engine snapshot returned by the control plane and the
// health_check socket command.
type Status struct {
	State     string          `json:"state"`
	UptimeS   float64         `json:"uptime_s"`
	Device    DeviceStatus    `json:"device"`
	Streaming StreamingStatus `json:"streaming"`
	Recording RecordingStatus `json:"recording"`
	Clients   int             `json:"clients"`
	Health    float64         `json:"health_score"`
	Timestamp float64         `json:"timestamp"`
}

// Metrics is the /metrics payload.
type Metrics struct {
	CPU    float64 `json:"cpu"`
	RAMMB  float64 `json:"ram_mb"`
	DiskMB float64 `json:"disk_mb"`
	TS     float64 `json:"ts"`
}
