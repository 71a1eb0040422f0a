package websocket

import "context"

// ServerVersion is announced in the greeting frame.
const ServerVersion = "1.2.0"

// Commander is the coordinator-facing hook for device commands arriving over
// the socket (scan_devices, connect_device, start_streaming, ...).
type Commander interface {
	// HandleCommand executes a control command and returns its result payload.
	HandleCommand(ctx context.Context, command string, params map[string]any) (any, error)
	// StatusSnapshot returns the current engine status for health_check.
	StatusSnapshot() any
}

// CloseReason labels a server-initiated disconnect.
type CloseReason string

const (
	CloseSlowConsumer CloseReason = "slow_consumer"
	CloseShutdown     CloseReason = "shutdown"
)
