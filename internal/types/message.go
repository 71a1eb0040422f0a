package types

// MessageType is the event kind carried in the bus envelope.
type MessageType string

const (
	MessageTypeRawData        MessageType = "raw_data"
	MessageTypeProcessedData  MessageType = "processed_data"
	MessageTypeSensorData     MessageType = "sensor_data"
	MessageTypeEvent          MessageType = "event"
	MessageTypePong           MessageType = "pong"
	MessageTypeHealthCheck    MessageType = "health_check_response"
	MessageTypeSubConfirmed   MessageType = "subscription_confirmed"
	MessageTypeError          MessageType = "error"
	MessageTypeGreeting       MessageType = "greeting"
)

// Envelope is the server-to-client message frame. Data is immutable once
// published; the bus shares it by reference across subscribers.
type Envelope struct {
	Type      MessageType `json:"type"`
	Channel   Channel     `json:"channel,omitempty"`
	Timestamp float64     `json:"timestamp"`
	Data      any         `json:"data"`
}

// ClientFrame is a client-to-server control frame.
type ClientFrame struct {
	Type    string         `json:"type"`
	Command string         `json:"command,omitempty"`
	Channel string         `json:"channel,omitempty"`
	Params  map[string]any `json:"params,omitempty"`
}
