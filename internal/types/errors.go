package types

import "fmt"

// ErrorCode is the closed set of codes that cross the control-plane boundary.
type ErrorCode string

const (
	CodeBluetoothError      ErrorCode = "BLUETOOTH_ERROR"
	CodeDeviceNotFound      ErrorCode = "DEVICE_NOT_FOUND"
	CodeConnectionFailed    ErrorCode = "CONNECTION_FAILED"
	CodeConnectionTimeout   ErrorCode = "CONNECTION_TIMEOUT"
	CodeDeviceBusy          ErrorCode = "DEVICE_BUSY"
	CodeInvalidSettings     ErrorCode = "INVALID_SETTINGS"
	CodePermissionDenied    ErrorCode = "PERMISSION_DENIED"
	CodeSessionNotFound     ErrorCode = "SESSION_NOT_FOUND"
	CodeRecordingInProgress ErrorCode = "RECORDING_IN_PROGRESS"
	CodeInvalidFormat       ErrorCode = "INVALID_FORMAT"
	CodeInsufficientSpace   ErrorCode = "INSUFFICIENT_SPACE"
	CodeFileNotFound        ErrorCode = "FILE_NOT_FOUND"
	CodeExportFailed        ErrorCode = "EXPORT_FAILED"
	CodeInvalidParameters   ErrorCode = "INVALID_PARAMETERS"
	CodeRateLimitExceeded   ErrorCode = "RATE_LIMIT_EXCEEDED"
)

// EngineError is the only error type that reaches clients. No stack data
// crosses the boundary, only code + message + optional details.
type EngineError struct {
	Code    ErrorCode      `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func (e *EngineError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewError builds an EngineError with a formatted message.
func NewError(code ErrorCode, format string, args ...any) *EngineError {
	return &EngineError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Lifecycle sentinels used across the coordinator and recorder.
var (
	ErrAlreadyRecording  = &EngineError{Code: CodeRecordingInProgress, Message: "a recording session is already active"}
	ErrNotStreaming      = &EngineError{Code: CodeInvalidParameters, Message: "engine is not streaming"}
	ErrNotConnected      = &EngineError{Code: CodeDeviceNotFound, Message: "no device connected"}
	ErrInvalidTransition = &EngineError{Code: CodeInvalidSettings, Message: "invalid engine state transition"}
)
