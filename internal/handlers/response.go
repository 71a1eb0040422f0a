package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mindstream-labs/mindstream/internal/types"
)

// APIResponse is the control-plane envelope. Exactly one of Data and Error
// is set.
type APIResponse struct {
	Success bool               `json:"success"`
	Data    any                `json:"data,omitempty"`
	Message string             `json:"message,omitempty"`
	Error   *types.EngineError `json:"error,omitempty"`
}

func respondOK(c *gin.Context, data any) {
	c.JSON(http.StatusOK, APIResponse{Success: true, Data: data})
}

func respondCreated(c *gin.Context, data any) {
	c.JSON(http.StatusCreated, APIResponse{Success: true, Data: data})
}

// respondError maps the closed error-code set onto HTTP statuses. Anything
// that is not an EngineError leaves only a generic message; no internal
// detail crosses the boundary.
func respondError(c *gin.Context, err error) {
	var ee *types.EngineError
	if !errors.As(err, &ee) {
		ee = types.NewError(types.CodeInvalidParameters, "internal error")
		c.JSON(http.StatusInternalServerError, APIResponse{Success: false, Error: ee})
		return
	}
	c.JSON(statusFor(ee.Code), APIResponse{Success: false, Error: ee})
}

func invalidParams(msg string) *types.EngineError {
	return types.NewError(types.CodeInvalidParameters, "%s", msg)
}

func statusFor(code types.ErrorCode) int {
	switch code {
	case types.CodeInvalidSettings, types.CodeInvalidFormat, types.CodeInvalidParameters:
		return http.StatusBadRequest
	case types.CodePermissionDenied:
		return http.StatusForbidden
	case types.CodeDeviceNotFound, types.CodeSessionNotFound, types.CodeFileNotFound:
		return http.StatusNotFound
	case types.CodeDeviceBusy, types.CodeRecordingInProgress:
		return http.StatusConflict
	case types.CodeRateLimitExceeded:
		return http.StatusTooManyRequests
	case types.CodeBluetoothError:
		return http.StatusServiceUnavailable
	case types.CodeConnectionFailed:
		return http.StatusBadGateway
	case types.CodeConnectionTimeout:
		return http.StatusGatewayTimeout
	case types.CodeInsufficientSpace:
		return http.StatusInsufficientStorage
	default:
		return http.StatusInternalServerError
	}
}
