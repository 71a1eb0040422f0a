package handlers

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mindstream-labs/mindstream/internal/config"
	"github.com/mindstream-labs/mindstream/internal/domains/engine"
	"github.com/mindstream-labs/mindstream/pkg/Logger"
)

// DeviceHandler exposes the device lifecycle on the control plane.
type DeviceHandler struct {
	coord  *engine.Coordinator
	cfg    *config.Settings
	logger *Logger.Logger
}

func NewDeviceHandler(coord *engine.Coordinator, cfg *config.Settings, logger *Logger.Logger) *DeviceHandler {
	return &DeviceHandler{coord: coord, cfg: cfg, logger: logger}
}

type connectRequest struct {
	Address       string  `json:"address" binding:"required"`
	TimeoutS      float64 `json:"timeout,omitempty"`
	AutoReconnect *bool   `json:"auto_reconnect,omitempty"`
}

// Scan triggers discovery and returns candidates.
// GET /device/scan?duration=15
func (h *DeviceHandler) Scan(c *gin.Context) {
	duration := time.Duration(h.cfg.Device.ScanDefaultDuration) * time.Second
	if raw := c.Query("duration"); raw != "" {
		parsed, err := time.ParseDuration(raw + "s")
		if err != nil {
			respondError(c, invalidParams("duration must be a number of seconds"))
			return
		}
		duration = parsed
	}
	found, err := h.coord.Scan(duration)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, gin.H{"devices": found, "count": len(found)})
}

// Connect dials a device.
// POST /device/connect {address, timeout?, auto_reconnect?}
func (h *DeviceHandler) Connect(c *gin.Context) {
	var req connectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, invalidParams("address is required"))
		return
	}
	timeout := time.Duration(req.TimeoutS * float64(time.Second))
	if err := h.coord.Connect(req.Address, timeout, req.AutoReconnect); err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, gin.H{"connected": true, "address": req.Address})
}

// Disconnect hangs up; a no-op success when already disconnected.
// DELETE /device/disconnect
func (h *DeviceHandler) Disconnect(c *gin.Context) {
	if err := h.coord.Disconnect(); err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, gin.H{"connected": false})
}

// Registered lists every device seen on past scans and connects.
// GET /device/registered
func (h *DeviceHandler) Registered(c *gin.Context) {
	devices, err := h.coord.RegisteredDevices()
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, gin.H{"devices": devices, "count": len(devices)})
}

// Forget drops a device from the registry.
// DELETE /device/registered/:address
func (h *DeviceHandler) Forget(c *gin.Context) {
	address := c.Param("address")
	if address == "" {
		respondError(c, invalidParams("address is required"))
		return
	}
	if err := h.coord.ForgetDevice(address); err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, gin.H{"removed": true, "address": address})
}

// Status reports the device slice of the engine snapshot.
// GET /device/status
func (h *DeviceHandler) Status(c *gin.Context) {
	st := h.coord.Status()
	respondOK(c, st.Device)
}
