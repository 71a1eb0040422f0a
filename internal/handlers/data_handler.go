package handlers

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/mindstream-labs/mindstream/internal/domains/engine"
	"github.com/mindstream-labs/mindstream/internal/domains/recorder"
	"github.com/mindstream-labs/mindstream/pkg/Logger"
)

// DataHandler exposes recording, session CRUD and exports.
type DataHandler struct {
	coord  *engine.Coordinator
	rec    *recorder.Recorder
	logger *Logger.Logger
}

func NewDataHandler(coord *engine.Coordinator, rec *recorder.Recorder, logger *Logger.Logger) *DataHandler {
	return &DataHandler{coord: coord, rec: rec, logger: logger}
}

// StartRecording opens a session. Requires active streaming.
// POST /data/start-recording {session_name, participant_id?, condition?, sensors[], notes?, tags?}
func (h *DataHandler) StartRecording(c *gin.Context) {
	var req recorder.StartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, invalidParams("malformed recording request"))
		return
	}
	if req.Name == "" {
		respondError(c, invalidParams("session_name is required"))
		return
	}
	session, err := h.coord.StartRecording(req)
	if err != nil {
		respondError(c, err)
		return
	}
	respondCreated(c, session)
}

type stopRecordingRequest struct {
	SessionID string `json:"session_id"`
}

// StopRecording seals the session and returns its summary. Stopping an
// already-sealed session returns the same summary.
// POST /data/stop-recording {session_id}
func (h *DataHandler) StopRecording(c *gin.Context) {
	var req stopRecordingRequest
	// body is optional; an empty one targets the active session
	_ = c.ShouldBindJSON(&req)
	summary, err := h.coord.StopRecording(req.SessionID)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, summary)
}

// RecordingStatus reports whether a session is open.
// GET /data/recording-status
func (h *DataHandler) RecordingStatus(c *gin.Context) {
	respondOK(c, h.coord.Status().Recording)
}

// ListSessions pages through sessions.
// GET /data/sessions?status=&participant_id=&search=&offset=&limit=
func (h *DataHandler) ListSessions(c *gin.Context) {
	filter := recorder.ListFilter{
		Status:        recorder.SessionStatus(c.Query("status")),
		ParticipantID: c.Query("participant_id"),
		Search:        c.Query("search"),
	}
	filter.Offset, _ = strconv.Atoi(c.Query("offset"))
	filter.Limit, _ = strconv.Atoi(c.Query("limit"))

	sessions, total, err := h.rec.ListSessions(filter)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, gin.H{"sessions": sessions, "total": total})
}

// GetSession returns one session with its files.
// GET /data/sessions/:id
func (h *DataHandler) GetSession(c *gin.Context) {
	id := c.Param("id")
	session, err := h.rec.GetSession(id)
	if err != nil {
		respondError(c, err)
		return
	}
	files, err := h.rec.SessionFiles(id)
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, gin.H{"session": session, "files": files})
}

// DeleteSession removes the session rows and its directory.
// DELETE /data/sessions/:id
func (h *DataHandler) DeleteSession(c *gin.Context) {
	if err := h.rec.DeleteSession(c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, gin.H{"deleted": true})
}

// Export queues an async export job for a session.
// POST /data/sessions/:id/export {format, sensors[], data_types[]}
func (h *DataHandler) Export(c *gin.Context) {
	var req recorder.ExportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, invalidParams("malformed export request"))
		return
	}
	req.SessionID = c.Param("id")
	export, err := h.rec.Exports().Request(req)
	if err != nil {
		respondError(c, err)
		return
	}
	respondCreated(c, export)
}

// ExportStatus polls one export job.
// GET /data/exports/:id
func (h *DataHandler) ExportStatus(c *gin.Context) {
	export, err := h.rec.Exports().Get(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, export)
}
