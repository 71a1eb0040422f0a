package recorder

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shirou/gopsutil/v3/disk"

	"github.com/mindstream-labs/mindstream/internal/config"
	"github.com/mindstream-labs/mindstream/internal/types"
	"github.com/mindstream-labs/mindstream/pkg/Logger"
)

// EventSink lets the recorder broadcast recording_error events without
// depending on the bus package.
type EventSink interface {
	Publish(ch types.Channel, mt types.MessageType, data any) bool
}

// StartRequest carries the session metadata from the control plane.
type StartRequest struct {
	Name          string             `json:"session_name"`
	ParticipantID string             `json:"participant_id,omitempty"`
	Condition     string             `json:"condition,omitempty"`
	Notes         string             `json:"notes,omitempty"`
	Tags          []string           `json:"tags,omitempty"`
	Sensors       []types.SensorKind `json:"sensors,omitempty"`
	DeviceID      string             `json:"-"`
}

type streamKey struct {
	sensor types.SensorKind
	kind   types.DataType
}

type qualityAcc struct {
	sum float64
	n   int64
}

// activeSession is the open recording: its directory, one writer per stream
// and running quality/sample accumulators.
type activeSession struct {
	session *Session
	writers map[streamKey]*streamWriter
	quality map[types.SensorKind]*qualityAcc
	failed  bool
}

// Recorder persists raw and processed streams during a recording and owns
// the session rows in the store. At most one session records at a time.
type Recorder struct {
	logger *Logger.Logger
	cfg    config.RecorderConfig
	repo   Repository
	events EventSink

	mu          sync.Mutex
	active      *activeSession
	lastSummary *Summary

	exports *ExportManager
}

func New(cfg config.RecorderConfig, repo Repository, events EventSink, logger *Logger.Logger) (*Recorder, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	// Crash recovery: a session still marked recording has no writer left.
	if n, err := repo.FailOpenSessions(); err != nil {
		return nil, fmt.Errorf("crash recovery: %w", err)
	} else if n > 0 {
		logger.Warnf("marked %d interrupted session(s) as failed", n)
	}
	r := &Recorder{logger: logger, cfg: cfg, repo: repo, events: events}
	r.exports = newExportManager(cfg.DataDir, repo, logger)
	return r, nil
}

// Exports exposes the async export manager.
func (r *Recorder) Exports() *ExportManager { return r.exports }

// Recording reports whether a session is currently open.
func (r *Recorder) Recording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active != nil
}

// ActiveSession returns a copy of the open session, or nil.
func (r *Recorder) ActiveSession() *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active == nil {
		return nil
	}
	s := *r.active.session
	return &s
}

// Start opens a new session. The caller (coordinator) has already verified
// streaming is active.
func (r *Recorder) Start(req StartRequest) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active != nil {
		return nil, types.ErrAlreadyRecording
	}
	if err := r.checkSpace(); err != nil {
		return nil, err
	}

	start := time.Now()
	session := &Session{
		ID:            uuid.New().String(),
		Name:          req.Name,
		StartTime:     start,
		Status:        StatusRecording,
		ParticipantID: req.ParticipantID,
		Condition:     req.Condition,
		Notes:         req.Notes,
		Tags:          req.Tags,
		DeviceID:      req.DeviceID,
		RootDir:       filepath.Join(r.cfg.DataDir, start.Format("session_20060102_150405")),
	}
	if session.Tags == nil {
		session.Tags = []string{}
	}
	if err := os.MkdirAll(session.RootDir, 0o755); err != nil {
		return nil, types.NewError(types.CodeInsufficientSpace, "create session dir: %v", err)
	}
	if err := r.repo.SaveSession(session); err != nil {
		return nil, fmt.Errorf("persist session: %w", err)
	}
	r.active = &activeSession{
		session: session,
		writers: make(map[streamKey]*streamWriter),
		quality: make(map[types.SensorKind]*qualityAcc),
	}
	if err := writeMeta(session, nil, nil); err != nil {
		r.logger.Warnf("initial meta.json: %v", err)
	}
	r.logger.Infof("recording started: %s (%s)", session.Name, session.ID)
	return session, nil
}

// Append hands one record to the stream's writer. Never blocks the caller.
func (r *Recorder) Append(sensor types.SensorKind, kind types.DataType, payload any) {
	r.mu.Lock()
	act := r.active
	if act == nil || act.failed {
		r.mu.Unlock()
		return
	}
	key := streamKey{sensor: sensor, kind: kind}
	w, ok := act.writers[key]
	if !ok {
		var err error
		path := filepath.Join(act.session.RootDir, streamFilename(act.session.DeviceID, sensor, kind))
		w, err = newStreamWriter(path, r.cfg.QueueLen, func() { go r.failActive("recorder queue overflow") })
		if err != nil {
			r.mu.Unlock()
			r.logger.Errorf("open stream file: %v", err)
			go r.failActive("cannot open stream file")
			return
		}
		act.writers[key] = w
	}
	accumulateQuality(act, sensor, payload)
	r.mu.Unlock()

	line, err := json.Marshal(payload)
	if err != nil {
		r.logger.Errorf("record marshal: %v", err)
		return
	}
	w.enqueue(line, sampleCount(payload))
}

// Stop seals the open session and returns its summary. Calling stop for an
// already-sealed session returns the same summary.
func (r *Recorder) Stop(sessionID string) (*Summary, error) {
	r.mu.Lock()
	act := r.active
	if act != nil && (sessionID == "" || sessionID == act.session.ID) {
		r.active = nil
		r.mu.Unlock()
		return r.seal(act, StatusCompleted)
	}
	r.mu.Unlock()
	return r.summaryFor(sessionID)
}

// DeviceLost seals the open session as failed; files stay in place.
func (r *Recorder) DeviceLost() {
	r.failActive("device connection lost")
}

func (r *Recorder) failActive(reason string) {
	r.mu.Lock()
	act := r.active
	if act == nil {
		r.mu.Unlock()
		return
	}
	act.failed = true
	r.active = nil
	r.mu.Unlock()

	r.logger.Errorf("recording failed: %s", reason)
	if r.events != nil {
		r.events.Publish(types.ChannelEvent, types.MessageTypeEvent, map[string]any{
			"event":   "recording_error",
			"message": reason,
			"session": act.session.ID,
		})
	}
	r.seal(act, StatusFailed)
}

// seal closes every writer, records file rows, rewrites meta.json and
// updates the session row.
func (r *Recorder) seal(act *activeSession, status SessionStatus) (*Summary, error) {
	session := act.session
	end := time.Now()
	session.EndTime = &end
	session.Status = status

	summary := &Summary{
		SessionID:    session.ID,
		Status:       status,
		DurationS:    end.Sub(session.StartTime).Seconds(),
		SampleCounts: make(map[types.SensorKind]int64),
	}
	var files []FileEntry
	for key, w := range act.writers {
		size := w.close()
		entry := FileEntry{
			SessionID:    session.ID,
			Filename:     filepath.Base(w.path),
			RelativePath: filepath.Base(w.path),
			Sensor:       key.sensor,
			DataType:     key.kind,
			SizeBytes:    size,
			SampleCount:  w.samples.Load(),
			CreatedAt:    session.StartTime,
		}
		files = append(files, entry)
		if err := r.repo.AddFile(&entry); err != nil {
			r.logger.Errorf("persist file entry: %v", err)
		}
		summary.FileCount++
		summary.TotalBytes += size
		if key.kind == types.DataRaw || key.kind == types.DataBattery {
			summary.SampleCounts[key.sensor] += w.samples.Load()
		}
	}

	if err := writeMeta(session, files, qualityMetrics(act)); err != nil {
		r.logger.Errorf("final meta.json: %v", err)
	}
	if err := r.repo.UpdateSession(session); err != nil {
		r.logger.Errorf("seal session row: %v", err)
	}

	r.mu.Lock()
	r.lastSummary = summary
	r.mu.Unlock()
	r.logger.Infof("recording sealed: %s status=%s duration=%.1fs files=%d",
		session.ID, status, summary.DurationS, summary.FileCount)
	return summary, nil
}

// summaryFor rebuilds a sealed session's summary from the store.
func (r *Recorder) summaryFor(sessionID string) (*Summary, error) {
	session, err := r.repo.GetSession(sessionID)
	if err != nil {
		return nil, types.NewError(types.CodeSessionNotFound, "session %s not found", sessionID)
	}
	files, err := r.repo.ListFiles(sessionID)
	if err != nil {
		return nil, err
	}
	summary := &Summary{
		SessionID:    session.ID,
		Status:       session.Status,
		SampleCounts: make(map[types.SensorKind]int64),
	}
	if session.EndTime != nil {
		summary.DurationS = session.EndTime.Sub(session.StartTime).Seconds()
	}
	for _, f := range files {
		summary.FileCount++
		summary.TotalBytes += f.SizeBytes
		if f.DataType == types.DataRaw || f.DataType == types.DataBattery {
			summary.SampleCounts[f.Sensor] += f.SampleCount
		}
	}
	return summary, nil
}

// ListSessions, GetSession and DeleteSession are thin passthroughs with the
// file cleanup the store cannot do.
func (r *Recorder) ListSessions(filter ListFilter) ([]Session, int64, error) {
	return r.repo.ListSessions(filter)
}

func (r *Recorder) GetSession(id string) (*Session, error) {
	s, err := r.repo.GetSession(id)
	if err != nil {
		return nil, types.NewError(types.CodeSessionNotFound, "session %s not found", id)
	}
	return s, nil
}

func (r *Recorder) SessionFiles(id string) ([]FileEntry, error) {
	return r.repo.ListFiles(id)
}

func (r *Recorder) DeleteSession(id string) error {
	r.mu.Lock()
	if r.active != nil && r.active.session.ID == id {
		r.mu.Unlock()
		return types.ErrAlreadyRecording
	}
	r.mu.Unlock()

	session, err := r.repo.GetSession(id)
	if err != nil {
		return types.NewError(types.CodeSessionNotFound, "session %s not found", id)
	}
	if err := r.repo.DeleteSession(id); err != nil {
		return err
	}
	if session.RootDir != "" {
		if err := os.RemoveAll(session.RootDir); err != nil {
			r.logger.Warnf("remove session dir %s: %v", session.RootDir, err)
		}
	}
	return nil
}

// Close seals any open session as failed; used on engine shutdown.
func (r *Recorder) Close() {
	r.mu.Lock()
	act := r.active
	r.active = nil
	r.mu.Unlock()
	if act != nil {
		r.seal(act, StatusFailed)
	}
	r.exports.Close()
}

func (r *Recorder) checkSpace() error {
	usage, err := disk.Usage(r.cfg.DataDir)
	if err != nil {
		r.logger.Warnf("disk usage check: %v", err)
		return nil
	}
	if usage.Free < r.cfg.MinFreeMB*1024*1024 {
		return types.NewError(types.CodeInsufficientSpace,
			"only %d MB free on data volume, %d MB required",
			usage.Free/1024/1024, r.cfg.MinFreeMB)
	}
	return nil
}

func streamFilename(deviceID string, sensor types.SensorKind, kind types.DataType) string {
	dev := sanitizeDeviceID(deviceID)
	if sensor == types.SensorBattery {
		return fmt.Sprintf("%s_bat.json", dev)
	}
	return fmt.Sprintf("%s_%s_%s.json", dev, sensor, kind)
}

func sanitizeDeviceID(id string) string {
	if id == "" {
		return "unknown"
	}
	out := make([]rune, 0, len(id))
	for _, r := range id {
		if r == ':' {
			r = '-'
		}
		out = append(out, r)
	}
	return string(out)
}

// sampleCount extracts how many samples a record carries.
func sampleCount(payload any) int64 {
	switch p := payload.(type) {
	case types.RawBatch:
		switch s := p.Samples.(type) {
		case []types.EEGSample:
			return int64(len(s))
		case []types.PPGSample:
			return int64(len(s))
		case []types.ACCSample:
			return int64(len(s))
		case []types.BatterySample:
			return int64(len(s))
		}
	case *types.EEGWindow:
		return int64(p.SampleCount)
	case *types.PPGWindow:
		return int64(p.SampleCount)
	case *types.ACCWindow:
		return int64(p.SampleCount)
	case *types.BatteryWindow:
		return 1
	}
	return 1
}

// accumulateQuality folds processed-window SQI into the per-sensor mean.
func accumulateQuality(act *activeSession, sensor types.SensorKind, payload any) {
	var sum float64
	var n int64
	switch p := payload.(type) {
	case *types.EEGWindow:
		for _, v := range p.SQI1 {
			sum += v
			n++
		}
		for _, v := range p.SQI2 {
			sum += v
			n++
		}
	case *types.PPGWindow:
		for _, v := range p.SQI {
			sum += v
			n++
		}
	default:
		return
	}
	if n == 0 {
		return
	}
	acc := act.quality[sensor]
	if acc == nil {
		acc = &qualityAcc{}
		act.quality[sensor] = acc
	}
	acc.sum += sum
	acc.n += n
}

func qualityMetrics(act *activeSession) map[string]float64 {
	if len(act.quality) == 0 {
		return nil
	}
	out := make(map[string]float64, len(act.quality))
	for sensor, acc := range act.quality {
		if acc.n > 0 {
			out["mean_sqi_"+string(sensor)] = acc.sum / float64(acc.n)
		}
	}
	return out
}
