package recorder

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/eapache/queue"
	"github.com/google/uuid"

	"github.com/mindstream-labs/mindstream/internal/types"
	"github.com/mindstream-labs/mindstream/pkg/Logger"
)

// ExportManager runs export jobs asynchronously: requests land in a FIFO and
// a single worker drains it. Progress is polled through the store.
type ExportManager struct {
	logger  *Logger.Logger
	repo    Repository
	dataDir string

	mu      sync.Mutex
	pending *queue.Queue
	wake    chan struct{}
	done    chan struct{}
	once    sync.Once
}

func newExportManager(dataDir string, repo Repository, logger *Logger.Logger) *ExportManager {
	m := &ExportManager{
		logger:  logger,
		repo:    repo,
		dataDir: dataDir,
		pending: queue.New(),
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	go m.run()
	return m
}

// Request validates and enqueues an export job.
func (m *ExportManager) Request(req ExportRequest) (*Export, error) {
	switch req.Format {
	case "json", "csv":
	case "mat", "edf":
		return nil, types.NewError(types.CodeInvalidFormat, "format %s is not supported yet", req.Format)
	default:
		return nil, types.NewError(types.CodeInvalidFormat, "unknown export format %q", req.Format)
	}
	session, err := m.repo.GetSession(req.SessionID)
	if err != nil {
		return nil, types.NewError(types.CodeSessionNotFound, "session %s not found", req.SessionID)
	}
	if session.Status == StatusRecording {
		return nil, types.ErrAlreadyRecording
	}
	if req.Format == "csv" && len(req.Sensors) != 1 {
		return nil, types.NewError(types.CodeInvalidParameters, "csv export needs exactly one sensor")
	}

	export := &Export{
		ID:        uuid.New().String(),
		SessionID: req.SessionID,
		Status:    ExportPending,
		Format:    req.Format,
		CreatedAt: time.Now(),
	}
	if err := m.repo.SaveExport(export); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.pending.Add(exportJob{export: export, req: req, session: session})
	m.mu.Unlock()
	select {
	case m.wake <- struct{}{}:
	default:
	}
	return export, nil
}

// Get returns the job's current state.
func (m *ExportManager) Get(id string) (*Export, error) {
	e, err := m.repo.GetExport(id)
	if err != nil {
		return nil, types.NewError(types.CodeFileNotFound, "export %s not found", id)
	}
	return e, nil
}

func (m *ExportManager) Close() {
	m.once.Do(func() { close(m.done) })
}

type exportJob struct {
	export  *Export
	req     ExportRequest
	session *Session
}

func (m *ExportManager) run() {
	for {
		select {
		case <-m.done:
			return
		case <-m.wake:
		}
		for {
			m.mu.Lock()
			if m.pending.Length() == 0 {
				m.mu.Unlock()
				break
			}
			job := m.pending.Remove().(exportJob)
			m.mu.Unlock()
			m.process(job)
		}
	}
}

func (m *ExportManager) process(job exportJob) {
	export := job.export
	export.Status = ExportRunning
	m.repo.UpdateExport(export)

	path, err := m.render(job)
	if err != nil {
		m.logger.Errorf("export %s failed: %v", export.ID, err)
		export.Status = ExportFailed
		export.Error = err.Error()
	} else {
		export.Status = ExportCompleted
		export.FilePath = path
	}
	completed := time.Now()
	export.CompletedAt = &completed
	m.repo.UpdateExport(export)
}

func (m *ExportManager) render(job exportJob) (string, error) {
	files, err := m.repo.ListFiles(job.req.SessionID)
	if err != nil {
		return "", err
	}
	selected := selectFiles(files, job.req)
	if len(selected) == 0 {
		return "", types.NewError(types.CodeExportFailed, "no streams match the export selection")
	}

	outDir := filepath.Join(m.dataDir, "exports")
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return "", err
	}

	switch job.req.Format {
	case "csv":
		path := filepath.Join(outDir, job.export.ID+".csv")
		return path, m.renderCSV(path, job.session, selected[0], job.req)
	default:
		path := filepath.Join(outDir, job.export.ID+".json")
		return path, m.renderJSON(path, job.session, selected, job.req)
	}
}

// inRange applies the request's time bounds to one NDJSON record by its ts.
func inRange(rec json.RawMessage, req ExportRequest) bool {
	if req.StartTS == 0 && req.EndTS == 0 {
		return true
	}
	var probe struct {
		TS float64 `json:"ts"`
	}
	if err := json.Unmarshal(rec, &probe); err != nil {
		return true
	}
	if req.StartTS != 0 && probe.TS < req.StartTS {
		return false
	}
	if req.EndTS != 0 && probe.TS > req.EndTS {
		return false
	}
	return true
}

func selectFiles(files []FileEntry, req ExportRequest) []FileEntry {
	sensorOK := func(s types.SensorKind) bool {
		if len(req.Sensors) == 0 {
			return true
		}
		for _, want := range req.Sensors {
			if want == s {
				return true
			}
		}
		return false
	}
	kindOK := func(k types.DataType) bool {
		if len(req.DataTypes) == 0 {
			return true
		}
		for _, want := range req.DataTypes {
			if want == k {
				return true
			}
		}
		return false
	}
	var out []FileEntry
	for _, f := range files {
		if sensorOK(f.Sensor) && kindOK(f.DataType) {
			out = append(out, f)
		}
	}
	return out
}

// renderJSON writes one object: session metadata plus every selected stream
// as an array of its NDJSON records.
func (m *ExportManager) renderJSON(path string, session *Session, files []FileEntry, req ExportRequest) error {
	streams := make(map[string][]json.RawMessage, len(files))
	for _, f := range files {
		records, err := readNDJSON(filepath.Join(session.RootDir, f.RelativePath))
		if err != nil {
			return err
		}
		kept := records[:0]
		for _, rec := range records {
			if inRange(rec, req) {
				kept = append(kept, rec)
			}
		}
		streams[f.Filename] = kept
	}
	out := map[string]any{"session": session, "streams": streams}
	data, err := json.Marshal(out)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// renderCSV flattens one raw stream to rows. Column orders:
// EEG timestamp,CH1,CH2; PPG timestamp,red,ir; ACC timestamp,x,y,z;
// battery timestamp,level.
func (m *ExportManager) renderCSV(path string, session *Session, file FileEntry, req ExportRequest) error {
	records, err := readNDJSON(filepath.Join(session.RootDir, file.RelativePath))
	if err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	w := csv.NewWriter(f)
	defer w.Flush()

	header, keys := csvColumns(file.Sensor)
	if err := w.Write(header); err != nil {
		return err
	}
	for _, rec := range records {
		if !inRange(rec, req) {
			continue
		}
		var batch struct {
			Samples []map[string]any `json:"samples"`
		}
		if err := json.Unmarshal(rec, &batch); err != nil {
			continue // processed windows fall through as zero samples
		}
		for _, sample := range batch.Samples {
			row := make([]string, len(keys))
			for i, key := range keys {
				row[i] = formatCSVValue(sample[key])
			}
			if err := w.Write(row); err != nil {
				return err
			}
		}
	}
	return nil
}

func csvColumns(sensor types.SensorKind) (header []string, keys []string) {
	switch sensor {
	case types.SensorEEG:
		return []string{"timestamp", "CH1", "CH2"}, []string{"ts", "ch1_uv", "ch2_uv"}
	case types.SensorPPG:
		return []string{"timestamp", "red", "ir"}, []string{"ts", "red", "ir"}
	case types.SensorACC:
		return []string{"timestamp", "x", "y", "z"}, []string{"ts", "x", "y", "z"}
	default:
		return []string{"timestamp", "level"}, []string{"ts", "level_percent"}
	}
}

func formatCSVValue(v any) string {
	switch n := v.(type) {
	case float64:
		return strconv.FormatFloat(n, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(n)
	case string:
		return n
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", n)
	}
}

func readNDJSON(path string) ([]json.RawMessage, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, types.NewError(types.CodeFileNotFound, "stream file missing: %v", err)
	}
	defer f.Close()
	var out []json.RawMessage
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 1024*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		out = append(out, json.RawMessage(append([]byte(nil), line...)))
	}
	return out, scanner.Err()
}
