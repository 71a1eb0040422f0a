package recorder

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mindstream-labs/mindstream/internal/config"
	"github.com/mindstream-labs/mindstream/internal/types"
	"github.com/mindstream-labs/mindstream/pkg/Logger"
)

// memRepo is an in-memory Repository for tests.
type memRepo struct {
	mu       sync.Mutex
	sessions map[string]Session
	files    map[string][]FileEntry
	exports  map[string]Export
}

func newMemRepo() *memRepo {
	return &memRepo{
		sessions: make(map[string]Session),
		files:    make(map[string][]FileEntry),
		exports:  make(map[string]Export),
	}
}

func (m *memRepo) SaveSession(s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = *s
	return nil
}

func (m *memRepo) UpdateSession(s *Session) error { return m.SaveSession(s) }

func (m *memRepo) GetSession(id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session %s not found", id)
	}
	return &s, nil
}

func (m *memRepo) ListSessions(filter ListFilter) ([]Session, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Session
	for _, s := range m.sessions {
		if filter.Status != "" && s.Status != filter.Status {
			continue
		}
		out = append(out, s)
	}
	return out, int64(len(out)), nil
}

func (m *memRepo) DeleteSession(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	delete(m.files, id)
	return nil
}

func (m *memRepo) AddFile(f *FileEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[f.SessionID] = append(m.files[f.SessionID], *f)
	return nil
}

func (m *memRepo) ListFiles(sessionID string) ([]FileEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]FileEntry(nil), m.files[sessionID]...), nil
}

func (m *memRepo) FailOpenSessions() (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, s := range m.sessions {
		if s.Status == StatusRecording {
			s.Status = StatusFailed
			m.sessions[id] = s
			n++
		}
	}
	return n, nil
}

func (m *memRepo) SaveExport(e *Export) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.exports[e.ID] = *e
	return nil
}

func (m *memRepo) UpdateExport(e *Export) error { return m.SaveExport(e) }

func (m *memRepo) GetExport(id string) (*Export, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.exports[id]
	if !ok {
		return nil, fmt.Errorf("export %s not found", id)
	}
	return &e, nil
}

type fakeSink struct {
	mu   sync.Mutex
	msgs []types.Envelope
}

func (s *fakeSink) Publish(ch types.Channel, mt types.MessageType, data any) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, types.Envelope{Type: mt, Channel: ch, Data: data})
	return true
}

func (s *fakeSink) events() []types.Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]types.Envelope(nil), s.msgs...)
}

func testRecorder(t *testing.T) (*Recorder, *memRepo, *fakeSink) {
	t.Helper()
	repo := newMemRepo()
	sink := &fakeSink{}
	cfg := config.RecorderConfig{
		DataDir:  t.TempDir(),
		QueueLen: 64,
		DBFile:   "test.db",
	}
	rec, err := New(cfg, repo, sink, Logger.New(true))
	if err != nil {
		t.Fatalf("recorder init failed: %v", err)
	}
	t.Cleanup(rec.Close)
	return rec, repo, sink
}

func eegBatch(t0 float64, n int) types.RawBatch {
	samples := make([]types.EEGSample, n)
	for i := range samples {
		samples[i] = types.EEGSample{TS: t0 + float64(i)/types.RateEEG, CH1: 10, CH2: -10}
	}
	return types.RawBatch{Sensor: types.SensorEEG, TS: t0, Samples: samples}
}

func TestStartStopLifecycle(t *testing.T) {
	rec, repo, _ := testRecorder(t)

	session, err := rec.Start(StartRequest{Name: "baseline", DeviceID: "AA:BB:CC:DD:EE:FF"})
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if !rec.Recording() {
		t.Fatal("recorder should report active")
	}
	if session.Status != StatusRecording {
		t.Errorf("fresh session status = %s", session.Status)
	}

	for i := 0; i < 3; i++ {
		rec.Append(types.SensorEEG, types.DataRaw, eegBatch(float64(i), 2))
	}
	rec.Append(types.SensorEEG, types.DataProcessed, &types.EEGWindow{
		TS: 1, SQI1: []float64{0.9, 0.8}, SQI2: []float64{0.7, 0.6}, SampleCount: 2,
	})

	summary, err := rec.Stop("")
	if err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	if summary.Status != StatusCompleted {
		t.Errorf("summary status = %s, want completed", summary.Status)
	}
	if summary.SampleCounts[types.SensorEEG] != 6 {
		t.Errorf("raw EEG sample count = %d, want 6", summary.SampleCounts[types.SensorEEG])
	}
	if summary.FileCount != 2 {
		t.Errorf("expected raw + processed files, got %d", summary.FileCount)
	}
	if rec.Recording() {
		t.Error("recorder should be idle after stop")
	}

	stored, err := repo.GetSession(session.ID)
	if err != nil {
		t.Fatalf("session row missing: %v", err)
	}
	if stored.Status != StatusCompleted || stored.EndTime == nil {
		t.Errorf("sealed row: status=%s end=%v", stored.Status, stored.EndTime)
	}
	files, _ := repo.ListFiles(session.ID)
	if len(files) != 2 {
		t.Fatalf("expected 2 file rows, got %d", len(files))
	}
	for _, f := range files {
		if _, err := os.Stat(filepath.Join(session.RootDir, f.RelativePath)); err != nil {
			t.Errorf("stream file missing on disk: %v", err)
		}
	}
}

func TestStopIsIdempotent(t *testing.T) {
	rec, _, _ := testRecorder(t)
	session, err := rec.Start(StartRequest{Name: "short"})
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	rec.Append(types.SensorPPG, types.DataRaw, types.RawBatch{
		Sensor:  types.SensorPPG,
		Samples: []types.PPGSample{{TS: 0, Red: 1, IR: 2}},
	})

	first, err := rec.Stop(session.ID)
	if err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	second, err := rec.Stop(session.ID)
	if err != nil {
		t.Fatalf("repeated stop failed: %v", err)
	}
	if second.SessionID != first.SessionID || second.Status != first.Status {
		t.Errorf("repeated stop returned a different summary: %+v vs %+v", second, first)
	}
	if second.FileCount != first.FileCount || second.TotalBytes != first.TotalBytes {
		t.Errorf("repeated stop changed file accounting: %+v vs %+v", second, first)
	}
}

func TestAppendRacingStopDoesNotPanic(t *testing.T) {
	rec, _, _ := testRecorder(t)
	if _, err := rec.Start(StartRequest{Name: "racy"}); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	// Open the EEG stream writer before the writers start hammering it.
	rec.Append(types.SensorEEG, types.DataRaw, eegBatch(0, 2))

	stop := make(chan struct{})
	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; ; i++ {
				select {
				case <-stop:
					return
				default:
				}
				rec.Append(types.SensorEEG, types.DataRaw, eegBatch(float64(g*1000+i), 2))
			}
		}(g)
	}

	time.Sleep(50 * time.Millisecond)
	if _, err := rec.Stop(""); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
	close(stop)
	wg.Wait()
}

func TestStartWhileRecordingIsRejected(t *testing.T) {
	rec, _, _ := testRecorder(t)
	if _, err := rec.Start(StartRequest{Name: "one"}); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	_, err := rec.Start(StartRequest{Name: "two"})
	if err != types.ErrAlreadyRecording {
		t.Errorf("expected ErrAlreadyRecording, got %v", err)
	}
}

func TestCrashRecoveryFailsOpenSessions(t *testing.T) {
	repo := newMemRepo()
	repo.SaveSession(&Session{ID: "orphan", Name: "crashed", Status: StatusRecording, StartTime: time.Now()})
	repo.SaveSession(&Session{ID: "sealed", Name: "done", Status: StatusCompleted, StartTime: time.Now()})

	cfg := config.RecorderConfig{DataDir: t.TempDir(), QueueLen: 16, DBFile: "test.db"}
	rec, err := New(cfg, repo, &fakeSink{}, Logger.New(true))
	if err != nil {
		t.Fatalf("recorder init failed: %v", err)
	}
	defer rec.Close()

	orphan, _ := repo.GetSession("orphan")
	if orphan.Status != StatusFailed {
		t.Errorf("interrupted session should be failed, got %s", orphan.Status)
	}
	sealed, _ := repo.GetSession("sealed")
	if sealed.Status != StatusCompleted {
		t.Errorf("completed session must not be touched, got %s", sealed.Status)
	}
}

func TestDeviceLostSealsFailed(t *testing.T) {
	rec, repo, sink := testRecorder(t)
	session, err := rec.Start(StartRequest{Name: "interrupted"})
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	rec.Append(types.SensorEEG, types.DataRaw, eegBatch(0, 2))

	rec.DeviceLost()

	if rec.Recording() {
		t.Error("recorder should be idle after device loss")
	}
	stored, _ := repo.GetSession(session.ID)
	if stored.Status != StatusFailed {
		t.Errorf("session should seal failed, got %s", stored.Status)
	}

	found := false
	for _, env := range sink.events() {
		data, ok := env.Data.(map[string]any)
		if ok && data["event"] == "recording_error" {
			found = true
		}
	}
	if !found {
		t.Error("device loss should broadcast a recording_error event")
	}
}

func TestMetaRoundTrip(t *testing.T) {
	rec, _, _ := testRecorder(t)
	session, err := rec.Start(StartRequest{
		Name:     "meta",
		Notes:    "quiet room",
		Tags:     []string{"pilot"},
		DeviceID: "AA:BB:CC:DD:EE:FF",
	})
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	rec.Append(types.SensorEEG, types.DataRaw, eegBatch(0, 4))
	if _, err := rec.Stop(""); err != nil {
		t.Fatalf("stop failed: %v", err)
	}

	back, err := ReadMeta(session.RootDir)
	if err != nil {
		t.Fatalf("meta read failed: %v", err)
	}
	if back.ID != session.ID || back.Name != "meta" {
		t.Errorf("identity mismatch: %s/%s", back.ID, back.Name)
	}
	if back.DeviceID != "AA:BB:CC:DD:EE:FF" {
		t.Errorf("device lost in round trip: %q", back.DeviceID)
	}
	if back.Notes != "quiet room" || len(back.Tags) != 1 {
		t.Errorf("metadata lost: notes=%q tags=%v", back.Notes, back.Tags)
	}
	if back.EndTime == nil {
		t.Error("sealed session meta should carry an end time")
	}
}

func TestStreamFilenameSanitizesColons(t *testing.T) {
	name := streamFilename("AA:BB:CC", types.SensorEEG, types.DataRaw)
	if strings.ContainsRune(name, ':') {
		t.Errorf("colons must not reach the filesystem: %q", name)
	}
	if name != "AA-BB-CC_eeg_raw.json" {
		t.Errorf("unexpected filename %q", name)
	}
	if bat := streamFilename("", types.SensorBattery, types.DataBattery); bat != "unknown_bat.json" {
		t.Errorf("battery stream filename = %q", bat)
	}
}

func TestDeleteActiveSessionIsRejected(t *testing.T) {
	rec, _, _ := testRecorder(t)
	session, err := rec.Start(StartRequest{Name: "live"})
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if err := rec.DeleteSession(session.ID); err != types.ErrAlreadyRecording {
		t.Errorf("deleting the live session should be refused, got %v", err)
	}
}

func TestDeleteSessionRemovesDirectory(t *testing.T) {
	rec, _, _ := testRecorder(t)
	session, err := rec.Start(StartRequest{Name: "ephemeral"})
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	rec.Append(types.SensorEEG, types.DataRaw, eegBatch(0, 2))
	if _, err := rec.Stop(""); err != nil {
		t.Fatalf("stop failed: %v", err)
	}

	if err := rec.DeleteSession(session.ID); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if _, err := os.Stat(session.RootDir); !os.IsNotExist(err) {
		t.Errorf("session directory should be gone, stat err = %v", err)
	}
	if _, err := rec.GetSession(session.ID); err == nil {
		t.Error("deleted session still resolves")
	}
}
