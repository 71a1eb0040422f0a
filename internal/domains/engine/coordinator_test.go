package engine

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/mindstream-labs/mindstream/internal/config"
	"github.com/mindstream-labs/mindstream/internal/domains/device"
	"github.com/mindstream-labs/mindstream/internal/domains/recorder"
	"github.com/mindstream-labs/mindstream/internal/types"
	"github.com/mindstream-labs/mindstream/pkg/Logger"
)

// fakeBus records every publish; it doubles as the recorder's event sink.
type fakeBus struct {
	mu   sync.Mutex
	msgs []types.Envelope
}

func (b *fakeBus) Publish(ch types.Channel, mt types.MessageType, data any) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.msgs = append(b.msgs, types.Envelope{Type: mt, Channel: ch, Data: data})
	return true
}

func (b *fakeBus) ClientCount() int { return 0 }

// saw reports whether any published event payload names the given event.
func (b *fakeBus) saw(event string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, m := range b.msgs {
		if data, ok := m.Data.(map[string]any); ok && data["event"] == event {
			return true
		}
	}
	return false
}

type memRegistry struct {
	mu      sync.Mutex
	devices map[string]device.Descriptor
}

func newMemRegistry() *memRegistry {
	return &memRegistry{devices: make(map[string]device.Descriptor)}
}

func (r *memRegistry) Upsert(d device.Descriptor) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.devices[d.Address] = d
	return nil
}

func (r *memRegistry) List() ([]device.Descriptor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]device.Descriptor, 0, len(r.devices))
	for _, d := range r.devices {
		out = append(out, d)
	}
	return out, nil
}

func (r *memRegistry) Last() (*device.Descriptor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var last *device.Descriptor
	for _, d := range r.devices {
		d := d
		if last == nil || d.LastSeen.After(last.LastSeen) {
			last = &d
		}
	}
	return last, nil
}

func (r *memRegistry) Remove(address string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.devices, address)
	return nil
}

func (r *memRegistry) has(address string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.devices[address]
	return ok
}

// memSessionRepo is a minimal in-memory recorder.Repository.
type memSessionRepo struct {
	mu       sync.Mutex
	sessions map[string]recorder.Session
	files    map[string][]recorder.FileEntry
	exports  map[string]recorder.Export
}

func newMemSessionRepo() *memSessionRepo {
	return &memSessionRepo{
		sessions: make(map[string]recorder.Session),
		files:    make(map[string][]recorder.FileEntry),
		exports:  make(map[string]recorder.Export),
	}
}

func (m *memSessionRepo) SaveSession(s *recorder.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = *s
	return nil
}

func (m *memSessionRepo) UpdateSession(s *recorder.Session) error { return m.SaveSession(s) }

func (m *memSessionRepo) GetSession(id string) (*recorder.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session %s not found", id)
	}
	return &s, nil
}

func (m *memSessionRepo) ListSessions(filter recorder.ListFilter) ([]recorder.Session, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []recorder.Session
	for _, s := range m.sessions {
		out = append(out, s)
	}
	return out, int64(len(out)), nil
}

func (m *memSessionRepo) DeleteSession(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	return nil
}

func (m *memSessionRepo) AddFile(f *recorder.FileEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[f.SessionID] = append(m.files[f.SessionID], *f)
	return nil
}

func (m *memSessionRepo) ListFiles(sessionID string) ([]recorder.FileEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]recorder.FileEntry(nil), m.files[sessionID]...), nil
}

func (m *memSessionRepo) FailOpenSessions() (int64, error) { return 0, nil }

func (m *memSessionRepo) SaveExport(e *recorder.Export) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.exports[e.ID] = *e
	return nil
}

func (m *memSessionRepo) UpdateExport(e *recorder.Export) error { return m.SaveExport(e) }

func (m *memSessionRepo) GetExport(id string) (*recorder.Export, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.exports[id]
	if !ok {
		return nil, fmt.Errorf("export %s not found", id)
	}
	return &e, nil
}

type testEngine struct {
	coord    *Coordinator
	bus      *fakeBus
	registry *memRegistry
	repo     *memSessionRepo
	link     *device.SimLink
}

func newTestEngine(t *testing.T) *testEngine {
	t.Helper()
	return newTestEngineWith(t, nil, newMemRegistry())
}

func newTestEngineWith(t *testing.T, mutate func(*config.Settings), registry *memRegistry) *testEngine {
	t.Helper()
	logger := Logger.New(true)
	cfg := &config.Settings{
		Device: config.DeviceConfig{
			Link:                "sim",
			ScanDefaultDuration: 1,
			ConnectTimeout:      5,
			ReconnectAttempts:   2,
		},
		Stream: config.StreamConfig{
			RingCapacityEEG: 2048,
			RingCapacityPPG: 512,
			RingCapacityACC: 256,
			TickMsEEG:       100,
			TickMsPPG:       100,
			TickMsACC:       100,
			TickMsBat:       200,
		},
		Recorder: config.RecorderConfig{
			DataDir:  t.TempDir(),
			QueueLen: 64,
			DBFile:   "test.db",
		},
	}

	if mutate != nil {
		mutate(cfg)
	}

	bus := &fakeBus{}
	link := device.NewSimLink()
	adapter := device.NewAdapter(cfg.Device, link, logger)
	repo := newMemSessionRepo()
	rec, err := recorder.New(cfg.Recorder, repo, bus, logger)
	if err != nil {
		t.Fatalf("recorder init failed: %v", err)
	}

	coord := NewCoordinator(cfg, adapter, rec, registry, bus, logger)
	if err := coord.Start(); err != nil {
		t.Fatalf("engine start failed: %v", err)
	}
	t.Cleanup(coord.Shutdown)
	return &testEngine{coord: coord, bus: bus, registry: registry, repo: repo, link: link}
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestStartStreamingRequiresConnection(t *testing.T) {
	e := newTestEngine(t)
	if _, err := e.coord.StartStreaming(); err != types.ErrNotConnected {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
}

func TestStartRecordingRequiresStreaming(t *testing.T) {
	e := newTestEngine(t)
	if _, err := e.coord.StartRecording(recorder.StartRequest{Name: "x"}); err != types.ErrNotStreaming {
		t.Errorf("expected ErrNotStreaming, got %v", err)
	}
}

func TestScanRegistersDiscoveredDevices(t *testing.T) {
	e := newTestEngine(t)
	found, err := e.coord.Scan(200 * time.Millisecond)
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	if len(found) != 1 {
		t.Fatalf("expected the simulated unit, got %d devices", len(found))
	}
	if !e.registry.has(device.SimAddress) {
		t.Error("discovered device should land in the registry")
	}

	devices, err := e.coord.RegisteredDevices()
	if err != nil {
		t.Fatalf("list registered devices failed: %v", err)
	}
	if len(devices) != 1 || devices[0].Address != device.SimAddress {
		t.Errorf("registered list should carry the discovered unit, got %v", devices)
	}

	if err := e.coord.ForgetDevice(device.SimAddress); err != nil {
		t.Fatalf("forget device failed: %v", err)
	}
	if e.registry.has(device.SimAddress) {
		t.Error("forgotten device should leave the registry")
	}
}

func TestStartRedialsLastSeenDevice(t *testing.T) {
	registry := newMemRegistry()
	registry.Upsert(device.Descriptor{
		Address:  device.SimAddress,
		Name:     "MindBand Sim",
		LastSeen: time.Now(),
	})
	e := newTestEngineWith(t, func(cfg *config.Settings) {
		cfg.Device.AutoReconnect = true
	}, registry)

	waitUntil(t, 3*time.Second, func() bool {
		return e.coord.Status().Device.State == string(device.StateConnected)
	}, "engine did not redial the last seen device on start")
}

func TestFullSessionLifecycle(t *testing.T) {
	e := newTestEngine(t)

	if err := e.coord.Connect(device.SimAddress, 0, nil); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	st, err := e.coord.StartStreaming()
	if err != nil {
		t.Fatalf("start streaming failed: %v", err)
	}
	if !st.Streaming.Active {
		t.Fatal("status should report streaming")
	}
	if !e.bus.saw("streaming_started") {
		t.Error("streaming_started event not broadcast")
	}

	session, err := e.coord.StartRecording(recorder.StartRequest{Name: "lifecycle"})
	if err != nil {
		t.Fatalf("start recording failed: %v", err)
	}
	if session.DeviceID != device.SimAddress {
		t.Errorf("session should carry the connected device, got %q", session.DeviceID)
	}

	// let some raw batches flow through the sink into the recorder
	time.Sleep(600 * time.Millisecond)

	summary, err := e.coord.StopRecording("")
	if err != nil {
		t.Fatalf("stop recording failed: %v", err)
	}
	if summary.Status != recorder.StatusCompleted {
		t.Errorf("summary status = %s, want completed", summary.Status)
	}
	if summary.SampleCounts[types.SensorEEG] == 0 {
		t.Error("no EEG samples reached the recorder")
	}
	if !e.bus.saw("recording_stopped") {
		t.Error("recording_stopped event not broadcast")
	}

	if _, err := e.coord.StopStreaming(); err != nil {
		t.Fatalf("stop streaming failed: %v", err)
	}
	if err := e.coord.Disconnect(); err != nil {
		t.Fatalf("disconnect failed: %v", err)
	}
	if st := e.coord.Status(); st.Streaming.Active || st.Recording.Active {
		t.Error("status should be fully idle after teardown")
	}
}

func TestStartStreamingIsIdempotent(t *testing.T) {
	e := newTestEngine(t)
	if err := e.coord.Connect(device.SimAddress, 0, nil); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	if _, err := e.coord.StartStreaming(); err != nil {
		t.Fatalf("start streaming failed: %v", err)
	}
	st, err := e.coord.StartStreaming()
	if err != nil {
		t.Fatalf("repeated start streaming should be a no-op, got %v", err)
	}
	if !st.Streaming.Active {
		t.Error("repeated start should still report active")
	}
}

func TestDisconnectSealsRecordingCompleted(t *testing.T) {
	e := newTestEngine(t)
	if err := e.coord.Connect(device.SimAddress, 0, nil); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	if _, err := e.coord.StartStreaming(); err != nil {
		t.Fatalf("start streaming failed: %v", err)
	}
	session, err := e.coord.StartRecording(recorder.StartRequest{Name: "cut-short"})
	if err != nil {
		t.Fatalf("start recording failed: %v", err)
	}
	time.Sleep(300 * time.Millisecond)

	if err := e.coord.Disconnect(); err != nil {
		t.Fatalf("disconnect failed: %v", err)
	}

	stored, err := e.repo.GetSession(session.ID)
	if err != nil {
		t.Fatalf("session row missing: %v", err)
	}
	if stored.Status != recorder.StatusCompleted {
		t.Errorf("requested disconnect seals completed, got %s", stored.Status)
	}
	if st := e.coord.Status(); st.Streaming.Active {
		t.Error("streaming should be down after disconnect")
	}
}

func TestUnexpectedLossSealsRecordingFailed(t *testing.T) {
	e := newTestEngine(t)
	if err := e.coord.Connect(device.SimAddress, 0, nil); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	if _, err := e.coord.StartStreaming(); err != nil {
		t.Fatalf("start streaming failed: %v", err)
	}
	session, err := e.coord.StartRecording(recorder.StartRequest{Name: "doomed"})
	if err != nil {
		t.Fatalf("start recording failed: %v", err)
	}
	time.Sleep(200 * time.Millisecond)

	e.link.Kill()

	waitUntil(t, 3*time.Second, func() bool {
		stored, err := e.repo.GetSession(session.ID)
		return err == nil && stored.Status == recorder.StatusFailed
	}, "session was not sealed failed after link loss")

	if !e.bus.saw("disconnected") {
		t.Error("device loss should broadcast a disconnected event")
	}
	if st := e.coord.Status(); st.Streaming.Active {
		t.Error("streaming should be down after link loss")
	}
}

func TestEngineDegradesAndRecoversWithPipelines(t *testing.T) {
	e := newTestEngine(t)

	e.coord.updateMachineHealth(true, 1)
	if e.coord.State() != "degraded" {
		t.Fatalf("all pipelines degraded should degrade the engine, state = %s", e.coord.State())
	}
	if !e.bus.saw("engine_degraded") {
		t.Error("engine_degraded event not broadcast")
	}

	// a repeated all-degraded report must not re-fire the transition
	e.coord.updateMachineHealth(true, 1)
	if e.coord.State() != "degraded" {
		t.Fatalf("state = %s, want degraded", e.coord.State())
	}

	e.coord.updateMachineHealth(true, 0.5)
	if e.coord.State() != "running" {
		t.Fatalf("partial recovery should restore running, state = %s", e.coord.State())
	}
	if !e.bus.saw("engine_recovered") {
		t.Error("engine_recovered event not broadcast")
	}
}

func TestHandleCommandUnknownIsInvalid(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.coord.HandleCommand(context.Background(), "self_destruct", nil)
	ee, ok := err.(*types.EngineError)
	if !ok || ee.Code != types.CodeInvalidParameters {
		t.Errorf("expected INVALID_PARAMETERS, got %v", err)
	}
}

func TestHandleCommandConnectRequiresAddress(t *testing.T) {
	e := newTestEngine(t)
	_, err := e.coord.HandleCommand(context.Background(), "connect_device", map[string]any{})
	ee, ok := err.(*types.EngineError)
	if !ok || ee.Code != types.CodeInvalidParameters {
		t.Errorf("expected INVALID_PARAMETERS, got %v", err)
	}
}

func TestShutdownRejectsFurtherCommands(t *testing.T) {
	e := newTestEngine(t)
	e.coord.Shutdown()

	if e.coord.State() != "stopped" {
		t.Errorf("expected stopped, got %s", e.coord.State())
	}
	if _, err := e.coord.Scan(0); err != types.ErrInvalidTransition {
		t.Errorf("commands after shutdown should fail, got %v", err)
	}
}
