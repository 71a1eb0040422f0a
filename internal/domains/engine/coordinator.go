package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/looplab/fsm"

	"github.com/mindstream-labs/mindstream/internal/config"
	"github.com/mindstream-labs/mindstream/internal/domains/device"
	"github.com/mindstream-labs/mindstream/internal/domains/recorder"
	"github.com/mindstream-labs/mindstream/internal/types"
	"github.com/mindstream-labs/mindstream/pkg/Logger"
)

// Every task must observe cancellation within this window or it is abandoned
// with a warning.
const stopDeadline = 2 * time.Second

// Bus is the coordinator-facing slice of the WebSocket fan-out.
type Bus interface {
	Publish(ch types.Channel, mt types.MessageType, data any) bool
	ClientCount() int
}

type cmdKind int

const (
	cmdScan cmdKind = iota
	cmdConnect
	cmdDisconnect
	cmdStartStreaming
	cmdStopStreaming
	cmdStartRecording
	cmdStopRecording
)

type response struct {
	data any
	err  error
}

// request is one serialized control-plane command. Fields beyond kind are
// per-command arguments.
type request struct {
	kind cmdKind

	duration  time.Duration // scan
	address   string        // connect
	timeout   time.Duration // connect
	reconnect *bool         // connect
	record    *recorder.StartRequest
	sessionID string // stop recording

	reply chan response
}

// Coordinator owns the engine state machine and composes the adapter, the
// pipelines, the recorder and the bus. All lifecycle transitions run through
// its command goroutine; effects become visible in order.
type Coordinator struct {
	logger   *Logger.Logger
	cfg      *config.Settings
	adapter  *device.Adapter
	recorder *recorder.Recorder
	registry device.Registry
	bus      Bus

	machine *fsm.FSM
	mu      sync.Mutex

	streams   atomic.Pointer[streamSet]
	recording atomic.Bool

	lastBattery *float64
	lastLeadOff *[2]bool

	cmds      chan request
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
	startedAt time.Time

	mon monitorState
}

func NewCoordinator(
	cfg *config.Settings,
	adapter *device.Adapter,
	rec *recorder.Recorder,
	registry device.Registry,
	bus Bus,
	logger *Logger.Logger,
) *Coordinator {
	c := &Coordinator{
		logger:   logger,
		cfg:      cfg,
		adapter:  adapter,
		recorder: rec,
		registry: registry,
		bus:      bus,
		cmds:     make(chan request),
		done:     make(chan struct{}),
	}
	c.machine = fsm.NewFSM(
		"stopped",
		fsm.Events{
			{Name: "init", Src: []string{"stopped"}, Dst: "initializing"},
			{Name: "ready", Src: []string{"initializing"}, Dst: "running"},
			{Name: "degrade", Src: []string{"running"}, Dst: "degraded"},
			{Name: "recover", Src: []string{"degraded"}, Dst: "running"},
			{Name: "shutdown", Src: []string{"initializing", "running", "degraded"}, Dst: "stopping"},
			{Name: "halted", Src: []string{"stopping"}, Dst: "stopped"},
		},
		fsm.Callbacks{},
	)
	return c
}

// Start brings the engine to running: wires the adapter sink, starts the
// command loop, the lifecycle-event consumer and the monitoring ticker.
func (c *Coordinator) Start() error {
	if err := c.machine.Event(context.Background(), "init"); err != nil {
		return types.ErrInvalidTransition
	}
	c.startedAt = time.Now()
	c.adapter.SetSink(device.SinkFunc(c.onRawBatch))

	c.wg.Add(3)
	go c.commandLoop()
	go c.eventLoop()
	go c.monitorLoop()

	if err := c.machine.Event(context.Background(), "ready"); err != nil {
		return types.ErrInvalidTransition
	}
	if c.cfg.Device.AutoReconnect {
		c.wg.Add(1)
		go c.redialLast()
	}
	c.logger.Info("engine running")
	return nil
}

// redialLast dials the most recently seen device on startup so a restart
// restores the link without operator action.
func (c *Coordinator) redialLast() {
	defer c.wg.Done()
	last, err := c.registry.Last()
	if err != nil {
		c.logger.Warnf("load last device: %v", err)
		return
	}
	if last == nil {
		return
	}
	c.logger.Infof("redialing last seen device %s", last.Address)
	if err := c.Connect(last.Address, 0, nil); err != nil {
		c.logger.Warnf("startup redial of %s failed: %v", last.Address, err)
	}
}

// State reports the top-level machine state.
func (c *Coordinator) State() string { return c.machine.Current() }

// --- public command surface -------------------------------------------------

func (c *Coordinator) Scan(duration time.Duration) ([]device.Descriptor, error) {
	data, err := c.submit(request{kind: cmdScan, duration: duration})
	if err != nil {
		return nil, err
	}
	return data.([]device.Descriptor), nil
}

func (c *Coordinator) Connect(address string, timeout time.Duration, autoReconnect *bool) error {
	_, err := c.submit(request{kind: cmdConnect, address: address, timeout: timeout, reconnect: autoReconnect})
	return err
}

func (c *Coordinator) Disconnect() error {
	_, err := c.submit(request{kind: cmdDisconnect})
	return err
}

func (c *Coordinator) StartStreaming() (*Status, error) {
	data, err := c.submit(request{kind: cmdStartStreaming})
	if err != nil {
		return nil, err
	}
	return data.(*Status), nil
}

func (c *Coordinator) StopStreaming() (*Status, error) {
	data, err := c.submit(request{kind: cmdStopStreaming})
	if err != nil {
		return nil, err
	}
	return data.(*Status), nil
}

func (c *Coordinator) StartRecording(req recorder.StartRequest) (*recorder.Session, error) {
	data, err := c.submit(request{kind: cmdStartRecording, record: &req})
	if err != nil {
		return nil, err
	}
	return data.(*recorder.Session), nil
}

func (c *Coordinator) StopRecording(sessionID string) (*recorder.Summary, error) {
	data, err := c.submit(request{kind: cmdStopRecording, sessionID: sessionID})
	if err != nil {
		return nil, err
	}
	return data.(*recorder.Summary), nil
}

// RegisteredDevices lists every device the engine has ever seen.
func (c *Coordinator) RegisteredDevices() ([]device.Descriptor, error) {
	return c.registry.List()
}

// ForgetDevice removes a device from the registry. The live connection, if
// any, is untouched.
func (c *Coordinator) ForgetDevice(address string) error {
	return c.registry.Remove(address)
}

func (c *Coordinator) submit(req request) (any, error) {
	req.reply = make(chan response, 1)
	select {
	case c.cmds <- req:
	case <-c.done:
		return nil, types.ErrInvalidTransition
	}
	select {
	case r := <-req.reply:
		return r.data, r.err
	case <-c.done:
		return nil, types.ErrInvalidTransition
	}
}

// --- command loop -----------------------------------------------------------

func (c *Coordinator) commandLoop() {
	defer c.wg.Done()
	for {
		select {
		case <-c.done:
			return
		case req := <-c.cmds:
			req.reply <- c.execute(req)
		}
	}
}

func (c *Coordinator) execute(req request) response {
	switch req.kind {
	case cmdScan:
		found, err := c.adapter.Scan(context.Background(), req.duration)
		if err != nil {
			return response{err: err}
		}
		for _, d := range found {
			if err := c.registry.Upsert(d); err != nil {
				c.logger.Warnf("register device %s: %v", d.Address, err)
			}
		}
		return response{data: found}

	case cmdConnect:
		if req.reconnect != nil {
			c.adapter.SetAutoReconnect(*req.reconnect)
		}
		return response{err: c.adapter.Connect(context.Background(), req.address, req.timeout)}

	case cmdDisconnect:
		// Disconnecting while streaming tears the pipelines down first so
		// an open recording is sealed completed, not failed.
		c.stopStreamingInternal(recorder.StatusCompleted)
		return response{err: c.adapter.Disconnect()}

	case cmdStartStreaming:
		return c.doStartStreaming()

	case cmdStopStreaming:
		c.stopStreamingInternal(recorder.StatusCompleted)
		return response{data: c.snapshot()}

	case cmdStartRecording:
		return c.doStartRecording(*req.record)

	case cmdStopRecording:
		return c.doStopRecording(req.sessionID)
	}
	return response{err: types.ErrInvalidTransition}
}

func (c *Coordinator) doStartStreaming() response {
	if c.adapter.State() != device.StateConnected {
		return response{err: types.ErrNotConnected}
	}
	if c.streams.Load() != nil {
		// idempotent
		return response{data: c.snapshot()}
	}
	ss := newStreamSet(c.cfg.Stream, c.bus, c.logger)
	ss.start()
	c.streams.Store(ss)
	c.logger.Info("streaming started")
	c.bus.Publish(types.ChannelEvent, types.MessageTypeEvent, map[string]any{
		"event": "streaming_started",
	})
	return response{data: c.snapshot()}
}

// stopStreamingInternal tears down the live streamSet; a no-op when idle.
// An open recording is sealed with the given status first.
func (c *Coordinator) stopStreamingInternal(seal recorder.SessionStatus) {
	ss := c.streams.Swap(nil)
	if ss == nil {
		return
	}
	if c.recording.Load() {
		c.recording.Store(false)
		ss.setRecorder(nil)
		if seal == recorder.StatusFailed {
			c.recorder.DeviceLost()
		} else if _, err := c.recorder.Stop(""); err != nil {
			c.logger.Errorf("seal recording on stream stop: %v", err)
		}
	}
	if !ss.stop(stopDeadline) {
		c.logger.Warnf("pipelines did not observe cancellation within %s, abandoning", stopDeadline)
	}
	c.logger.Info("streaming stopped")
	c.bus.Publish(types.ChannelEvent, types.MessageTypeEvent, map[string]any{
		"event": "streaming_stopped",
	})
}

func (c *Coordinator) doStartRecording(req recorder.StartRequest) response {
	ss := c.streams.Load()
	if ss == nil {
		return response{err: types.ErrNotStreaming}
	}
	if current := c.adapter.Current(); current != nil {
		req.DeviceID = current.Address
	}
	session, err := c.recorder.Start(req)
	if err != nil {
		return response{err: err}
	}
	ss.setRecorder(c.recorder)
	c.recording.Store(true)
	c.bus.Publish(types.ChannelEvent, types.MessageTypeEvent, map[string]any{
		"event":      "recording_started",
		"session_id": session.ID,
	})
	return response{data: session}
}

func (c *Coordinator) doStopRecording(sessionID string) response {
	if ss := c.streams.Load(); ss != nil && c.recording.Load() {
		active := c.recorder.ActiveSession()
		if active != nil && (sessionID == "" || sessionID == active.ID) {
			c.recording.Store(false)
			ss.setRecorder(nil)
		}
	}
	summary, err := c.recorder.Stop(sessionID)
	if err != nil {
		return response{err: err}
	}
	c.bus.Publish(types.ChannelEvent, types.MessageTypeEvent, map[string]any{
		"event":      "recording_stopped",
		"session_id": summary.SessionID,
	})
	return response{data: summary}
}

// --- data path --------------------------------------------------------------

// onRawBatch is the adapter sink: push into the rings, publish the raw
// channel, and while recording hand the batch to the recorder. Hot path,
// never blocks.
func (c *Coordinator) onRawBatch(b types.RawBatch) {
	ss := c.streams.Load()
	if ss == nil {
		return
	}
	ss.ingest(b)
	if b.Sensor != types.SensorBattery {
		c.bus.Publish(types.RawChannel(b.Sensor), types.MessageTypeRawData, b)
		if c.recording.Load() {
			c.recorder.Append(b.Sensor, types.DataRaw, b)
		}
	}
}

// --- lifecycle events -------------------------------------------------------

func (c *Coordinator) eventLoop() {
	defer c.wg.Done()
	for {
		select {
		case <-c.done:
			return
		case ev := <-c.adapter.Events():
			c.handleDeviceEvent(ev)
		}
	}
}

func (c *Coordinator) handleDeviceEvent(ev device.Event) {
	switch ev.Kind {
	case device.EventConnected:
		if d := c.adapter.Current(); d != nil {
			if err := c.registry.Upsert(*d); err != nil {
				c.logger.Warnf("register device %s: %v", d.Address, err)
			}
		}
		c.bus.Publish(types.ChannelDeviceInfo, types.MessageTypeEvent, map[string]any{
			"event":  "connected",
			"device": ev.Device,
		})

	case device.EventDisconnected:
		if ev.Reason == device.ReasonUnexpectedDisconnect {
			// Loss mid-recording seals the session failed; streaming goes
			// back to idle either way.
			c.stopStreamingInternal(recorder.StatusFailed)
		}
		c.bus.Publish(types.ChannelDeviceInfo, types.MessageTypeEvent, map[string]any{
			"event":  "disconnected",
			"device": ev.Device,
			"reason": ev.Reason,
		})

	case device.EventBatteryChanged:
		c.mu.Lock()
		level := ev.Battery
		c.lastBattery = &level
		c.mu.Unlock()
		c.bus.Publish(types.ChannelDeviceInfo, types.MessageTypeEvent, map[string]any{
			"event":   "battery_changed",
			"battery": ev.Battery,
		})

	case device.EventLeadOffChanged:
		c.mu.Lock()
		lo := ev.LeadOff
		c.lastLeadOff = &lo
		c.mu.Unlock()
		c.bus.Publish(types.ChannelEvent, types.MessageTypeEvent, map[string]any{
			"event":   "leadoff_changed",
			"leadoff": ev.LeadOff,
		})

	case device.EventGapDetected:
		c.bus.Publish(types.ChannelEvent, types.MessageTypeEvent, map[string]any{
			"event":    "frame_gap",
			"sensor":   ev.Sensor,
			"expected": ev.Expected,
			"observed": ev.Observed,
		})
	}
}

// --- status -----------------------------------------------------------------

func (c *Coordinator) snapshot() *Status {
	now := time.Now()
	st := &Status{
		State:     c.machine.Current(),
		UptimeS:   now.Sub(c.startedAt).Seconds(),
		Clients:   c.bus.ClientCount(),
		Health:    c.healthScore(),
		Timestamp: float64(now.UnixNano()) / 1e9,
	}

	st.Device.State = string(c.adapter.State())
	if d := c.adapter.Current(); d != nil {
		st.Device.Address = d.Address
		st.Device.Name = d.Name
		st.Device.LastSeen = float64(d.LastSeen.UnixNano()) / 1e9
	}
	c.mu.Lock()
	st.Device.Battery = c.lastBattery
	st.Device.LeadOff = c.lastLeadOff
	c.mu.Unlock()

	if ss := c.streams.Load(); ss != nil {
		st.Streaming.Active = true
		st.Streaming.SinceTS = float64(ss.startedAt.UnixNano()) / 1e9
		st.Streaming.Rates = c.mon.rates()
		st.Streaming.RingDrops = ss.ringDrops()
		st.Streaming.Degraded = ss.degraded()
	}

	if session := c.recorder.ActiveSession(); session != nil {
		st.Recording.Active = true
		st.Recording.SessionID = session.ID
		st.Recording.Name = session.Name
		st.Recording.StartedTS = float64(session.StartTime.UnixNano()) / 1e9
	}
	return st
}

// StatusSnapshot implements the bus Commander hook.
func (c *Coordinator) StatusSnapshot() any { return c.snapshot() }

// Status returns the control-plane snapshot.
func (c *Coordinator) Status() *Status { return c.snapshot() }

// HandleCommand executes a device command arriving over the socket.
func (c *Coordinator) HandleCommand(ctx context.Context, command string, params map[string]any) (any, error) {
	switch command {
	case "scan_devices":
		duration := time.Duration(c.cfg.Device.ScanDefaultDuration) * time.Second
		if v, ok := params["duration"].(float64); ok {
			duration = time.Duration(v * float64(time.Second))
		}
		return c.Scan(duration)

	case "connect_device":
		address, _ := params["address"].(string)
		if address == "" {
			return nil, types.NewError(types.CodeInvalidParameters, "connect_device requires an address")
		}
		var timeout time.Duration
		if v, ok := params["timeout"].(float64); ok {
			timeout = time.Duration(v * float64(time.Second))
		}
		var reconnect *bool
		if v, ok := params["auto_reconnect"].(bool); ok {
			reconnect = &v
		}
		if err := c.Connect(address, timeout, reconnect); err != nil {
			return nil, err
		}
		return map[string]any{"connected": true, "address": address}, nil

	case "disconnect_device":
		if err := c.Disconnect(); err != nil {
			return nil, err
		}
		return map[string]any{"connected": false}, nil

	case "start_streaming":
		return c.StartStreaming()

	case "stop_streaming":
		return c.StopStreaming()
	}
	return nil, types.NewError(types.CodeInvalidParameters, "unknown command: %s", command)
}

// --- shutdown ---------------------------------------------------------------

// Shutdown tears the coordinator down: pipelines drain, the recorder seals
// and the adapter hangs up. The caller has already stopped the acceptors and
// disconnected the clients.
func (c *Coordinator) Shutdown() {
	if err := c.machine.Event(context.Background(), "shutdown"); err != nil {
		return
	}
	c.closeOnce.Do(func() { close(c.done) })

	c.stopStreamingInternal(recorder.StatusCompleted)
	c.recorder.Close()
	c.adapter.Close()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(stopDeadline):
		c.logger.Warn("engine tasks did not observe cancellation in time")
	}
	c.machine.Event(context.Background(), "halted")
	c.logger.Info("engine stopped")
}
