package device

import (
	"context"
	"encoding/binary"
	"sync"
	"time"

	"github.com/looplab/fsm"
	"github.com/smallnest/ringbuffer"

	"github.com/mindstream-labs/mindstream/internal/config"
	"github.com/mindstream-labs/mindstream/internal/types"
	"github.com/mindstream-labs/mindstream/pkg/Logger"
)

// Sustained decode failures above this count without a good frame in between
// are treated as a broken link.
const decodeErrorThreshold = 25

// frameBufBytes sizes the inbound byte ring between the link reader and the
// decoder. Bursts from the radio land here before decode.
const frameBufBytes = 64 * 1024

// Adapter owns the wireless link to a single sensor unit: it scans, connects,
// decodes notification frames into physical-unit batches and surfaces
// lifecycle events. Single consumer of the link.
type Adapter struct {
	logger *Logger.Logger
	cfg    config.DeviceConfig
	link   Link

	machine *fsm.FSM
	mu      sync.Mutex

	sink   Sink
	events chan Event
	wake   chan struct{}
	dec    *decoder

	// frameMu orders pump writes and resets against decoder reads so the
	// length-prefixed stream never desynchronizes. pendingFrame remembers a
	// consumed prefix whose body has not fully arrived yet (-1 when none).
	frameMu      sync.Mutex
	frameBuf     *ringbuffer.RingBuffer
	pendingFrame int

	pumpCancel  context.CancelFunc
	current     *Descriptor
	lastAddress string

	decodeErrStreak int
	lastBattery     float64
	lastLeadOff     [2]bool
	leadOffSeen     bool
	reconnecting    bool
}

func NewAdapter(cfg config.DeviceConfig, link Link, logger *Logger.Logger) *Adapter {
	a := &Adapter{
		logger:       logger,
		cfg:          cfg,
		link:         link,
		events:       make(chan Event, 32),
		frameBuf:     ringbuffer.New(frameBufBytes).SetBlocking(false),
		pendingFrame: -1,
		wake:         make(chan struct{}, 1),
	}
	a.dec = newDecoder(a.onGap)
	a.machine = fsm.NewFSM(
		string(StateIdle),
		fsm.Events{
			{Name: "startScan", Src: []string{string(StateIdle)}, Dst: string(StateScanning)},
			{Name: "scanDone", Src: []string{string(StateScanning)}, Dst: string(StateIdle)},
			{Name: "dial", Src: []string{string(StateIdle)}, Dst: string(StateConnecting)},
			{Name: "dialOK", Src: []string{string(StateConnecting)}, Dst: string(StateConnected)},
			{Name: "dialFail", Src: []string{string(StateConnecting)}, Dst: string(StateIdle)},
			{Name: "hangup", Src: []string{string(StateConnected)}, Dst: string(StateDisconnecting)},
			{Name: "hungup", Src: []string{string(StateDisconnecting)}, Dst: string(StateIdle)},
			{Name: "drop", Src: []string{string(StateConnected), string(StateConnecting)}, Dst: string(StateIdle)},
		},
		fsm.Callbacks{},
	)
	go a.watchLink()
	return a
}

// SetSink installs the downstream consumer of decoded batches.
func (a *Adapter) SetSink(s Sink) {
	a.mu.Lock()
	a.sink = s
	a.mu.Unlock()
}

// SetAutoReconnect overrides the configured reconnect policy at runtime.
func (a *Adapter) SetAutoReconnect(v bool) {
	a.mu.Lock()
	a.cfg.AutoReconnect = v
	a.mu.Unlock()
}

// Events is the lifecycle stream consumed by the coordinator.
func (a *Adapter) Events() <-chan Event { return a.events }

// State reports the current lifecycle state.
func (a *Adapter) State() State {
	return State(a.machine.Current())
}

// Current returns the connected device descriptor, nil when disconnected.
func (a *Adapter) Current() *Descriptor {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.current == nil {
		return nil
	}
	d := *a.current
	return &d
}

// Scan discovers nearby units. Zero duration returns an empty list at once.
func (a *Adapter) Scan(ctx context.Context, duration time.Duration) ([]Descriptor, error) {
	if duration <= 0 {
		return []Descriptor{}, nil
	}
	if err := a.machine.Event(ctx, "startScan"); err != nil {
		return nil, types.NewError(types.CodeDeviceBusy, "adapter busy: %s", a.machine.Current())
	}
	defer a.machine.Event(context.Background(), "scanDone")

	found, err := a.link.Scan(ctx, duration)
	if err != nil {
		return nil, types.NewError(types.CodeBluetoothError, "scan failed: %v", err)
	}
	if found == nil {
		found = []Descriptor{}
	}
	return found, nil
}

// Connect dials the given address, subscribes to the sensor characteristics
// and starts the decode pump. Default timeout comes from config.
func (a *Adapter) Connect(ctx context.Context, address string, timeout time.Duration) error {
	if a.State() == StateConnected {
		return types.NewError(types.CodeDeviceBusy, "already connected")
	}
	if timeout <= 0 {
		timeout = time.Duration(a.cfg.ConnectTimeout) * time.Second
	}
	if err := a.machine.Event(ctx, "dial"); err != nil {
		return types.NewError(types.CodeDeviceBusy, "adapter busy: %s", a.machine.Current())
	}

	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := a.link.Connect(dialCtx, address); err != nil {
		a.machine.Event(context.Background(), "dialFail")
		if dialCtx.Err() != nil {
			return types.NewError(types.CodeConnectionTimeout, "connect to %s timed out", address)
		}
		return types.NewError(types.CodeConnectionFailed, "connect to %s failed: %v", address, err)
	}

	a.mu.Lock()
	a.lastAddress = address
	a.current = &Descriptor{Address: address, Name: "MindBand", LastSeen: time.Now()}
	a.dec.Reset()
	a.decodeErrStreak = 0
	a.frameMu.Lock()
	a.frameBuf.Reset()
	a.pendingFrame = -1
	a.frameMu.Unlock()
	pumpCtx, pumpCancel := context.WithCancel(context.Background())
	a.pumpCancel = pumpCancel
	a.mu.Unlock()

	a.machine.Event(context.Background(), "dialOK")
	go a.framePump(pumpCtx)
	go a.decodeLoop(pumpCtx)

	a.emit(Event{Kind: EventConnected, Device: address})
	a.logger.Infof("device connected: %s", address)
	return nil
}

// Disconnect is idempotent; on a connected adapter it stops the pumps and
// hangs up the link.
func (a *Adapter) Disconnect() error {
	if a.State() != StateConnected {
		return nil
	}
	if err := a.machine.Event(context.Background(), "hangup"); err != nil {
		return nil
	}
	a.stopPumps()
	if err := a.link.Disconnect(); err != nil {
		a.logger.Warnf("link disconnect: %v", err)
	}
	a.mu.Lock()
	a.current = nil
	a.mu.Unlock()
	a.machine.Event(context.Background(), "hungup")
	a.emit(Event{Kind: EventDisconnected, Reason: ReasonRequested})
	a.logger.Info("device disconnected")
	return nil
}

// Close tears everything down; used on engine shutdown.
func (a *Adapter) Close() {
	_ = a.Disconnect()
}

func (a *Adapter) stopPumps() {
	a.mu.Lock()
	if a.pumpCancel != nil {
		a.pumpCancel()
		a.pumpCancel = nil
	}
	a.mu.Unlock()
}

// framePump copies link notification payloads into the frame byte ring,
// length-prefixed, and wakes the decoder.
func (a *Adapter) framePump(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-a.link.Frames():
			if !ok {
				return
			}
			if len(frame) == 0 || len(frame) > 0xFFFF {
				continue
			}
			var prefix [2]byte
			binary.LittleEndian.PutUint16(prefix[:], uint16(len(frame)))
			a.frameMu.Lock()
			if a.frameBuf.Free() < len(frame)+2 {
				// Radio outran the decoder; drop the whole backlog rather
				// than desynchronize the length-prefixed stream.
				a.frameBuf.Reset()
				a.pendingFrame = -1
			}
			a.frameBuf.Write(prefix[:])
			a.frameBuf.Write(frame)
			a.frameMu.Unlock()
			select {
			case a.wake <- struct{}{}:
			default:
			}
		}
	}
}

// decodeLoop drains complete frames from the byte ring and pushes decoded
// batches into the sink.
func (a *Adapter) decodeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-a.wake:
		}
		for {
			frame, ok := a.nextFrame()
			if !ok {
				break
			}
			a.handleFrame(frame)
		}
	}
}

// nextFrame pops one complete frame from the byte ring. It consumes the
// length prefix only once two bytes are buffered and the body only once all
// of it is buffered, so a frame that is still arriving stays intact for the
// next pass.
func (a *Adapter) nextFrame() ([]byte, bool) {
	a.frameMu.Lock()
	defer a.frameMu.Unlock()
	if a.pendingFrame < 0 {
		if a.frameBuf.Length() < 2 {
			return nil, false
		}
		var prefix [2]byte
		if n, err := a.frameBuf.Read(prefix[:]); err != nil || n != 2 {
			return nil, false
		}
		a.pendingFrame = int(binary.LittleEndian.Uint16(prefix[:]))
	}
	if a.frameBuf.Length() < a.pendingFrame {
		return nil, false
	}
	frame := make([]byte, a.pendingFrame)
	if n, err := a.frameBuf.Read(frame); err != nil || n != a.pendingFrame {
		return nil, false
	}
	a.pendingFrame = -1
	return frame, true
}

func (a *Adapter) handleFrame(frame []byte) {
	batch, err := a.dec.Decode(frame)
	if err != nil {
		a.decodeErrStreak++
		a.logger.Debugf("frame decode error: %v", err)
		if a.decodeErrStreak >= decodeErrorThreshold {
			a.logger.Errorf("sustained decode failures (%d), treating link as broken", a.decodeErrStreak)
			a.dropLink("sustained decode failures")
		}
		return
	}
	a.decodeErrStreak = 0

	switch batch.Sensor {
	case types.SensorBattery:
		if samples := batch.Samples.([]types.BatterySample); len(samples) > 0 {
			level := samples[len(samples)-1].Level
			if level != a.lastBattery {
				a.lastBattery = level
				a.emit(Event{Kind: EventBatteryChanged, Battery: level})
			}
		}
	case types.SensorEEG:
		if samples := batch.Samples.([]types.EEGSample); len(samples) > 0 {
			last := samples[len(samples)-1]
			lo := [2]bool{last.CH1LeadOff, last.CH2LeadOff}
			if !a.leadOffSeen || lo != a.lastLeadOff {
				a.leadOffSeen = true
				a.lastLeadOff = lo
				a.emit(Event{Kind: EventLeadOffChanged, LeadOff: lo})
			}
		}
	}

	a.mu.Lock()
	sink := a.sink
	a.mu.Unlock()
	if sink != nil {
		sink.OnRawBatch(batch)
	}
}

func (a *Adapter) onGap(sensor types.SensorKind, expected, observed uint16) {
	a.logger.Warnf("frame gap on %s: expected seq %d, observed %d", sensor, expected, observed)
	a.emit(Event{Kind: EventGapDetected, Sensor: sensor, Expected: expected, Observed: observed})
}

// watchLink turns transport drops into unexpected_disconnect lifecycle events
// and kicks off auto-reconnect when the policy allows.
func (a *Adapter) watchLink() {
	for ev := range a.link.Events() {
		if ev.Kind != LinkDown || ev.Reason == "requested" {
			continue
		}
		if a.State() != StateConnected {
			continue
		}
		a.dropLink(ev.Reason)
	}
}

func (a *Adapter) dropLink(reason string) {
	if err := a.machine.Event(context.Background(), "drop"); err != nil {
		return
	}
	a.stopPumps()
	a.mu.Lock()
	a.current = nil
	addr := a.lastAddress
	retry := a.cfg.AutoReconnect
	a.mu.Unlock()
	a.logger.Warnf("unexpected disconnect from %s: %s", addr, reason)
	a.emit(Event{Kind: EventDisconnected, Device: addr, Reason: ReasonUnexpectedDisconnect})

	if retry && addr != "" {
		go a.reconnect(addr)
	}
}

// reconnect retries the last device with exponential backoff.
func (a *Adapter) reconnect(address string) {
	a.mu.Lock()
	if a.reconnecting {
		a.mu.Unlock()
		return
	}
	a.reconnecting = true
	a.mu.Unlock()
	defer func() {
		a.mu.Lock()
		a.reconnecting = false
		a.mu.Unlock()
	}()

	backoff := time.Second
	for attempt := 1; attempt <= a.cfg.ReconnectAttempts; attempt++ {
		time.Sleep(backoff)
		if a.State() != StateIdle {
			return
		}
		a.logger.Infof("auto-reconnect attempt %d to %s", attempt, address)
		if err := a.Connect(context.Background(), address, 0); err == nil {
			return
		}
		backoff *= 2
	}
	a.logger.Warnf("auto-reconnect to %s gave up after %d attempts", address, a.cfg.ReconnectAttempts)
}

func (a *Adapter) emit(ev Event) {
	select {
	case a.events <- ev:
	default:
		a.logger.Warnf("adapter event queue full, dropping %s", ev.Kind)
	}
}
