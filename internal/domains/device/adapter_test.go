package device

import (
	"bytes"
	"context"
	"encoding/binary"
	"sync"
	"testing"
	"time"

	"github.com/mindstream-labs/mindstream/internal/config"
	"github.com/mindstream-labs/mindstream/internal/types"
	"github.com/mindstream-labs/mindstream/pkg/Logger"
)

func newTestAdapter(autoReconnect bool) (*Adapter, *SimLink) {
	link := NewSimLink()
	cfg := config.DeviceConfig{
		Link:                "sim",
		ScanDefaultDuration: 1,
		ConnectTimeout:      5,
		AutoReconnect:       autoReconnect,
		ReconnectAttempts:   2,
	}
	return NewAdapter(cfg, link, Logger.New(true)), link
}

func TestScanZeroDurationReturnsImmediately(t *testing.T) {
	a, _ := newTestAdapter(false)
	defer a.Close()

	start := time.Now()
	found, err := a.Scan(context.Background(), 0)
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	if found == nil || len(found) != 0 {
		t.Errorf("zero-duration scan should return an empty list, got %v", found)
	}
	if time.Since(start) > 100*time.Millisecond {
		t.Error("zero-duration scan should not wait")
	}
	if a.State() != StateIdle {
		t.Errorf("adapter should be idle after scan, got %s", a.State())
	}
}

func TestScanFindsSimulatedUnit(t *testing.T) {
	a, _ := newTestAdapter(false)
	defer a.Close()

	found, err := a.Scan(context.Background(), 200*time.Millisecond)
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	if len(found) != 1 || found[0].Address != SimAddress {
		t.Fatalf("expected the simulated unit, got %v", found)
	}
	if found[0].RSSI == nil {
		t.Error("simulated unit advertises an RSSI hint")
	}
}

func TestConnectDeliversBatches(t *testing.T) {
	a, _ := newTestAdapter(false)
	defer a.Close()

	var mu sync.Mutex
	got := map[types.SensorKind]int{}
	a.SetSink(SinkFunc(func(b types.RawBatch) {
		mu.Lock()
		got[b.Sensor]++
		mu.Unlock()
	}))

	if err := a.Connect(context.Background(), SimAddress, 0); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	if a.State() != StateConnected {
		t.Fatalf("expected connected, got %s", a.State())
	}

	time.Sleep(500 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	for _, sensor := range []types.SensorKind{types.SensorEEG, types.SensorPPG, types.SensorACC, types.SensorBattery} {
		if got[sensor] == 0 {
			t.Errorf("no %s batches arrived", sensor)
		}
	}
}

func TestDisconnectIsIdempotent(t *testing.T) {
	a, _ := newTestAdapter(false)
	defer a.Close()

	if err := a.Disconnect(); err != nil {
		t.Errorf("disconnect on idle adapter should succeed, got %v", err)
	}

	if err := a.Connect(context.Background(), SimAddress, 0); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	if err := a.Disconnect(); err != nil {
		t.Errorf("disconnect failed: %v", err)
	}
	if err := a.Disconnect(); err != nil {
		t.Errorf("second disconnect should be a no-op, got %v", err)
	}
	if a.State() != StateIdle {
		t.Errorf("expected idle, got %s", a.State())
	}
	if a.Current() != nil {
		t.Error("no descriptor should remain after disconnect")
	}
}

func TestUnexpectedLinkLossEmitsEvent(t *testing.T) {
	a, link := newTestAdapter(false)
	defer a.Close()

	if err := a.Connect(context.Background(), SimAddress, 0); err != nil {
		t.Fatalf("connect failed: %v", err)
	}

	link.Kill()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-a.Events():
			if ev.Kind == EventDisconnected {
				if ev.Reason != ReasonUnexpectedDisconnect {
					t.Fatalf("expected unexpected_disconnect, got %s", ev.Reason)
				}
				if a.State() == StateConnected {
					t.Error("adapter must leave connected state on link loss")
				}
				return
			}
		case <-deadline:
			t.Fatal("no disconnected event after link loss")
		}
	}
}

func TestNextFramePartialBodyIsNotLost(t *testing.T) {
	a, _ := newTestAdapter(false)
	defer a.Close()

	frame := eegFrame(0, [][3]int16{{100, -100, 0}, {200, -200, 0}})
	var prefix [2]byte
	binary.LittleEndian.PutUint16(prefix[:], uint16(len(frame)))

	// The pump has delivered the prefix and half the body so far.
	a.frameBuf.Write(prefix[:])
	a.frameBuf.Write(frame[:len(frame)/2])
	if _, ok := a.nextFrame(); ok {
		t.Fatal("half-arrived frame must not decode yet")
	}

	// The rest of the body lands, then a second full frame behind it.
	a.frameBuf.Write(frame[len(frame)/2:])
	next := eegFrame(1, [][3]int16{{300, -300, 0}})
	binary.LittleEndian.PutUint16(prefix[:], uint16(len(next)))
	a.frameBuf.Write(prefix[:])
	a.frameBuf.Write(next)

	got, ok := a.nextFrame()
	if !ok || !bytes.Equal(got, frame) {
		t.Fatalf("first frame lost or corrupted: ok=%v got=%v", ok, got)
	}
	got, ok = a.nextFrame()
	if !ok || !bytes.Equal(got, next) {
		t.Fatalf("stream desynchronized after partial read: ok=%v got=%v", ok, got)
	}
	if _, ok := a.nextFrame(); ok {
		t.Error("drained ring should yield no frame")
	}
}

func TestConnectWhileConnectedIsBusy(t *testing.T) {
	a, _ := newTestAdapter(false)
	defer a.Close()

	if err := a.Connect(context.Background(), SimAddress, 0); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	err := a.Connect(context.Background(), SimAddress, 0)
	if err == nil {
		t.Fatal("second connect should fail")
	}
	ee, ok := err.(*types.EngineError)
	if !ok || ee.Code != types.CodeDeviceBusy {
		t.Errorf("expected DEVICE_BUSY, got %v", err)
	}
}
