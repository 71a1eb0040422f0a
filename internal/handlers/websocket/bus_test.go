package websocket

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mindstream-labs/mindstream/internal/config"
	"github.com/mindstream-labs/mindstream/internal/types"
	"github.com/mindstream-labs/mindstream/pkg/Logger"
)

func testBusConfig() config.BusConfig {
	return config.BusConfig{
		WSPort:            0,
		ClientSendQueue:   32,
		SlowConsumerLag:   4,
		SlowConsumerWinMs: 10000,
	}
}

func TestEnqueueEvictsOldestSameChannel(t *testing.T) {
	c := newClient(nil, 2)
	c.enqueue(outMsg{channel: types.ChannelRawEEG, data: []byte("a")}, 4, time.Hour)
	c.enqueue(outMsg{channel: types.ChannelRawEEG, data: []byte("b")}, 4, time.Hour)

	if !c.enqueue(outMsg{channel: types.ChannelRawEEG, data: []byte("c")}, 4, time.Hour) {
		t.Fatal("one overflow is within the threshold, should still be tolerated")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.queue) != 2 {
		t.Fatalf("queue should stay at capacity, got %d", len(c.queue))
	}
	if string(c.queue[0].data) != "b" || string(c.queue[1].data) != "c" {
		t.Errorf("oldest same-channel frame should be evicted, queue = %q %q",
			c.queue[0].data, c.queue[1].data)
	}
}

func TestEnqueueLagCrossesThreshold(t *testing.T) {
	c := newClient(nil, 1)
	c.enqueue(outMsg{channel: types.ChannelRawEEG, data: []byte("a")}, 4, time.Hour)

	// no same-channel victim: each attempt charges the lag counter
	for i := 1; i <= 4; i++ {
		if !c.enqueue(outMsg{channel: types.ChannelEvent, data: []byte("x")}, 4, time.Hour) {
			t.Fatalf("attempt %d is within the threshold, should still be tolerated", i)
		}
	}
	if c.enqueue(outMsg{channel: types.ChannelEvent, data: []byte("x")}, 4, time.Hour) {
		t.Error("fifth dropped frame crosses the threshold, enqueue should report slow consumer")
	}
}

func TestEnqueueSingleChannelOverflowStillChargesLag(t *testing.T) {
	c := newClient(nil, 2)
	c.enqueue(outMsg{channel: types.ChannelProcessedPPG, data: []byte("a")}, 4, time.Hour)
	c.enqueue(outMsg{channel: types.ChannelProcessedPPG, data: []byte("b")}, 4, time.Hour)

	// every full-queue publish counts against the client, even though the
	// same-channel eviction keeps finding a victim
	for i := 1; i <= 4; i++ {
		if !c.enqueue(outMsg{channel: types.ChannelProcessedPPG, data: []byte("x")}, 4, time.Hour) {
			t.Fatalf("overflow %d is within the threshold, should still be tolerated", i)
		}
	}
	if c.enqueue(outMsg{channel: types.ChannelProcessedPPG, data: []byte("x")}, 4, time.Hour) {
		t.Error("a client overflowing on its only channel must still be flagged slow")
	}
}

func TestEnqueueLagWindowResets(t *testing.T) {
	c := newClient(nil, 1)
	c.enqueue(outMsg{channel: types.ChannelRawEEG, data: []byte("a")}, 4, time.Hour)

	for i := 0; i < 20; i++ {
		// an expired window resets the counter before every charge
		if !c.enqueue(outMsg{channel: types.ChannelEvent, data: []byte("x")}, 4, time.Nanosecond) {
			t.Fatal("lag inside a fresh window must never cross the threshold")
		}
		time.Sleep(time.Millisecond)
	}
}

// busServer stands a Bus behind an httptest server and returns a dialer URL.
func busServer(t *testing.T) (*Bus, string) {
	t.Helper()
	bus := NewBus(testBusConfig(), Logger.New(true))
	h := NewHandler(bus, Logger.New(true))
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := h.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		bus.ServeConn(conn)
	}))
	t.Cleanup(srv.Close)
	return bus, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) types.Envelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	var env types.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("bad envelope %q: %v", data, err)
	}
	return env
}

func sendFrame(t *testing.T, conn *websocket.Conn, frame types.ClientFrame) {
	t.Helper()
	if err := conn.WriteJSON(frame); err != nil {
		t.Fatalf("write failed: %v", err)
	}
}

func TestGreetingOnConnect(t *testing.T) {
	_, url := busServer(t)
	conn := dial(t, url)

	env := readEnvelope(t, conn)
	if env.Type != types.MessageTypeGreeting {
		t.Fatalf("first frame should be the greeting, got %s", env.Type)
	}
	data := env.Data.(map[string]any)
	if data["server_version"] != ServerVersion {
		t.Errorf("greeting carries server_version %v, want %s", data["server_version"], ServerVersion)
	}
	if id, _ := data["client_id"].(string); id == "" {
		t.Error("greeting should carry the assigned client_id")
	}
}

func TestSubscribeConfirmAndUnknownChannel(t *testing.T) {
	_, url := busServer(t)
	conn := dial(t, url)
	readEnvelope(t, conn) // greeting

	sendFrame(t, conn, types.ClientFrame{Type: "subscribe", Channel: "processed_eeg"})
	env := readEnvelope(t, conn)
	if env.Type != types.MessageTypeSubConfirmed {
		t.Fatalf("expected subscription_confirmed, got %s", env.Type)
	}
	if env.Channel != types.ChannelProcessedEEG {
		t.Errorf("confirmation names the channel, got %s", env.Channel)
	}

	sendFrame(t, conn, types.ClientFrame{Type: "subscribe", Channel: "telepathy"})
	env = readEnvelope(t, conn)
	if env.Type != types.MessageTypeError {
		t.Fatalf("expected error frame, got %s", env.Type)
	}
	data := env.Data.(map[string]any)
	if data["code"] != "UNKNOWN_CHANNEL" {
		t.Errorf("expected UNKNOWN_CHANNEL, got %v", data["code"])
	}
}

func TestPublishReachesOnlySubscribers(t *testing.T) {
	bus, url := busServer(t)

	eegConn := dial(t, url)
	readEnvelope(t, eegConn)
	sendFrame(t, eegConn, types.ClientFrame{Type: "subscribe", Channel: "processed_eeg"})
	readEnvelope(t, eegConn)

	ppgConn := dial(t, url)
	readEnvelope(t, ppgConn)
	sendFrame(t, ppgConn, types.ClientFrame{Type: "subscribe", Channel: "processed_ppg"})
	readEnvelope(t, ppgConn)

	if bus.ClientCount() != 2 {
		t.Fatalf("expected 2 clients, got %d", bus.ClientCount())
	}

	bus.Publish(types.ChannelProcessedEEG, types.MessageTypeProcessedData, map[string]any{"alpha": 1.5})

	env := readEnvelope(t, eegConn)
	if env.Channel != types.ChannelProcessedEEG || env.Type != types.MessageTypeProcessedData {
		t.Errorf("subscriber got wrong frame: %s on %s", env.Type, env.Channel)
	}

	// the PPG subscriber must see nothing; a follow-up ping flushes the pipe
	sendFrame(t, ppgConn, types.ClientFrame{Type: "ping"})
	env = readEnvelope(t, ppgConn)
	if env.Type != types.MessageTypePong {
		t.Errorf("PPG subscriber should only see its pong, got %s on %s", env.Type, env.Channel)
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	bus, url := busServer(t)
	conn := dial(t, url)
	readEnvelope(t, conn)

	sendFrame(t, conn, types.ClientFrame{Type: "subscribe", Channel: "battery"})
	readEnvelope(t, conn)
	sendFrame(t, conn, types.ClientFrame{Type: "unsubscribe", Channel: "battery"})
	env := readEnvelope(t, conn)
	if env.Type != types.MessageTypeSubConfirmed {
		t.Fatalf("expected unsubscribe confirmation, got %s", env.Type)
	}
	if data := env.Data.(map[string]any); data["subscribed"] != false {
		t.Errorf("confirmation should report subscribed=false, got %v", data["subscribed"])
	}

	bus.Publish(types.ChannelBattery, types.MessageTypeSensorData, map[string]any{"level": 80})
	sendFrame(t, conn, types.ClientFrame{Type: "ping"})
	if env := readEnvelope(t, conn); env.Type != types.MessageTypePong {
		t.Errorf("unsubscribed client still receives %s on %s", env.Type, env.Channel)
	}
}

func TestMalformedFrameReturnsError(t *testing.T) {
	_, url := busServer(t)
	conn := dial(t, url)
	readEnvelope(t, conn)

	conn.SetWriteDeadline(time.Now().Add(time.Second))
	if err := conn.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	env := readEnvelope(t, conn)
	if env.Type != types.MessageTypeError {
		t.Fatalf("expected error frame, got %s", env.Type)
	}
	if data := env.Data.(map[string]any); data["code"] != "MALFORMED_COMMAND" {
		t.Errorf("expected MALFORMED_COMMAND, got %v", data["code"])
	}
}

func TestSlowConsumerIsDisconnected(t *testing.T) {
	cfg := testBusConfig()
	cfg.ClientSendQueue = 4
	cfg.SlowConsumerLag = 8
	bus := NewBus(cfg, Logger.New(true))

	serverConns := make(chan *websocket.Conn, 1)
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		serverConns <- conn
	}))
	t.Cleanup(srv.Close)

	peer := dial(t, "ws"+strings.TrimPrefix(srv.URL, "http"))
	conn := <-serverConns

	// a subscriber whose writer goroutine has stalled: the queue fills once
	// and stays full while publishes keep arriving
	client := newClient(conn, cfg.ClientSendQueue)
	client.subscribe(types.ChannelProcessedPPG)
	bus.mu.Lock()
	bus.clients[client.ID] = client
	bus.mu.Unlock()

	// one second of 50 Hz PPG traffic on its only channel
	for i := 0; i < 50; i++ {
		bus.Publish(types.ChannelProcessedPPG, types.MessageTypeProcessedData, map[string]any{"n": i})
	}

	deadline := time.Now().Add(2 * time.Second)
	for bus.ClientCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("slow consumer was not dropped within 2 s")
		}
		time.Sleep(10 * time.Millisecond)
	}

	peer.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		_, _, err := peer.ReadMessage()
		if err == nil {
			continue
		}
		var ce *websocket.CloseError
		if !errors.As(err, &ce) {
			t.Fatalf("expected a close frame, got %v", err)
		}
		if ce.Text != string(CloseSlowConsumer) {
			t.Errorf("close reason = %q, want %q", ce.Text, CloseSlowConsumer)
		}
		return
	}
}

func TestPublishWithNoSubscribersIsNotRefusal(t *testing.T) {
	bus, _ := busServer(t)
	if !bus.Publish(types.ChannelRawEEG, types.MessageTypeRawData, map[string]any{"n": 1}) {
		t.Error("publishing into silence is not back-pressure")
	}
}
