package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/mindstream-labs/mindstream/internal/config"
	"github.com/mindstream-labs/mindstream/internal/types"
	"github.com/mindstream-labs/mindstream/pkg/Logger"
)

// Bus is the typed pub/sub fan-out over WebSocket. One logical instance
// serves both the standalone listener and the HTTP-mounted endpoint; they
// are views onto the same subscriber set.
type Bus struct {
	logger *Logger.Logger
	cfg    config.BusConfig

	mu      sync.RWMutex
	clients map[uuid.UUID]*Client

	commander Commander
}

func NewBus(cfg config.BusConfig, logger *Logger.Logger) *Bus {
	return &Bus{
		logger:  logger,
		cfg:     cfg,
		clients: make(map[uuid.UUID]*Client),
	}
}

// SetCommander wires the coordinator in; must be called before serving.
func (b *Bus) SetCommander(c Commander) { b.commander = c }

// ClientCount reports the number of connected clients.
func (b *Bus) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// Publish fans one message out to every subscriber of ch. The payload is
// serialized once and shared; per-subscriber delivery is FIFO per channel.
// Returns false if no subscriber could take it (all queues refused).
func (b *Bus) Publish(ch types.Channel, mt types.MessageType, data any) bool {
	env := types.Envelope{
		Type:      mt,
		Channel:   ch,
		Timestamp: float64(time.Now().UnixNano()) / 1e9,
		Data:      data,
	}
	raw, err := json.Marshal(env)
	if err != nil {
		b.logger.Errorf("publish marshal on %s: %v", ch, err)
		return false
	}

	b.mu.RLock()
	targets := make([]*Client, 0, len(b.clients))
	for _, c := range b.clients {
		if c.Subscribed(ch) {
			targets = append(targets, c)
		}
	}
	b.mu.RUnlock()

	if len(targets) == 0 {
		return true // nobody interested is not a refusal
	}

	lagWindow := time.Duration(b.cfg.SlowConsumerWinMs) * time.Millisecond
	delivered := false
	for _, c := range targets {
		if c.enqueue(outMsg{channel: ch, data: raw}, b.cfg.SlowConsumerLag, lagWindow) {
			delivered = true
		} else {
			b.logger.Warnf("client %s exceeded lag threshold on %s, disconnecting", c.ID, ch)
			go b.dropClient(c, CloseSlowConsumer)
		}
	}
	return delivered
}

// ServeConn runs one client connection to completion: greeting, reader loop,
// cleanup. Called from both endpoints.
func (b *Bus) ServeConn(conn *websocket.Conn) {
	client := newClient(conn, b.cfg.ClientSendQueue)

	b.mu.Lock()
	b.clients[client.ID] = client
	b.mu.Unlock()
	b.logger.Infof("client %s connected (%d total)", client.ID, b.ClientCount())

	go client.writeLoop()
	client.sendDirect(types.Envelope{
		Type:      types.MessageTypeGreeting,
		Timestamp: now(),
		Data: map[string]any{
			"server_version": ServerVersion,
			"client_id":      client.ID.String(),
		},
	})

	defer b.unregister(client)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				b.logger.Warnf("client %s read error: %v", client.ID, err)
			}
			return
		}
		select {
		case <-client.done:
			return
		default:
		}
		b.handleFrame(client, data)
	}
}

func (b *Bus) handleFrame(c *Client, data []byte) {
	var frame types.ClientFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		c.sendDirect(errorEnvelope("MALFORMED_COMMAND", "frame is not valid JSON"))
		return
	}

	switch frame.Type {
	case "subscribe":
		ch := types.Channel(frame.Channel)
		if !types.ValidChannel(ch) {
			c.sendDirect(errorEnvelope("UNKNOWN_CHANNEL", "unknown channel: "+frame.Channel))
			return
		}
		c.subscribe(ch)
		c.sendDirect(types.Envelope{
			Type:      types.MessageTypeSubConfirmed,
			Channel:   ch,
			Timestamp: now(),
			Data:      map[string]any{"channel": ch, "subscribed": true},
		})

	case "unsubscribe":
		ch := types.Channel(frame.Channel)
		c.unsubscribe(ch)
		c.sendDirect(types.Envelope{
			Type:      types.MessageTypeSubConfirmed,
			Channel:   ch,
			Timestamp: now(),
			Data:      map[string]any{"channel": ch, "subscribed": false},
		})

	case "ping":
		c.sendDirect(types.Envelope{Type: types.MessageTypePong, Timestamp: now()})

	case "command":
		b.handleCommand(c, frame)

	default:
		c.sendDirect(errorEnvelope("MALFORMED_COMMAND", "unknown frame type: "+frame.Type))
	}
}

func (b *Bus) handleCommand(c *Client, frame types.ClientFrame) {
	if frame.Command == "health_check" {
		var snapshot any
		if b.commander != nil {
			snapshot = b.commander.StatusSnapshot()
		}
		c.sendDirect(types.Envelope{
			Type:      types.MessageTypeHealthCheck,
			Timestamp: now(),
			Data:      snapshot,
		})
		return
	}
	if b.commander == nil {
		c.sendDirect(errorEnvelope("MALFORMED_COMMAND", "no command handler"))
		return
	}
	result, err := b.commander.HandleCommand(context.Background(), frame.Command, frame.Params)
	if err != nil {
		if ee, ok := err.(*types.EngineError); ok {
			c.sendDirect(errorEnvelope(string(ee.Code), ee.Message))
		} else {
			c.sendDirect(errorEnvelope("MALFORMED_COMMAND", err.Error()))
		}
		return
	}
	c.sendDirect(types.Envelope{
		Type:      types.MessageTypeEvent,
		Timestamp: now(),
		Data:      map[string]any{"command": frame.Command, "result": result},
	})
}

func (b *Bus) unregister(c *Client) {
	c.shutdown()
	b.mu.Lock()
	delete(b.clients, c.ID)
	b.mu.Unlock()
	b.logger.Infof("client %s disconnected (%d total)", c.ID, b.ClientCount())
}

func (b *Bus) dropClient(c *Client, reason CloseReason) {
	c.closeWith(reason)
	b.mu.Lock()
	delete(b.clients, c.ID)
	b.mu.Unlock()
}

// Close disconnects every client; used during shutdown after producers stop.
func (b *Bus) Close() {
	b.mu.Lock()
	clients := make([]*Client, 0, len(b.clients))
	for _, c := range b.clients {
		clients = append(clients, c)
	}
	b.clients = make(map[uuid.UUID]*Client)
	b.mu.Unlock()
	for _, c := range clients {
		c.closeWith(CloseShutdown)
	}
}

func errorEnvelope(code, message string) types.Envelope {
	return types.Envelope{
		Type:      types.MessageTypeError,
		Timestamp: now(),
		Data:      map[string]any{"code": code, "message": message},
	}
}

func now() float64 { return float64(time.Now().UnixNano()) / 1e9 }
