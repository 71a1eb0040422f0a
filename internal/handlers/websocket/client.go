package websocket

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/mindstream-labs/mindstream/internal/types"
)

const writeTimeout = 5 * time.Second

// outMsg is one queued frame: pre-serialized payload plus the channel it was
// published on, so overflow can evict oldest-of-same-channel first.
type outMsg struct {
	channel types.Channel
	data    []byte
}

// Client is one bus subscriber: a reader goroutine owned by the handler and
// a writer goroutine draining the bounded send queue.
type Client struct {
	ID   uuid.UUID
	conn *websocket.Conn

	mu        sync.Mutex
	subs      map[types.Channel]struct{}
	queue     []outMsg
	queueMax  int
	lag       int
	lagWindow time.Time
	closed    bool

	wake      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

func newClient(conn *websocket.Conn, queueMax int) *Client {
	return &Client{
		ID:        uuid.New(),
		conn:      conn,
		subs:      make(map[types.Channel]struct{}),
		queueMax:  queueMax,
		lagWindow: time.Now(),
		wake:      make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
}

// Subscribed reports whether the client listens on ch.
func (c *Client) Subscribed(ch types.Channel) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.subs[ch]
	return ok
}

// Subscriptions returns a copy of the channel set.
func (c *Client) Subscriptions() []types.Channel {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]types.Channel, 0, len(c.subs))
	for ch := range c.subs {
		out = append(out, ch)
	}
	return out
}

func (c *Client) subscribe(ch types.Channel)   { c.mu.Lock(); c.subs[ch] = struct{}{}; c.mu.Unlock() }
func (c *Client) unsubscribe(ch types.Channel) { c.mu.Lock(); delete(c.subs, ch); c.mu.Unlock() }

// enqueue appends a message under the overflow policy: when full, drop the
// oldest message of the same channel, else drop the new message. Every
// publish that finds the queue full charges the client's lag counter — the
// eviction only decides which message is lost, not whether the client is
// keeping up. Returns false when the lag crossed the slow-consumer threshold.
func (c *Client) enqueue(msg outMsg, lagThreshold int, lagWindow time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return true
	}

	if len(c.queue) < c.queueMax {
		c.queue = append(c.queue, msg)
		select {
		case c.wake <- struct{}{}:
		default:
		}
		return true
	}

	if time.Since(c.lagWindow) > lagWindow {
		c.lag = 0
		c.lagWindow = time.Now()
	}
	c.lag++

	for i, queued := range c.queue {
		if queued.channel == msg.channel {
			c.queue = append(c.queue[:i], c.queue[i+1:]...)
			c.queue = append(c.queue, msg)
			break
		}
	}
	return c.lag <= lagThreshold
}

// sendDirect serializes and enqueues a per-client frame (pong, errors,
// confirmations), bypassing subscription routing.
func (c *Client) sendDirect(env types.Envelope) {
	data, err := json.Marshal(env)
	if err != nil {
		return
	}
	c.enqueue(outMsg{channel: env.Channel, data: data}, 1<<30, time.Hour)
}

// writeLoop drains the queue to the socket. Exits on write failure or close.
func (c *Client) writeLoop() {
	for {
		select {
		case <-c.done:
			return
		case <-c.wake:
		}
		for {
			c.mu.Lock()
			if len(c.queue) == 0 {
				c.mu.Unlock()
				break
			}
			msg := c.queue[0]
			c.queue = c.queue[1:]
			c.mu.Unlock()

			c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg.data); err != nil {
				c.shutdown()
				return
			}
		}
	}
}

// closeWith notifies the peer and tears the connection down.
func (c *Client) closeWith(reason CloseReason) {
	msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, string(reason))
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	c.conn.WriteMessage(websocket.CloseMessage, msg)
	c.shutdown()
}

func (c *Client) shutdown() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.queue = nil
		c.mu.Unlock()
		close(c.done)
		c.conn.Close()
	})
}
