package gateway

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/haasonsaas/relay/internal/runtime"
)

// eventFrame wraps a runtime event for the wire. Responses go out as plain
// JSON-RPC objects; events carry a distinguishing type tag.
type eventFrame struct {
	Type    string `json:"type"`
	Event   string `json:"event"`
	Payload any    `json:"payload,omitempty"`
}

// client is one websocket connection: a read loop dispatching JSON-RPC
// requests and a write loop draining the send queue.
type client struct {
	server *Server
	conn   *websocket.Conn
	send   chan []byte

	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
}

func newClient(s *Server, conn *websocket.Conn) *client {
	ctx, cancel := context.WithCancel(context.Background())
	return &client{
		server: s,
		conn:   conn,
		send:   make(chan []byte, wsSendQueueDepth),
		ctx:    ctx,
		cancel: cancel,
	}
}

func (c *client) run() {
	events, unsubscribe := c.server.rt.Events().Subscribe()
	defer unsubscribe()

	go c.writeLoop()
	go c.forwardEvents(events)
	c.readLoop()
	c.close()
}

func (c *client) close() {
	c.once.Do(func() {
		c.cancel()
		_ = c.conn.Close()
	})
}

func (c *client) readLoop() {
	c.conn.SetReadLimit(wsMaxPayloadBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		resp := c.server.router.HandleMessage(c.ctx, data)
		payload, err := json.Marshal(resp)
		if err != nil {
			if c.server.opts.Logger != nil {
				c.server.opts.Logger.Error(c.ctx, "marshal rpc response", "error", err.Error())
			}
			continue
		}
		if !c.enqueue(payload) {
			return
		}
	}
}

func (c *client) writeLoop() {
	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.close()
				return
			}
		case <-ping.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		}
	}
}

func (c *client) forwardEvents(events <-chan runtime.Event) {
	for {
		select {
		case <-c.ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				c.close()
				return
			}
			payload, err := json.Marshal(eventFrame{Type: "event", Event: ev.Type, Payload: ev.Payload})
			if err != nil {
				continue
			}
			if !c.enqueue(payload) {
				return
			}
		}
	}
}

// enqueue queues a frame for the write loop. A client whose queue stays
// full is dropped rather than allowed to stall the runtime.
func (c *client) enqueue(payload []byte) bool {
	select {
	case c.send <- payload:
		return true
	case <-c.ctx.Done():
		return false
	default:
	}

	select {
	case c.send <- payload:
		return true
	case <-time.After(wsWriteWait):
		if c.server.opts.Metrics != nil {
			c.server.opts.Metrics.RecordDroppedEvent("ws_backpressure")
		}
		c.close()
		return false
	case <-c.ctx.Done():
		return false
	}
}
