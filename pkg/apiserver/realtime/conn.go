package realtime

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"k8s.io/klog/v2"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	maxMessageSize = 4 << 10
)

// Conn is one websocket connection of an authenticated user.
type Conn struct {
	hub    *Hub
	ws     *websocket.Conn
	userID string
	send   chan []byte
}

// HandleConn services an upgraded websocket connection until it closes. The
// caller has already authenticated the user; userID must be non-empty.
func (h *Hub) HandleConn(ctx context.Context, ws *websocket.Conn, userID string) {
	conn := &Conn{
		hub:    h,
		ws:     ws,
		userID: userID,
		send:   make(chan []byte, h.sendBuf),
	}
	h.register(conn)
	defer h.unregister(conn)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go conn.writePump(ctx, cancel)
	conn.readPump(ctx, cancel)
}

// readPump consumes client operation frames until the connection errors.
func (c *Conn) readPump(ctx context.Context, cancel context.CancelFunc) {
	defer cancel()
	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				klog.V(4).Infof("websocket read for user %s: %v", c.userID, err)
			}
			return
		}
		c.handleOp(ctx, raw)
	}
}

// writePump drains the send buffer and keeps the connection alive with pings.
func (c *Conn) writePump(ctx context.Context, cancel context.CancelFunc) {
	defer cancel()
	interval := c.hub.cfg.PingInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()
	for {
		select {
		case <-ctx.Done():
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.ws.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case frame := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleOp dispatches one client operation frame.
func (c *Conn) handleOp(ctx context.Context, raw []byte) {
	var op clientOp
	if err := json.Unmarshal(raw, &op); err != nil {
		c.reply(serverFrame{Type: "error", Message: "malformed frame"})
		return
	}
	switch op.Op {
	case "ping":
		c.reply(serverFrame{Type: "pong"})
	case "registerOrder":
		if op.CorrelationID == "" {
			c.reply(serverFrame{Type: "error", Message: "correlationId is required"})
			return
		}
		if err := c.hub.registry.Register(ctx, op.CorrelationID, c.userID); err != nil {
			klog.Errorf("register order %s for user %s: %v", op.CorrelationID, c.userID, err)
			c.reply(serverFrame{Type: "error", CorrelationID: op.CorrelationID, Message: "registration failed"})
			return
		}
		c.reply(serverFrame{Type: "registered", CorrelationID: op.CorrelationID})
	case "getCurrentStatus":
		if op.CorrelationID == "" {
			c.reply(serverFrame{Type: "error", Message: "correlationId is required"})
			return
		}
		state, err := c.hub.workflow.Get(ctx, op.CorrelationID)
		if err != nil {
			klog.Errorf("read status %s for user %s: %v", op.CorrelationID, c.userID, err)
			c.reply(serverFrame{Type: "error", CorrelationID: op.CorrelationID, Message: "status lookup failed"})
			return
		}
		if state == nil {
			c.reply(serverFrame{Type: "status", CorrelationID: op.CorrelationID, Absent: true})
			return
		}
		c.reply(serverFrame{Type: "status", CorrelationID: op.CorrelationID, Status: state.Status, OrderID: state.OrderID})
	default:
		c.reply(serverFrame{Type: "error", Message: "unknown op"})
	}
}

// reply enqueues a frame on this connection, dropping it when the buffer is full.
func (c *Conn) reply(frame serverFrame) {
	raw, err := json.Marshal(frame)
	if err != nil {
		klog.Errorf("marshal reply frame: %v", err)
		return
	}
	select {
	case c.send <- raw:
	default:
		klog.Warningf("drop reply for slow connection of user %s", c.userID)
	}
}
