// Package realtime owns the websocket notification channel: a per-instance
// connection hub plus a broker backplane that relays pushes between instances.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"k8s.io/klog/v2"

	"ordermesh/pkg/apiserver/backplane"
	"ordermesh/pkg/apiserver/config"
	"ordermesh/pkg/apiserver/infrastructure/resilience"
	"ordermesh/pkg/apiserver/infrastructure/statestore"
)

const defaultSendBuffer = 16

// Hub tracks the websocket connections held by this instance, grouped by user,
// and fans backplane frames out to them. A user may hold several connections
// (multiple tabs); every one of them receives each push.
type Hub struct {
	broker   backplane.Broker
	policy   *resilience.Policy
	channel  string
	sendBuf  int
	registry *statestore.Registry
	workflow *statestore.WorkflowStore
	cfg      config.RealtimeConfig

	mu    sync.RWMutex
	conns map[string]map[*Conn]struct{}
}

// NewHub builds a hub over the given backplane broker. Publishes onto the
// backplane run under policy, like every other broker call. The registry and
// workflow store back the connection-level operations.
func NewHub(broker backplane.Broker, policy *resilience.Policy, cfg config.RealtimeConfig, registry *statestore.Registry, workflow *statestore.WorkflowStore) *Hub {
	sendBuf := cfg.SendBuffer
	if sendBuf <= 0 {
		sendBuf = defaultSendBuffer
	}
	return &Hub{
		broker:   broker,
		policy:   policy,
		channel:  cfg.BackplaneChannel,
		sendBuf:  sendBuf,
		registry: registry,
		workflow: workflow,
		cfg:      cfg,
		conns:    make(map[string]map[*Conn]struct{}),
	}
}

// Run subscribes to the backplane and delivers incoming frames to local
// connections until ctx is cancelled. It blocks.
func (h *Hub) Run(ctx context.Context) error {
	sub, err := h.broker.Subscribe(ctx, h.channel)
	if err != nil {
		return fmt.Errorf("subscribe backplane channel %s: %w", h.channel, err)
	}
	defer func() {
		if err := sub.Unsubscribe(context.Background()); err != nil {
			klog.Warningf("unsubscribe backplane: %v", err)
		}
	}()
	klog.Infof("realtime hub subscribed to backplane channel %s", h.channel)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case payload, ok := <-sub.C():
			if !ok {
				return fmt.Errorf("backplane subscription closed")
			}
			var env envelope
			if err := json.Unmarshal(payload, &env); err != nil {
				klog.Errorf("discard malformed backplane frame: %v", err)
				continue
			}
			h.deliverLocal(env.UserID, env.Frame)
		}
	}
}

// NotifyUser publishes a notification for userID onto the backplane. Every
// instance, this one included, delivers it to the user's live connections.
func (h *Hub) NotifyUser(ctx context.Context, userID string, n Notification) error {
	frame, err := json.Marshal(serverFrame{
		Type:          "notification",
		CorrelationID: n.CorrelationID,
		Status:        n.Status,
		OrderID:       n.OrderID,
	})
	if err != nil {
		return fmt.Errorf("marshal notification frame: %w", err)
	}
	payload, err := json.Marshal(envelope{UserID: userID, Frame: frame})
	if err != nil {
		return fmt.Errorf("marshal backplane envelope: %w", err)
	}
	return h.policy.Execute(ctx, func(ctx context.Context) error {
		return h.broker.Publish(ctx, h.channel, payload)
	})
}

// deliverLocal writes a frame to every local connection of userID. Slow
// consumers whose buffers are full lose the frame rather than stalling the
// fan-out loop.
func (h *Hub) deliverLocal(userID string, frame []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for conn := range h.conns[userID] {
		select {
		case conn.send <- frame:
		default:
			klog.Warningf("drop frame for slow connection of user %s", userID)
		}
	}
}

func (h *Hub) register(conn *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.conns[conn.userID]
	if set == nil {
		set = make(map[*Conn]struct{})
		h.conns[conn.userID] = set
	}
	set[conn] = struct{}{}
}

func (h *Hub) unregister(conn *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.conns[conn.userID]
	delete(set, conn)
	if len(set) == 0 {
		delete(h.conns, conn.userID)
	}
}

// ConnectionCount reports the number of live connections for a user.
func (h *Hub) ConnectionCount(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns[userID])
}
