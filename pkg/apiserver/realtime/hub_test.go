package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"ordermesh/pkg/apiserver/backplane"
	"ordermesh/pkg/apiserver/config"
	"ordermesh/pkg/apiserver/infrastructure/resilience"
)

func testRealtimeConfig() config.RealtimeConfig {
	return config.RealtimeConfig{
		BackplaneChannel: "test.notifications",
		SendBuffer:       4,
		PingInterval:     time.Minute,
	}
}

func testPublishPolicy() *resilience.Policy {
	return resilience.NewPolicy("backplane-publish", config.ResilienceConfig{
		AttemptTimeout:  time.Second,
		BreakerFailures: 100,
		BreakerCooldown: time.Second,
	})
}

func newBackplaneHub(t *testing.T, mr *miniredis.Miniredis) *Hub {
	t.Helper()
	cli := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = cli.Close() })
	return NewHub(backplane.NewRedisBrokerWithClient(cli), testPublishPolicy(), testRealtimeConfig(), nil, nil)
}

func attachConn(hub *Hub, userID string) *Conn {
	conn := &Conn{hub: hub, userID: userID, send: make(chan []byte, 4)}
	hub.register(conn)
	return conn
}

func awaitFrame(t *testing.T, conn *Conn) []byte {
	t.Helper()
	select {
	case frame := <-conn.send:
		return frame
	case <-time.After(2 * time.Second):
		t.Fatalf("no frame delivered to user %s", conn.userID)
		return nil
	}
}

func TestHubFansOutAcrossInstances(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	hubA := newBackplaneHub(t, mr)
	hubB := newBackplaneHub(t, mr)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = hubA.Run(ctx) }()
	go func() { _ = hubB.Run(ctx) }()

	probe := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = probe.Close() })
	require.Eventually(t, func() bool {
		subs, err := probe.PubSubNumSub(ctx, "test.notifications").Result()
		return err == nil && subs["test.notifications"] >= 2
	}, 2*time.Second, 10*time.Millisecond, "both hubs must be subscribed")

	connA := attachConn(hubA, "user-1")
	connB := attachConn(hubB, "user-1")

	require.NoError(t, hubA.NotifyUser(ctx, "user-1", Notification{
		CorrelationID: "c1",
		Status:        StatusCompleted,
		OrderID:       1001,
	}))

	frameA := awaitFrame(t, connA)
	frameB := awaitFrame(t, connB)
	require.Equal(t, frameA, frameB, "instances must deliver byte-identical frames")

	var decoded serverFrame
	require.NoError(t, json.Unmarshal(frameA, &decoded))
	require.Equal(t, "notification", decoded.Type)
	require.Equal(t, "c1", decoded.CorrelationID)
	require.Equal(t, "Completed", decoded.Status)
	require.Equal(t, int64(1001), decoded.OrderID)
}

type failingBroker struct {
	backplane.NoopBroker
	publishes int
}

func (b *failingBroker) Publish(context.Context, string, []byte) error {
	b.publishes++
	return errors.New("backplane down")
}

func TestNotifyUserRunsPublishUnderPolicy(t *testing.T) {
	broker := &failingBroker{}
	policy := resilience.NewPolicy("backplane-publish", config.ResilienceConfig{
		AttemptTimeout:  time.Second,
		RetrySchedule:   []time.Duration{time.Millisecond},
		BreakerFailures: 100,
		BreakerCooldown: time.Second,
	})
	hub := NewHub(broker, policy, testRealtimeConfig(), nil, nil)

	err := hub.NotifyUser(context.Background(), "user-1", Notification{
		CorrelationID: "c1",
		Status:        StatusCompleted,
	})
	require.ErrorIs(t, err, resilience.ErrUnavailable)
	require.Equal(t, 2, broker.publishes, "the schedule grants one retry")
}

func TestHubDeliversToEveryConnectionOfUser(t *testing.T) {
	hub := NewHub(&backplane.NoopBroker{}, testPublishPolicy(), testRealtimeConfig(), nil, nil)
	first := attachConn(hub, "user-1")
	second := attachConn(hub, "user-1")
	other := attachConn(hub, "user-2")

	hub.deliverLocal("user-1", []byte(`{"type":"notification"}`))

	require.Len(t, first.send, 1)
	require.Len(t, second.send, 1)
	require.Empty(t, other.send, "other users must not receive the frame")
}

func TestHubDropsFramesForSlowConsumers(t *testing.T) {
	cfg := testRealtimeConfig()
	cfg.SendBuffer = 1
	hub := NewHub(&backplane.NoopBroker{}, testPublishPolicy(), cfg, nil, nil)
	conn := &Conn{hub: hub, userID: "user-1", send: make(chan []byte, 1)}
	hub.register(conn)

	hub.deliverLocal("user-1", []byte("one"))
	hub.deliverLocal("user-1", []byte("two"))

	require.Len(t, conn.send, 1, "the overflow frame is dropped, not queued")
	require.Equal(t, []byte("one"), <-conn.send)
}

func TestHubUnregisterRemovesConnection(t *testing.T) {
	hub := NewHub(&backplane.NoopBroker{}, testPublishPolicy(), testRealtimeConfig(), nil, nil)
	conn := attachConn(hub, "user-1")
	require.Equal(t, 1, hub.ConnectionCount("user-1"))

	hub.unregister(conn)
	require.Zero(t, hub.ConnectionCount("user-1"))

	hub.deliverLocal("user-1", []byte("late"))
	require.Empty(t, conn.send)
}
