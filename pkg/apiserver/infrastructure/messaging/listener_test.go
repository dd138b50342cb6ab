package messaging

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"ordermesh/pkg/apiserver/config"
	"ordermesh/pkg/apiserver/utils/corrctx"
)

// fakeQueue records enqueues and acks in memory.
type fakeQueue struct {
	mu       sync.Mutex
	enqueued []Message
	acked    []string
	nextID   int
}

func (q *fakeQueue) EnsureGroup(context.Context, string) error { return nil }

func (q *fakeQueue) Enqueue(_ context.Context, payload []byte, headers map[string]string) (string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.nextID++
	id := strconv.Itoa(q.nextID)
	q.enqueued = append(q.enqueued, Message{ID: id, Payload: payload, Headers: headers})
	return id, nil
}

func (q *fakeQueue) ReadGroup(context.Context, string, string, int, time.Duration) ([]Message, error) {
	return nil, nil
}

func (q *fakeQueue) Ack(_ context.Context, _ string, ids ...string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.acked = append(q.acked, ids...)
	return nil
}

func (q *fakeQueue) AutoClaim(context.Context, string, string, time.Duration, int) ([]Message, error) {
	return nil, nil
}

func (q *fakeQueue) Close(context.Context) error { return nil }

func (q *fakeQueue) Stats(context.Context, string) (int64, int64, error) { return 0, 0, nil }

func TestListenerDeadLettersMalformedPayload(t *testing.T) {
	queue := &fakeQueue{}
	dead := &fakeQueue{}
	handled := 0
	l := NewListener(queue, dead, func(context.Context, []byte) error {
		handled++
		return nil
	}, ListenerOptions{Group: "g"})

	acked := l.processMessage(context.Background(), Message{ID: "1", Payload: []byte("{not-json")})

	require.True(t, acked)
	require.Zero(t, handled, "handler must not run for undecodable payloads")
	require.Len(t, dead.enqueued, 1)
	require.Equal(t, "malformed payload", dead.enqueued[0].Headers["x-dead-reason"])
	require.Empty(t, queue.enqueued, "malformed payloads are never requeued")
}

func TestListenerDeadLettersInvalidPayloadError(t *testing.T) {
	queue := &fakeQueue{}
	dead := &fakeQueue{}
	l := NewListener(queue, dead, func(context.Context, []byte) error {
		return ErrInvalidPayload
	}, ListenerOptions{Group: "g"})

	acked := l.processMessage(context.Background(), Message{ID: "1", Payload: []byte(`{"correlationId":"c1"}`)})

	require.True(t, acked)
	require.Len(t, dead.enqueued, 1)
	require.Empty(t, queue.enqueued)
}

func TestListenerRequeuesWithIncrementedCounter(t *testing.T) {
	queue := &fakeQueue{}
	dead := &fakeQueue{}
	boom := errors.New("db down")
	l := NewListener(queue, dead, func(context.Context, []byte) error {
		return boom
	}, ListenerOptions{Group: "g", MaxAttempts: 5})

	payload := []byte(`{"correlationId":"c1"}`)

	acked := l.processMessage(context.Background(), Message{ID: "1", Payload: payload})
	require.True(t, acked)
	require.Len(t, queue.enqueued, 1)
	require.Equal(t, "1", queue.enqueued[0].Headers[config.HeaderRetryCount])
	require.Equal(t, payload, queue.enqueued[0].Payload, "requeue must carry the identical body")

	acked = l.processMessage(context.Background(), Message{
		ID:      "2",
		Payload: payload,
		Headers: map[string]string{config.HeaderRetryCount: "3"},
	})
	require.True(t, acked)
	require.Len(t, queue.enqueued, 2)
	require.Equal(t, "4", queue.enqueued[1].Headers[config.HeaderRetryCount])
	require.Empty(t, dead.enqueued)
}

func TestListenerDeadLettersAfterMaxAttempts(t *testing.T) {
	queue := &fakeQueue{}
	dead := &fakeQueue{}
	l := NewListener(queue, dead, func(context.Context, []byte) error {
		return errors.New("still failing")
	}, ListenerOptions{Group: "g", MaxAttempts: 3})

	acked := l.processMessage(context.Background(), Message{
		ID:      "1",
		Payload: []byte(`{"correlationId":"c1"}`),
		Headers: map[string]string{config.HeaderRetryCount: "3"},
	})

	require.True(t, acked)
	require.Empty(t, queue.enqueued, "exhausted messages must not be requeued")
	require.Len(t, dead.enqueued, 1)
	require.Equal(t, "max delivery attempts reached", dead.enqueued[0].Headers["x-dead-reason"])
}

func TestListenerBindsCorrelationIDFromPayload(t *testing.T) {
	queue := &fakeQueue{}
	var seen string
	l := NewListener(queue, nil, func(ctx context.Context, _ []byte) error {
		seen = corrctx.From(ctx)
		return nil
	}, ListenerOptions{Group: "g"})

	acked := l.processMessage(context.Background(), Message{
		ID:      "1",
		Payload: []byte(`{"correlationId":"c-42"}`),
		Headers: map[string]string{config.HeaderCorrelationID: "spoofed"},
	})

	require.True(t, acked)
	require.Equal(t, "c-42", seen)
}

func TestListenerAcksHandledMessages(t *testing.T) {
	queue := &fakeQueue{}
	l := NewListener(queue, nil, func(context.Context, []byte) error { return nil }, ListenerOptions{Group: "g"})

	l.handleBatch(context.Background(), "g", []Message{{ID: "7", Payload: []byte(`{"correlationId":"c1"}`)}})

	require.Equal(t, []string{"7"}, queue.acked)
}
