package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"k8s.io/klog/v2"

	"ordermesh/pkg/apiserver/config"
	"ordermesh/pkg/apiserver/infrastructure/resilience"
	"ordermesh/pkg/apiserver/utils/corrctx"
)

const (
	listenerBackoffMin      = 200 * time.Millisecond
	listenerBackoffMax      = 5 * time.Second
	listenerMaxReadFailures = 3
)

// Handler consumes one inbound message body. Returning ErrInvalidPayload
// dead-letters the message; any other error enters the bounded retry path.
type Handler func(ctx context.Context, payload []byte) error

// ListenerOptions tunes one listener instance.
type ListenerOptions struct {
	Group    string
	Consumer string
	// MaxAttempts bounds the requeue-with-counter retry path: a message whose
	// x-retry-count has reached this value is rejected without requeue.
	MaxAttempts int
	ReadBlock   time.Duration
	// AutoClaimMinIdle enables claiming of stale pending messages; <=0 disables.
	AutoClaimMinIdle time.Duration
}

// Listener drives the inbound state machine for one queue:
// received -> deserialize -> handle -> ack. Malformed payloads are rejected to
// the dead-letter queue without requeue. Handler failures republish the
// identical body to the tail of the same queue with an incremented
// x-retry-count header (so one poison message never blocks the head), until
// the attempt cap is reached.
type Listener struct {
	queue      Queue
	dead       Queue
	handler    Handler
	opts       ListenerOptions
	propagator propagation.TextMapPropagator
	tracer     trace.Tracer
}

// NewListener builds a Listener. dead may be nil, in which case rejected
// messages are dropped with an error log.
func NewListener(queue, dead Queue, handler Handler, opts ListenerOptions) *Listener {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 5
	}
	if opts.ReadBlock <= 0 {
		opts.ReadBlock = 5 * time.Second
	}
	if opts.Consumer == "" {
		opts.Consumer = "listener"
	}
	return &Listener{
		queue:      queue,
		dead:       dead,
		handler:    handler,
		opts:       opts,
		propagator: propagation.TraceContext{},
		tracer:     otel.Tracer("ordermesh/messaging"),
	}
}

// Start consumes until ctx is cancelled. One message is in flight at a time;
// horizontal instances provide parallelism. The in-flight message is allowed
// to finish on shutdown so its ack/nack is never ambiguous.
func (l *Listener) Start(ctx context.Context, errChan chan error) {
	group := l.opts.Group
	consumer := l.opts.Consumer
	klog.Infof("listener reading group=%s consumer=%s", group, consumer)
	if err := l.queue.EnsureGroup(ctx, group); err != nil {
		// BUSYGROUP from a concurrent instance is expected.
		klog.V(4).Infof("ensure group %s: %v", group, err)
	}

	var staleC <-chan time.Time
	if l.opts.AutoClaimMinIdle > 0 {
		staleTicker := time.NewTicker(l.opts.AutoClaimMinIdle)
		defer staleTicker.Stop()
		staleC = staleTicker.C
	}

	currentDelay := listenerBackoffMin
	readFailures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-staleC:
			msgs, err := l.queue.AutoClaim(ctx, group, consumer, l.opts.AutoClaimMinIdle, 10)
			if err != nil {
				klog.V(4).Infof("auto-claim error: %v", err)
				continue
			}
			l.handleBatch(ctx, group, msgs)
		default:
			msgs, err := l.queue.ReadGroup(ctx, group, consumer, 1, l.opts.ReadBlock)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				klog.V(4).Infof("read group error: %v", err)
				wait := nextBackoff(currentDelay)
				currentDelay = wait
				select {
				case <-ctx.Done():
					return
				case <-time.After(wait):
				}
				readFailures++
				if readFailures >= listenerMaxReadFailures {
					reportError(errChan, fmt.Errorf("read group failed (%d consecutive): %w", readFailures, err))
					return
				}
				continue
			}
			readFailures = 0
			currentDelay = listenerBackoffMin
			l.handleBatch(ctx, group, msgs)
		}
	}
}

func (l *Listener) handleBatch(ctx context.Context, group string, msgs []Message) {
	for _, m := range msgs {
		if l.processMessage(ctx, m) {
			if err := l.queue.Ack(ctx, group, m.ID); err != nil {
				klog.Errorf("failed to ack message id=%s: %v", m.ID, err)
			}
		} else {
			klog.Warningf("left message pending id=%s due to processing error", m.ID)
		}
	}
}

// processMessage runs the per-message state machine. The returned bool is
// whether the original message should be acked: true for handled, requeued and
// dead-lettered messages, false only when the reject itself failed and the
// message must stay pending for a later claim.
func (l *Listener) processMessage(ctx context.Context, m Message) bool {
	hctx := l.propagator.Extract(ctx, propagation.MapCarrier(m.Headers))

	// The correlation id is taken from the payload, never trusted from
	// transport headers alone.
	corrID, err := extractCorrelationID(m.Payload)
	if err != nil {
		klog.Errorf("malformed payload id=%s, dead-lettering: %v", m.ID, err)
		return l.reject(ctx, m, "malformed payload")
	}
	hctx = corrctx.With(hctx, corrID)

	hctx, span := l.tracer.Start(hctx, "consume "+l.opts.Group, trace.WithSpanKind(trace.SpanKindConsumer))
	err = l.handler(hctx, m.Payload)
	span.End()
	if err == nil {
		return true
	}

	if errors.Is(err, ErrInvalidPayload) {
		klog.Errorf("handler rejected payload id=%s corr=%s: %v", m.ID, corrID, err)
		return l.reject(ctx, m, err.Error())
	}

	attempt := retryCount(m.Headers)
	if errors.Is(err, resilience.ErrUnavailable) {
		// Expected transient condition, not a bug.
		klog.V(4).Infof("handler dependency unavailable id=%s corr=%s attempt=%d: %v", m.ID, corrID, attempt, err)
	} else {
		klog.Errorf("handler failed id=%s corr=%s attempt=%d: %v", m.ID, corrID, attempt, err)
	}

	if attempt >= l.opts.MaxAttempts {
		klog.Errorf("message id=%s corr=%s exhausted %d attempts, dead-lettering", m.ID, corrID, attempt)
		return l.reject(ctx, m, "max delivery attempts reached")
	}

	// Requeue-to-tail with the counter incremented, then ack the original.
	headers := cloneHeaders(m.Headers)
	headers[config.HeaderRetryCount] = strconv.Itoa(attempt + 1)
	if _, err := l.queue.Enqueue(ctx, m.Payload, headers); err != nil {
		klog.Errorf("requeue failed id=%s corr=%s: %v", m.ID, corrID, err)
		return false
	}
	return true
}

// reject moves the message to the dead-letter queue. Returns whether the
// original can be acked.
func (l *Listener) reject(ctx context.Context, m Message, reason string) bool {
	if l.dead == nil {
		klog.Errorf("no dead-letter queue configured, dropping message id=%s (%s)", m.ID, reason)
		return true
	}
	headers := cloneHeaders(m.Headers)
	headers["x-dead-reason"] = reason
	if _, err := l.dead.Enqueue(ctx, m.Payload, headers); err != nil {
		klog.Errorf("dead-letter enqueue failed id=%s: %v", m.ID, err)
		return false
	}
	return true
}

func extractCorrelationID(payload []byte) (string, error) {
	var probe struct {
		CorrelationID string `json:"correlationId"`
	}
	if err := json.Unmarshal(payload, &probe); err != nil {
		return "", err
	}
	return probe.CorrelationID, nil
}

func retryCount(headers map[string]string) int {
	if headers == nil {
		return 0
	}
	n, err := strconv.Atoi(headers[config.HeaderRetryCount])
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func cloneHeaders(headers map[string]string) map[string]string {
	out := make(map[string]string, len(headers)+1)
	for k, v := range headers {
		out[k] = v
	}
	return out
}

func nextBackoff(current time.Duration) time.Duration {
	if current < listenerBackoffMin {
		return listenerBackoffMin
	}
	next := current * 2
	if next > listenerBackoffMax {
		return listenerBackoffMax
	}
	return next
}

func reportError(errChan chan error, err error) {
	if errChan == nil {
		return
	}
	select {
	case errChan <- err:
	default:
	}
}
