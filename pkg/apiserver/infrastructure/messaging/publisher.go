package messaging

import (
	"context"
	"encoding/json"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"k8s.io/klog/v2"

	"ordermesh/pkg/apiserver/config"
	"ordermesh/pkg/apiserver/infrastructure/resilience"
	"ordermesh/pkg/apiserver/utils/corrctx"
)

// Publisher sends a wire message to the queue bound to a routing key.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, message interface{}) error
}

// QueuePublisher serializes messages as JSON, injects the correlation id and
// the W3C trace context as transport headers and enqueues under the shared
// resilience policy. On exhaustion it surfaces resilience.ErrUnavailable and
// the caller runs its compensation path.
type QueuePublisher struct {
	queues     map[string]Queue
	policy     *resilience.Policy
	propagator propagation.TextMapPropagator
	tracer     trace.Tracer
}

// NewQueuePublisher binds routing keys to their queues.
func NewQueuePublisher(policy *resilience.Policy, queues map[string]Queue) *QueuePublisher {
	return &QueuePublisher{
		queues:     queues,
		policy:     policy,
		propagator: propagation.TraceContext{},
		tracer:     otel.Tracer("ordermesh/messaging"),
	}
}

func (p *QueuePublisher) Publish(ctx context.Context, routingKey string, message interface{}) error {
	q, ok := p.queues[routingKey]
	if !ok {
		return fmt.Errorf("no queue bound for routing key %s", routingKey)
	}

	body, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("marshal message for %s: %w", routingKey, err)
	}

	ctx, span := p.tracer.Start(ctx, "publish "+routingKey, trace.WithSpanKind(trace.SpanKindProducer))
	defer span.End()

	headers := map[string]string{}
	if id := corrctx.From(ctx); id != "" {
		headers[config.HeaderCorrelationID] = id
	}
	p.propagator.Inject(ctx, propagation.MapCarrier(headers))

	err = p.policy.Execute(ctx, func(ctx context.Context) error {
		_, err := q.Enqueue(ctx, body, headers)
		return err
	})
	if err != nil {
		klog.V(4).Infof("publish %s failed: %v", routingKey, err)
		return err
	}
	return nil
}
