package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"ordermesh/pkg/apiserver/config"
	"ordermesh/pkg/apiserver/infrastructure/resilience"
	"ordermesh/pkg/apiserver/infrastructure/statestore"
	"ordermesh/pkg/apiserver/utils/bcode"
)

type publishedMessage struct {
	routingKey string
	message    interface{}
}

// fakePublisher records publishes and can be told to fail.
type fakePublisher struct {
	err       error
	published []publishedMessage
}

func (p *fakePublisher) Publish(_ context.Context, routingKey string, message interface{}) error {
	if p.err != nil {
		return p.err
	}
	p.published = append(p.published, publishedMessage{routingKey: routingKey, message: message})
	return nil
}

func newTestWorkflow(t *testing.T) (*miniredis.Miniredis, *statestore.WorkflowStore) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	cli := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = cli.Close() })
	policy := resilience.NewPolicy("test", config.ResilienceConfig{
		AttemptTimeout:  time.Second,
		BreakerFailures: 100,
		BreakerCooldown: time.Second,
	})
	return mr, statestore.NewWorkflowStore(cli, policy, time.Minute)
}

func validSpec() OrderSpec {
	return OrderSpec{
		CustomerID: "cust-1",
		Items:      []OrderItemSpec{{ProductID: "prod-1", Quantity: 2}},
	}
}

func TestAcceptOrderRecordsStateThenPublishes(t *testing.T) {
	_, workflow := newTestWorkflow(t)
	publisher := &fakePublisher{}
	svc := &orderServiceImpl{Workflow: workflow, Publisher: publisher}

	correlationID, err := svc.AcceptOrder(context.Background(), validSpec())
	require.NoError(t, err)
	require.NotEmpty(t, correlationID)

	state, err := workflow.Get(context.Background(), correlationID)
	require.NoError(t, err)
	require.NotNil(t, state)
	require.Equal(t, config.StatusAccepted, state.Status)

	require.Len(t, publisher.published, 1)
	require.Equal(t, config.RouteOrderAccepted, publisher.published[0].routingKey)
	event, ok := publisher.published[0].message.(OrderAcceptedEvent)
	require.True(t, ok)
	require.Equal(t, correlationID, event.CorrelationID)
	require.Equal(t, "cust-1", event.Order.CustomerID)
}

func TestAcceptOrderCompensatesOnPublishFailure(t *testing.T) {
	mr, workflow := newTestWorkflow(t)
	publisher := &fakePublisher{err: errors.New("broker down")}
	svc := &orderServiceImpl{Workflow: workflow, Publisher: publisher}

	_, err := svc.AcceptOrder(context.Background(), validSpec())
	require.ErrorIs(t, err, bcode.ErrOrderAccept)

	// The state written before the failed publish must be gone so no status
	// query can see a ghost order.
	require.Empty(t, mr.Keys())
}

func TestAcceptOrderRejectsInvalidRequests(t *testing.T) {
	mr, workflow := newTestWorkflow(t)
	publisher := &fakePublisher{}
	svc := &orderServiceImpl{Workflow: workflow, Publisher: publisher}

	for name, spec := range map[string]OrderSpec{
		"missing customer": {Items: []OrderItemSpec{{ProductID: "p", Quantity: 1}}},
		"no items":         {CustomerID: "c"},
		"zero quantity":    {CustomerID: "c", Items: []OrderItemSpec{{ProductID: "p", Quantity: 0}}},
		"missing product":  {CustomerID: "c", Items: []OrderItemSpec{{Quantity: 1}}},
	} {
		_, err := svc.AcceptOrder(context.Background(), spec)
		require.ErrorIs(t, err, bcode.ErrOrderRequest, name)
	}
	require.Empty(t, publisher.published)
	require.Empty(t, mr.Keys())
}

func TestOrderStatusUnknownID(t *testing.T) {
	_, workflow := newTestWorkflow(t)
	svc := &orderServiceImpl{Workflow: workflow, Publisher: &fakePublisher{}}

	state, err := svc.OrderStatus(context.Background(), "unknown")
	require.NoError(t, err)
	require.Nil(t, state)
}
