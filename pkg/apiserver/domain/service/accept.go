package service

import (
	"context"

	"github.com/google/uuid"
	"k8s.io/klog/v2"

	"ordermesh/pkg/apiserver/config"
	"ordermesh/pkg/apiserver/infrastructure/messaging"
	"ordermesh/pkg/apiserver/infrastructure/statestore"
	"ordermesh/pkg/apiserver/utils/bcode"
	"ordermesh/pkg/apiserver/utils/corrctx"
)

// OrderService is the acceptance stage: it records the workflow state and
// hands the order to the processing stage through the broker.
type OrderService interface {
	// AcceptOrder validates an order request, minting a correlation id and
	// publishing the accepted event. It returns the correlation id the
	// client uses to track the workflow.
	AcceptOrder(ctx context.Context, order OrderSpec) (string, error)
	// OrderStatus reads the transient workflow state for a correlation id.
	// A nil state means the id is unknown or its state has expired.
	OrderStatus(ctx context.Context, correlationID string) (*statestore.WorkflowState, error)
}

type orderServiceImpl struct {
	Workflow  *statestore.WorkflowStore `inject:""`
	Publisher messaging.Publisher       `inject:""`
}

// NewOrderService new order service
func NewOrderService() OrderService {
	return &orderServiceImpl{}
}

func (s *orderServiceImpl) AcceptOrder(ctx context.Context, order OrderSpec) (string, error) {
	if err := validateOrder(order); err != nil {
		return "", err
	}
	correlationID := uuid.NewString()
	ctx = corrctx.With(ctx, correlationID)

	// State goes down before the event so a status query racing the publish
	// never sees an unknown id for an order we are about to announce.
	if err := s.Workflow.SetStatus(ctx, correlationID, config.StatusAccepted); err != nil {
		klog.Errorf("record accepted state for %s: %v", correlationID, err)
		return "", bcode.ErrOrderAccept
	}
	event := OrderAcceptedEvent{CorrelationID: correlationID, Order: order}
	if err := s.Publisher.Publish(ctx, config.RouteOrderAccepted, event); err != nil {
		klog.Errorf("publish accepted event for %s: %v", correlationID, err)
		// Compensate: the order was never announced, so the state must not
		// linger and mislead status queries.
		if rmErr := s.Workflow.RemoveStatus(ctx, correlationID); rmErr != nil {
			klog.Errorf("compensate accepted state for %s: %v", correlationID, rmErr)
		}
		return "", bcode.ErrOrderAccept
	}
	klog.Infof("accepted order %s for customer %s", correlationID, order.CustomerID)
	return correlationID, nil
}

func (s *orderServiceImpl) OrderStatus(ctx context.Context, correlationID string) (*statestore.WorkflowState, error) {
	if correlationID == "" {
		return nil, bcode.ErrOrderRequest
	}
	state, err := s.Workflow.Get(ctx, correlationID)
	if err != nil {
		klog.Errorf("read workflow state for %s: %v", correlationID, err)
		return nil, bcode.ErrWorkflowStateUnavailable
	}
	return state, nil
}

func validateOrder(order OrderSpec) error {
	if order.CustomerID == "" || len(order.Items) == 0 {
		return bcode.ErrOrderRequest
	}
	for _, item := range order.Items {
		if item.ProductID == "" || item.Quantity <= 0 {
			return bcode.ErrOrderRequest
		}
	}
	return nil
}
