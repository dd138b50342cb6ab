package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"k8s.io/klog/v2"

	"ordermesh/pkg/apiserver/config"
	"ordermesh/pkg/apiserver/domain/model"
	"ordermesh/pkg/apiserver/domain/repository"
	"ordermesh/pkg/apiserver/infrastructure/datastore"
	"ordermesh/pkg/apiserver/infrastructure/messaging"
	"ordermesh/pkg/apiserver/infrastructure/statestore"
)

// ProcessService is the processing stage: it turns accepted events into
// committed orders and announces them to the notification stage.
type ProcessService interface {
	// HandleOrderAccepted consumes one accepted event payload. Safe under
	// redelivery: the committed order's correlation-id uniqueness keeps the
	// write idempotent, and duplicates still re-announce the processed event
	// so a lost downstream message gets another chance.
	HandleOrderAccepted(ctx context.Context, payload []byte) error
}

type processServiceImpl struct {
	Store     *datastore.Store          `inject:""`
	Workflow  *statestore.WorkflowStore `inject:""`
	Publisher messaging.Publisher       `inject:""`
}

// NewProcessService new process service
func NewProcessService() ProcessService {
	return &processServiceImpl{}
}

func (s *processServiceImpl) HandleOrderAccepted(ctx context.Context, payload []byte) error {
	var event OrderAcceptedEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return fmt.Errorf("%w: %v", messaging.ErrInvalidPayload, err)
	}
	if event.CorrelationID == "" || validateOrder(event.Order) != nil {
		return fmt.Errorf("%w: accepted event is incomplete", messaging.ErrInvalidPayload)
	}

	// Transition is best effort: the transient state may already have
	// expired, which must not stall processing.
	if _, err := s.Workflow.TrySetStatusIfExists(ctx, event.CorrelationID, config.StatusProcessing); err != nil {
		klog.Warningf("mark %s processing: %v", event.CorrelationID, err)
	}

	existing, err := repository.OrderByCorrelationID(ctx, s.Store.DB(), event.CorrelationID)
	if err != nil {
		return fmt.Errorf("probe order for %s: %w", event.CorrelationID, err)
	}
	if existing != nil {
		klog.V(4).Infof("order %s already committed as %d, re-announcing", event.CorrelationID, existing.ID)
		return s.announce(ctx, event.CorrelationID, existing.ID)
	}

	order, err := s.commitOrder(ctx, event)
	if err != nil {
		// A concurrent or redelivered consumer may have won the insert race;
		// the unique constraint turns that into a duplicate, not a failure.
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			existing, probeErr := repository.OrderByCorrelationID(ctx, s.Store.DB(), event.CorrelationID)
			if probeErr != nil || existing == nil {
				return fmt.Errorf("re-probe order for %s: %w", event.CorrelationID, probeErr)
			}
			return s.announce(ctx, event.CorrelationID, existing.ID)
		}
		return fmt.Errorf("commit order for %s: %w", event.CorrelationID, err)
	}
	klog.Infof("committed order %d for %s", order.ID, event.CorrelationID)
	return s.announce(ctx, event.CorrelationID, order.ID)
}

// commitOrder upserts the referenced customer and products and persists the
// order aggregate in a single transaction.
func (s *processServiceImpl) commitOrder(ctx context.Context, event OrderAcceptedEvent) (*model.Order, error) {
	var order *model.Order
	err := s.Store.WithTransaction(ctx, func(tx *gorm.DB) error {
		customer, err := repository.UpsertCustomerByExternalID(ctx, tx, event.Order.CustomerID)
		if err != nil {
			return err
		}
		items := make([]model.OrderItem, 0, len(event.Order.Items))
		for _, spec := range event.Order.Items {
			product, err := repository.UpsertProductByExternalID(ctx, tx, spec.ProductID)
			if err != nil {
				return err
			}
			items = append(items, model.OrderItem{ProductID: product.ID, Quantity: spec.Quantity})
		}
		order = &model.Order{
			CorrelationID: event.CorrelationID,
			CustomerID:    customer.ID,
			Items:         items,
		}
		return repository.CreateOrder(ctx, tx, order)
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

// announce records the completed state and publishes the processed event.
func (s *processServiceImpl) announce(ctx context.Context, correlationID string, orderID int64) error {
	if _, err := s.Workflow.TrySetCompletedIfExists(ctx, correlationID, orderID); err != nil {
		klog.Warningf("mark %s completed: %v", correlationID, err)
	}
	event := OrderProcessedEvent{CorrelationID: correlationID, OrderID: orderID}
	if err := s.Publisher.Publish(ctx, config.RouteOrderProcessed, event); err != nil {
		return fmt.Errorf("publish processed event for %s: %w", correlationID, err)
	}
	return nil
}
