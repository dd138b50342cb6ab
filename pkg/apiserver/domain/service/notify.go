package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"k8s.io/klog/v2"

	"ordermesh/pkg/apiserver/infrastructure/messaging"
	"ordermesh/pkg/apiserver/infrastructure/statestore"
	"ordermesh/pkg/apiserver/realtime"
)

// ErrMappingNotFound reports that no user registered for a correlation id.
// The registration either never happened or its mapping expired; retrying the
// delivery cannot recover it.
var ErrMappingNotFound = errors.New("no user mapping for correlation id")

// Notifier pushes a notification to every live connection of a user. The
// realtime hub is the production implementation.
type Notifier interface {
	NotifyUser(ctx context.Context, userID string, n realtime.Notification) error
}

// NotifyService is the notification stage: it resolves the user behind a
// processed order and pushes the completion to their connections.
type NotifyService interface {
	// HandleOrderProcessed consumes one processed event payload.
	HandleOrderProcessed(ctx context.Context, payload []byte) error
	// Notify resolves and pushes one completion. Returns ErrMappingNotFound
	// when no user registered for the correlation id.
	Notify(ctx context.Context, correlationID string, orderID int64) error
}

type notifyServiceImpl struct {
	Registry *statestore.Registry `inject:""`
	Notifier Notifier             `inject:""`
}

// NewNotifyService new notify service
func NewNotifyService() NotifyService {
	return &notifyServiceImpl{}
}

func (s *notifyServiceImpl) HandleOrderProcessed(ctx context.Context, payload []byte) error {
	var event OrderProcessedEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return fmt.Errorf("%w: %v", messaging.ErrInvalidPayload, err)
	}
	if event.CorrelationID == "" || event.OrderID == 0 {
		return fmt.Errorf("%w: processed event is incomplete", messaging.ErrInvalidPayload)
	}
	err := s.Notify(ctx, event.CorrelationID, event.OrderID)
	if errors.Is(err, ErrMappingNotFound) {
		// Redelivery cannot conjure a registration, so the message is
		// acknowledged instead of retried.
		klog.Warningf("no registered user for order %s, dropping notification", event.CorrelationID)
		return nil
	}
	return err
}

func (s *notifyServiceImpl) Notify(ctx context.Context, correlationID string, orderID int64) error {
	userID, err := s.Registry.ResolveUserID(ctx, correlationID)
	if err != nil {
		return fmt.Errorf("resolve user for %s: %w", correlationID, err)
	}
	if userID == "" {
		return ErrMappingNotFound
	}
	n := realtime.Notification{
		CorrelationID: correlationID,
		Status:        realtime.StatusCompleted,
		OrderID:       orderID,
	}
	if err := s.Notifier.NotifyUser(ctx, userID, n); err != nil {
		return fmt.Errorf("push notification for %s to user %s: %w", correlationID, userID, err)
	}
	klog.Infof("notified user %s of completed order %s", userID, correlationID)
	return nil
}
