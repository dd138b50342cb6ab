// Package statestore holds the TTL-bounded coordination state of in-flight
// order workflows in Redis. It is explicitly not the system of record: key
// absence is a valid, unremarkable state (expired or never existed, the two
// are indistinguishable).
package statestore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"ordermesh/pkg/apiserver/config"
	"ordermesh/pkg/apiserver/infrastructure/resilience"
)

// Key patterns for Redis keys.
const (
	keyPatternStatus    = "order:status:%s"
	keyPatternMapping   = "order:map:%s"
	keyPatternLegacyMap = "ws:session:%s"
)

const defaultStateTTL = 30 * time.Minute

// WorkflowState is the transient status of one order workflow.
type WorkflowState struct {
	Status  string
	OrderID int64 // 0 when not yet known
}

// WorkflowStore reads and writes workflow state keyed by correlation id.
// Every write refreshes the TTL. All operations run under the shared
// resilience policy; a broken circuit surfaces as resilience.ErrUnavailable.
type WorkflowStore struct {
	cli    *redis.Client
	policy *resilience.Policy
	ttl    time.Duration
}

// NewWorkflowStore builds a WorkflowStore with the given TTL (<=0 uses the
// 30 minute default).
func NewWorkflowStore(cli *redis.Client, policy *resilience.Policy, ttl time.Duration) *WorkflowStore {
	if ttl <= 0 {
		ttl = defaultStateTTL
	}
	return &WorkflowStore{cli: cli, policy: policy, ttl: ttl}
}

func statusKey(correlationID string) string { return fmt.Sprintf(keyPatternStatus, correlationID) }

// SetStatus unconditionally upserts the workflow status. Only the originating
// accept step uses this; every later transition goes through the if-exists
// variants so an expired workflow is never resurrected.
func (s *WorkflowStore) SetStatus(ctx context.Context, correlationID, status string) error {
	return s.policy.Execute(ctx, func(ctx context.Context) error {
		return s.cli.Set(ctx, statusKey(correlationID), status, s.ttl).Err()
	})
}

// TrySetStatusIfExists advances the status only when the key still exists.
// Returns false without writing when the workflow has expired.
func (s *WorkflowStore) TrySetStatusIfExists(ctx context.Context, correlationID, status string) (bool, error) {
	var set bool
	err := s.policy.Execute(ctx, func(ctx context.Context) error {
		ok, err := s.cli.SetXX(ctx, statusKey(correlationID), status, s.ttl).Result()
		set = ok
		return err
	})
	return set, err
}

// TrySetCompletedIfExists marks the workflow completed with its order id,
// subject to the same exists guard.
func (s *WorkflowStore) TrySetCompletedIfExists(ctx context.Context, correlationID string, orderID int64) (bool, error) {
	value := fmt.Sprintf("%s|%d", config.StatusCompleted, orderID)
	var set bool
	err := s.policy.Execute(ctx, func(ctx context.Context) error {
		ok, err := s.cli.SetXX(ctx, statusKey(correlationID), value, s.ttl).Result()
		set = ok
		return err
	})
	return set, err
}

// RemoveStatus deletes the workflow state. Best-effort compensation path.
func (s *WorkflowStore) RemoveStatus(ctx context.Context, correlationID string) error {
	return s.policy.Execute(ctx, func(ctx context.Context) error {
		return s.cli.Del(ctx, statusKey(correlationID)).Err()
	})
}

// Get returns the workflow state, or nil when the key is absent.
func (s *WorkflowStore) Get(ctx context.Context, correlationID string) (*WorkflowState, error) {
	var raw string
	var absent bool
	err := s.policy.Execute(ctx, func(ctx context.Context) error {
		val, err := s.cli.Get(ctx, statusKey(correlationID)).Result()
		if errors.Is(err, redis.Nil) {
			absent = true
			return nil
		}
		raw = val
		return err
	})
	if err != nil {
		return nil, err
	}
	if absent {
		return nil, nil
	}
	return parseState(raw), nil
}

// parseState decodes the stored status string, including the
// "COMPLETED|{orderId}" shape.
func parseState(raw string) *WorkflowState {
	state := &WorkflowState{Status: raw}
	if status, id, found := strings.Cut(raw, "|"); found {
		state.Status = status
		if n, err := strconv.ParseInt(id, 10, 64); err == nil {
			state.OrderID = n
		}
	}
	return state
}
