package statestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"k8s.io/klog/v2"

	"ordermesh/pkg/apiserver/infrastructure/resilience"
)

// ErrEmptyUserID rejects registrations without an authenticated identity.
var ErrEmptyUserID = errors.New("user id must not be empty")

// Registry maps correlation ids to the user that registered interest over the
// realtime channel. Entries are TTL-bounded like workflow state.
type Registry struct {
	cli    *redis.Client
	policy *resilience.Policy
	ttl    time.Duration
}

// NewRegistry builds a Registry with the given TTL (<=0 uses the default).
func NewRegistry(cli *redis.Client, policy *resilience.Policy, ttl time.Duration) *Registry {
	if ttl <= 0 {
		ttl = defaultStateTTL
	}
	return &Registry{cli: cli, policy: policy, ttl: ttl}
}

func mappingKey(correlationID string) string { return fmt.Sprintf(keyPatternMapping, correlationID) }
func legacyKey(correlationID string) string  { return fmt.Sprintf(keyPatternLegacyMap, correlationID) }

// Register stores the correlation-to-user mapping.
func (r *Registry) Register(ctx context.Context, correlationID, userID string) error {
	if userID == "" {
		return ErrEmptyUserID
	}
	return r.policy.Execute(ctx, func(ctx context.Context) error {
		return r.cli.Set(ctx, mappingKey(correlationID), userID, r.ttl).Err()
	})
}

// ResolveUserID returns the owning user of a correlation id, or "" when no
// mapping exists. A mapping found only under the legacy key shape is healed:
// copied to the canonical key with a fresh TTL so later reads skip the legacy
// lookup entirely.
func (r *Registry) ResolveUserID(ctx context.Context, correlationID string) (string, error) {
	var userID string
	err := r.policy.Execute(ctx, func(ctx context.Context) error {
		val, err := r.cli.Get(ctx, mappingKey(correlationID)).Result()
		if err == nil {
			userID = val
			return nil
		}
		if !errors.Is(err, redis.Nil) {
			return err
		}

		// Legacy key shape kept for read compatibility.
		val, err = r.cli.Get(ctx, legacyKey(correlationID)).Result()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return err
		}
		if healErr := r.cli.Set(ctx, mappingKey(correlationID), val, r.ttl).Err(); healErr != nil {
			// The mapping is still served; the heal retries on the next miss.
			klog.Warningf("heal legacy mapping %s failed: %v", correlationID, healErr)
		}
		userID = val
		return nil
	})
	if err != nil {
		return "", err
	}
	return userID, nil
}
