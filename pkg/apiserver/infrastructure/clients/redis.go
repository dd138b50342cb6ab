package clients

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"ordermesh/pkg/apiserver/config"
)

var (
	redisMu sync.Mutex
	rcli    *redis.Client
)

// EnsureRedis returns a process-wide redis client built from cfg if not yet initialized.
// Subsequent calls reuse the same client instance.
func EnsureRedis(cfg config.RedisConfig) (*redis.Client, error) {
	if rcli != nil {
		return rcli, nil
	}
	redisMu.Lock()
	defer redisMu.Unlock()
	if rcli != nil {
		return rcli, nil
	}
	cli := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Username: cfg.Username,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := cli.Ping(ctx).Err(); err != nil {
		_ = cli.Close()
		return nil, err
	}
	rcli = cli
	return rcli, nil
}
