package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/unmappedos-sys/unmappedOS-sub002/internal/domain"
	"github.com/unmappedos-sys/unmappedOS-sub002/internal/logger"
	"github.com/unmappedos-sys/unmappedOS-sub002/internal/ports"
)

// releaseScript deletes the lock only if it still carries our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLockerConfig configures the distributed locker
type RedisLockerConfig struct {
	// TTL bounds how long a crashed holder can block a key
	TTL time.Duration
	// RetryInterval is the pause between acquisition attempts
	RetryInterval time.Duration
	// WaitTimeout caps the total wait when ctx has no deadline
	WaitTimeout time.Duration
}

// RedisLocker serializes writers across processes with SET NX PX
type RedisLocker struct {
	client *redis.Client
	config RedisLockerConfig
	logger logger.Logger
}

// NewRedisLocker creates a distributed locker on an existing client
func NewRedisLocker(client *redis.Client, config RedisLockerConfig, log logger.Logger) *RedisLocker {
	if config.TTL <= 0 {
		config.TTL = 10 * time.Second
	}
	if config.RetryInterval <= 0 {
		config.RetryInterval = 25 * time.Millisecond
	}
	if config.WaitTimeout <= 0 {
		config.WaitTimeout = config.TTL
	}
	return &RedisLocker{client: client, config: config, logger: log}
}

var _ ports.KeyLocker = (*RedisLocker)(nil)

func lockKey(key domain.EntityKey) string {
	return fmt.Sprintf("zonetrust:lock:%s:%s", key.Type, key.ID)
}

// Lock acquires the key, retrying until ctx is done or the wait times out
func (l *RedisLocker) Lock(ctx context.Context, key domain.EntityKey) (ports.Unlock, error) {
	name := lockKey(key)
	token := uuid.NewString()

	waitCtx := ctx
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, l.config.WaitTimeout)
		defer cancel()
	}

	for {
		ok, err := l.client.SetNX(waitCtx, name, token, l.config.TTL).Result()
		if err != nil && waitCtx.Err() == nil {
			return nil, fmt.Errorf("failed to acquire lock %s: %w", name, err)
		}
		if ok {
			break
		}

		select {
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, ports.ErrLockTimeout
		case <-time.After(l.config.RetryInterval):
		}
	}

	return func() {
		// Release must not depend on the caller's (possibly cancelled) context.
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := releaseScript.Run(releaseCtx, l.client, []string{name}, token).Err(); err != nil && err != redis.Nil {
			l.logger.Error(ctx, "Failed to release entity lock", err, map[string]interface{}{
				"lock": name,
			})
		}
	}, nil
}
