// Package ratelimit throttles anomaly submissions per reporter.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/unmappedos-sys/unmappedOS-sub002/internal/logger"
	"github.com/unmappedos-sys/unmappedOS-sub002/internal/ports"
)

// Config configures the reporter limiter
type Config struct {
	Limit  int
	Window time.Duration
}

// RedisLimiter is a fixed-window counter per reporter
type RedisLimiter struct {
	client *redis.Client
	config Config
	logger logger.Logger
}

// NewRedisLimiter creates a limiter on an existing client
func NewRedisLimiter(client *redis.Client, config Config, log logger.Logger) *RedisLimiter {
	return &RedisLimiter{client: client, config: config, logger: log}
}

var _ ports.ReportLimiter = (*RedisLimiter)(nil)

// Allow increments the reporter's counter and checks it against the limit
func (l *RedisLimiter) Allow(ctx context.Context, reporter string) (bool, error) {
	if l.config.Limit <= 0 {
		return true, nil
	}
	key := fmt.Sprintf("zonetrust:reports:%s", reporter)

	pipeline := l.client.TxPipeline()
	incrCmd := pipeline.Incr(ctx, key)
	ttlCmd := pipeline.PTTL(ctx, key)

	if _, err := pipeline.Exec(ctx); err != nil {
		return false, fmt.Errorf("failed to increment report counter: %w", err)
	}

	count := incrCmd.Val()
	// A counter without expiry starts the window.
	if ttlCmd.Val() < 0 {
		if err := l.client.PExpire(ctx, key, l.config.Window).Err(); err != nil {
			return false, fmt.Errorf("failed to set report window: %w", err)
		}
	}
	allowed := count <= int64(l.config.Limit)
	if !allowed {
		l.logger.Warn(ctx, "Reporter rate limit exceeded", map[string]interface{}{
			"reporter": reporter,
			"count":    count,
			"limit":    l.config.Limit,
			"window":   l.config.Window.String(),
		})
	}
	return allowed, nil
}

// NoopLimiter allows everything; used when Redis is disabled
type NoopLimiter struct{}

func (NoopLimiter) Allow(ctx context.Context, reporter string) (bool, error) {
	return true, nil
}
