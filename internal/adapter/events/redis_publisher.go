// Package events fans transition notifications out to downstream caches.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/go-redis/redis/v8"

	"github.com/unmappedos-sys/unmappedOS-sub002/internal/ports"
)

// DefaultChannel is the pub/sub channel transitions are published on
const DefaultChannel = "zonetrust:transitions"

// RedisPublisher publishes transition events as JSON over Redis pub/sub
type RedisPublisher struct {
	client  *redis.Client
	channel string
}

// NewRedisPublisher creates a publisher; an empty channel uses DefaultChannel
func NewRedisPublisher(client *redis.Client, channel string) *RedisPublisher {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisPublisher{client: client, channel: channel}
}

var _ ports.TransitionPublisher = (*RedisPublisher)(nil)

func (p *RedisPublisher) Publish(ctx context.Context, event ports.TransitionEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal transition event: %w", err)
	}
	if err := p.client.Publish(ctx, p.channel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish transition event: %w", err)
	}
	return nil
}

// NoopPublisher drops every event
type NoopPublisher struct{}

func (NoopPublisher) Publish(ctx context.Context, event ports.TransitionEvent) error {
	return nil
}

// RecordingPublisher keeps events in memory
type RecordingPublisher struct {
	mu     sync.Mutex
	events []ports.TransitionEvent
}

func (r *RecordingPublisher) Publish(ctx context.Context, event ports.TransitionEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

// Events returns the events published so far
func (r *RecordingPublisher) Events() []ports.TransitionEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ports.TransitionEvent, len(r.events))
	copy(out, r.events)
	return out
}
