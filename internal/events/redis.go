package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ZerkerEOD/krakenwifi/pkg/debug"
)

const (
	DefaultRedisChannel = "krakenwifi:events"
	redisQueueSize      = 512
	redisPublishTimeout = 2 * time.Second
)

// redisClient is the part of the go-redis client the publisher uses
type redisClient interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// RedisPublisher forwards events to a Redis pub/sub channel as JSON. Publish only enqueues;
// Run does the network writes so a slow Redis never holds up a job worker.
type RedisPublisher struct {
	client  redisClient
	channel string
	queue   chan Event
}

// NewRedisPublisher creates a publisher. Call Run to start delivery.
func NewRedisPublisher(client redisClient, channel string) *RedisPublisher {
	if channel == "" {
		channel = DefaultRedisChannel
	}
	return &RedisPublisher{
		client:  client,
		channel: channel,
		queue:   make(chan Event, redisQueueSize),
	}
}

// Connect dials Redis and verifies the connection
func Connect(ctx context.Context, addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}
	return client, nil
}

func (p *RedisPublisher) Publish(_ context.Context, ev Event) {
	select {
	case p.queue <- ev:
	default:
		debug.Warning("redis event queue full, dropping %s for job %s", ev.Type, ev.JobID)
	}
}

// Run delivers queued events until ctx is cancelled
func (p *RedisPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-p.queue:
			p.send(ctx, ev)
		}
	}
}

func (p *RedisPublisher) send(ctx context.Context, ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		debug.Error("failed to marshal event: %v", err)
		return
	}
	ctx, cancel := context.WithTimeout(ctx, redisPublishTimeout)
	defer cancel()
	if err := p.client.Publish(ctx, p.channel, data).Err(); err != nil {
		debug.Warning("failed to publish %s for job %s: %v", ev.Type, ev.JobID, err)
	}
}
