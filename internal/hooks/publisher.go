package hooks

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/roach88/radstore/internal/notify"
)

// Pusher is the part of a Redis client the publisher uses.
type Pusher interface {
	RPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
}

// Publisher appends every change event, as JSON, to a Redis list.
type Publisher struct {
	notify.NopListener
	client Pusher
	key    string
	logger *slog.Logger
}

// NewRedisClient connects to addr.
func NewRedisClient(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{Addr: addr})
}

func NewPublisher(client Pusher, key string, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{client: client, key: key, logger: logger}
}

func (p *Publisher) OnChange(ctx context.Context, ev notify.ChangeEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal change: %w", err)
	}
	if err := p.client.RPush(ctx, p.key, data).Err(); err != nil {
		return fmt.Errorf("failed to publish change %d: %w", ev.Seq, err)
	}
	p.logger.Debug("published change", "key", p.key, "seq", ev.Seq, "type", ev.Type)
	return nil
}
