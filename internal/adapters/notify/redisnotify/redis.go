// Package redisnotify publishes score changes to a Redis pub/sub channel.
package redisnotify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/okian/leadscore/internal/domain/types"
	"github.com/redis/go-redis/v9"
)

const pingTimeout = 5 * time.Second

// Transport publishes {leadId, score} JSON messages with PUBLISH.
type Transport struct {
	client  *redis.Client
	channel string
	owned   bool
}

// Dial connects to redisURL and verifies the connection.
func Dial(ctx context.Context, redisURL, channel string) (*Transport, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	client := redis.NewClient(opt)

	pctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := client.Ping(pctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	t := New(client, channel)
	t.owned = true
	return t, nil
}

// New wraps an existing client. The caller keeps ownership of it.
func New(client *redis.Client, channel string) *Transport {
	return &Transport{client: client, channel: channel}
}

// Name identifies the transport in logs and metrics.
func (t *Transport) Name() string { return "redis" }

// Notify publishes one score change.
func (t *Transport) Notify(ctx context.Context, leadID string, score int64) error {
	payload, err := json.Marshal(types.ScoreUpdate{LeadID: leadID, Score: score})
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	if err := t.client.Publish(ctx, t.channel, payload).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", t.channel, err)
	}
	return nil
}

// Close releases the client when the transport dialled it.
func (t *Transport) Close() error {
	if !t.owned {
		return nil
	}
	return t.client.Close()
}
