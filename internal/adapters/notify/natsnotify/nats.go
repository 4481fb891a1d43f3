// Package natsnotify publishes score changes to a NATS subject.
package natsnotify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/okian/leadscore/internal/domain/types"
	"github.com/okian/leadscore/pkg/logger"
)

// Config holds NATS transport configuration.
type Config struct {
	// URL is the NATS server URL (e.g., "nats://localhost:4222").
	URL     string
	Subject string
	// Name is the client name for connection identification.
	Name string
	// MaxReconnects is the maximum number of reconnection attempts.
	// Use -1 for infinite reconnects.
	MaxReconnects int
	ReconnectWait time.Duration
	Timeout       time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		URL:           nats.DefaultURL,
		Subject:       "leadscore.lead_updated",
		Name:          "leadscore",
		MaxReconnects: -1,
		ReconnectWait: 2 * time.Second,
		Timeout:       5 * time.Second,
	}
}

// Transport publishes {leadId, score} JSON messages.
type Transport struct {
	conn    *nats.Conn
	subject string
}

// Connect dials NATS. Connection state changes are logged through log.
func Connect(cfg Config, log logger.Logger) (*Transport, error) {
	if log == nil {
		log = logger.Nop()
	}
	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.Timeout),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn(context.Background(), "nats disconnected", logger.Error(err))
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Info(context.Background(), "nats reconnected")
		}),
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return &Transport{conn: conn, subject: cfg.Subject}, nil
}

// Name identifies the transport in logs and metrics.
func (t *Transport) Name() string { return "nats" }

// Notify publishes one score change.
func (t *Transport) Notify(ctx context.Context, leadID string, score int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := encode(leadID, score)
	if err != nil {
		return err
	}
	if err := t.conn.Publish(t.subject, data); err != nil {
		return fmt.Errorf("nats publish %s: %w", t.subject, err)
	}
	return nil
}

// Close drains pending publishes and closes the connection.
func (t *Transport) Close() error {
	return t.conn.Drain()
}

func encode(leadID string, score int64) ([]byte, error) {
	b, err := json.Marshal(types.ScoreUpdate{LeadID: leadID, Score: score})
	if err != nil {
		return nil, fmt.Errorf("marshal message: %w", err)
	}
	return b, nil
}
