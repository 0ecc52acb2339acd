package publisher

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/blockedby/tg-archiver/internal/logger"
	natsclient "github.com/blockedby/tg-archiver/internal/nats"
	"github.com/blockedby/tg-archiver/internal/progress"
)

// NATSClient interface to allow mocking
type NATSClient interface {
	Publish(subject string, data []byte) error
}

// NATSPublisher sends progress events to per-channel subjects.
type NATSPublisher struct {
	js  NATSClient
	log *logger.Logger
}

// NewNATSPublisher creates a new publisher
func NewNATSPublisher(conn *nats.Conn) *NATSPublisher {
	return &NATSPublisher{js: conn, log: logger.Get()}
}

// PublishProgress publishes one progress event.
func (p *NATSPublisher) PublishProgress(_ context.Context, ev progress.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	if err := p.js.Publish(natsclient.ProgressSubject(ev.ChannelID), data); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}

	return nil
}

// Publish implements progress.Publisher. Failures are logged.
func (p *NATSPublisher) Publish(ev progress.Event) {
	if err := p.PublishProgress(context.Background(), ev); err != nil {
		p.logger().Warn().Err(err).Int64("channel_id", ev.ChannelID).Msg("progress event not published")
	}
}

// Forward publishes every event from bus until ctx ends.
func (p *NATSPublisher) Forward(ctx context.Context, bus *progress.Bus) {
	events, cancel := bus.Subscribe(1024)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			p.Publish(ev)
		}
	}
}

func (p *NATSPublisher) logger() *logger.Logger {
	if p.log == nil {
		return logger.Get()
	}
	return p.log
}
