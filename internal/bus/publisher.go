package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// TypeInProgressFormData is the envelope type for republished form data.
const TypeInProgressFormData = "inProgressFormData"

// Envelope wraps a decoded inbound event for the application-wide channel.
// The shape is part of the contract with the form components; do not add
// fields without coordinating with consumers.
type Envelope struct {
	Type         string          `json:"type"`
	Title        string          `json:"title"`
	CallFormData json.RawMessage `json:"callFormData"`
}

// Config configures the outbound bus.
type Config struct {
	Addr     string
	Password string
	DB       int
	Channel  string // pub/sub channel name
}

// Publisher pushes envelopes onto the application-wide Redis channel for
// consumption by the form components.
type Publisher struct {
	client     *redis.Client
	channel    string
	instanceID string
	logger     *slog.Logger
}

// NewPublisher creates a bus publisher. It does not connect; Redis clients
// dial lazily, and Start verifies reachability.
func NewPublisher(cfg Config, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	instanceID := uuid.NewString()
	return &Publisher{
		client:     client,
		channel:    cfg.Channel,
		instanceID: instanceID,
		logger:     logger.With("component", "bus", "instance_id", instanceID),
	}
}

// Start verifies the Redis connection.
func (p *Publisher) Start(ctx context.Context) error {
	if err := p.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	p.logger.Info("bus publisher started", "channel", p.channel)
	return nil
}

// Close releases the Redis connection.
func (p *Publisher) Close() error {
	return p.client.Close()
}

// PublishFormData republishes an extracted-form-data payload for the rest
// of the application. title identifies the originating component.
func (p *Publisher) PublishFormData(ctx context.Context, title string, payload json.RawMessage) error {
	return p.Publish(ctx, Envelope{
		Type:         TypeInProgressFormData,
		Title:        title,
		CallFormData: payload,
	})
}

// Publish sends an envelope on the bus channel.
func (p *Publisher) Publish(ctx context.Context, env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	if err := p.client.Publish(ctx, p.channel, data).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", p.channel, err)
	}
	p.logger.Debug("published envelope", "type", env.Type, "title", env.Title)
	return nil
}

// Subscribe returns a stream of envelopes from the bus channel. Intended
// for consumers outside the gateway process; the gateway itself only
// publishes.
func (p *Publisher) Subscribe(ctx context.Context) (<-chan Envelope, error) {
	sub := p.client.Subscribe(ctx, p.channel)
	if _, err := sub.Receive(ctx); err != nil {
		return nil, fmt.Errorf("subscribe to %s: %w", p.channel, err)
	}

	out := make(chan Envelope, 64)
	go func() {
		defer close(out)
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var env Envelope
				if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
					p.logger.Warn("undecodable bus message", "error", err)
					continue
				}
				select {
				case out <- env:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
