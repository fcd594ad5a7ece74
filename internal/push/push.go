// Package push publishes mobile notification jobs to RabbitMQ. A separate
// worker fleet consumes the queue and talks to APNs/FCM.
package push

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Notification is the job handed to the notification workers.
type Notification struct {
	Token          string `json:"token"`
	Title          string `json:"title"`
	Body           string `json:"body"`
	TenantID       string `json:"tenant_id"`
	ConversationID string `json:"conversation_id"`
}

// Publisher delivers notifications somewhere. The AMQP implementation is the
// real one; Fallback is used when no broker is configured.
type Publisher interface {
	Notify(ctx context.Context, n Notification) error
	Close() error
}

type amqpPublisher struct {
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
	logger   *slog.Logger
}

// Dial connects to the broker with exponential backoff and declares the
// topic exchange.
func Dial(log *slog.Logger, url, exchange string) (Publisher, error) {
	var (
		conn *amqp.Connection
		err  error
	)
	backoff := time.Second
	for attempt := 0; attempt < 5; attempt++ {
		conn, err = amqp.Dial(url)
		if err == nil {
			break
		}
		log.Warn("amqp dial failed, retrying",
			slog.Int("attempt", attempt+1),
			slog.String("error", err.Error()))
		time.Sleep(backoff)
		backoff *= 2
	}
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}
	return &amqpPublisher{
		conn:     conn,
		channel:  ch,
		exchange: exchange,
		logger:   log.With(slog.String("service", "push")),
	}, nil
}

func (p *amqpPublisher) Notify(ctx context.Context, n Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	err = p.channel.PublishWithContext(ctx, p.exchange, "push.message", false, false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now().UTC(),
			Body:         body,
		})
	if err != nil {
		return fmt.Errorf("publish notification: %w", err)
	}
	return nil
}

func (p *amqpPublisher) Close() error {
	if err := p.channel.Close(); err != nil {
		return err
	}
	return p.conn.Close()
}

// Fallback drops notifications with a debug log. Used in development when no
// broker is configured.
type Fallback struct {
	Logger *slog.Logger
}

func (f Fallback) Notify(_ context.Context, n Notification) error {
	f.Logger.Debug("push disabled, dropping notification",
		slog.String("conversation_id", n.ConversationID))
	return nil
}

func (f Fallback) Close() error { return nil }
