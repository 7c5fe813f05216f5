package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/streadway/amqp"
	"go.uber.org/zap"
)

// AlertPublisher sends alert events to a RabbitMQ topic exchange with the
// routing key alert.<kind>. Other event types are ignored.
type AlertPublisher struct {
	conn     *amqp.Connection
	exchange string
	log      *zap.Logger

	mu sync.Mutex
	ch *amqp.Channel
}

// DialAlerts connects to url and declares the exchange
func DialAlerts(url, exchange string, log *zap.Logger) (*AlertPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	err = ch.ExchangeDeclare(
		exchange,
		"topic",
		true,  // durable
		false, // auto delete
		false, // internal
		false, // no wait
		nil,
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}

	return &AlertPublisher{conn: conn, ch: ch, exchange: exchange, log: log.Named("alerts")}, nil
}

// RoutingKey is the key an alert is published under
func RoutingKey(e Event) string {
	if e.Alert == "" {
		return "alert.unknown"
	}
	return "alert." + e.Alert
}

func (p *AlertPublisher) Publish(_ context.Context, e Event) {
	if e.Type != TypeAlert {
		return
	}
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	body, err := Encode(e)
	if err != nil {
		p.log.Error("encode alert", zap.Error(err))
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	err = p.ch.Publish(
		p.exchange,
		RoutingKey(e),
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
			Timestamp:    e.At,
		},
	)
	if err != nil {
		p.log.Error("publish alert",
			zap.String("alert", e.Alert),
			zap.String("spin_id", e.SpinID),
			zap.Error(err))
	}
}

// Close closes the channel and connection
func (p *AlertPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ch.Close()
	return p.conn.Close()
}
