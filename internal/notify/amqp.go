package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Exchange is the fanout exchange every device publishes to and listens on.
const Exchange = "reelsync.projects"

type AMQPPublisher struct {
	conn     *amqp.Connection
	deviceID string
	logger   *slog.Logger

	mu sync.Mutex
	ch *amqp.Channel
}

// DialAMQP connects to the broker, retrying a few times, and declares the exchange.
func DialAMQP(url, deviceID string, logger *slog.Logger) (*AMQPPublisher, error) {
	var conn *amqp.Connection
	var err error
	for i := 0; i < 5; i++ {
		conn, err = amqp.Dial(url)
		if err == nil {
			break
		}
		logger.Warn("amqp dial failed, retrying", "attempt", i+1, "error", err)
		time.Sleep(time.Duration(i+1) * time.Second)
	}
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(Exchange, amqp.ExchangeFanout, true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}
	return &AMQPPublisher{conn: conn, ch: ch, deviceID: deviceID, logger: logger}, nil
}

func (p *AMQPPublisher) Publish(ctx context.Context, e Event) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	err = p.ch.PublishWithContext(ctx, Exchange, "", false, false, amqp.Publishing{
		ContentType: "application/json",
		Timestamp:   e.At,
		AppId:       p.deviceID,
		Body:        body,
	})
	if err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

// Listen consumes events from other devices until ctx is done. Events this
// device published are dropped.
func (p *AMQPPublisher) Listen(ctx context.Context, handle func(Event)) error {
	ch, err := p.conn.Channel()
	if err != nil {
		return fmt.Errorf("open consumer channel: %w", err)
	}
	defer ch.Close()

	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}
	if err := ch.QueueBind(q.Name, "", Exchange, false, nil); err != nil {
		return fmt.Errorf("bind queue: %w", err)
	}
	msgs, err := ch.ConsumeWithContext(ctx, q.Name, "", true, true, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-msgs:
			if !ok {
				return fmt.Errorf("amqp delivery channel closed")
			}
			e, err := DecodeEvent(d.Body)
			if err != nil {
				p.logger.Warn("dropping malformed event", "error", err)
				continue
			}
			if e.DeviceID == p.deviceID {
				continue
			}
			handle(e)
		}
	}
}

func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ch.Close()
	return p.conn.Close()
}
