// Package rabbitmq публикует и потребляет события заказов через RabbitMQ.
package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/streadway/amqp"

	"github.com/magabrotheeeer/chatgate/internal/models"
)

// Channel часть *amqp.Channel, нужная для публикации.
type Channel interface {
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// PublishMessage публикует сообщение в RabbitMQ.
func PublishMessage(ch Channel, exchange string, routingkey string, message any) error {
	const op = "rabbitmq.PublishMessage"
	body, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	err = ch.Publish(
		exchange,
		routingkey,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
		},
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// OrderPublisher отправляет события заказов в обменник orders.
// amqp.Channel не допускает параллельной публикации, поэтому вызовы сериализуются.
type OrderPublisher struct {
	mu sync.Mutex
	ch Channel
}

// NewOrderPublisher создает OrderPublisher.
func NewOrderPublisher(ch Channel) *OrderPublisher {
	return &OrderPublisher{ch: ch}
}

// PublishOrderEvent публикует событие с routing key, равным его типу.
func (p *OrderPublisher) PublishOrderEvent(ctx context.Context, ev models.OrderEvent) error {
	const op = "rabbitmq.PublishOrderEvent"
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := PublishMessage(p.ch, OrdersExchange, ev.Type, ev); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
