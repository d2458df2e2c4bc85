package rabbitmq

import "github.com/magabrotheeeer/chatgate/internal/models"

// OrdersExchange direct-обменник событий заказов. Routing key совпадает с типом события.
const OrdersExchange = "orders"

// Очереди уведомлений о заказах.
const (
	QueueOrderReview = "orders.review"
	QueueOrderResult = "orders.result"
)

// QueueConfig очередь и ключи, которыми она привязана к обменнику.
type QueueConfig struct {
	QueueName   string
	RoutingKeys []string
}

// GetOrderQueues очереди воркера уведомлений: новые заказы для оператора
// и результаты проверки для покупателя.
func GetOrderQueues() []QueueConfig {
	return []QueueConfig{
		{QueueName: QueueOrderReview, RoutingKeys: []string{models.OrderEventSubmitted}},
		{QueueName: QueueOrderResult, RoutingKeys: []string{models.OrderEventApproved, models.OrderEventRejected}},
	}
}
