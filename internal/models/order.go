package models

import "time"

// OrderStatus состояние заказа. pending переходит в approved или rejected ровно один раз.
type OrderStatus string

const (
	OrderPending  OrderStatus = "pending"
	OrderApproved OrderStatus = "approved"
	OrderRejected OrderStatus = "rejected"
)

// BillingPeriod период оплаты заказа.
type BillingPeriod string

const (
	PeriodMonthly BillingPeriod = "monthly"
	PeriodYearly  BillingPeriod = "yearly"
)

// Order намерение покупки плана, ожидающее ручной проверки оператором.
type Order struct {
	ID         string        `json:"order_id"`
	UserID     string        `json:"user_id"`
	Username   string        `json:"username"`
	Email      string        `json:"email"`
	Plan       Plan          `json:"plan"`
	Period     BillingPeriod `json:"period"`
	Amount     float64       `json:"amount"`
	Currency   string        `json:"currency"`
	Status     OrderStatus   `json:"status"`
	CreatedAt  time.Time     `json:"created_at"`
	ReviewedAt *time.Time    `json:"reviewed_at"`
	ReviewedBy string        `json:"reviewed_by"`
	Notes      string        `json:"notes"`
}

// Pending сообщает, ожидает ли заказ проверки.
func (o *Order) Pending() bool {
	return o.Status == OrderPending
}

// Типы событий жизненного цикла заказа. Совпадают с routing key в RabbitMQ.
const (
	OrderEventSubmitted = "submitted"
	OrderEventApproved  = "approved"
	OrderEventRejected  = "rejected"
)

// OrderEvent публикуется при каждом переходе заказа.
type OrderEvent struct {
	Type       string    `json:"type"`
	Order      Order     `json:"order"`
	OccurredAt time.Time `json:"occurred_at"`
}
