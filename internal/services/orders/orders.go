// Package orders ведёт заказы платных планов: создание, одобрение оператором
// с активацией плана и отклонение.
package orders

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/magabrotheeeer/chatgate/internal/lib/lock"
	"github.com/magabrotheeeer/chatgate/internal/lib/sl"
	"github.com/magabrotheeeer/chatgate/internal/models"
	"github.com/magabrotheeeer/chatgate/internal/storage"
)

const (
	lockOrders    = "orders"
	idTimeLayout  = "20060102150405"
	idPrefix      = "ORDER_"
	userIDPrefLen = 8
)

var (
	// ErrInvalidPlan заказать можно только платный план.
	ErrInvalidPlan = errors.New("invalid plan")
	// ErrInvalidPeriod неизвестный период оплаты.
	ErrInvalidPeriod = errors.New("invalid billing period")
	// ErrDuplicatePendingOrder у пользователя уже есть ожидающий заказ на этот план.
	ErrDuplicatePendingOrder = errors.New("pending order for this plan already exists")
	// ErrOrderNotFound заказ не найден.
	ErrOrderNotFound = errors.New("order not found")
	// ErrOrderAlreadyReviewed заказ уже одобрен или отклонён.
	ErrOrderAlreadyReviewed = errors.New("order already reviewed")
	// ErrApprovalCascade активация плана не удалась, заказ остался в ожидании.
	ErrApprovalCascade = errors.New("approval cascade failed")
)

// Repository хранилище заказов.
type Repository interface {
	CreateOrder(ctx context.Context, order models.Order) error
	GetOrder(ctx context.Context, id string) (*models.Order, error)
	UpdateOrder(ctx context.Context, order models.Order) error
	ListOrders(ctx context.Context) ([]models.Order, error)
}

// Accounts часть хранилища учётных записей, нужная заказам.
type Accounts interface {
	GetUser(ctx context.Context, userID string) (*models.User, error)
	SetSubscription(ctx context.Context, userID string, plan models.Plan) (models.Plan, error)
}

// Credits часть кредитного журнала, нужная заказам.
type Credits interface {
	Initialize(ctx context.Context, userID string, plan models.Plan) (*models.CreditAccount, error)
	Restore(ctx context.Context, userID string, prev *models.CreditAccount) error
}

// SubmitInput параметры нового заказа. Пустой Period означает monthly.
type SubmitInput struct {
	UserID string
	Plan   models.Plan
	Period models.BillingPeriod
}

// Service процесс обработки заказов.
type Service struct {
	repo      Repository
	accounts  Accounts
	credits   Credits
	publisher EventPublisher
	locker    lock.Locker
	prices    Prices
	log       *slog.Logger
	now       func() time.Time
}

// New создает Service. publisher может быть nil.
func New(
	repo Repository,
	accounts Accounts,
	credits Credits,
	publisher EventPublisher,
	locker lock.Locker,
	prices Prices,
	log *slog.Logger,
) *Service {
	return &Service{
		repo:      repo,
		accounts:  accounts,
		credits:   credits,
		publisher: publisher,
		locker:    locker,
		prices:    prices,
		log:       log,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// OrderID собирает идентификатор ORDER_<время>_<первые 8 символов user id>_<PLAN>.
func OrderID(at time.Time, userID string, plan models.Plan) string {
	return orderID(at, userID, plan, 0)
}

// orderID при seq > 0 вставляет порядковый номер перед планом,
// чтобы план оставался последним сегментом.
func orderID(at time.Time, userID string, plan models.Plan, seq int) string {
	prefix := userID
	if len(prefix) > userIDPrefLen {
		prefix = prefix[:userIDPrefLen]
	}
	head := idPrefix + at.UTC().Format(idTimeLayout) + "_" + prefix
	if seq > 0 {
		head += "_" + strconv.Itoa(seq)
	}
	return head + "_" + strings.ToUpper(string(plan))
}

// PlanFromOrderID извлекает платный план из последнего сегмента идентификатора.
func PlanFromOrderID(id string) (models.Plan, bool) {
	i := strings.LastIndex(id, "_")
	if i < 0 || i == len(id)-1 {
		return "", false
	}
	plan, ok := models.ParsePlan(id[i+1:])
	if !ok || !plan.Paid() {
		return "", false
	}
	return plan, true
}

// Submit создает ожидающий заказ.
func (s *Service) Submit(ctx context.Context, in SubmitInput) (*models.Order, error) {
	const op = "orders.Submit"

	if !in.Plan.Paid() {
		return nil, fmt.Errorf("%s: %w: %q", op, ErrInvalidPlan, in.Plan)
	}
	if in.Period == "" {
		in.Period = models.PeriodMonthly
	}
	if in.Period != models.PeriodMonthly && in.Period != models.PeriodYearly {
		return nil, fmt.Errorf("%s: %w: %q", op, ErrInvalidPeriod, in.Period)
	}

	user, err := s.accounts.GetUser(ctx, in.UserID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	unlock, err := s.locker.Lock(ctx, lockOrders)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer unlock()

	all, err := s.repo.ListOrders(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	ids := make(map[string]struct{}, len(all))
	for _, o := range all {
		ids[o.ID] = struct{}{}
		if o.UserID == in.UserID && o.Plan == in.Plan && o.Pending() {
			return nil, ErrDuplicatePendingOrder
		}
	}

	now := s.now()
	id := OrderID(now, user.ID, in.Plan)
	for seq := 2; ; seq++ {
		if _, taken := ids[id]; !taken {
			break
		}
		id = orderID(now, user.ID, in.Plan, seq)
	}

	order := models.Order{
		ID:        id,
		UserID:    user.ID,
		Username:  user.Username,
		Email:     user.Email,
		Plan:      in.Plan,
		Period:    in.Period,
		Amount:    s.prices.Price(in.Plan, in.Period),
		Currency:  s.prices.Currency,
		Status:    models.OrderPending,
		CreatedAt: now,
	}
	if err := s.repo.CreateOrder(ctx, order); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	s.log.Info("order submitted",
		slog.String("order_id", order.ID),
		slog.String("user_id", order.UserID),
		slog.String("plan", string(order.Plan)))
	s.publish(ctx, models.OrderEventSubmitted, order)
	return &order, nil
}

// Approve одобряет заказ и активирует план: меняет подписку пользователя
// и пересоздаёт его кредитный счёт. Если любой шаг не удался, выполненные
// шаги откатываются, заказ остаётся в ожидании и возвращается ErrApprovalCascade.
func (s *Service) Approve(ctx context.Context, orderID, reviewer, notes string) (*models.Order, error) {
	const op = "orders.Approve"

	unlock, err := s.locker.Lock(ctx, lockOrders)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer unlock()

	order, err := s.pending(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	log := s.log.With(
		slog.String("op", op),
		slog.String("order_id", order.ID),
		slog.String("user_id", order.UserID),
	)

	prevPlan, err := s.accounts.SetSubscription(ctx, order.UserID, order.Plan)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, ErrApprovalCascade, err)
	}

	// Откат не должен прерываться отменой запроса.
	rollbackCtx := context.WithoutCancel(ctx)

	prevAcct, err := s.credits.Initialize(ctx, order.UserID, order.Plan)
	if err != nil {
		s.revertSubscription(rollbackCtx, log, order.UserID, prevPlan)
		return nil, fmt.Errorf("%s: %w: %w", op, ErrApprovalCascade, err)
	}

	reviewedAt := s.now()
	order.Status = models.OrderApproved
	order.ReviewedAt = &reviewedAt
	order.ReviewedBy = reviewer
	order.Notes = notes
	if err := s.repo.UpdateOrder(ctx, *order); err != nil {
		if rerr := s.credits.Restore(rollbackCtx, order.UserID, prevAcct); rerr != nil {
			log.Error("failed to restore credit account after approval failure", sl.Err(rerr))
		}
		s.revertSubscription(rollbackCtx, log, order.UserID, prevPlan)
		return nil, fmt.Errorf("%s: %w: %w", op, ErrApprovalCascade, err)
	}

	log.Info("order approved", slog.String("plan", string(order.Plan)), slog.String("reviewer", reviewer))
	s.publish(ctx, models.OrderEventApproved, *order)
	return order, nil
}

func (s *Service) revertSubscription(ctx context.Context, log *slog.Logger, userID string, prev models.Plan) {
	if _, err := s.accounts.SetSubscription(ctx, userID, prev); err != nil {
		log.Error("failed to revert subscription after approval failure",
			slog.String("plan", string(prev)),
			sl.Err(err))
	}
}

// Reject отклоняет заказ без изменения подписки.
func (s *Service) Reject(ctx context.Context, orderID, reviewer, notes string) (*models.Order, error) {
	const op = "orders.Reject"

	unlock, err := s.locker.Lock(ctx, lockOrders)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer unlock()

	order, err := s.pending(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	reviewedAt := s.now()
	order.Status = models.OrderRejected
	order.ReviewedAt = &reviewedAt
	order.ReviewedBy = reviewer
	order.Notes = notes
	if err := s.repo.UpdateOrder(ctx, *order); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	s.log.Info("order rejected", slog.String("order_id", order.ID), slog.String("reviewer", reviewer))
	s.publish(ctx, models.OrderEventRejected, *order)
	return order, nil
}

// Get возвращает заказ по id.
func (s *Service) Get(ctx context.Context, orderID string) (*models.Order, error) {
	const op = "orders.Get"
	o, err := s.repo.GetOrder(ctx, orderID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%s: %w", op, ErrOrderNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return o, nil
}

// ListPending возвращает ожидающие заказы, старые первыми.
func (s *Service) ListPending(ctx context.Context) ([]models.Order, error) {
	return s.list(ctx, "orders.ListPending", func(o models.Order) bool { return o.Pending() })
}

// ListByUser возвращает заказы пользователя.
func (s *Service) ListByUser(ctx context.Context, userID string) ([]models.Order, error) {
	return s.list(ctx, "orders.ListByUser", func(o models.Order) bool { return o.UserID == userID })
}

// ListAll возвращает все заказы.
func (s *Service) ListAll(ctx context.Context) ([]models.Order, error) {
	return s.list(ctx, "orders.ListAll", func(models.Order) bool { return true })
}

func (s *Service) list(ctx context.Context, op string, keep func(models.Order) bool) ([]models.Order, error) {
	all, err := s.repo.ListOrders(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	out := make([]models.Order, 0, len(all))
	for _, o := range all {
		if keep(o) {
			out = append(out, o)
		}
	}
	slices.SortFunc(out, func(a, b models.Order) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out, nil
}

func (s *Service) pending(ctx context.Context, orderID string) (*models.Order, error) {
	order, err := s.repo.GetOrder(ctx, orderID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	if !order.Pending() {
		return nil, ErrOrderAlreadyReviewed
	}
	return order, nil
}

func (s *Service) publish(ctx context.Context, eventType string, order models.Order) {
	if s.publisher == nil {
		return
	}
	ev := models.OrderEvent{Type: eventType, Order: order, OccurredAt: s.now()}
	if err := s.publisher.PublishOrderEvent(ctx, ev); err != nil {
		s.log.Warn("failed to publish order event",
			slog.String("order_id", order.ID),
			slog.String("event", eventType),
			sl.Err(err))
	}
}
