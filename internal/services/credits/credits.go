// Package credits ведёт кредитные счета платных планов: ежедневное пополнение
// до месячного лимита и списание со скидкой плана.
package credits

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/magabrotheeeer/chatgate/internal/lib/lock"
	"github.com/magabrotheeeer/chatgate/internal/models"
	"github.com/magabrotheeeer/chatgate/internal/storage"
)

const refreshInterval = 24 * time.Hour

var (
	// ErrInsufficientCredits на счёте меньше, чем стоит операция со скидкой.
	ErrInsufficientCredits = errors.New("insufficient credits")
	// ErrInvalidAmount отрицательная сумма списания.
	ErrInvalidAmount = errors.New("invalid amount")
)

// Repository хранилище кредитных счетов.
type Repository interface {
	GetAccount(ctx context.Context, userID string) (*models.CreditAccount, error)
	SaveAccount(ctx context.Context, acct models.CreditAccount) error
	DeleteAccount(ctx context.Context, userID string) error
	ListAccounts(ctx context.Context) ([]models.CreditAccount, error)
}

// Stats сводка по счетам.
type Stats struct {
	TotalAccounts    int                 `json:"total_accounts"`
	TotalCreditsUsed int                 `json:"total_credits_used"`
	PlanDistribution map[models.Plan]int `json:"plan_distribution"`
}

// Service кредитный журнал.
type Service struct {
	repo   Repository
	locker lock.Locker
	log    *slog.Logger
	now    func() time.Time
}

// New создает Service.
func New(repo Repository, locker lock.Locker, log *slog.Logger) *Service {
	return &Service{
		repo:   repo,
		locker: locker,
		log:    log,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Get читает счёт без побочных эффектов.
func (s *Service) Get(ctx context.Context, userID string) (*models.CreditAccount, bool, error) {
	const op = "credits.Get"
	acct, err := s.load(ctx, userID)
	if err != nil {
		return nil, false, fmt.Errorf("%s: %w", op, err)
	}
	return acct, acct != nil, nil
}

// Ensure возвращает счёт, создавая счёт плана free при его отсутствии.
func (s *Service) Ensure(ctx context.Context, userID string) (*models.CreditAccount, error) {
	const op = "credits.Ensure"

	unlock, err := s.locker.Lock(ctx, lockKey(userID))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer unlock()

	acct, err := s.load(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if acct != nil {
		return acct, nil
	}
	fresh := s.fromTemplate(userID, models.PlanFree)
	if err := s.repo.SaveAccount(ctx, fresh); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &fresh, nil
}

// Initialize заменяет счёт шаблоном плана: баланс равен месячному лимиту,
// списанное обнуляется. Возвращает прежний счёт или nil.
func (s *Service) Initialize(ctx context.Context, userID string, plan models.Plan) (*models.CreditAccount, error) {
	const op = "credits.Initialize"

	unlock, err := s.locker.Lock(ctx, lockKey(userID))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer unlock()

	prev, err := s.load(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	acct := s.fromTemplate(userID, plan)
	if err := s.repo.SaveAccount(ctx, acct); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	s.log.Info("credit account initialized",
		slog.String("user_id", userID),
		slog.String("plan", string(plan)),
		slog.Int("credits", acct.CurrentCredits))
	return prev, nil
}

// Restore возвращает счёт, заменённый Initialize. prev == nil удаляет счёт.
func (s *Service) Restore(ctx context.Context, userID string, prev *models.CreditAccount) error {
	const op = "credits.Restore"

	unlock, err := s.locker.Lock(ctx, lockKey(userID))
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer unlock()

	if prev == nil {
		err = s.repo.DeleteAccount(ctx, userID)
	} else {
		err = s.repo.SaveAccount(ctx, *prev)
	}
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Use списывает amount с учётом скидки плана и возвращает фактически списанное.
// При нехватке кредитов счёт не меняется.
func (s *Service) Use(ctx context.Context, userID string, amount int) (int, error) {
	const op = "credits.Use"
	if amount < 0 {
		return 0, fmt.Errorf("%s: %w", op, ErrInvalidAmount)
	}

	unlock, err := s.locker.Lock(ctx, lockKey(userID))
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	defer unlock()

	acct, err := s.load(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	if acct == nil {
		if amount == 0 {
			return 0, nil
		}
		return 0, ErrInsufficientCredits
	}

	cost := Discount(amount, acct.CreditDiscount)
	if acct.CurrentCredits < cost {
		return 0, ErrInsufficientCredits
	}
	acct.CurrentCredits -= cost
	acct.UsedCredits += cost
	if err := s.repo.SaveAccount(ctx, *acct); err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return cost, nil
}

// DailyRefresh пополняет счёт, если с прошлого пополнения прошло не меньше суток.
// Баланс не превышает месячный лимит и никогда не уменьшается.
func (s *Service) DailyRefresh(ctx context.Context, userID string) (bool, error) {
	const op = "credits.DailyRefresh"

	unlock, err := s.locker.Lock(ctx, lockKey(userID))
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	defer unlock()

	acct, err := s.load(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	if acct == nil {
		return false, nil
	}

	now := s.now()
	if now.Sub(acct.LastRefresh) < refreshInterval {
		return false, nil
	}
	acct.CurrentCredits = max(acct.CurrentCredits, min(acct.CurrentCredits+acct.DailyRefresh, acct.MonthlyCredits))
	acct.LastRefresh = now
	if err := s.repo.SaveAccount(ctx, *acct); err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return true, nil
}

// DiscountedCost считает стоимость операции для пользователя без списания.
func (s *Service) DiscountedCost(ctx context.Context, userID string, amount int) (int, error) {
	const op = "credits.DiscountedCost"
	acct, err := s.load(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	if acct == nil {
		return amount, nil
	}
	return Discount(amount, acct.CreditDiscount), nil
}

// Stats считает счета и распределение по планам.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	const op = "credits.Stats"
	all, err := s.repo.ListAccounts(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("%s: %w", op, err)
	}
	st := Stats{TotalAccounts: len(all), PlanDistribution: make(map[models.Plan]int)}
	for _, a := range all {
		st.TotalCreditsUsed += a.UsedCredits
		st.PlanDistribution[a.Plan]++
	}
	return st, nil
}

func (s *Service) fromTemplate(userID string, plan models.Plan) models.CreditAccount {
	t := Template(plan)
	now := s.now()
	return models.CreditAccount{
		UserID:             userID,
		Plan:               plan,
		MonthlyCredits:     t.MonthlyCredits,
		DailyRefresh:       t.DailyRefresh,
		ConcurrentTasks:    t.ConcurrentTasks,
		ScheduledTasks:     t.ScheduledTasks,
		AgentCollaboration: t.AgentCollaboration,
		CreditDiscount:     t.CreditDiscount,
		CurrentCredits:     t.MonthlyCredits,
		LastRefresh:        now,
		CreatedAt:          now,
	}
}

func (s *Service) load(ctx context.Context, userID string) (*models.CreditAccount, error) {
	acct, err := s.repo.GetAccount(ctx, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return acct, nil
}

func lockKey(userID string) string {
	return lock.Key("credits", userID)
}
