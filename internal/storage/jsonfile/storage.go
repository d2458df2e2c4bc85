package jsonfile

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/magabrotheeeer/chatgate/internal/models"
	"github.com/magabrotheeeer/chatgate/internal/storage"
)

// Имена файлов снимков в каталоге данных.
const (
	UsersFile    = "users.json"
	SessionsFile = "sessions.json"
	TrialsFile   = "trial_records.json"
	CreditsFile  = "user_credits.json"
	OrdersFile   = "orders.json"
)

// Storage хранилище на JSON-файлах.
type Storage struct {
	users    *Collection[models.User]
	sessions *Collection[models.Session]
	trials   *Collection[models.TrialRecord]
	credits  *Collection[models.CreditAccount]
	orders   *Collection[models.Order]
}

// New открывает или создает каталог данных и загружает все снимки.
func New(dir string) (*Storage, error) {
	const op = "jsonfile.New"

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	var (
		s   Storage
		err error
	)
	if s.users, err = OpenCollection[models.User](filepath.Join(dir, UsersFile)); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if s.sessions, err = OpenCollection[models.Session](filepath.Join(dir, SessionsFile)); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if s.trials, err = OpenCollection[models.TrialRecord](filepath.Join(dir, TrialsFile), trialKey); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if s.credits, err = OpenCollection[models.CreditAccount](filepath.Join(dir, CreditsFile), accountKey); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if s.orders, err = OpenCollection[models.Order](filepath.Join(dir, OrdersFile)); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &s, nil
}

func trialKey(userID string, rec *models.TrialRecord) {
	if rec.UserID == "" {
		rec.UserID = userID
	}
}

func accountKey(userID string, acct *models.CreditAccount) {
	if acct.UserID == "" {
		acct.UserID = userID
	}
}

// ===== USERS =====

// CreateUser добавляет пользователя.
func (s *Storage) CreateUser(ctx context.Context, user models.User) error {
	const op = "jsonfile.CreateUser"
	err := s.users.Update(ctx, func(items map[string]models.User) error {
		if _, ok := items[user.ID]; ok {
			return storage.ErrExists
		}
		items[user.ID] = user
		return nil
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// GetUser возвращает пользователя по id.
func (s *Storage) GetUser(ctx context.Context, id string) (*models.User, error) {
	const op = "jsonfile.GetUser"
	u, ok, err := s.users.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if !ok {
		return nil, fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}
	return &u, nil
}

// ListUsers возвращает всех пользователей.
func (s *Storage) ListUsers(ctx context.Context) ([]models.User, error) {
	const op = "jsonfile.ListUsers"
	users, err := s.users.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return users, nil
}

// UpdateUser перезаписывает существующего пользователя.
func (s *Storage) UpdateUser(ctx context.Context, user models.User) error {
	const op = "jsonfile.UpdateUser"
	err := s.users.Update(ctx, func(items map[string]models.User) error {
		if _, ok := items[user.ID]; !ok {
			return storage.ErrNotFound
		}
		items[user.ID] = user
		return nil
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// ===== SESSIONS =====

// CreateSession сохраняет сессию.
func (s *Storage) CreateSession(ctx context.Context, session models.Session) error {
	const op = "jsonfile.CreateSession"
	err := s.sessions.Update(ctx, func(items map[string]models.Session) error {
		if _, ok := items[session.ID]; ok {
			return storage.ErrExists
		}
		items[session.ID] = session
		return nil
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// GetSession возвращает сессию по id, в том числе истёкшую.
func (s *Storage) GetSession(ctx context.Context, id string) (*models.Session, error) {
	const op = "jsonfile.GetSession"
	sess, ok, err := s.sessions.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if !ok {
		return nil, fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}
	return &sess, nil
}

// DeleteSession удаляет сессию. Отсутствие сессии не ошибка.
func (s *Storage) DeleteSession(ctx context.Context, id string) error {
	const op = "jsonfile.DeleteSession"
	if _, ok, _ := s.sessions.Get(ctx, id); !ok {
		return nil
	}
	err := s.sessions.Update(ctx, func(items map[string]models.Session) error {
		delete(items, id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// CountSessions считает сессии, не истёкшие к моменту now.
func (s *Storage) CountSessions(ctx context.Context, now time.Time) (int, error) {
	const op = "jsonfile.CountSessions"
	all, err := s.sessions.All(ctx)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	n := 0
	for _, sess := range all {
		if !sess.Expired(now) {
			n++
		}
	}
	return n, nil
}

// ===== TRIALS =====

// GetTrial возвращает запись пробного периода пользователя.
func (s *Storage) GetTrial(ctx context.Context, userID string) (*models.TrialRecord, error) {
	const op = "jsonfile.GetTrial"
	rec, ok, err := s.trials.Get(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if !ok {
		return nil, fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}
	return &rec, nil
}

// SaveTrial создает или заменяет запись.
func (s *Storage) SaveTrial(ctx context.Context, rec models.TrialRecord) error {
	const op = "jsonfile.SaveTrial"
	err := s.trials.Update(ctx, func(items map[string]models.TrialRecord) error {
		items[rec.UserID] = rec
		return nil
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// ListTrials возвращает все записи.
func (s *Storage) ListTrials(ctx context.Context) ([]models.TrialRecord, error) {
	const op = "jsonfile.ListTrials"
	recs, err := s.trials.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return recs, nil
}

// ===== CREDITS =====

// GetAccount возвращает кредитный счёт пользователя.
func (s *Storage) GetAccount(ctx context.Context, userID string) (*models.CreditAccount, error) {
	const op = "jsonfile.GetAccount"
	acct, ok, err := s.credits.Get(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if !ok {
		return nil, fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}
	return &acct, nil
}

// SaveAccount создает или заменяет счёт.
func (s *Storage) SaveAccount(ctx context.Context, acct models.CreditAccount) error {
	const op = "jsonfile.SaveAccount"
	err := s.credits.Update(ctx, func(items map[string]models.CreditAccount) error {
		items[acct.UserID] = acct
		return nil
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// DeleteAccount удаляет счёт.
func (s *Storage) DeleteAccount(ctx context.Context, userID string) error {
	const op = "jsonfile.DeleteAccount"
	err := s.credits.Update(ctx, func(items map[string]models.CreditAccount) error {
		delete(items, userID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// ListAccounts возвращает все счета.
func (s *Storage) ListAccounts(ctx context.Context) ([]models.CreditAccount, error) {
	const op = "jsonfile.ListAccounts"
	accts, err := s.credits.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return accts, nil
}

// ===== ORDERS =====

// CreateOrder добавляет заказ. Повтор order_id даёт storage.ErrExists.
func (s *Storage) CreateOrder(ctx context.Context, order models.Order) error {
	const op = "jsonfile.CreateOrder"
	err := s.orders.Update(ctx, func(items map[string]models.Order) error {
		if _, ok := items[order.ID]; ok {
			return storage.ErrExists
		}
		items[order.ID] = order
		return nil
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// GetOrder возвращает заказ по id.
func (s *Storage) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	const op = "jsonfile.GetOrder"
	o, ok, err := s.orders.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if !ok {
		return nil, fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}
	return &o, nil
}

// UpdateOrder перезаписывает существующий заказ.
func (s *Storage) UpdateOrder(ctx context.Context, order models.Order) error {
	const op = "jsonfile.UpdateOrder"
	err := s.orders.Update(ctx, func(items map[string]models.Order) error {
		if _, ok := items[order.ID]; !ok {
			return storage.ErrNotFound
		}
		items[order.ID] = order
		return nil
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// ListOrders возвращает все заказы.
func (s *Storage) ListOrders(ctx context.Context) ([]models.Order, error) {
	const op = "jsonfile.ListOrders"
	orders, err := s.orders.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return orders, nil
}
