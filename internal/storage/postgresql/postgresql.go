// Package postgresql хранилище сервиса на PostgreSQL через database/sql и драйвер pgx.
package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	// Регистрация драйвера pgx для использования с database/sql.
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/magabrotheeeer/chatgate/internal/models"
	"github.com/magabrotheeeer/chatgate/internal/storage"
)

const uniqueViolation = "23505"

// Storage инкапсулирует соединение с базой данных PostgreSQL.
type Storage struct {
	DB *sql.DB
}

// New открывает соединение и проверяет его.
func New(ctx context.Context, storageConnectionString string) (*Storage, error) {
	const op = "postgresql.New"

	db, err := sql.Open("pgx", storageConnectionString)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err = db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &Storage{DB: db}, nil
}

// Close закрывает пул соединений.
func (s *Storage) Close() error {
	return s.DB.Close()
}

// mapErr переводит ошибки драйвера в ошибки пакета storage.
func mapErr(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%w: %s", storage.ErrExists, pgErr.ConstraintName)
	}
	return err
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}

type scanner interface {
	Scan(dest ...any) error
}

// ===== USERS =====

const userColumns = `id, username, email, phone, password_hash, created_at, subscription, trial_used, chat_count, last_login`

func scanUser(row scanner) (models.User, error) {
	var (
		u         models.User
		lastLogin sql.NullTime
	)
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.Phone, &u.PasswordHash, &u.CreatedAt,
		&u.Subscription, &u.TrialUsed, &u.ChatCount, &lastLogin)
	u.CreatedAt = u.CreatedAt.UTC()
	u.LastLogin = timePtr(lastLogin)
	return u, err
}

// CreateUser добавляет пользователя.
func (s *Storage) CreateUser(ctx context.Context, user models.User) error {
	const op = "postgresql.CreateUser"
	_, err := s.DB.ExecContext(ctx, `INSERT INTO users (`+userColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		user.ID, user.Username, user.Email, user.Phone, user.PasswordHash, user.CreatedAt,
		user.Subscription, user.TrialUsed, user.ChatCount, nullTime(user.LastLogin))
	if err != nil {
		return fmt.Errorf("%s: %w", op, mapErr(err))
	}
	return nil
}

// GetUser возвращает пользователя по id.
func (s *Storage) GetUser(ctx context.Context, id string) (*models.User, error) {
	const op = "postgresql.GetUser"
	u, err := scanUser(s.DB.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, mapErr(err))
	}
	return &u, nil
}

// ListUsers возвращает всех пользователей.
func (s *Storage) ListUsers(ctx context.Context) ([]models.User, error) {
	const op = "postgresql.ListUsers"
	rows, err := s.DB.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return users, nil
}

// UpdateUser перезаписывает существующего пользователя.
func (s *Storage) UpdateUser(ctx context.Context, user models.User) error {
	const op = "postgresql.UpdateUser"
	res, err := s.DB.ExecContext(ctx, `UPDATE users SET
			username = $2, email = $3, phone = $4, password_hash = $5, subscription = $6,
			trial_used = $7, chat_count = $8, last_login = $9
		WHERE id = $1`,
		user.ID, user.Username, user.Email, user.Phone, user.PasswordHash, user.Subscription,
		user.TrialUsed, user.ChatCount, nullTime(user.LastLogin))
	return affected(op, res, err)
}

func affected(op string, res sql.Result, err error) error {
	if err != nil {
		return fmt.Errorf("%s: %w", op, mapErr(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", op, storage.ErrNotFound)
	}
	return nil
}

// ===== SESSIONS =====

// CreateSession сохраняет сессию.
func (s *Storage) CreateSession(ctx context.Context, session models.Session) error {
	const op = "postgresql.CreateSession"
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO sessions (session_id, user_id, created_at, expires_at) VALUES ($1, $2, $3, $4)`,
		session.ID, session.UserID, session.CreatedAt, session.ExpiresAt)
	if err != nil {
		return fmt.Errorf("%s: %w", op, mapErr(err))
	}
	return nil
}

// GetSession возвращает сессию по id, в том числе истёкшую.
func (s *Storage) GetSession(ctx context.Context, id string) (*models.Session, error) {
	const op = "postgresql.GetSession"
	var sess models.Session
	err := s.DB.QueryRowContext(ctx,
		`SELECT session_id, user_id, created_at, expires_at FROM sessions WHERE session_id = $1`, id).
		Scan(&sess.ID, &sess.UserID, &sess.CreatedAt, &sess.ExpiresAt)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, mapErr(err))
	}
	sess.CreatedAt, sess.ExpiresAt = sess.CreatedAt.UTC(), sess.ExpiresAt.UTC()
	return &sess, nil
}

// DeleteSession удаляет сессию. Отсутствие сессии не ошибка.
func (s *Storage) DeleteSession(ctx context.Context, id string) error {
	const op = "postgresql.DeleteSession"
	if _, err := s.DB.ExecContext(ctx, `DELETE FROM sessions WHERE session_id = $1`, id); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// CountSessions считает сессии, не истёкшие к моменту now.
func (s *Storage) CountSessions(ctx context.Context, now time.Time) (int, error) {
	const op = "postgresql.CountSessions"
	var n int
	if err := s.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions WHERE expires_at >= $1`, now).Scan(&n); err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return n, nil
}

// ===== TRIALS =====

const trialColumns = `user_id, username, email, phone, used, used_at, month, chat_count, max_chats`

func scanTrial(row scanner) (models.TrialRecord, error) {
	var r models.TrialRecord
	err := row.Scan(&r.UserID, &r.Username, &r.Email, &r.Phone, &r.Used, &r.UsedAt, &r.Month, &r.ChatCount, &r.MaxChats)
	r.UsedAt = r.UsedAt.UTC()
	return r, err
}

// GetTrial возвращает запись пробного периода пользователя.
func (s *Storage) GetTrial(ctx context.Context, userID string) (*models.TrialRecord, error) {
	const op = "postgresql.GetTrial"
	r, err := scanTrial(s.DB.QueryRowContext(ctx, `SELECT `+trialColumns+` FROM trial_records WHERE user_id = $1`, userID))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, mapErr(err))
	}
	return &r, nil
}

// SaveTrial создает или заменяет запись.
func (s *Storage) SaveTrial(ctx context.Context, rec models.TrialRecord) error {
	const op = "postgresql.SaveTrial"
	_, err := s.DB.ExecContext(ctx, `INSERT INTO trial_records (`+trialColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (user_id) DO UPDATE SET
			username = EXCLUDED.username, email = EXCLUDED.email, phone = EXCLUDED.phone,
			used = EXCLUDED.used, used_at = EXCLUDED.used_at, month = EXCLUDED.month,
			chat_count = EXCLUDED.chat_count, max_chats = EXCLUDED.max_chats`,
		rec.UserID, rec.Username, rec.Email, rec.Phone, rec.Used, rec.UsedAt, rec.Month, rec.ChatCount, rec.MaxChats)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// ListTrials возвращает все записи.
func (s *Storage) ListTrials(ctx context.Context) ([]models.TrialRecord, error) {
	const op = "postgresql.ListTrials"
	rows, err := s.DB.QueryContext(ctx, `SELECT `+trialColumns+` FROM trial_records`)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var recs []models.TrialRecord
	for rows.Next() {
		r, err := scanTrial(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		recs = append(recs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return recs, nil
}

// ===== CREDITS =====

const creditColumns = `user_id, plan, monthly_credits, daily_refresh, concurrent_tasks, scheduled_tasks,
	agent_collaboration, credit_discount, current_credits, used_credits, last_refresh, created_at`

func scanAccount(row scanner) (models.CreditAccount, error) {
	var a models.CreditAccount
	err := row.Scan(&a.UserID, &a.Plan, &a.MonthlyCredits, &a.DailyRefresh, &a.ConcurrentTasks, &a.ScheduledTasks,
		&a.AgentCollaboration, &a.CreditDiscount, &a.CurrentCredits, &a.UsedCredits, &a.LastRefresh, &a.CreatedAt)
	a.LastRefresh, a.CreatedAt = a.LastRefresh.UTC(), a.CreatedAt.UTC()
	return a, err
}

// GetAccount возвращает кредитный счёт пользователя.
func (s *Storage) GetAccount(ctx context.Context, userID string) (*models.CreditAccount, error) {
	const op = "postgresql.GetAccount"
	a, err := scanAccount(s.DB.QueryRowContext(ctx, `SELECT `+creditColumns+` FROM user_credits WHERE user_id = $1`, userID))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, mapErr(err))
	}
	return &a, nil
}

// SaveAccount создает или заменяет счёт.
func (s *Storage) SaveAccount(ctx context.Context, a models.CreditAccount) error {
	const op = "postgresql.SaveAccount"
	_, err := s.DB.ExecContext(ctx, `INSERT INTO user_credits (`+creditColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (user_id) DO UPDATE SET
			plan = EXCLUDED.plan, monthly_credits = EXCLUDED.monthly_credits,
			daily_refresh = EXCLUDED.daily_refresh, concurrent_tasks = EXCLUDED.concurrent_tasks,
			scheduled_tasks = EXCLUDED.scheduled_tasks, agent_collaboration = EXCLUDED.agent_collaboration,
			credit_discount = EXCLUDED.credit_discount, current_credits = EXCLUDED.current_credits,
			used_credits = EXCLUDED.used_credits, last_refresh = EXCLUDED.last_refresh,
			created_at = EXCLUDED.created_at`,
		a.UserID, a.Plan, a.MonthlyCredits, a.DailyRefresh, a.ConcurrentTasks, a.ScheduledTasks,
		a.AgentCollaboration, a.CreditDiscount, a.CurrentCredits, a.UsedCredits, a.LastRefresh, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// DeleteAccount удаляет счёт.
func (s *Storage) DeleteAccount(ctx context.Context, userID string) error {
	const op = "postgresql.DeleteAccount"
	if _, err := s.DB.ExecContext(ctx, `DELETE FROM user_credits WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// ListAccounts возвращает все счета.
func (s *Storage) ListAccounts(ctx context.Context) ([]models.CreditAccount, error) {
	const op = "postgresql.ListAccounts"
	rows, err := s.DB.QueryContext(ctx, `SELECT `+creditColumns+` FROM user_credits`)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var accts []models.CreditAccount
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		accts = append(accts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return accts, nil
}

// ===== ORDERS =====

const orderColumns = `order_id, user_id, username, email, plan, period, amount, currency, status,
	created_at, reviewed_at, reviewed_by, notes`

func scanOrder(row scanner) (models.Order, error) {
	var (
		o          models.Order
		reviewedAt sql.NullTime
	)
	err := row.Scan(&o.ID, &o.UserID, &o.Username, &o.Email, &o.Plan, &o.Period, &o.Amount, &o.Currency, &o.Status,
		&o.CreatedAt, &reviewedAt, &o.ReviewedBy, &o.Notes)
	o.CreatedAt = o.CreatedAt.UTC()
	o.ReviewedAt = timePtr(reviewedAt)
	return o, err
}

// CreateOrder добавляет заказ. Повтор order_id или второй ожидающий
// заказ на тот же план дают storage.ErrExists.
func (s *Storage) CreateOrder(ctx context.Context, o models.Order) error {
	const op = "postgresql.CreateOrder"
	_, err := s.DB.ExecContext(ctx, `INSERT INTO orders (`+orderColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		o.ID, o.UserID, o.Username, o.Email, o.Plan, o.Period, o.Amount, o.Currency, o.Status,
		o.CreatedAt, nullTime(o.ReviewedAt), o.ReviewedBy, o.Notes)
	if err != nil {
		return fmt.Errorf("%s: %w", op, mapErr(err))
	}
	return nil
}

// GetOrder возвращает заказ по id.
func (s *Storage) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	const op = "postgresql.GetOrder"
	o, err := scanOrder(s.DB.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE order_id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, mapErr(err))
	}
	return &o, nil
}

// UpdateOrder перезаписывает состояние проверки заказа.
func (s *Storage) UpdateOrder(ctx context.Context, o models.Order) error {
	const op = "postgresql.UpdateOrder"
	res, err := s.DB.ExecContext(ctx, `UPDATE orders SET
			status = $2, reviewed_at = $3, reviewed_by = $4, notes = $5, amount = $6, currency = $7
		WHERE order_id = $1`,
		o.ID, o.Status, nullTime(o.ReviewedAt), o.ReviewedBy, o.Notes, o.Amount, o.Currency)
	return affected(op, res, err)
}

// ListOrders возвращает все заказы.
func (s *Storage) ListOrders(ctx context.Context) ([]models.Order, error) {
	const op = "postgresql.ListOrders"
	rows, err := s.DB.QueryContext(ctx, `SELECT `+orderColumns+` FROM orders ORDER BY created_at, order_id`)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var orders []models.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return orders, nil
}
