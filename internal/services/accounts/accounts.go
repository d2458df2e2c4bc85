// Package accounts хранит пользователей, хеши паролей и cookie-сессии.
package accounts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/magabrotheeeer/chatgate/internal/lib/lock"
	"github.com/magabrotheeeer/chatgate/internal/lib/password"
	"github.com/magabrotheeeer/chatgate/internal/lib/sl"
	"github.com/magabrotheeeer/chatgate/internal/models"
	"github.com/magabrotheeeer/chatgate/internal/storage"
)

const (
	lockAccounts    = "accounts"
	suggestionCount = 3
)

// UserRepository хранилище пользователей.
type UserRepository interface {
	CreateUser(ctx context.Context, user models.User) error
	GetUser(ctx context.Context, id string) (*models.User, error)
	ListUsers(ctx context.Context) ([]models.User, error)
	UpdateUser(ctx context.Context, user models.User) error
}

// SessionRepository хранилище сессий.
type SessionRepository interface {
	CreateSession(ctx context.Context, session models.Session) error
	GetSession(ctx context.Context, id string) (*models.Session, error)
	DeleteSession(ctx context.Context, id string) error
	CountSessions(ctx context.Context, now time.Time) (int, error)
}

// RegisterInput данные регистрации.
type RegisterInput struct {
	Username string
	Email    string
	Password string
	Phone    string
}

// Validation результат предварительной проверки регистрации.
type Validation struct {
	Valid       bool       `json:"valid"`
	Conflicts   []Conflict `json:"conflicts"`
	Suggestions []string   `json:"suggestions"`
}

// Stats сводка по пользователям.
type Stats struct {
	TotalUsers     int `json:"total_users"`
	FreeUsers      int `json:"free_users"`
	PaidUsers      int `json:"paid_users"`
	ActiveSessions int `json:"active_sessions"`
}

// Service реализует хранилище учётных записей.
type Service struct {
	users      UserRepository
	sessions   SessionRepository
	locker     lock.Locker
	sessionTTL time.Duration
	log        *slog.Logger

	now  func() time.Time
	intN func(n int) int
}

// New создает Service.
func New(users UserRepository, sessions SessionRepository, locker lock.Locker, sessionTTL time.Duration, log *slog.Logger) *Service {
	return &Service{
		users:      users,
		sessions:   sessions,
		locker:     locker,
		sessionTTL: sessionTTL,
		log:        log,
		now:        func() time.Time { return time.Now().UTC() },
		intN:       rand.IntN,
	}
}

// NormalizePhone убирает пробелы и дефисы.
func NormalizePhone(phone string) string {
	return strings.NewReplacer(" ", "", "-", "").Replace(strings.TrimSpace(phone))
}

// Register создает пользователя с планом free.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*models.User, error) {
	const op = "accounts.Register"

	in.Username = strings.TrimSpace(in.Username)
	in.Email = strings.TrimSpace(in.Email)
	in.Phone = strings.TrimSpace(in.Phone)

	hash, err := password.GetHash(in.Password)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	unlock, err := s.locker.Lock(ctx, lockAccounts)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer unlock()

	existing, err := s.users.ListUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if v := s.validate(existing, in.Username, in.Email, in.Phone); !v.Valid {
		return nil, &DuplicateError{Conflicts: v.Conflicts, Suggestions: v.Suggestions}
	}

	user := models.User{
		ID:           uuid.NewString(),
		Username:     in.Username,
		Email:        in.Email,
		Phone:        in.Phone,
		PasswordHash: hash,
		CreatedAt:    s.now(),
		Subscription: models.PlanFree,
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	s.log.Info("user registered", slog.String("user_id", user.ID), slog.String("username", user.Username))
	return &user, nil
}

// ValidateRegistration проверяет занятость идентификаторов, ничего не изменяя.
func (s *Service) ValidateRegistration(ctx context.Context, username, email, phone string) (Validation, error) {
	const op = "accounts.ValidateRegistration"
	existing, err := s.users.ListUsers(ctx)
	if err != nil {
		return Validation{}, fmt.Errorf("%s: %w", op, err)
	}
	return s.validate(existing, strings.TrimSpace(username), strings.TrimSpace(email), strings.TrimSpace(phone)), nil
}

func (s *Service) validate(existing []models.User, username, email, phone string) Validation {
	taken := make(map[string]struct{}, len(existing))
	emails := make(map[string]struct{}, len(existing))
	phones := make(map[string]struct{}, len(existing))
	for _, u := range existing {
		taken[strings.ToLower(u.Username)] = struct{}{}
		emails[strings.ToLower(u.Email)] = struct{}{}
		if p := NormalizePhone(u.Phone); p != "" {
			phones[p] = struct{}{}
		}
	}

	v := Validation{Conflicts: []Conflict{}, Suggestions: []string{}}
	if _, ok := taken[strings.ToLower(username)]; ok {
		v.Conflicts = append(v.Conflicts, Conflict{Field: FieldUsername, Value: username})
		v.Suggestions = s.suggest(username, taken)
	}
	if _, ok := emails[strings.ToLower(email)]; ok {
		v.Conflicts = append(v.Conflicts, Conflict{Field: FieldEmail, Value: email})
	}
	if p := NormalizePhone(phone); p != "" {
		if _, ok := phones[p]; ok {
			v.Conflicts = append(v.Conflicts, Conflict{Field: FieldPhone, Value: phone})
		}
	}
	v.Valid = len(v.Conflicts) == 0
	return v
}

// suggest перебирает base1..base99, затем 20 случайных base100..base9999,
// затем base_1..base_49 и возвращает первые свободные варианты.
func (s *Service) suggest(base string, taken map[string]struct{}) []string {
	out := make([]string, 0, suggestionCount)
	try := func(candidate string) bool {
		lower := strings.ToLower(candidate)
		if _, ok := taken[lower]; ok {
			return false
		}
		if slices.ContainsFunc(out, func(s string) bool { return strings.ToLower(s) == lower }) {
			return false
		}
		out = append(out, candidate)
		return len(out) >= suggestionCount
	}

	for i := 1; i < 100; i++ {
		if try(fmt.Sprintf("%s%d", base, i)) {
			return out
		}
	}
	for range 20 {
		if try(fmt.Sprintf("%s%d", base, 100+s.intN(9900))) {
			return out
		}
	}
	for i := 1; i < 50; i++ {
		if try(fmt.Sprintf("%s_%d", base, i)) {
			return out
		}
	}
	return out
}

// Authenticate проверяет пароль по имени или почте без учёта регистра
// и обновляет время последнего входа.
func (s *Service) Authenticate(ctx context.Context, identifier, pass string) (*models.User, error) {
	const op = "accounts.Authenticate"

	identifier = strings.ToLower(strings.TrimSpace(identifier))
	if identifier == "" || pass == "" {
		return nil, ErrInvalidCredentials
	}

	all, err := s.users.ListUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	var matched *models.User
	for i := range all {
		u := &all[i]
		if strings.ToLower(u.Username) != identifier && strings.ToLower(u.Email) != identifier {
			continue
		}
		err := password.CompareHash(u.PasswordHash, pass)
		if err == nil {
			matched = u
			break
		}
		if !errors.Is(err, password.ErrMismatch) {
			s.log.Warn("stored password hash is unreadable", slog.String("op", op), slog.String("user_id", u.ID))
		}
	}
	if matched == nil {
		return nil, ErrInvalidCredentials
	}

	updated, err := s.mutate(ctx, matched.ID, func(u *models.User) error {
		now := s.now()
		u.LastLogin = &now
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return updated, nil
}

// CreateSession выпускает сессию пользователя.
func (s *Service) CreateSession(ctx context.Context, userID string) (models.Session, error) {
	const op = "accounts.CreateSession"
	now := s.now()
	session := models.Session{
		ID:        uuid.NewString(),
		UserID:    userID,
		CreatedAt: now,
		ExpiresAt: now.Add(s.sessionTTL),
	}
	if err := s.sessions.CreateSession(ctx, session); err != nil {
		return models.Session{}, fmt.Errorf("%s: %w", op, err)
	}
	return session, nil
}

// ResolveSession возвращает владельца сессии. Истёкшая сессия удаляется.
func (s *Service) ResolveSession(ctx context.Context, sessionID string) (*models.User, error) {
	const op = "accounts.ResolveSession"

	if sessionID == "" {
		return nil, ErrSessionNotFound
	}
	session, err := s.sessions.GetSession(ctx, sessionID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if session.Expired(s.now()) {
		if err := s.sessions.DeleteSession(ctx, sessionID); err != nil {
			s.log.Warn("failed to purge expired session", slog.String("op", op), sl.Err(err))
		}
		return nil, ErrSessionNotFound
	}

	user, err := s.users.GetUser(ctx, session.UserID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return user, nil
}

// DeleteSession завершает сессию.
func (s *Service) DeleteSession(ctx context.Context, sessionID string) error {
	const op = "accounts.DeleteSession"
	if err := s.sessions.DeleteSession(ctx, sessionID); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// SetSubscription безусловно меняет план пользователя и возвращает прежний.
func (s *Service) SetSubscription(ctx context.Context, userID string, plan models.Plan) (models.Plan, error) {
	const op = "accounts.SetSubscription"
	if !plan.Valid() {
		return "", fmt.Errorf("%s: %w", op, ErrInvalidPlan)
	}

	var prev models.Plan
	_, err := s.mutate(ctx, userID, func(u *models.User) error {
		prev = u.Subscription
		u.Subscription = plan
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	s.log.Info("subscription changed",
		slog.String("user_id", userID),
		slog.String("from", string(prev)),
		slog.String("to", string(plan)))
	return prev, nil
}

// GetUser возвращает пользователя по id.
func (s *Service) GetUser(ctx context.Context, userID string) (*models.User, error) {
	const op = "accounts.GetUser"
	u, err := s.users.GetUser(ctx, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%s: %w", op, ErrUserNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return u, nil
}

// ListUsers возвращает пользователей в порядке регистрации.
func (s *Service) ListUsers(ctx context.Context) ([]models.User, error) {
	const op = "accounts.ListUsers"
	users, err := s.users.ListUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	slices.SortFunc(users, func(a, b models.User) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return users, nil
}

// IncrementChatCount увеличивает счётчик диалогов пользователя.
func (s *Service) IncrementChatCount(ctx context.Context, userID string) error {
	const op = "accounts.IncrementChatCount"
	_, err := s.mutate(ctx, userID, func(u *models.User) error {
		u.ChatCount++
		return nil
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// MarkTrialUsed выставляет флаг trial_used.
func (s *Service) MarkTrialUsed(ctx context.Context, userID string) error {
	const op = "accounts.MarkTrialUsed"
	_, err := s.mutate(ctx, userID, func(u *models.User) error {
		u.TrialUsed = true
		return nil
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Stats считает пользователей по планам и активные сессии.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	const op = "accounts.Stats"
	users, err := s.users.ListUsers(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("%s: %w", op, err)
	}
	active, err := s.sessions.CountSessions(ctx, s.now())
	if err != nil {
		return Stats{}, fmt.Errorf("%s: %w", op, err)
	}

	st := Stats{TotalUsers: len(users), ActiveSessions: active}
	for _, u := range users {
		if u.Subscription.Paid() {
			st.PaidUsers++
		} else {
			st.FreeUsers++
		}
	}
	return st, nil
}

func (s *Service) mutate(ctx context.Context, userID string, fn func(u *models.User) error) (*models.User, error) {
	unlock, err := s.locker.Lock(ctx, lock.Key("user", userID))
	if err != nil {
		return nil, err
	}
	defer unlock()

	u, err := s.users.GetUser(ctx, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := fn(u); err != nil {
		return nil, err
	}
	if err := s.users.UpdateUser(ctx, *u); err != nil {
		return nil, err
	}
	return u, nil
}
