// Package trials ведёт учёт бесплатных пробных диалогов: один на пользователя
// в календарный месяц с проверкой повторного использования имени, почты
// и телефона другими аккаунтами.
package trials

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/magabrotheeeer/chatgate/internal/lib/lock"
	"github.com/magabrotheeeer/chatgate/internal/lib/month"
	"github.com/magabrotheeeer/chatgate/internal/models"
	"github.com/magabrotheeeer/chatgate/internal/storage"
)

const (
	lockTrials = "trials"
	maxChats   = 1
)

// State состояние пробного периода пользователя в текущем месяце.
type State string

const (
	StateNone      State = "none"
	StateGranted   State = "granted"
	StateExhausted State = "exhausted"
)

// Identity идентификаторы пользователя, по которым ищутся совпадения.
type Identity struct {
	UserID   string
	Username string
	Email    string
	Phone    string
}

// Repository хранилище записей пробного периода.
type Repository interface {
	GetTrial(ctx context.Context, userID string) (*models.TrialRecord, error)
	SaveTrial(ctx context.Context, rec models.TrialRecord) error
	ListTrials(ctx context.Context) ([]models.TrialRecord, error)
}

// Stats сводка по пробным периодам.
type Stats struct {
	TotalTrials     int `json:"total_trials"`
	ThisMonthTrials int `json:"this_month_trials"`
	TotalTrialChats int `json:"total_trial_chats"`
}

// Service журнал пробных периодов.
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

// CanUseTrial возвращает nil, если пользователю можно выдать пробный диалог,
// иначе *IneligibleError.
func (s *Service) CanUseTrial(ctx context.Context, id Identity) error {
	const op = "trials.CanUseTrial"
	all, err := s.repo.ListTrials(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return s.check(all, id, s.now())
}

func (s *Service) check(all []models.TrialRecord, id Identity, now time.Time) error {
	current := month.Key(now)

	for _, rec := range all {
		if rec.UserID == id.UserID && rec.Used && recordMonth(rec) == current {
			return &IneligibleError{Reason: ReasonAlreadyUsed}
		}
	}

	username := strings.ToLower(strings.TrimSpace(id.Username))
	email := strings.ToLower(strings.TrimSpace(id.Email))
	phone := normalizePhone(id.Phone)

	for _, rec := range all {
		if rec.UserID == id.UserID || !month.Same(rec.UsedAt, now) {
			continue
		}
		switch {
		case username != "" && strings.ToLower(rec.Username) == username:
			return &IneligibleError{Reason: ReasonIdentifierLinked, Kind: KindUsername, Value: id.Username}
		case email != "" && strings.ToLower(rec.Email) == email:
			return &IneligibleError{Reason: ReasonIdentifierLinked, Kind: KindEmail, Value: id.Email}
		case phone != "" && normalizePhone(rec.Phone) == phone:
			return &IneligibleError{Reason: ReasonIdentifierLinked, Kind: KindPhone, Value: id.Phone}
		}
	}
	return nil
}

// UseTrial выдаёт пробный диалог, если CanUseTrial это разрешает.
func (s *Service) UseTrial(ctx context.Context, id Identity) (models.TrialRecord, error) {
	const op = "trials.UseTrial"
	if id.UserID == "" {
		return models.TrialRecord{}, fmt.Errorf("%s: empty user id", op)
	}

	unlock, err := s.locker.Lock(ctx, lockTrials)
	if err != nil {
		return models.TrialRecord{}, fmt.Errorf("%s: %w", op, err)
	}
	defer unlock()

	all, err := s.repo.ListTrials(ctx)
	if err != nil {
		return models.TrialRecord{}, fmt.Errorf("%s: %w", op, err)
	}
	now := s.now()
	if err := s.check(all, id, now); err != nil {
		return models.TrialRecord{}, err
	}

	rec := models.TrialRecord{
		UserID:   id.UserID,
		Username: id.Username,
		Email:    id.Email,
		Phone:    id.Phone,
		Used:     true,
		UsedAt:   now,
		Month:    month.Key(now),
		MaxChats: maxChats,
	}
	if err := s.repo.SaveTrial(ctx, rec); err != nil {
		return models.TrialRecord{}, fmt.Errorf("%s: %w", op, err)
	}

	s.log.Info("trial granted", slog.String("user_id", id.UserID), slog.String("month", rec.Month))
	return rec, nil
}

// State возвращает состояние пробного периода и запись, если она есть.
func (s *Service) State(ctx context.Context, userID string) (State, *models.TrialRecord, error) {
	const op = "trials.State"
	rec, err := s.get(ctx, userID)
	if err != nil {
		return "", nil, fmt.Errorf("%s: %w", op, err)
	}
	return stateOf(rec, s.now()), rec, nil
}

func stateOf(rec *models.TrialRecord, now time.Time) State {
	if rec == nil || !rec.Used || recordMonth(*rec) != month.Key(now) {
		return StateNone
	}
	if rec.ChatCount >= rec.MaxChats {
		return StateExhausted
	}
	return StateGranted
}

// CanChat сообщает, может ли пользователь вести пробный диалог.
// Запись прошлого месяца не блокирует: пробный период можно выдать заново.
func (s *Service) CanChat(ctx context.Context, userID string) (bool, error) {
	const op = "trials.CanChat"
	st, _, err := s.State(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return st != StateExhausted, nil
}

// IncrementTrialChat увеличивает счётчик пробных диалогов и сообщает,
// остались ли ещё диалоги. Без выданного пробного периода ничего не меняет.
func (s *Service) IncrementTrialChat(ctx context.Context, userID string) (bool, error) {
	const op = "trials.IncrementTrialChat"

	unlock, err := s.locker.Lock(ctx, lockTrials)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	defer unlock()

	rec, err := s.get(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	if rec == nil || !rec.Used {
		return false, nil
	}
	rec.ChatCount++
	if err := s.repo.SaveTrial(ctx, *rec); err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return rec.ChatCount < rec.MaxChats, nil
}

// ReserveTrialChat занимает пробный диалог до обращения к модели и сообщает,
// останутся ли ещё диалоги. Без свободного диалога возвращает ErrNoTrialChats.
func (s *Service) ReserveTrialChat(ctx context.Context, userID string) (bool, error) {
	const op = "trials.ReserveTrialChat"

	unlock, err := s.locker.Lock(ctx, lockTrials)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	defer unlock()

	rec, err := s.get(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	if stateOf(rec, s.now()) != StateGranted {
		return false, fmt.Errorf("%s: %w", op, ErrNoTrialChats)
	}
	rec.ChatCount++
	if err := s.repo.SaveTrial(ctx, *rec); err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return rec.ChatCount < rec.MaxChats, nil
}

// ReleaseTrialChat возвращает занятый диалог, если ответа не было.
func (s *Service) ReleaseTrialChat(ctx context.Context, userID string) error {
	const op = "trials.ReleaseTrialChat"

	unlock, err := s.locker.Lock(ctx, lockTrials)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer unlock()

	rec, err := s.get(ctx, userID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if rec == nil || rec.ChatCount == 0 {
		return nil
	}
	rec.ChatCount--
	if err := s.repo.SaveTrial(ctx, *rec); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// DaysUntilNextTrial дни до первого числа месяца, следующего за выдачей пробного периода.
func (s *Service) DaysUntilNextTrial(ctx context.Context, userID string) (int, error) {
	const op = "trials.DaysUntilNextTrial"
	rec, err := s.get(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	if rec == nil || rec.UsedAt.IsZero() {
		return 0, nil
	}
	return month.DaysUntilNext(rec.UsedAt, s.now()), nil
}

// Get возвращает запись пользователя. ok = false, если записи нет.
func (s *Service) Get(ctx context.Context, userID string) (models.TrialRecord, bool, error) {
	const op = "trials.Get"
	rec, err := s.get(ctx, userID)
	if err != nil {
		return models.TrialRecord{}, false, fmt.Errorf("%s: %w", op, err)
	}
	if rec == nil {
		return models.TrialRecord{}, false, nil
	}
	return *rec, true, nil
}

// List возвращает все записи, новые первыми.
func (s *Service) List(ctx context.Context) ([]models.TrialRecord, error) {
	const op = "trials.List"
	all, err := s.repo.ListTrials(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	slices.SortFunc(all, func(a, b models.TrialRecord) int {
		return b.UsedAt.Compare(a.UsedAt)
	})
	return all, nil
}

// Stats считает пробные периоды.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	const op = "trials.Stats"
	all, err := s.repo.ListTrials(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("%s: %w", op, err)
	}
	current := month.Key(s.now())
	st := Stats{TotalTrials: len(all)}
	for _, rec := range all {
		if recordMonth(rec) == current {
			st.ThisMonthTrials++
		}
		st.TotalTrialChats += rec.ChatCount
	}
	return st, nil
}

func (s *Service) get(ctx context.Context, userID string) (*models.TrialRecord, error) {
	rec, err := s.repo.GetTrial(ctx, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func recordMonth(rec models.TrialRecord) string {
	if rec.Month != "" {
		return rec.Month
	}
	return month.Key(rec.UsedAt)
}

func normalizePhone(phone string) string {
	return strings.NewReplacer(" ", "", "-", "").Replace(strings.TrimSpace(phone))
}
