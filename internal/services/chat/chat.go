// Package chat пропускает запрос к модели через пробный период или кредиты
// и отдаёт ответ потоком слов.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/magabrotheeeer/chatgate/internal/lib/llm"
	"github.com/magabrotheeeer/chatgate/internal/lib/metrics"
	"github.com/magabrotheeeer/chatgate/internal/lib/sl"
	"github.com/magabrotheeeer/chatgate/internal/models"
	"github.com/magabrotheeeer/chatgate/internal/services/credits"
	"github.com/magabrotheeeer/chatgate/internal/services/trials"
)

// UpgradeURL каталог планов, куда направляется пользователь без доступа к чату.
const UpgradeURL = "/api/v1/plans"

// Asker модель, отвечающая на диалог.
type Asker interface {
	Ask(ctx context.Context, messages []llm.Message) (string, error)
}

// Users часть хранилища учётных записей, нужная чату.
type Users interface {
	IncrementChatCount(ctx context.Context, userID string) error
	MarkTrialUsed(ctx context.Context, userID string) error
}

// Trials часть журнала пробных периодов, нужная чату.
type Trials interface {
	State(ctx context.Context, userID string) (trials.State, *models.TrialRecord, error)
	CanUseTrial(ctx context.Context, id trials.Identity) error
	UseTrial(ctx context.Context, id trials.Identity) (models.TrialRecord, error)
	ReserveTrialChat(ctx context.Context, userID string) (bool, error)
	ReleaseTrialChat(ctx context.Context, userID string) error
	DaysUntilNextTrial(ctx context.Context, userID string) (int, error)
}

// Credits часть кредитного журнала, нужная чату.
type Credits interface {
	Get(ctx context.Context, userID string) (*models.CreditAccount, bool, error)
	DailyRefresh(ctx context.Context, userID string) (bool, error)
	Use(ctx context.Context, userID string, amount int) (int, error)
}

// Metrics счётчики чата.
type Metrics interface {
	ObserveChat(plan models.Plan, outcome string)
	ObserveCreditsDebited(plan models.Plan, amount int)
	ObserveTrialGranted()
}

// Sink получатель событий потока ответа.
type Sink interface {
	Send(v any) error
	Done() error
}

// Options параметры чата.
type Options struct {
	Cost           int           // Базовая стоимость диалога до скидки плана
	MaxPromptRunes int           // Максимальная длина запроса в символах
	WordDelay      time.Duration // Пауза между словами потока
	Offers         []string      // Предложения, показываемые по окончании пробного периода
}

// ContentEvent очередное слово ответа.
type ContentEvent struct {
	Content string `json:"content"`
}

// TrialEndedEvent завершает поток, когда пробный диалог израсходован.
type TrialEndedEvent struct {
	TrialEnded bool     `json:"trial_ended"`
	Message    string   `json:"message"`
	DaysLeft   int      `json:"days_until_next_trial"`
	Offers     []string `json:"features"`
	UpgradeURL string   `json:"upgrade_url"`
}

// CreditUsedEvent завершает поток платного диалога.
type CreditUsedEvent struct {
	CreditUsed       int         `json:"credit_used"`
	RemainingCredits int         `json:"remaining_credits"`
	Plan             models.Plan `json:"plan"`
}

// ErrorEvent ошибка, случившаяся после начала потока.
type ErrorEvent struct {
	Error string `json:"error"`
	Type  string `json:"type"`
}

// Turn разрешённый диалог: доступ проверен, кредиты списаны
// или пробный диалог занят.
type Turn struct {
	UserID    string
	Plan      models.Plan
	Prompt    string
	Debited   int
	TrialLeft bool // для free: останутся ли пробные диалоги после этого
}

// Service шлюз чата.
type Service struct {
	asker   Asker
	users   Users
	trials  Trials
	credits Credits
	metrics Metrics
	opts    Options
	log     *slog.Logger
}

// New создает Service. metrics может быть nil.
func New(asker Asker, users Users, trials Trials, credits Credits, m Metrics, opts Options, log *slog.Logger) *Service {
	if opts.Cost <= 0 {
		opts.Cost = 10
	}
	if opts.MaxPromptRunes <= 0 {
		opts.MaxPromptRunes = 2000
	}
	return &Service{
		asker:   asker,
		users:   users,
		trials:  trials,
		credits: credits,
		metrics: m,
		opts:    opts,
		log:     log,
	}
}

// Authorize проверяет запрос и доступ пользователя. Для free выдаёт пробный
// период, если его ещё нет, и занимает пробный диалог; для платных планов
// пополняет счёт за сутки и списывает стоимость. Всё это до обращения к модели.
func (s *Service) Authorize(ctx context.Context, user *models.User, prompt string) (*Turn, error) {
	const op = "chat.Authorize"

	prompt = strings.TrimSpace(prompt)
	if n := utf8.RuneCountInString(prompt); n == 0 || n > s.opts.MaxPromptRunes {
		return nil, fmt.Errorf("%s: %w: length must be 1..%d", op, ErrInvalidPrompt, s.opts.MaxPromptRunes)
	}

	plan := user.Subscription
	if !plan.Valid() {
		plan = models.PlanFree
	}
	turn := &Turn{UserID: user.ID, Plan: plan, Prompt: prompt}

	if plan.Paid() {
		if _, err := s.credits.DailyRefresh(ctx, user.ID); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		debited, err := s.credits.Use(ctx, user.ID, s.opts.Cost)
		if err != nil {
			if errors.Is(err, credits.ErrInsufficientCredits) {
				s.observe(plan, metrics.OutcomeInsufficient)
			}
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		turn.Debited = debited
		return turn, nil
	}

	state, _, err := s.trials.State(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	switch state {
	case trials.StateExhausted:
		return nil, s.upgradeRequired(ctx, op, user.ID)
	case trials.StateNone:
		if err := s.grantTrial(ctx, user); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}

	left, err := s.trials.ReserveTrialChat(ctx, user.ID)
	if errors.Is(err, trials.ErrNoTrialChats) {
		return nil, s.upgradeRequired(ctx, op, user.ID)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	turn.TrialLeft = left
	return turn, nil
}

// grantTrial выдаёт пробный период. Если параллельный запрос уже выдал его
// этому пользователю, решение остаётся за резервированием диалога.
func (s *Service) grantTrial(ctx context.Context, user *models.User) error {
	id := trials.Identity{UserID: user.ID, Username: user.Username, Email: user.Email, Phone: user.Phone}
	err := s.trials.CanUseTrial(ctx, id)
	if err == nil {
		_, err = s.trials.UseTrial(ctx, id)
	}
	var ie *trials.IneligibleError
	switch {
	case errors.As(err, &ie) && ie.Reason == trials.ReasonAlreadyUsed:
		return nil
	case errors.Is(err, trials.ErrTrialIneligible):
		s.observe(models.PlanFree, metrics.OutcomeDenied)
		return err
	case err != nil:
		return err
	}

	if err := s.users.MarkTrialUsed(ctx, user.ID); err != nil {
		s.log.Warn("failed to set trial_used flag", slog.String("user_id", user.ID), sl.Err(err))
	}
	if s.metrics != nil {
		s.metrics.ObserveTrialGranted()
	}
	return nil
}

func (s *Service) upgradeRequired(ctx context.Context, op, userID string) error {
	days, err := s.trials.DaysUntilNextTrial(ctx, userID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	s.observe(models.PlanFree, metrics.OutcomeDenied)
	return &UpgradeError{DaysLeft: days}
}

// Stream спрашивает модель и отдаёт ответ по словам, затем завершающее
// событие и [DONE]. Если модель не ответила, занятый пробный диалог
// возвращается. Учёт диалога выполняется, как только ответ получен,
// даже если клиент отключился во время потока.
func (s *Service) Stream(ctx context.Context, turn *Turn, sink Sink) error {
	const op = "chat.Stream"

	log := s.log.With(slog.String("op", op), slog.String("user_id", turn.UserID))

	messages := make([]llm.Message, 0, 2)
	if sys := SystemPrompt(turn.Plan); sys != "" {
		messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: sys})
	}
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: turn.Prompt})

	answer, err := s.asker.Ask(ctx, messages)
	if err != nil {
		s.observe(turn.Plan, metrics.OutcomeLLMError)
		if !turn.Plan.Paid() {
			if relErr := s.trials.ReleaseTrialChat(context.WithoutCancel(ctx), turn.UserID); relErr != nil {
				log.Error("failed to release trial chat", sl.Err(relErr))
			}
		}
		return fmt.Errorf("%s: %w", op, err)
	}

	streamErr := s.streamWords(ctx, answer, sink)

	final := s.finish(context.WithoutCancel(ctx), log, turn)
	s.observe(turn.Plan, metrics.OutcomeOK)

	if streamErr != nil {
		return fmt.Errorf("%s: %w", op, streamErr)
	}
	if final != nil {
		if err := sink.Send(final); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
	}
	if err := sink.Done(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (s *Service) streamWords(ctx context.Context, answer string, sink Sink) error {
	words := strings.Fields(answer)
	var timer *time.Timer
	if s.opts.WordDelay > 0 {
		timer = time.NewTimer(s.opts.WordDelay)
		defer timer.Stop()
	}
	for i, word := range words {
		if err := sink.Send(ContentEvent{Content: word + " "}); err != nil {
			return err
		}
		if timer == nil || i == len(words)-1 {
			continue
		}
		timer.Reset(s.opts.WordDelay)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
	return nil
}

// finish учитывает завершённый диалог и возвращает завершающее событие или nil.
func (s *Service) finish(ctx context.Context, log *slog.Logger, turn *Turn) any {
	if err := s.users.IncrementChatCount(ctx, turn.UserID); err != nil {
		log.Error("failed to increment chat count", sl.Err(err))
	}

	if turn.Plan.Paid() {
		if s.metrics != nil && turn.Debited > 0 {
			s.metrics.ObserveCreditsDebited(turn.Plan, turn.Debited)
		}
		ev := CreditUsedEvent{CreditUsed: turn.Debited, Plan: turn.Plan}
		acct, ok, err := s.credits.Get(ctx, turn.UserID)
		if err != nil {
			log.Error("failed to read credit balance", sl.Err(err))
		} else if ok {
			ev.RemainingCredits = acct.CurrentCredits
		}
		return ev
	}

	if turn.TrialLeft {
		return nil
	}
	days, err := s.trials.DaysUntilNextTrial(ctx, turn.UserID)
	if err != nil {
		log.Error("failed to compute next trial date", sl.Err(err))
	}
	return TrialEndedEvent{
		TrialEnded: true,
		Message:    "Your free trial for this month has ended. Upgrade to keep chatting.",
		DaysLeft:   days,
		Offers:     s.opts.Offers,
		UpgradeURL: UpgradeURL,
	}
}

func (s *Service) observe(plan models.Plan, outcome string) {
	if s.metrics != nil {
		s.metrics.ObserveChat(plan, outcome)
	}
}
