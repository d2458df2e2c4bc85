package chat

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/chatgate/internal/lib/llm"
	"github.com/magabrotheeeer/chatgate/internal/lib/lock"
	"github.com/magabrotheeeer/chatgate/internal/lib/metrics"
	"github.com/magabrotheeeer/chatgate/internal/lib/sl"
	"github.com/magabrotheeeer/chatgate/internal/models"
	"github.com/magabrotheeeer/chatgate/internal/services/accounts"
	"github.com/magabrotheeeer/chatgate/internal/services/credits"
	"github.com/magabrotheeeer/chatgate/internal/services/trials"
	"github.com/magabrotheeeer/chatgate/internal/storage/jsonfile"
)

type fakeAsker struct {
	mu       sync.Mutex
	answer   string
	err      error
	messages [][]llm.Message
}

func (f *fakeAsker) Ask(_ context.Context, messages []llm.Message) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, messages)
	return f.answer, f.err
}

func (f *fakeAsker) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.messages)
}

type recordingSink struct {
	events []any
	done   bool
	err    error
}

func (r *recordingSink) Send(v any) error {
	if r.err != nil {
		return r.err
	}
	r.events = append(r.events, v)
	return nil
}

func (r *recordingSink) Done() error {
	r.done = true
	return nil
}

func (r *recordingSink) text() string {
	var b strings.Builder
	for _, ev := range r.events {
		if c, ok := ev.(ContentEvent); ok {
			b.WriteString(c.Content)
		}
	}
	return b.String()
}

func (r *recordingSink) last() any {
	if len(r.events) == 0 {
		return nil
	}
	return r.events[len(r.events)-1]
}

type fixture struct {
	chat     *Service
	accounts *accounts.Service
	trials   *trials.Service
	credits  *credits.Service
	asker    *fakeAsker
	metrics  *metrics.Metrics
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := jsonfile.New(t.TempDir())
	require.NoError(t, err)
	locker := lock.NewLocal()
	log := sl.Discard()

	f := &fixture{
		accounts: accounts.New(store, store, locker, 0, log),
		trials:   trials.New(store, locker, log),
		credits:  credits.New(store, locker, log),
		asker:    &fakeAsker{answer: "Go is a   statically typed language"},
		metrics:  metrics.New(),
	}
	f.chat = New(f.asker, f.accounts, f.trials, f.credits, f.metrics, Options{
		Offers: []string{"basic $20/month"},
	}, log)
	return f
}

func (f *fixture) register(t *testing.T, name string) *models.User {
	t.Helper()
	u, err := f.accounts.Register(context.Background(), accounts.RegisterInput{
		Username: name, Email: name + "@example.com", Password: "secret123",
	})
	require.NoError(t, err)
	return u
}

func (f *fixture) upgrade(t *testing.T, u *models.User, plan models.Plan) *models.User {
	t.Helper()
	ctx := context.Background()
	_, err := f.accounts.SetSubscription(ctx, u.ID, plan)
	require.NoError(t, err)
	_, err = f.credits.Initialize(ctx, u.ID, plan)
	require.NoError(t, err)
	u, err = f.accounts.GetUser(ctx, u.ID)
	require.NoError(t, err)
	return u
}

func TestAuthorize_PromptValidation(t *testing.T) {
	f := newFixture(t)
	u := f.register(t, "alice")

	for _, prompt := range []string{"", "   \n\t", strings.Repeat("я", 2001)} {
		_, err := f.chat.Authorize(context.Background(), u, prompt)
		assert.ErrorIs(t, err, ErrInvalidPrompt)
	}

	turn, err := f.chat.Authorize(context.Background(), u, "  "+strings.Repeat("я", 2000)+"  ")
	require.NoError(t, err)
	assert.Equal(t, 2000, len([]rune(turn.Prompt)))
}

func TestFreeTrialLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.register(t, "alice")

	turn, err := f.chat.Authorize(ctx, u, "what is Go?")
	require.NoError(t, err)
	assert.Equal(t, models.PlanFree, turn.Plan)
	assert.Zero(t, turn.Debited)

	assert.False(t, turn.TrialLeft)

	state, rec, err := f.trials.State(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, trials.StateExhausted, state, "the only trial chat is taken before the model is asked")
	assert.Equal(t, 1, rec.MaxChats)
	assert.Equal(t, 1, rec.ChatCount)

	sink := &recordingSink{}
	require.NoError(t, f.chat.Stream(ctx, turn, sink))
	assert.Equal(t, "Go is a statically typed language ", sink.text())
	assert.True(t, sink.done)

	ended, ok := sink.last().(TrialEndedEvent)
	require.True(t, ok, "stream must end with trial_ended")
	assert.True(t, ended.TrialEnded)
	assert.Equal(t, []string{"basic $20/month"}, ended.Offers)
	assert.GreaterOrEqual(t, ended.DaysLeft, 0)
	assert.LessOrEqual(t, ended.DaysLeft, 31)

	require.Len(t, f.asker.messages, 1)
	assert.Equal(t, []llm.Message{{Role: llm.RoleUser, Content: "what is Go?"}}, f.asker.messages[0])

	stored, err := f.accounts.GetUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.ChatCount)
	assert.True(t, stored.TrialUsed)

	_, err = f.chat.Authorize(ctx, stored, "one more?")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUpgradeRequired)
	var upErr *UpgradeError
	require.ErrorAs(t, err, &upErr)
	assert.Equal(t, ended.DaysLeft, upErr.DaysLeft)
	assert.Equal(t, 1, f.asker.calls(), "denied chat must not reach the model")

	assert.InDelta(t, 1, testutil.ToFloat64(f.metrics.TrialsGranted), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(f.metrics.ChatsTotal.WithLabelValues("free", metrics.OutcomeOK)), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(f.metrics.ChatsTotal.WithLabelValues("free", metrics.OutcomeDenied)), 0)
}

func TestPaidChat_DiscountedDebit(t *testing.T) {
	tests := []struct {
		plan      models.Plan
		debited   int
		remaining int
		agents    int
	}{
		{plan: models.PlanBasic, debited: 10, remaining: 3990, agents: 3},
		{plan: models.PlanPro, debited: 5, remaining: 39995, agents: 5},
		{plan: models.PlanCustom, debited: 3, remaining: 7997, agents: 5},
	}

	for _, tt := range tests {
		t.Run(string(tt.plan), func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			u := f.upgrade(t, f.register(t, "bob"), tt.plan)

			turn, err := f.chat.Authorize(ctx, u, "plan my launch")
			require.NoError(t, err)
			assert.Equal(t, tt.debited, turn.Debited)

			sink := &recordingSink{}
			require.NoError(t, f.chat.Stream(ctx, turn, sink))

			used, ok := sink.last().(CreditUsedEvent)
			require.True(t, ok, "stream must end with credit_used")
			assert.Equal(t, tt.debited, used.CreditUsed)
			assert.Equal(t, tt.remaining, used.RemainingCredits)
			assert.Equal(t, tt.plan, used.Plan)

			msgs := f.asker.messages[0]
			require.Len(t, msgs, 2)
			assert.Equal(t, llm.RoleSystem, msgs[0].Role)
			assert.Len(t, Roster(tt.plan), tt.agents)
			for _, a := range Roster(tt.plan) {
				assert.Contains(t, msgs[0].Content, a.Name)
			}

			_, ok, err = f.trials.Get(ctx, u.ID)
			require.NoError(t, err)
			assert.False(t, ok, "paid chat must not touch the trial ledger")

			assert.InDelta(t, float64(tt.debited),
				testutil.ToFloat64(f.metrics.CreditsDebited.WithLabelValues(string(tt.plan))), 0)
		})
	}
}

func TestPaidChat_InsufficientCredits(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.upgrade(t, f.register(t, "carol"), models.PlanBasic)

	_, err := f.credits.Use(ctx, u.ID, 3995)
	require.NoError(t, err)

	_, err = f.chat.Authorize(ctx, u, "hello")
	assert.ErrorIs(t, err, credits.ErrInsufficientCredits)
	assert.Zero(t, f.asker.calls())

	acct, _, err := f.credits.Get(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, acct.CurrentCredits)
	assert.InDelta(t, 1, testutil.ToFloat64(f.metrics.ChatsTotal.WithLabelValues("basic", metrics.OutcomeInsufficient)), 0)
}

func TestStream_LLMFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.upgrade(t, f.register(t, "dave"), models.PlanPro)
	f.asker.err = errors.New("upstream down")

	turn, err := f.chat.Authorize(ctx, u, "hello")
	require.NoError(t, err)

	sink := &recordingSink{}
	err = f.chat.Stream(ctx, turn, sink)
	require.Error(t, err)
	assert.Empty(t, sink.events)
	assert.False(t, sink.done)

	stored, err := f.accounts.GetUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Zero(t, stored.ChatCount, "failed chat is not counted")
	assert.InDelta(t, 1, testutil.ToFloat64(f.metrics.ChatsTotal.WithLabelValues("pro", metrics.OutcomeLLMError)), 0)
}

func TestAuthorize_ConcurrentTrialChatsServeOnce(t *testing.T) {
	tests := []struct {
		name    string
		granted bool
	}{
		{name: "trial already granted", granted: true},
		{name: "no trial yet", granted: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			u := f.register(t, "alice")
			if tt.granted {
				_, err := f.trials.UseTrial(ctx, trials.Identity{UserID: u.ID, Username: u.Username, Email: u.Email})
				require.NoError(t, err)
			}

			const callers = 5
			var (
				wg    sync.WaitGroup
				mu    sync.Mutex
				turns []*Turn
				errs  []error
			)
			for range callers {
				wg.Add(1)
				go func() {
					defer wg.Done()
					turn, err := f.chat.Authorize(ctx, u, "hello")
					mu.Lock()
					defer mu.Unlock()
					if err != nil {
						errs = append(errs, err)
						return
					}
					turns = append(turns, turn)
				}()
			}
			wg.Wait()

			require.Len(t, turns, 1)
			for _, err := range errs {
				assert.ErrorIs(t, err, ErrUpgradeRequired)
			}

			for _, turn := range turns {
				require.NoError(t, f.chat.Stream(ctx, turn, &recordingSink{}))
			}
			assert.Equal(t, 1, f.asker.calls())

			_, rec, err := f.trials.State(ctx, u.ID)
			require.NoError(t, err)
			assert.Equal(t, 1, rec.ChatCount)
			assert.Equal(t, 1, rec.MaxChats)
		})
	}
}

func TestStream_LLMFailureReleasesTrialChat(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.register(t, "gina")
	f.asker.err = errors.New("upstream down")

	turn, err := f.chat.Authorize(ctx, u, "hello")
	require.NoError(t, err)
	require.Error(t, f.chat.Stream(ctx, turn, &recordingSink{}))

	state, rec, err := f.trials.State(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, trials.StateGranted, state)
	assert.Zero(t, rec.ChatCount)

	f.asker.err = nil
	turn, err = f.chat.Authorize(ctx, u, "hello again")
	require.NoError(t, err)
	sink := &recordingSink{}
	require.NoError(t, f.chat.Stream(ctx, turn, sink))
	_, ok := sink.last().(TrialEndedEvent)
	assert.True(t, ok)
}

func TestStream_ClientGoneStillCounts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.register(t, "erin")

	turn, err := f.chat.Authorize(ctx, u, "hi")
	require.NoError(t, err)

	gone := errors.New("broken pipe")
	err = f.chat.Stream(ctx, turn, &recordingSink{err: gone})
	assert.ErrorIs(t, err, gone)

	state, _, err := f.trials.State(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, trials.StateExhausted, state)
}

type TrialsMock struct{ mock.Mock }

func (m *TrialsMock) State(ctx context.Context, userID string) (trials.State, *models.TrialRecord, error) {
	args := m.Called(ctx, userID)
	rec, _ := args.Get(1).(*models.TrialRecord)
	return args.Get(0).(trials.State), rec, args.Error(2)
}

func (m *TrialsMock) CanUseTrial(ctx context.Context, id trials.Identity) error {
	return m.Called(ctx, id).Error(0)
}

func (m *TrialsMock) UseTrial(ctx context.Context, id trials.Identity) (models.TrialRecord, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(models.TrialRecord), args.Error(1)
}

func (m *TrialsMock) ReserveTrialChat(ctx context.Context, userID string) (bool, error) {
	args := m.Called(ctx, userID)
	return args.Bool(0), args.Error(1)
}

func (m *TrialsMock) ReleaseTrialChat(ctx context.Context, userID string) error {
	return m.Called(ctx, userID).Error(0)
}

func (m *TrialsMock) DaysUntilNextTrial(ctx context.Context, userID string) (int, error) {
	args := m.Called(ctx, userID)
	return args.Int(0), args.Error(1)
}

func TestAuthorize_IdentifierLinked(t *testing.T) {
	f := newFixture(t)
	u := f.register(t, "frank")

	tm := new(TrialsMock)
	tm.On("State", mock.Anything, u.ID).Return(trials.StateNone, nil, nil)
	tm.On("CanUseTrial", mock.Anything, trials.Identity{UserID: u.ID, Username: "frank", Email: "frank@example.com"}).
		Return(&trials.IneligibleError{Reason: trials.ReasonIdentifierLinked, Kind: trials.KindEmail, Value: u.Email})
	f.chat.trials = tm

	_, err := f.chat.Authorize(context.Background(), u, "hello")
	require.Error(t, err)
	assert.ErrorIs(t, err, trials.ErrTrialIneligible)
	var ie *trials.IneligibleError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, trials.KindEmail, ie.Kind)
	tm.AssertExpectations(t)
	tm.AssertNotCalled(t, "UseTrial", mock.Anything, mock.Anything)
}

func TestSSEWriter(t *testing.T) {
	rec := httptest.NewRecorder()
	w := NewSSEWriter(rec)
	require.NoError(t, w.Send(ContentEvent{Content: "hi "}))
	require.NoError(t, w.Send(CreditUsedEvent{CreditUsed: 5, RemainingCredits: 95, Plan: models.PlanPro}))
	require.NoError(t, w.Done())

	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t,
		"data: {\"content\":\"hi \"}\n\n"+
			"data: {\"credit_used\":5,\"remaining_credits\":95,\"plan\":\"pro\"}\n\n"+
			"data: [DONE]\n\n",
		rec.Body.String())
	assert.True(t, rec.Flushed)
}

func TestSystemPrompt(t *testing.T) {
	assert.Empty(t, SystemPrompt(models.PlanFree))
	assert.Empty(t, Roster(models.PlanFree))
	assert.Contains(t, SystemPrompt(models.PlanBasic), "analyst")
	assert.NotContains(t, SystemPrompt(models.PlanBasic), "coordinator")
	assert.Contains(t, SystemPrompt(models.PlanPro), "coordinator")
	assert.Equal(t, SystemPrompt(models.PlanPro), SystemPrompt(models.PlanCustom))
}
