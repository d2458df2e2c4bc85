package trials

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/chatgate/internal/lib/lock"
	"github.com/magabrotheeeer/chatgate/internal/lib/sl"
	"github.com/magabrotheeeer/chatgate/internal/models"
	"github.com/magabrotheeeer/chatgate/internal/storage/jsonfile"
)

var march = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

func newTestService(t *testing.T, now time.Time) *Service {
	t.Helper()
	store, err := jsonfile.New(t.TempDir())
	require.NoError(t, err)
	s := New(store, lock.NewLocal(), sl.Discard())
	s.now = func() time.Time { return now }
	return s
}

func alice() Identity {
	return Identity{UserID: "u-alice", Username: "alice", Email: "alice@example.com", Phone: "+1 555-0100"}
}

func TestTrialLifecycle(t *testing.T) {
	s := newTestService(t, march)
	ctx := context.Background()
	id := alice()

	require.NoError(t, s.CanUseTrial(ctx, id))

	st, _, err := s.State(ctx, id.UserID)
	require.NoError(t, err)
	assert.Equal(t, StateNone, st)

	rec, err := s.UseTrial(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 1, rec.MaxChats)
	assert.Equal(t, "2025-03", rec.Month)
	assert.True(t, rec.Used)

	ok, err := s.CanChat(ctx, id.UserID)
	require.NoError(t, err)
	assert.True(t, ok)

	more, err := s.IncrementTrialChat(ctx, id.UserID)
	require.NoError(t, err)
	assert.False(t, more)

	ok, err = s.CanChat(ctx, id.UserID)
	require.NoError(t, err)
	assert.False(t, ok)

	st, _, err = s.State(ctx, id.UserID)
	require.NoError(t, err)
	assert.Equal(t, StateExhausted, st)

	err = s.CanUseTrial(ctx, id)
	var inel *IneligibleError
	require.True(t, errors.As(err, &inel))
	assert.Equal(t, ReasonAlreadyUsed, inel.Reason)
	assert.ErrorIs(t, err, ErrTrialIneligible)

	_, err = s.UseTrial(ctx, id)
	assert.ErrorIs(t, err, ErrTrialIneligible)

	days, err := s.DaysUntilNextTrial(ctx, id.UserID)
	require.NoError(t, err)
	assert.Equal(t, 21, days)
}

func TestCanUseTrial_LinkedIdentifiers(t *testing.T) {
	s := newTestService(t, march)
	ctx := context.Background()
	_, err := s.UseTrial(ctx, alice())
	require.NoError(t, err)

	tests := []struct {
		name string
		id   Identity
		kind IdentifierKind
	}{
		{
			name: "shared email in other case",
			id:   Identity{UserID: "u-new", Username: "fresh", Email: "ALICE@example.com"},
			kind: KindEmail,
		},
		{
			name: "shared username",
			id:   Identity{UserID: "u-new", Username: "Alice", Email: "other@example.com"},
			kind: KindUsername,
		},
		{
			name: "shared phone after normalization",
			id:   Identity{UserID: "u-new", Username: "fresh", Email: "fresh@example.com", Phone: "+15550100"},
			kind: KindPhone,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.CanUseTrial(ctx, tt.id)
			var inel *IneligibleError
			require.True(t, errors.As(err, &inel))
			assert.Equal(t, ReasonIdentifierLinked, inel.Reason)
			assert.Equal(t, tt.kind, inel.Kind)
		})
	}

	assert.NoError(t, s.CanUseTrial(ctx, Identity{UserID: "u-new", Username: "fresh", Email: "fresh@example.com"}))
}

func TestCanUseTrial_NewMonth(t *testing.T) {
	store, err := jsonfile.New(t.TempDir())
	require.NoError(t, err)
	s := New(store, lock.NewLocal(), sl.Discard())
	ctx := context.Background()

	s.now = func() time.Time { return march }
	_, err = s.UseTrial(ctx, alice())
	require.NoError(t, err)
	_, err = s.IncrementTrialChat(ctx, alice().UserID)
	require.NoError(t, err)

	april := time.Date(2025, 4, 2, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return april }

	assert.NoError(t, s.CanUseTrial(ctx, Identity{UserID: "u-new", Email: "alice@example.com"}))
	assert.NoError(t, s.CanUseTrial(ctx, alice()))

	st, _, err := s.State(ctx, alice().UserID)
	require.NoError(t, err)
	assert.Equal(t, StateNone, st)

	ok, err := s.CanChat(ctx, alice().UserID)
	require.NoError(t, err)
	assert.True(t, ok, "a record from a past month must not block")

	rec, err := s.UseTrial(ctx, alice())
	require.NoError(t, err)
	assert.Equal(t, "2025-04", rec.Month)
	assert.Zero(t, rec.ChatCount)

	days, err := s.DaysUntilNextTrial(ctx, alice().UserID)
	require.NoError(t, err)
	assert.Equal(t, 29, days)
}

func TestIncrementTrialChat_WithoutRecord(t *testing.T) {
	s := newTestService(t, march)
	more, err := s.IncrementTrialChat(context.Background(), "nobody")
	require.NoError(t, err)
	assert.False(t, more)

	days, err := s.DaysUntilNextTrial(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Zero(t, days)
}

func TestStatsAndList(t *testing.T) {
	store, err := jsonfile.New(t.TempDir())
	require.NoError(t, err)
	s := New(store, lock.NewLocal(), sl.Discard())
	ctx := context.Background()

	s.now = func() time.Time { return march.AddDate(0, -1, 0) }
	_, err = s.UseTrial(ctx, Identity{UserID: "u1", Username: "one", Email: "one@x.io"})
	require.NoError(t, err)
	_, err = s.IncrementTrialChat(ctx, "u1")
	require.NoError(t, err)

	s.now = func() time.Time { return march }
	_, err = s.UseTrial(ctx, Identity{UserID: "u2", Username: "two", Email: "two@x.io"})
	require.NoError(t, err)

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{TotalTrials: 2, ThisMonthTrials: 1, TotalTrialChats: 1}, st)

	list, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "u2", list[0].UserID)

	_, ok, err := s.Get(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, ok)
	_, ok, err = s.Get(ctx, "ghost")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestUseTrial_RecordShape(t *testing.T) {
	s := newTestService(t, march)
	rec, err := s.UseTrial(context.Background(), alice())
	require.NoError(t, err)

	got, ok, err := s.Get(context.Background(), alice().UserID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, rec, got)
	assert.Equal(t, models.TrialRecord{
		UserID:   "u-alice",
		Username: "alice",
		Email:    "alice@example.com",
		Phone:    "+1 555-0100",
		Used:     true,
		UsedAt:   march,
		Month:    "2025-03",
		MaxChats: 1,
	}, got)
}

func TestReserveTrialChat_SingleSlot(t *testing.T) {
	s := newTestService(t, march)
	ctx := context.Background()
	id := alice()

	_, err := s.ReserveTrialChat(ctx, id.UserID)
	assert.ErrorIs(t, err, ErrNoTrialChats, "no trial granted yet")

	_, err = s.UseTrial(ctx, id)
	require.NoError(t, err)

	const callers = 8
	results := make(chan error, callers)
	for range callers {
		go func() {
			_, err := s.ReserveTrialChat(ctx, id.UserID)
			results <- err
		}()
	}
	reserved := 0
	for range callers {
		err := <-results
		if err == nil {
			reserved++
			continue
		}
		assert.ErrorIs(t, err, ErrNoTrialChats)
	}
	assert.Equal(t, 1, reserved)

	st, rec, err := s.State(ctx, id.UserID)
	require.NoError(t, err)
	assert.Equal(t, StateExhausted, st)
	assert.Equal(t, 1, rec.ChatCount)
}

func TestReleaseTrialChat(t *testing.T) {
	s := newTestService(t, march)
	ctx := context.Background()
	id := alice()

	require.NoError(t, s.ReleaseTrialChat(ctx, id.UserID), "nothing to release")

	_, err := s.UseTrial(ctx, id)
	require.NoError(t, err)
	more, err := s.ReserveTrialChat(ctx, id.UserID)
	require.NoError(t, err)
	assert.False(t, more)

	require.NoError(t, s.ReleaseTrialChat(ctx, id.UserID))
	st, rec, err := s.State(ctx, id.UserID)
	require.NoError(t, err)
	assert.Equal(t, StateGranted, st)
	assert.Zero(t, rec.ChatCount)

	require.NoError(t, s.ReleaseTrialChat(ctx, id.UserID))
	_, rec, err = s.State(ctx, id.UserID)
	require.NoError(t, err)
	assert.Zero(t, rec.ChatCount, "count never goes negative")
}
