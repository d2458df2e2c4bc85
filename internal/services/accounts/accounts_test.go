package accounts

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/chatgate/internal/lib/lock"
	"github.com/magabrotheeeer/chatgate/internal/lib/sl"
	"github.com/magabrotheeeer/chatgate/internal/models"
	"github.com/magabrotheeeer/chatgate/internal/storage/jsonfile"
)

func newTestService(t *testing.T) (*Service, *jsonfile.Storage) {
	t.Helper()
	store, err := jsonfile.New(t.TempDir())
	require.NoError(t, err)
	return New(store, store, lock.NewLocal(), 7*24*time.Hour, sl.Discard()), store
}

func register(t *testing.T, s *Service, username, email, phone string) *models.User {
	t.Helper()
	u, err := s.Register(context.Background(), RegisterInput{
		Username: username,
		Email:    email,
		Password: "secret123",
		Phone:    phone,
	})
	require.NoError(t, err)
	return u
}

func TestRegister_Success(t *testing.T) {
	s, _ := newTestService(t)

	u := register(t, s, "alice", "alice@example.com", "+1 555-0100")

	assert.NotEmpty(t, u.ID)
	assert.Equal(t, models.PlanFree, u.Subscription)
	assert.NotEqual(t, "secret123", u.PasswordHash)
	assert.Zero(t, u.ChatCount)
	assert.Nil(t, u.LastLogin)
	assert.False(t, u.TrialUsed)
}

func TestRegister_Duplicates(t *testing.T) {
	s, _ := newTestService(t)
	register(t, s, "alice", "alice@example.com", "+1 555-0100")

	tests := []struct {
		name       string
		in         RegisterInput
		fields     []Field
		suggestion bool
	}{
		{
			name:       "username differs only by case",
			in:         RegisterInput{Username: "ALICE", Email: "other@example.com", Password: "x"},
			fields:     []Field{FieldUsername},
			suggestion: true,
		},
		{
			name:   "email differs only by case",
			in:     RegisterInput{Username: "bob", Email: "Alice@Example.COM", Password: "x"},
			fields: []Field{FieldEmail},
		},
		{
			name:   "phone after normalization",
			in:     RegisterInput{Username: "bob", Email: "bob@example.com", Password: "x", Phone: "+15550100"},
			fields: []Field{FieldPhone},
		},
		{
			name:       "every field at once",
			in:         RegisterInput{Username: "alice", Email: "alice@example.com", Password: "x", Phone: "+1-555-0100"},
			fields:     []Field{FieldUsername, FieldEmail, FieldPhone},
			suggestion: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Register(context.Background(), tt.in)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrDuplicateIdentifier)

			var dup *DuplicateError
			require.True(t, errors.As(err, &dup))
			got := make([]Field, 0, len(dup.Conflicts))
			for _, c := range dup.Conflicts {
				got = append(got, c.Field)
			}
			assert.Equal(t, tt.fields, got)
			if tt.suggestion {
				assert.Equal(t, []string{tt.in.Username + "1", tt.in.Username + "2", tt.in.Username + "3"}, dup.Suggestions)
			} else {
				assert.Empty(t, dup.Suggestions)
			}
		})
	}

	users, err := s.ListUsers(context.Background())
	require.NoError(t, err)
	assert.Len(t, users, 1)
}

func TestSuggest_SkipsTakenAndFallsBack(t *testing.T) {
	s, _ := newTestService(t)

	taken := map[string]struct{}{"bob": {}}
	for i := 1; i < 100; i++ {
		taken[fmt.Sprintf("bob%d", i)] = struct{}{}
	}

	t.Run("random range", func(t *testing.T) {
		seq := []int{0, 0, 5, 9899}
		s.intN = func(int) int {
			v := seq[0]
			seq = seq[1:]
			return v
		}
		assert.Equal(t, []string{"bob100", "bob105", "bob9999"}, s.suggest("bob", taken))
	})

	t.Run("underscore fallback", func(t *testing.T) {
		s.intN = func(int) int { return 0 }
		taken["bob100"] = struct{}{}
		assert.Equal(t, []string{"bob_1", "bob_2", "bob_3"}, s.suggest("bob", taken))
	})

	t.Run("every suggestion is free", func(t *testing.T) {
		s.intN = func(n int) int { return 7 }
		for _, sug := range s.suggest("Bob", taken) {
			_, clash := taken[sug]
			assert.False(t, clash, sug)
		}
	})
}

func TestValidateRegistration_DoesNotMutate(t *testing.T) {
	s, _ := newTestService(t)
	register(t, s, "alice", "alice@example.com", "")

	v, err := s.ValidateRegistration(context.Background(), "alice", "new@example.com", "")
	require.NoError(t, err)
	assert.False(t, v.Valid)
	assert.Len(t, v.Suggestions, 3)

	v, err = s.ValidateRegistration(context.Background(), "carol", "carol@example.com", "")
	require.NoError(t, err)
	assert.True(t, v.Valid)
	assert.Empty(t, v.Conflicts)

	users, err := s.ListUsers(context.Background())
	require.NoError(t, err)
	assert.Len(t, users, 1)
}

func TestRegister_ConcurrentSameUsername(t *testing.T) {
	s, _ := newTestService(t)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		success int
	)
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Register(context.Background(), RegisterInput{
				Username: "race",
				Email:    fmt.Sprintf("race%d@example.com", i),
				Password: "secret123",
			})
			if err == nil {
				mu.Lock()
				success++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, success)
}

func TestAuthenticate(t *testing.T) {
	s, _ := newTestService(t)
	u := register(t, s, "alice", "alice@example.com", "")

	tests := []struct {
		name       string
		identifier string
		password   string
		wantErr    error
	}{
		{name: "by username", identifier: "alice", password: "secret123"},
		{name: "by email ignoring case", identifier: "ALICE@example.com", password: "secret123"},
		{name: "wrong password", identifier: "alice", password: "nope", wantErr: ErrInvalidCredentials},
		{name: "unknown user", identifier: "mallory", password: "secret123", wantErr: ErrInvalidCredentials},
		{name: "empty identifier", identifier: "", password: "secret123", wantErr: ErrInvalidCredentials},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.Authenticate(context.Background(), tt.identifier, tt.password)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, got)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, u.ID, got.ID)
			require.NotNil(t, got.LastLogin)

			stored, err := s.GetUser(context.Background(), u.ID)
			require.NoError(t, err)
			require.NotNil(t, stored.LastLogin)
		})
	}
}

func TestSessions(t *testing.T) {
	s, store := newTestService(t)
	ctx := context.Background()
	u := register(t, s, "alice", "alice@example.com", "")

	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return base }

	sess, err := s.CreateSession(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, base.Add(7*24*time.Hour), sess.ExpiresAt)

	got, err := s.ResolveSession(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)

	_, err = s.ResolveSession(ctx, "unknown")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = s.ResolveSession(ctx, "")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	s.now = func() time.Time { return base.Add(8 * 24 * time.Hour) }
	_, err = s.ResolveSession(ctx, sess.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)

	_, err = store.GetSession(ctx, sess.ID)
	assert.Error(t, err, "expired session must be purged")

	s.now = func() time.Time { return base }
	sess2, err := s.CreateSession(ctx, u.ID)
	require.NoError(t, err)
	require.NoError(t, s.DeleteSession(ctx, sess2.ID))
	_, err = s.ResolveSession(ctx, sess2.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestSetSubscription(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()
	u := register(t, s, "alice", "alice@example.com", "")

	prev, err := s.SetSubscription(ctx, u.ID, models.PlanPro)
	require.NoError(t, err)
	assert.Equal(t, models.PlanFree, prev)

	prev, err = s.SetSubscription(ctx, u.ID, models.PlanBasic)
	require.NoError(t, err)
	assert.Equal(t, models.PlanPro, prev)

	got, err := s.GetUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PlanBasic, got.Subscription)

	_, err = s.SetSubscription(ctx, u.ID, models.Plan("gold"))
	assert.ErrorIs(t, err, ErrInvalidPlan)
	_, err = s.SetSubscription(ctx, "ghost", models.PlanPro)
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestCountersAndStats(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()
	a := register(t, s, "alice", "alice@example.com", "")
	register(t, s, "bob", "bob@example.com", "")

	require.NoError(t, s.IncrementChatCount(ctx, a.ID))
	require.NoError(t, s.IncrementChatCount(ctx, a.ID))
	require.NoError(t, s.MarkTrialUsed(ctx, a.ID))
	_, err := s.SetSubscription(ctx, a.ID, models.PlanPro)
	require.NoError(t, err)
	_, err = s.CreateSession(ctx, a.ID)
	require.NoError(t, err)

	got, err := s.GetUser(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.ChatCount)
	assert.True(t, got.TrialUsed)

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{TotalUsers: 2, FreeUsers: 1, PaidUsers: 1, ActiveSessions: 1}, st)

	assert.ErrorIs(t, s.IncrementChatCount(ctx, "ghost"), ErrUserNotFound)
}

type UserRepoMock struct{ mock.Mock }

func (m *UserRepoMock) CreateUser(ctx context.Context, user models.User) error {
	return m.Called(ctx, user).Error(0)
}

func (m *UserRepoMock) GetUser(ctx context.Context, id string) (*models.User, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *UserRepoMock) ListUsers(ctx context.Context) ([]models.User, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.User), args.Error(1)
}

func (m *UserRepoMock) UpdateUser(ctx context.Context, user models.User) error {
	return m.Called(ctx, user).Error(0)
}

func TestRegister_RepositoryFailure(t *testing.T) {
	repo := new(UserRepoMock)
	store, err := jsonfile.New(t.TempDir())
	require.NoError(t, err)
	s := New(repo, store, lock.NewLocal(), time.Hour, sl.Discard())

	dbErr := errors.New("disk full")
	repo.On("ListUsers", mock.Anything).Return([]models.User{}, nil)
	repo.On("CreateUser", mock.Anything, mock.AnythingOfType("models.User")).Return(dbErr)

	_, err = s.Register(context.Background(), RegisterInput{Username: "a", Email: "a@x.io", Password: "secret123"})
	require.Error(t, err)
	assert.ErrorIs(t, err, dbErr)
	assert.NotErrorIs(t, err, ErrDuplicateIdentifier)
	repo.AssertExpectations(t)
}
