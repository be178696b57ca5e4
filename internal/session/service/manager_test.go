package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"auth-platform/backend/internal/audit"
	auditrepo "auth-platform/backend/internal/audit/repository"
	"auth-platform/backend/internal/logging"
	"auth-platform/backend/internal/notification"
	"auth-platform/backend/internal/platform/apperr"
	"auth-platform/backend/internal/security"
	"auth-platform/backend/internal/session/domain"
	"auth-platform/backend/internal/session/repository"
	userdomain "auth-platform/backend/internal/user/domain"
	userrepo "auth-platform/backend/internal/user/repository"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	clock    *testClock
	sessions *repository.MemoryRepository
	users    *userrepo.MemoryRepository
	notifier *notification.Recorder
	audit    *auditrepo.MemoryRepository
	tokens   *security.TokenIssuer
	cfg      Config
	mgr      *Manager
	alice    *userdomain.User
	admin    *userdomain.User
}

func newFixture(t *testing.T, tweak ...func(*Config)) *fixture {
	t.Helper()
	f := &fixture{
		clock:    &testClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)},
		sessions: repository.NewMemoryRepository(),
		notifier: &notification.Recorder{},
		audit:    auditrepo.NewMemoryRepository(),
		cfg:      DefaultConfig(),
	}
	for _, fn := range tweak {
		fn(&f.cfg)
	}
	f.users = userrepo.NewMemoryRepository(f.sessions)
	f.tokens = security.NewTestIssuer(f.clock.Now)
	f.mgr = f.newManager(f.sessions)

	f.alice = &userdomain.User{ID: "u-alice", Username: "alice", Email: "alice@x.com", PasswordHash: "h",
		Role: userdomain.RoleUser, CreatedAt: f.clock.Now()}
	f.admin = &userdomain.User{ID: "u-admin", Username: "root", Email: "root@x.com", PasswordHash: "h",
		Role: userdomain.RoleAdmin, CreatedAt: f.clock.Now()}
	ctx := context.Background()
	require.NoError(t, f.users.Create(ctx, f.alice))
	require.NoError(t, f.users.Create(ctx, f.admin))
	return f
}

func (f *fixture) newManager(sessions repository.Repository) *Manager {
	return NewManager(sessions, f.users, f.tokens, f.notifier, f.cfg,
		WithClock(f.clock.Now),
		WithLogger(logging.Discard()),
		WithAudit(audit.NewLogger(f.audit, nil, logging.Discard())),
	)
}

func (f *fixture) status(t *testing.T, userID string) []domain.Status {
	t.Helper()
	list := f.sessions.Snapshot(userID)
	out := make([]domain.Status, len(list))
	for i, s := range list {
		out[i] = s.Status
	}
	return out
}

func TestCreateSession_StoresDigestsOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pair, err := f.mgr.CreateSession(ctx, f.alice)
	require.NoError(t, err)
	require.NotEqual(t, pair.AccessToken, pair.RefreshToken)

	s, err := f.sessions.GetByAccessHash(ctx, security.Digest(pair.AccessToken))
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.Equal(t, f.alice.ID, s.UserID)
	assert.Equal(t, domain.StatusActive, s.Status)
	assert.Equal(t, security.Digest(pair.RefreshToken), s.RefreshTokenHash)
	assert.NotContains(t, []string{s.AccessTokenHash, s.RefreshTokenHash}, pair.AccessToken)
	assert.Equal(t, f.clock.Now(), s.LastActivityTime)
	assert.Equal(t, f.clock.Now().Add(15*time.Minute), s.AccessExpiresAt)
	assert.Equal(t, f.clock.Now().Add(7*24*time.Hour), s.RefreshExpiresAt)

	claims, err := f.tokens.Parse(pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Subject)
	assert.Equal(t, "USER", claims.Role)
	assert.Equal(t, "alice@x.com", claims.Email)
	assert.Equal(t, f.alice.ID, claims.UserID)
	assert.Equal(t, security.TokenTypeAccess, claims.TokenType)

	assert.Empty(t, f.notifier.Sent(), "first session must not warn")
	require.Len(t, f.audit.All(), 1)
	assert.Equal(t, "session_created", f.audit.All()[0].Action)
}

func TestCreateSession_BlockedUser(t *testing.T) {
	f := newFixture(t)
	blocked := *f.alice
	blocked.IsBlocked = true

	_, err := f.mgr.CreateSession(context.Background(), &blocked)
	assert.ErrorIs(t, err, apperr.ErrUserBlocked)
	assert.Equal(t, apperr.KindUserBlocked, apperr.KindOf(err))
	assert.Zero(t, f.sessions.Len())
}

func TestCreateSession_HasBlockedSessions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := f.mgr.CreateSession(ctx, f.alice)
		require.NoError(t, err)
	}
	n, err := f.mgr.BlockUserSessions(ctx, f.alice, []*userdomain.User{f.admin})
	require.NoError(t, err)
	require.Equal(t, 3, n)

	// Non-blocked sessions do not help: one more INACTIVE row exists beside the BLOCKED ones.
	require.NoError(t, f.sessions.Create(ctx, &domain.Session{ID: "extra", UserID: f.alice.ID,
		AccessTokenHash: "a", RefreshTokenHash: "r", Status: domain.StatusInactive}))

	_, err = f.mgr.CreateSession(ctx, f.alice)
	assert.ErrorIs(t, err, apperr.ErrHasBlockedSessions)

	has, err := f.mgr.HasBlockedSessions(ctx, f.alice.ID)
	require.NoError(t, err)
	assert.True(t, has)
}

func TestCreateSession_MultipleActiveSessionsWarns(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.mgr.CreateSession(ctx, f.alice)
	require.NoError(t, err)
	_, err = f.mgr.CreateSession(ctx, f.alice)
	require.NoError(t, err)

	assert.Equal(t, []notification.Sent{{Email: "alice@x.com", Message: MsgMultipleSessions}}, f.notifier.Sent())
	assert.Len(t, f.status(t, f.alice.ID), 2)
}

func TestCreateSession_NotificationFailure(t *testing.T) {
	t.Run("strict aborts", func(t *testing.T) {
		f := newFixture(t)
		ctx := context.Background()
		_, err := f.mgr.CreateSession(ctx, f.alice)
		require.NoError(t, err)

		f.notifier.SetFail(errors.New("broker down"))
		_, err = f.mgr.CreateSession(ctx, f.alice)
		assert.ErrorIs(t, err, apperr.ErrNotificationDelivery)
		assert.Len(t, f.status(t, f.alice.ID), 1, "no session may be created when the warning fails")
	})

	t.Run("lenient continues", func(t *testing.T) {
		f := newFixture(t, func(c *Config) { c.NotifyStrict = false })
		ctx := context.Background()
		_, err := f.mgr.CreateSession(ctx, f.alice)
		require.NoError(t, err)

		f.notifier.SetFail(errors.New("broker down"))
		_, err = f.mgr.CreateSession(ctx, f.alice)
		require.NoError(t, err)
		assert.Len(t, f.status(t, f.alice.ID), 2)
	})
}

func TestRefreshAccessToken_Rotates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.mgr.CreateSession(ctx, f.alice)
	require.NoError(t, err)
	f.clock.Advance(10 * time.Minute)

	second, err := f.mgr.RefreshAccessToken(ctx, first.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, first.AccessToken, second.AccessToken)
	assert.NotEqual(t, first.RefreshToken, second.RefreshToken)

	s, err := f.sessions.GetByRefreshHash(ctx, security.Digest(second.RefreshToken))
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.Equal(t, f.clock.Now(), s.LastActivityTime)
	assert.Equal(t, security.Digest(second.AccessToken), s.AccessTokenHash)

	// The old refresh token matches nothing any more.
	old, err := f.sessions.GetByRefreshHash(ctx, security.Digest(first.RefreshToken))
	require.NoError(t, err)
	assert.Nil(t, old)
	_, err = f.mgr.RefreshAccessToken(ctx, first.RefreshToken)
	assert.ErrorIs(t, err, apperr.ErrSessionNotFound)

	// Nor does the old access token.
	_, err = f.mgr.IsSessionActive(ctx, first.AccessToken)
	assert.ErrorIs(t, err, apperr.ErrSessionNotFound)
	active, err := f.mgr.IsSessionActive(ctx, second.AccessToken)
	require.NoError(t, err)
	assert.True(t, active)
}

func TestRefreshAccessToken_Failures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pair, err := f.mgr.CreateSession(ctx, f.alice)
	require.NoError(t, err)

	_, err = f.mgr.RefreshAccessToken(ctx, "garbage")
	assert.ErrorIs(t, err, apperr.ErrTokenInvalid)

	_, err = f.mgr.RefreshAccessToken(ctx, pair.AccessToken)
	assert.ErrorIs(t, err, apperr.ErrTokenInvalid, "an access token is not a refresh token")

	unknown, err := f.tokens.Issue("alice", security.UserClaims{Role: "USER", Email: "alice@x.com",
		UserID: f.alice.ID, TokenType: security.TokenTypeRefresh}, time.Hour)
	require.NoError(t, err)
	_, err = f.mgr.RefreshAccessToken(ctx, unknown)
	assert.ErrorIs(t, err, apperr.ErrSessionNotFound)

	require.NoError(t, f.mgr.DeactivateByAccessToken(ctx, "Bearer "+pair.AccessToken))
	_, err = f.mgr.RefreshAccessToken(ctx, pair.RefreshToken)
	assert.ErrorIs(t, err, apperr.ErrSessionNotActive)
}

func TestRefreshAccessToken_ExpiredToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pair, err := f.mgr.CreateSession(ctx, f.alice)
	require.NoError(t, err)
	f.clock.Advance(7*24*time.Hour + time.Second)

	_, err = f.mgr.RefreshAccessToken(ctx, pair.RefreshToken)
	assert.ErrorIs(t, err, apperr.ErrTokenExpired)
}

func TestRefreshAccessToken_BlockGuards(t *testing.T) {
	t.Run("user blocked", func(t *testing.T) {
		f := newFixture(t)
		ctx := context.Background()
		pair, err := f.mgr.CreateSession(ctx, f.alice)
		require.NoError(t, err)

		require.NoError(t, f.users.SetBlocked(ctx, f.alice.ID, true))
		_, err = f.mgr.RefreshAccessToken(ctx, pair.RefreshToken)
		assert.ErrorIs(t, err, apperr.ErrUserBlocked)
	})

	t.Run("another session blocked", func(t *testing.T) {
		f := newFixture(t)
		ctx := context.Background()
		pair, err := f.mgr.CreateSession(ctx, f.alice)
		require.NoError(t, err)
		require.NoError(t, f.sessions.Create(ctx, &domain.Session{ID: "blocked", UserID: f.alice.ID,
			AccessTokenHash: "a", RefreshTokenHash: "r", Status: domain.StatusBlocked}))

		_, err = f.mgr.RefreshAccessToken(ctx, pair.RefreshToken)
		assert.ErrorIs(t, err, apperr.ErrHasBlockedSessions)
	})
}

// barrierRepo holds every refresh lookup until all expected callers have read the same row.
type barrierRepo struct {
	repository.Repository
	wg *sync.WaitGroup
}

func (b *barrierRepo) GetByRefreshHash(ctx context.Context, hash string) (*domain.Session, error) {
	s, err := b.Repository.GetByRefreshHash(ctx, hash)
	b.wg.Done()
	b.wg.Wait()
	return s, err
}

func TestRefreshAccessToken_ConcurrentSameToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pair, err := f.mgr.CreateSession(ctx, f.alice)
	require.NoError(t, err)

	const callers = 2
	var barrier sync.WaitGroup
	barrier.Add(callers)
	racing := f.newManager(&barrierRepo{Repository: f.sessions, wg: &barrier})

	type result struct {
		pair *domain.TokenPair
		err  error
	}
	results := make(chan result, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p, err := racing.RefreshAccessToken(ctx, pair.RefreshToken)
			results <- result{p, err}
		}()
	}
	wg.Wait()
	close(results)

	var winners []*domain.TokenPair
	for r := range results {
		if r.err == nil {
			winners = append(winners, r.pair)
			continue
		}
		assert.ErrorIs(t, r.err, apperr.ErrConcurrentRefreshConflict)
		assert.True(t, apperr.Retryable(r.err))
	}
	require.Len(t, winners, 1, "exactly one refresh may win")

	// The stored row belongs to the winner and its pair keeps working.
	active, err := f.mgr.IsSessionActive(ctx, winners[0].AccessToken)
	require.NoError(t, err)
	assert.True(t, active)
	_, err = f.mgr.RefreshAccessToken(ctx, winners[0].RefreshToken)
	assert.NoError(t, err)
	assert.Equal(t, 1, f.sessions.Len())
}

func TestRefreshAccessToken_SequentialReplayAfterWin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pair, err := f.mgr.CreateSession(ctx, f.alice)
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.mgr.RefreshAccessToken(ctx, pair.RefreshToken)
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		switch apperr.KindOf(err) {
		case "":
			wins++
		case apperr.KindConcurrentRefreshConflict, apperr.KindSessionNotFound, apperr.KindSessionNotActive:
		default:
			t.Errorf("unexpected error kind %s: %v", apperr.KindOf(err), err)
		}
	}
	assert.Equal(t, 1, wins)
}

func TestDeactivateByAccessToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pair, err := f.mgr.CreateSession(ctx, f.alice)
	require.NoError(t, err)

	for _, header := range []string{"", "Basic abc", "Bearer "} {
		err := f.mgr.DeactivateByAccessToken(ctx, header)
		assert.ErrorIs(t, err, apperr.ErrInvalidHeader, "header %q", header)
	}
	assert.ErrorIs(t, f.mgr.DeactivateByAccessToken(ctx, "Bearer unknown"), apperr.ErrSessionNotFound)

	f.clock.Advance(time.Minute)
	require.NoError(t, f.mgr.DeactivateByAccessToken(ctx, "Bearer "+pair.AccessToken))
	s, err := f.sessions.GetByAccessHash(ctx, security.Digest(pair.AccessToken))
	require.NoError(t, err)
	assert.Equal(t, domain.StatusInactive, s.Status)
	assert.Equal(t, f.clock.Now(), s.LastActivityTime)

	active, err := f.mgr.IsSessionActive(ctx, pair.AccessToken)
	require.NoError(t, err)
	assert.False(t, active)

	// A second logout is an error at this layer.
	assert.ErrorIs(t, f.mgr.DeactivateByAccessToken(ctx, "bearer "+pair.AccessToken), apperr.ErrSessionNotFound)

	var actions []string
	for _, e := range f.audit.All() {
		actions = append(actions, e.Action)
	}
	assert.Contains(t, actions, "session_deactivated")
}

func TestIsSessionActive_DoesNotTouch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	pair, err := f.mgr.CreateSession(ctx, f.alice)
	require.NoError(t, err)
	created := f.clock.Now()
	f.clock.Advance(time.Hour)

	active, err := f.mgr.IsSessionActive(ctx, pair.AccessToken)
	require.NoError(t, err)
	assert.True(t, active)
	s, err := f.sessions.GetByAccessHash(ctx, security.Digest(pair.AccessToken))
	require.NoError(t, err)
	assert.Equal(t, created, s.LastActivityTime)
}

func TestUpdateLastActivityTime(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	assert.ErrorIs(t, f.mgr.UpdateLastActivityTime(ctx, f.alice), apperr.ErrNoActiveSession)

	pair, err := f.mgr.CreateSession(ctx, f.alice)
	require.NoError(t, err)
	f.clock.Advance(30 * time.Minute)
	require.NoError(t, f.mgr.UpdateLastActivityTime(ctx, f.alice))

	s, err := f.sessions.GetByAccessHash(ctx, security.Digest(pair.AccessToken))
	require.NoError(t, err)
	assert.Equal(t, f.clock.Now(), s.LastActivityTime)
}

func TestTouchSession_StampsOnlyTheCallersSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	older, err := f.mgr.CreateSession(ctx, f.alice)
	require.NoError(t, err)
	f.clock.Advance(time.Minute)
	newer, err := f.mgr.CreateSession(ctx, f.alice)
	require.NoError(t, err)
	newerAt := f.clock.Now()

	f.clock.Advance(30 * time.Minute)
	require.NoError(t, f.mgr.TouchSession(ctx, older.AccessToken))

	s, err := f.sessions.GetByAccessHash(ctx, security.Digest(older.AccessToken))
	require.NoError(t, err)
	assert.Equal(t, f.clock.Now(), s.LastActivityTime)
	s, err = f.sessions.GetByAccessHash(ctx, security.Digest(newer.AccessToken))
	require.NoError(t, err)
	assert.Equal(t, newerAt, s.LastActivityTime, "the other session is left to age")

	require.NoError(t, f.mgr.DeactivateByAccessToken(ctx, "Bearer "+older.AccessToken))
	assert.ErrorIs(t, f.mgr.TouchSession(ctx, older.AccessToken), apperr.ErrNoActiveSession)
}

func TestBlockUserSessions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.mgr.CreateSession(ctx, f.alice)
	require.NoError(t, err)
	_, err = f.mgr.CreateSession(ctx, f.alice)
	require.NoError(t, err)
	require.NoError(t, f.mgr.DeactivateByAccessToken(ctx, "Bearer "+first.AccessToken))
	before := len(f.notifier.Sent())

	n, err := f.mgr.BlockUserSessions(ctx, f.alice, []*userdomain.User{f.admin})
	require.NoError(t, err)
	assert.Equal(t, 1, n, "only ACTIVE sessions are blocked")
	assert.ElementsMatch(t, []domain.Status{domain.StatusInactive, domain.StatusBlocked}, f.status(t, f.alice.ID))

	sent := f.notifier.Sent()[before:]
	require.Len(t, sent, 2)
	assert.Equal(t, notification.Sent{Email: "alice@x.com", Message: MsgSessionsBlocked}, sent[0])
	assert.Equal(t, "root@x.com", sent[1].Email)
	assert.Contains(t, sent[1].Message, "alice")

	_, err = f.mgr.RefreshAccessToken(ctx, first.RefreshToken)
	assert.Error(t, err)
}

func TestBlockUserSessions_NoAdmins(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.mgr.CreateSession(ctx, f.alice)
	require.NoError(t, err)

	n, err := f.mgr.BlockUserSessions(ctx, f.alice, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Len(t, f.notifier.Sent(), 1)
}

func TestBlockUserSessions_NotificationFailureKeepsBlock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.mgr.CreateSession(ctx, f.alice)
	require.NoError(t, err)

	f.notifier.SetFail(errors.New("broker down"))
	n, err := f.mgr.BlockUserSessions(ctx, f.alice, []*userdomain.User{f.admin})
	assert.ErrorIs(t, err, apperr.ErrNotificationDelivery)
	assert.Equal(t, 1, n)
	assert.Equal(t, []domain.Status{domain.StatusBlocked}, f.status(t, f.alice.ID))
}

func TestDeleteUserSessions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		_, err := f.mgr.CreateSession(ctx, f.alice)
		require.NoError(t, err)
	}
	_, err := f.mgr.CreateSession(ctx, f.admin)
	require.NoError(t, err)

	n, err := f.mgr.DeleteUserSessions(ctx, f.alice.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 1, f.sessions.Len())
}

// stallingRepo blocks every count until the caller's deadline passes.
type stallingRepo struct {
	repository.Repository
}

func (stallingRepo) CountByUserAndStatus(ctx context.Context, _ string, _ domain.Status) (int, error) {
	<-ctx.Done()
	return 0, ctx.Err()
}

func TestStoreTimeoutIsRetryable(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.StoreTimeout = 10 * time.Millisecond })
	mgr := f.newManager(stallingRepo{Repository: f.sessions})

	_, err := mgr.CreateSession(context.Background(), f.alice)
	require.Error(t, err)
	assert.Equal(t, apperr.KindTimeout, apperr.KindOf(err))
	assert.True(t, apperr.Retryable(err))
}
