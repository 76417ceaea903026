package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/workich/backend/internal/model"
	"github.com/workich/backend/internal/service"
	"github.com/workich/backend/internal/token"
)

const testSecret = "test-secret"

func newTestService(t *testing.T) (*service.AuthService, *memoryUserRepo, *memorySessions) {
	t.Helper()
	repo := newMemoryUserRepo()
	sessions := newMemorySessions()
	tokens := token.NewAuthority([]byte(testSecret), 15*time.Minute, 32)
	svc := service.NewAuthService(repo, sessions, tokens, zap.NewNop())
	return svc, repo, sessions
}

func register(t *testing.T, svc *service.AuthService, email string) *model.User {
	t.Helper()
	user, err := svc.Register(context.Background(), email, "password1", "applicant")
	require.NoError(t, err)
	return user
}

func TestRegisterAndDuplicate(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	user, err := svc.Register(ctx, "a@x.com", "password1", "applicant")
	require.NoError(t, err)
	require.Equal(t, "a@x.com", user.Email)
	require.Equal(t, model.RoleApplicant, user.Role)
	require.True(t, user.IsActive)
	require.NotEqual(t, uuid.Nil, user.ID)

	_, err = svc.Register(ctx, "a@x.com", "password2", "employer")
	require.ErrorIs(t, err, service.ErrDuplicateEmail)
}

func TestRegisterValidation(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Register(ctx, "not-an-email", "password1", "applicant")
	require.ErrorIs(t, err, service.ErrInvalidInput)

	_, err = svc.Register(ctx, "a@x.com", "short", "applicant")
	require.ErrorIs(t, err, service.ErrInvalidInput)

	_, err = svc.Register(ctx, "a@x.com", "password1", "admin")
	require.ErrorIs(t, err, service.ErrInvalidInput)
}

func TestLoginIssuesValidClaims(t *testing.T) {
	svc, _, sessions := newTestService(t)
	ctx := context.Background()
	user := register(t, svc, "a@x.com")

	before := time.Now()
	pair, err := svc.Login(ctx, "a@x.com", "password1")
	require.NoError(t, err)
	require.NotEmpty(t, pair.AccessToken)
	require.NotEmpty(t, pair.RefreshToken)

	authority := token.NewAuthority([]byte(testSecret), 15*time.Minute, 32)
	claims, err := authority.VerifyAccessToken(pair.AccessToken)
	require.NoError(t, err)
	require.Equal(t, user.ID.String(), claims.UserID)
	require.Equal(t, "a@x.com", claims.Email)
	require.Equal(t, model.RoleApplicant, claims.Role)
	require.Equal(t, token.TypeAccess, claims.TokenType)

	exp := claims.ExpiresAt.Time
	require.False(t, exp.Before(before))
	require.False(t, exp.After(time.Now().Add(15*time.Minute+time.Second)))

	owner, ok, err := sessions.ResolveRefreshToken(ctx, pair.RefreshToken)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, user.ID, owner)
}

func TestLoginFailuresIndistinguishable(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	register(t, svc, "a@x.com")

	_, wrongPassword := svc.Login(ctx, "a@x.com", "wrong-password")
	_, unknownEmail := svc.Login(ctx, "b@x.com", "password1")

	require.ErrorIs(t, wrongPassword, service.ErrInvalidCredentials)
	require.ErrorIs(t, unknownEmail, service.ErrInvalidCredentials)
	require.Equal(t, wrongPassword, unknownEmail)
}

func TestRefreshRotates(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	register(t, svc, "a@x.com")

	pair, err := svc.Login(ctx, "a@x.com", "password1")
	require.NoError(t, err)

	rotated, err := svc.Refresh(ctx, pair.RefreshToken)
	require.NoError(t, err)
	require.NotEmpty(t, rotated.AccessToken)
	require.NotEqual(t, pair.RefreshToken, rotated.RefreshToken)

	// The consumed token is gone for good.
	_, err = svc.Refresh(ctx, pair.RefreshToken)
	require.ErrorIs(t, err, service.ErrInvalidRefreshToken)

	// The replacement still works.
	_, err = svc.Refresh(ctx, rotated.RefreshToken)
	require.NoError(t, err)
}

func TestRefreshUnknownToken(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.Refresh(context.Background(), "never-issued")
	require.ErrorIs(t, err, service.ErrInvalidRefreshToken)

	_, err = svc.Refresh(context.Background(), "")
	require.ErrorIs(t, err, service.ErrInvalidRefreshToken)
}

func TestRefreshStoreDownIsNotInvalidToken(t *testing.T) {
	repo := newMemoryUserRepo()
	tokens := token.NewAuthority([]byte(testSecret), 15*time.Minute, 32)
	svc := service.NewAuthService(repo, failingSessions{}, tokens, zap.NewNop())

	_, err := svc.Refresh(context.Background(), "some-token")
	require.ErrorIs(t, err, service.ErrStoreUnavailable)
	require.NotErrorIs(t, err, service.ErrInvalidRefreshToken)
}

func TestAuthorize(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	user := register(t, svc, "a@x.com")

	pair, err := svc.Login(ctx, "a@x.com", "password1")
	require.NoError(t, err)

	resolved, err := svc.Authorize(ctx, pair.AccessToken)
	require.NoError(t, err)
	require.Equal(t, user.ID, resolved.ID)
	require.Equal(t, user.Email, resolved.Email)
}

func TestAuthorizeExpiredToken(t *testing.T) {
	_, repo, sessions := newTestService(t)
	expiring := token.NewAuthority([]byte(testSecret), -1*time.Second, 32)
	svc := service.NewAuthService(repo, sessions, expiring, zap.NewNop())
	ctx := context.Background()

	register(t, svc, "a@x.com")
	pair, err := svc.Login(ctx, "a@x.com", "password1")
	require.NoError(t, err)

	_, err = svc.Authorize(ctx, pair.AccessToken)
	require.ErrorIs(t, err, service.ErrInvalidToken)
}

func TestAuthorizeRejectsNonAccessType(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	user := register(t, svc, "a@x.com")

	// A well-formed, correctly signed token with the wrong type marker must
	// not pass the gate.
	claims := token.Claims{
		Email:     user.Email,
		UserID:    user.ID.String(),
		Role:      user.Role,
		TokenType: "refresh",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)

	_, err = svc.Authorize(ctx, signed)
	require.ErrorIs(t, err, service.ErrInvalidToken)
}

func TestAuthorizeInactiveUser(t *testing.T) {
	svc, repo, _ := newTestService(t)
	ctx := context.Background()
	user := register(t, svc, "a@x.com")

	pair, err := svc.Login(ctx, "a@x.com", "password1")
	require.NoError(t, err)

	repo.setActive(user.ID, false)

	_, err = svc.Authorize(ctx, pair.AccessToken)
	require.ErrorIs(t, err, service.ErrUserInactive)
}

func TestAuthorizeDeletedUser(t *testing.T) {
	svc, repo, _ := newTestService(t)
	ctx := context.Background()
	user := register(t, svc, "a@x.com")

	pair, err := svc.Login(ctx, "a@x.com", "password1")
	require.NoError(t, err)

	repo.delete(user.ID)

	_, err = svc.Authorize(ctx, pair.AccessToken)
	require.ErrorIs(t, err, service.ErrUserNotFound)
}

func TestLogoutRevokesBothTokens(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	user := register(t, svc, "a@x.com")

	pair, err := svc.Login(ctx, "a@x.com", "password1")
	require.NoError(t, err)

	require.NoError(t, svc.Logout(ctx, pair.AccessToken, pair.RefreshToken, user.ID))

	_, err = svc.Authorize(ctx, pair.AccessToken)
	require.ErrorIs(t, err, service.ErrInvalidToken)

	_, err = svc.Refresh(ctx, pair.RefreshToken)
	require.ErrorIs(t, err, service.ErrInvalidRefreshToken)
}

func TestLogoutAll(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	user := register(t, svc, "a@x.com")

	first, err := svc.Login(ctx, "a@x.com", "password1")
	require.NoError(t, err)
	second, err := svc.Login(ctx, "a@x.com", "password1")
	require.NoError(t, err)

	count, err := svc.ActiveSessions(ctx, user.ID)
	require.NoError(t, err)
	require.EqualValues(t, 2, count)

	require.NoError(t, svc.LogoutAll(ctx, user.ID))

	count, err = svc.ActiveSessions(ctx, user.ID)
	require.NoError(t, err)
	require.EqualValues(t, 0, count)

	_, err = svc.Refresh(ctx, first.RefreshToken)
	require.ErrorIs(t, err, service.ErrInvalidRefreshToken)
	_, err = svc.Refresh(ctx, second.RefreshToken)
	require.ErrorIs(t, err, service.ErrInvalidRefreshToken)
}

func TestRegisterLoginRefreshScenario(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	user, err := svc.Register(ctx, "a@x.com", "password1", "applicant")
	require.NoError(t, err)
	require.Equal(t, model.RoleApplicant, user.Role)

	pair, err := svc.Login(ctx, "a@x.com", "password1")
	require.NoError(t, err)

	rotated, err := svc.Refresh(ctx, pair.RefreshToken)
	require.NoError(t, err)
	require.NotEqual(t, pair.RefreshToken, rotated.RefreshToken)

	_, err = svc.Refresh(ctx, pair.RefreshToken)
	require.ErrorIs(t, err, service.ErrInvalidRefreshToken)
}

// --- fakes ---

type memoryUserRepo struct {
	mu    sync.Mutex
	users map[uuid.UUID]model.User
}

func newMemoryUserRepo() *memoryUserRepo {
	return &memoryUserRepo{users: make(map[uuid.UUID]model.User)}
}

func (r *memoryUserRepo) CreateUser(_ context.Context, email, passwordHash string, role model.Role) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Email == email {
			return nil, &pgconn.PgError{Code: "23505"}
		}
	}
	user := model.User{
		ID:           uuid.New(),
		Email:        email,
		PasswordHash: passwordHash,
		Role:         role,
		IsActive:     true,
		CreatedAt:    time.Now(),
	}
	r.users[user.ID] = user
	return &user, nil
}

func (r *memoryUserRepo) GetUserByEmail(_ context.Context, email string) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Email == email {
			copied := u
			return &copied, nil
		}
	}
	return nil, pgx.ErrNoRows
}

func (r *memoryUserRepo) GetUserByID(_ context.Context, userID uuid.UUID) (*model.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.users[userID]; ok {
		copied := u
		return &copied, nil
	}
	return nil, pgx.ErrNoRows
}

func (r *memoryUserRepo) setActive(userID uuid.UUID, active bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.users[userID]; ok {
		u.IsActive = active
		r.users[userID] = u
	}
}

func (r *memoryUserRepo) delete(userID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.users, userID)
}

type memorySessions struct {
	mu         sync.Mutex
	refresh    map[string]uuid.UUID
	userTokens map[uuid.UUID]map[string]struct{}
	blacklist  map[string]struct{}
}

func newMemorySessions() *memorySessions {
	return &memorySessions{
		refresh:    make(map[string]uuid.UUID),
		userTokens: make(map[uuid.UUID]map[string]struct{}),
		blacklist:  make(map[string]struct{}),
	}
}

func (s *memorySessions) SaveRefreshToken(_ context.Context, refreshToken string, userID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refresh[refreshToken] = userID
	if s.userTokens[userID] == nil {
		s.userTokens[userID] = make(map[string]struct{})
	}
	s.userTokens[userID][refreshToken] = struct{}{}
	return nil
}

func (s *memorySessions) ResolveRefreshToken(_ context.Context, refreshToken string) (uuid.UUID, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	userID, ok := s.refresh[refreshToken]
	return userID, ok, nil
}

func (s *memorySessions) DeleteRefreshToken(_ context.Context, refreshToken string, userID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.refresh, refreshToken)
	if set, ok := s.userTokens[userID]; ok {
		delete(set, refreshToken)
	}
	return nil
}

func (s *memorySessions) DeleteAllUserTokens(_ context.Context, userID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for tok := range s.userTokens[userID] {
		delete(s.refresh, tok)
	}
	delete(s.userTokens, userID)
	return nil
}

func (s *memorySessions) ActiveSessions(_ context.Context, userID uuid.UUID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.userTokens[userID])), nil
}

func (s *memorySessions) BlacklistToken(_ context.Context, accessToken string, _ time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blacklist[accessToken] = struct{}{}
	return nil
}

func (s *memorySessions) IsBlacklisted(_ context.Context, accessToken string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.blacklist[accessToken]
	return ok, nil
}

// failingSessions simulates an unreachable Redis.
type failingSessions struct{}

var errSessionsDown = errors.New("redis: connection refused")

func (failingSessions) SaveRefreshToken(context.Context, string, uuid.UUID) error {
	return errSessionsDown
}

func (failingSessions) ResolveRefreshToken(context.Context, string) (uuid.UUID, bool, error) {
	return uuid.Nil, false, errSessionsDown
}

func (failingSessions) DeleteRefreshToken(context.Context, string, uuid.UUID) error {
	return errSessionsDown
}

func (failingSessions) DeleteAllUserTokens(context.Context, uuid.UUID) error {
	return errSessionsDown
}

func (failingSessions) ActiveSessions(context.Context, uuid.UUID) (int64, error) {
	return 0, errSessionsDown
}

func (failingSessions) BlacklistToken(context.Context, string, time.Duration) error {
	return errSessionsDown
}

func (failingSessions) IsBlacklisted(context.Context, string) (bool, error) {
	return false, errSessionsDown
}
