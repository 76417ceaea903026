package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/workich/backend/internal/db"
	"github.com/workich/backend/internal/model"
	"github.com/workich/backend/internal/password"
	"github.com/workich/backend/internal/token"
)

const (
	minPasswordLength = 8
	maxPasswordLength = 128
)

var (
	ErrInvalidInput        = errors.New("invalid input")
	ErrDuplicateEmail      = errors.New("email already registered")
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrInvalidToken        = errors.New("invalid token")
	ErrInvalidRefreshToken = errors.New("invalid refresh token")
	ErrUserNotFound        = errors.New("user not found")
	ErrUserInactive        = errors.New("user inactive")
	ErrForbidden           = errors.New("forbidden")
	ErrStoreUnavailable    = errors.New("store unavailable")
)

// UserRepository is the identity store. The auth core reads identities and
// creates them at registration; it never mutates role or active status.
type UserRepository interface {
	CreateUser(ctx context.Context, email, passwordHash string, role model.Role) (*model.User, error)
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
	GetUserByID(ctx context.Context, userID uuid.UUID) (*model.User, error)
}

// SessionStore holds refresh-token mappings and the access-token blacklist,
// both TTL-bound.
type SessionStore interface {
	SaveRefreshToken(ctx context.Context, refreshToken string, userID uuid.UUID) error
	ResolveRefreshToken(ctx context.Context, refreshToken string) (uuid.UUID, bool, error)
	DeleteRefreshToken(ctx context.Context, refreshToken string, userID uuid.UUID) error
	DeleteAllUserTokens(ctx context.Context, userID uuid.UUID) error
	ActiveSessions(ctx context.Context, userID uuid.UUID) (int64, error)
	BlacklistToken(ctx context.Context, accessToken string, ttl time.Duration) error
	IsBlacklisted(ctx context.Context, accessToken string) (bool, error)
}

type AuthService struct {
	repo     UserRepository
	sessions SessionStore
	tokens   *token.Authority
	logger   *zap.Logger
}

func NewAuthService(repo UserRepository, sessions SessionStore, tokens *token.Authority, logger *zap.Logger) *AuthService {
	return &AuthService{
		repo:     repo,
		sessions: sessions,
		tokens:   tokens,
		logger:   logger,
	}
}

// Register creates a new identity. The email must be unused; the password is
// hashed before anything touches the database.
func (s *AuthService) Register(ctx context.Context, email, plaintext, roleStr string) (*model.User, error) {
	email = strings.TrimSpace(email)
	if err := validateCredentials(email, plaintext); err != nil {
		return nil, err
	}

	role, err := model.ParseRole(roleStr)
	if err != nil {
		return nil, ErrInvalidInput
	}

	hash, err := password.Hash(plaintext)
	if err != nil {
		return nil, err
	}

	user, err := s.repo.CreateUser(ctx, email, hash, role)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicateEmail
		}
		return nil, storeErr(err)
	}

	s.logger.Info("user registered",
		zap.String("user_id", user.ID.String()),
		zap.String("role", string(user.Role)))
	return user, nil
}

// Login verifies credentials and returns a fresh access/refresh pair.
// Unknown email and wrong password are indistinguishable to the caller.
// The active flag is not checked here; the gate blocks inactive users on
// every protected call.
func (s *AuthService) Login(ctx context.Context, email, plaintext string) (*model.TokenResponse, error) {
	user, err := s.repo.GetUserByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		if db.IsNoRows(err) {
			return nil, ErrInvalidCredentials
		}
		return nil, storeErr(err)
	}

	ok, err := password.Verify(plaintext, user.PasswordHash)
	if err != nil || !ok {
		s.logger.Debug("login rejected", zap.String("user_id", user.ID.String()))
		return nil, ErrInvalidCredentials
	}

	return s.issueTokens(ctx, user)
}

// Refresh exchanges a live refresh token for a new access/refresh pair. The
// consumed token is deleted before the replacement is stored, so every
// successful refresh rotates the token and the old value stays dead.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*model.TokenResponse, error) {
	if strings.TrimSpace(refreshToken) == "" {
		return nil, ErrInvalidRefreshToken
	}

	userID, ok, err := s.sessions.ResolveRefreshToken(ctx, refreshToken)
	if err != nil {
		return nil, storeErr(err)
	}
	if !ok {
		return nil, ErrInvalidRefreshToken
	}

	user, err := s.repo.GetUserByID(ctx, userID)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, ErrUserNotFound
		}
		return nil, storeErr(err)
	}

	if err := s.sessions.DeleteRefreshToken(ctx, refreshToken, userID); err != nil {
		return nil, storeErr(err)
	}

	return s.issueTokens(ctx, user)
}

// Logout blacklists the presented access token for its remaining lifetime
// and revokes the presented refresh token. Both steps are idempotent.
func (s *AuthService) Logout(ctx context.Context, accessToken, refreshToken string, userID uuid.UUID) error {
	if claims, err := s.tokens.VerifyAccessToken(accessToken); err == nil && claims.ExpiresAt != nil {
		remaining := time.Until(claims.ExpiresAt.Time)
		if err := s.sessions.BlacklistToken(ctx, accessToken, remaining); err != nil {
			return storeErr(err)
		}
	}

	if strings.TrimSpace(refreshToken) == "" {
		return nil
	}
	if err := s.sessions.DeleteRefreshToken(ctx, refreshToken, userID); err != nil {
		return storeErr(err)
	}
	return nil
}

// LogoutAll revokes every refresh token the user holds. Access tokens issued
// earlier stay valid until expiry.
func (s *AuthService) LogoutAll(ctx context.Context, userID uuid.UUID) error {
	if err := s.sessions.DeleteAllUserTokens(ctx, userID); err != nil {
		return storeErr(err)
	}
	return nil
}

// ActiveSessions counts the user's live refresh tokens.
func (s *AuthService) ActiveSessions(ctx context.Context, userID uuid.UUID) (int64, error) {
	count, err := s.sessions.ActiveSessions(ctx, userID)
	if err != nil {
		return 0, storeErr(err)
	}
	return count, nil
}

// Authorize runs the per-request gate: verify the access token, require the
// access type marker, reject blacklisted tokens, then re-resolve the user
// record. Claims are a snapshot; the repository decides active status and
// role. Only a user that passes every step is returned.
func (s *AuthService) Authorize(ctx context.Context, accessToken string) (*model.User, error) {
	claims, err := s.tokens.VerifyAccessToken(accessToken)
	if err != nil {
		return nil, ErrInvalidToken
	}

	if claims.TokenType != token.TypeAccess {
		return nil, ErrInvalidToken
	}

	blacklisted, err := s.sessions.IsBlacklisted(ctx, accessToken)
	if err != nil {
		return nil, storeErr(err)
	}
	if blacklisted {
		return nil, ErrInvalidToken
	}

	userID, err := uuid.Parse(claims.UserID)
	if err != nil {
		return nil, ErrInvalidToken
	}

	user, err := s.repo.GetUserByID(ctx, userID)
	if err != nil {
		if db.IsNoRows(err) {
			return nil, ErrUserNotFound
		}
		return nil, storeErr(err)
	}

	if !user.IsActive {
		return nil, ErrUserInactive
	}

	return user, nil
}

func (s *AuthService) issueTokens(ctx context.Context, user *model.User) (*model.TokenResponse, error) {
	accessToken, err := s.tokens.IssueAccessToken(user)
	if err != nil {
		return nil, err
	}

	refreshToken, err := s.tokens.NewRefreshToken()
	if err != nil {
		return nil, err
	}

	if err := s.sessions.SaveRefreshToken(ctx, refreshToken, user.ID); err != nil {
		return nil, storeErr(err)
	}

	return &model.TokenResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
	}, nil
}

func validateCredentials(email, plaintext string) error {
	if len(email) < 3 || len(email) > 254 || !strings.Contains(email, "@") {
		return ErrInvalidInput
	}
	if len(plaintext) < minPasswordLength || len(plaintext) > maxPasswordLength {
		return ErrInvalidInput
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func storeErr(err error) error {
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}
