// Package token issues and verifies the two credential kinds the service
// hands out: short-lived signed access tokens and opaque refresh tokens.
package token

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/workich/backend/internal/model"
)

// TypeAccess marks a signed token as an access credential. Refresh tokens
// are opaque random strings and never carry claims.
const TypeAccess = "access"

// ErrInvalidToken covers every verification failure: bad structure, bad
// signature, expiry, wrong type marker. Callers cannot tell these apart.
var ErrInvalidToken = errors.New("invalid token")

// Claims is the access-token payload. Role and active status are a snapshot
// taken at issuance; the gate re-reads the user record before trusting them.
type Claims struct {
	Email     string     `json:"email"`
	UserID    string     `json:"user_id"`
	Role      model.Role `json:"role"`
	TokenType string     `json:"type"`
	jwt.RegisteredClaims
}

type Authority struct {
	secret       []byte
	accessTTL    time.Duration
	refreshBytes int
}

func NewAuthority(secret []byte, accessTTL time.Duration, refreshBytes int) *Authority {
	return &Authority{
		secret:       secret,
		accessTTL:    accessTTL,
		refreshBytes: refreshBytes,
	}
}

// IssueAccessToken signs an HS256 token for the user with an absolute expiry
// of now + access TTL.
func (a *Authority) IssueAccessToken(user *model.User) (string, error) {
	now := time.Now()
	claims := Claims{
		Email:     user.Email,
		UserID:    user.ID.String(),
		Role:      user.Role,
		TokenType: TypeAccess,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.accessTTL)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

// VerifyAccessToken checks signature and expiry and returns the embedded
// claims. Any failure collapses into ErrInvalidToken.
func (a *Authority) VerifyAccessToken(tokenStr string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return a.secret, nil
	})
	if err != nil || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// NewRefreshToken returns a URL-safe random string. It has no structure; it
// only serves as a session-store key.
func (a *Authority) NewRefreshToken() (string, error) {
	raw := make([]byte, a.refreshBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}
