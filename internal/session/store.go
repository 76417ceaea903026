// Package session keeps refresh-token state and the access-token blacklist
// in Redis. Entries expire on their own; rotation and logout delete them
// earlier.
package session

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	refreshTokenPrefix = "refresh_token:"
	blacklistPrefix    = "blacklist:"
	userTokensPrefix   = "user_tokens:"
)

type Store struct {
	client     redis.UniversalClient
	refreshTTL time.Duration
}

func NewStore(client redis.UniversalClient, refreshTTL time.Duration) *Store {
	return &Store{client: client, refreshTTL: refreshTTL}
}

// SaveRefreshToken maps the token to its owner for the refresh TTL and
// tracks it in the owner's session set. Overwriting an existing key is an
// upsert, not an error.
func (s *Store) SaveRefreshToken(ctx context.Context, refreshToken string, userID uuid.UUID) error {
	tokenKey := refreshTokenPrefix + refreshToken
	if err := s.client.Set(ctx, tokenKey, userID.String(), s.refreshTTL).Err(); err != nil {
		return fmt.Errorf("save refresh token: %w", err)
	}

	userKey := userTokensPrefix + userID.String()
	if err := s.client.SAdd(ctx, userKey, refreshToken).Err(); err != nil {
		return fmt.Errorf("track refresh token: %w", err)
	}
	if err := s.client.Expire(ctx, userKey, s.refreshTTL).Err(); err != nil {
		return fmt.Errorf("expire session set: %w", err)
	}
	return nil
}

// ResolveRefreshToken returns the owning user id, or ok=false when the token
// was never issued, already consumed, or expired. The entry is not deleted.
func (s *Store) ResolveRefreshToken(ctx context.Context, refreshToken string) (uuid.UUID, bool, error) {
	val, err := s.client.Get(ctx, refreshTokenPrefix+refreshToken).Result()
	if err == redis.Nil {
		return uuid.Nil, false, nil
	}
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("resolve refresh token: %w", err)
	}

	userID, err := uuid.Parse(val)
	if err != nil {
		return uuid.Nil, false, nil
	}
	return userID, true, nil
}

// DeleteRefreshToken removes the token mapping and its session-set entry.
// Deleting an absent token is a no-op.
func (s *Store) DeleteRefreshToken(ctx context.Context, refreshToken string, userID uuid.UUID) error {
	if err := s.client.Del(ctx, refreshTokenPrefix+refreshToken).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("delete refresh token: %w", err)
	}
	if userID != uuid.Nil {
		if err := s.client.SRem(ctx, userTokensPrefix+userID.String(), refreshToken).Err(); err != nil && err != redis.Nil {
			return fmt.Errorf("untrack refresh token: %w", err)
		}
	}
	return nil
}

// DeleteAllUserTokens revokes every refresh token tracked for the user.
func (s *Store) DeleteAllUserTokens(ctx context.Context, userID uuid.UUID) error {
	userKey := userTokensPrefix + userID.String()
	tokens, err := s.client.SMembers(ctx, userKey).Result()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("list user tokens: %w", err)
	}

	for _, tok := range tokens {
		if err := s.client.Del(ctx, refreshTokenPrefix+tok).Err(); err != nil && err != redis.Nil {
			return fmt.Errorf("delete refresh token: %w", err)
		}
	}
	if err := s.client.Del(ctx, userKey).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("delete session set: %w", err)
	}
	return nil
}

// ActiveSessions counts the user's live refresh tokens.
func (s *Store) ActiveSessions(ctx context.Context, userID uuid.UUID) (int64, error) {
	count, err := s.client.SCard(ctx, userTokensPrefix+userID.String()).Result()
	if err != nil && err != redis.Nil {
		return 0, fmt.Errorf("count sessions: %w", err)
	}
	return count, nil
}

// BlacklistToken marks an access token revoked for the given TTL, which
// callers set to the token's remaining lifetime.
func (s *Store) BlacklistToken(ctx context.Context, accessToken string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	if err := s.client.Set(ctx, blacklistPrefix+accessToken, "1", ttl).Err(); err != nil {
		return fmt.Errorf("blacklist token: %w", err)
	}
	return nil
}

// IsBlacklisted reports whether the access token was revoked before its
// natural expiry.
func (s *Store) IsBlacklisted(ctx context.Context, accessToken string) (bool, error) {
	count, err := s.client.Exists(ctx, blacklistPrefix+accessToken).Result()
	if err != nil {
		return false, fmt.Errorf("check blacklist: %w", err)
	}
	return count > 0, nil
}
