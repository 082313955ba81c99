package services

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/happypulse/pulse-backend/internal/database"
)

const (
	// AuthTokenDuration is how long a signin token stays valid (7 days).
	AuthTokenDuration = 7 * 24 * time.Hour
	// AuthTokenKeyPrefix is the Redis key prefix for auth tokens
	AuthTokenKeyPrefix = "auth:"
	// UserTokenKeyPrefix is the Redis key prefix for user->token mapping
	UserTokenKeyPrefix = "user_auth:"
)

// CreateAuthToken creates a signin token for a user and stores it in Redis.
// If the user already has a token, the old one is invalidated so the 7-day
// timer resets from the current login. Returns the token.
func CreateAuthToken(userID uuid.UUID) (string, error) {
	InvalidateUserTokens(userID)

	tokenBytes := make([]byte, 32)
	if _, err := rand.Read(tokenBytes); err != nil {
		return "", err
	}
	token := base64.URLEncoding.EncodeToString(tokenBytes)

	ctx := context.Background()
	tokenKey := AuthTokenKeyPrefix + token
	userKey := UserTokenKeyPrefix + userID.String()

	if err := database.RedisClient.Set(ctx, tokenKey, userID.String(), AuthTokenDuration).Err(); err != nil {
		return "", err
	}
	if err := database.RedisClient.Set(ctx, userKey, token, AuthTokenDuration).Err(); err != nil {
		return "", err
	}

	return token, nil
}

// ValidateAuthToken checks a token and returns the owning user ID.
func ValidateAuthToken(token string) (uuid.UUID, bool, error) {
	if token == "" {
		return uuid.Nil, false, nil
	}

	ctx := context.Background()
	userIDStr, err := database.RedisClient.Get(ctx, AuthTokenKeyPrefix+token).Result()
	if err != nil {
		return uuid.Nil, false, nil
	}

	userID, err := uuid.Parse(userIDStr)
	if err != nil {
		return uuid.Nil, false, err
	}
	return userID, true, nil
}

// RefreshAuthToken extends the token's expiry by 7 days from now.
func RefreshAuthToken(token string) error {
	if token == "" {
		return fmt.Errorf("auth token is empty")
	}

	ctx := context.Background()
	userIDStr, err := database.RedisClient.Get(ctx, AuthTokenKeyPrefix+token).Result()
	if err != nil {
		return err
	}

	if err := database.RedisClient.Expire(ctx, AuthTokenKeyPrefix+token, AuthTokenDuration).Err(); err != nil {
		return err
	}
	return database.RedisClient.Expire(ctx, UserTokenKeyPrefix+userIDStr, AuthTokenDuration).Err()
}

// InvalidateAuthToken removes a token (signout).
func InvalidateAuthToken(token string) error {
	if token == "" {
		return nil
	}

	ctx := context.Background()
	userIDStr, err := database.RedisClient.Get(ctx, AuthTokenKeyPrefix+token).Result()
	if err == nil && userIDStr != "" {
		database.RedisClient.Del(ctx, UserTokenKeyPrefix+userIDStr)
	}
	return database.RedisClient.Del(ctx, AuthTokenKeyPrefix+token).Err()
}

// InvalidateUserTokens invalidates the user's current token (e.g. on a new
// login or a password change).
func InvalidateUserTokens(userID uuid.UUID) error {
	ctx := context.Background()
	userKey := UserTokenKeyPrefix + userID.String()

	token, err := database.RedisClient.Get(ctx, userKey).Result()
	if err == nil && token != "" {
		database.RedisClient.Del(ctx, AuthTokenKeyPrefix+token)
	}
	return database.RedisClient.Del(ctx, userKey).Err()
}
