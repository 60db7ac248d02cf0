// Package emailtoken keeps single-use email verification and password reset
// tokens in Redis.
package emailtoken

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"taskaza/api/internal/auth"
)

const (
	PurposeVerify = "verify"
	PurposeReset  = "reset"

	VerifyTTL = 24 * time.Hour
	ResetTTL  = time.Hour
)

// ErrInvalidToken is returned for unknown, expired or already used tokens.
var ErrInvalidToken = errors.New("invalid or expired token")

// TokenData holds what is stored for each issued token
type TokenData struct {
	UserID    int64     `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
}

// RedisStore stores token hashes with a TTL. The raw token is never written.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore connects to redisURL and checks it answers
func NewRedisStore(redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisStoreWithClient(client), nil
}

// NewRedisStoreWithClient creates a store from an existing Redis client
func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: "emailtoken:",
	}
}

func (s *RedisStore) key(purpose, tokenHash string) string {
	return s.prefix + purpose + ":" + tokenHash
}

// Issue creates a token for userID and returns the raw value to mail out.
func (s *RedisStore) Issue(ctx context.Context, purpose string, userID int64, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		return "", fmt.Errorf("issue %s token: ttl must be positive", purpose)
	}
	raw, err := generateToken()
	if err != nil {
		return "", fmt.Errorf("generate %s token: %w", purpose, err)
	}

	jsonData, err := json.Marshal(TokenData{UserID: userID, CreatedAt: time.Now().UTC()})
	if err != nil {
		return "", fmt.Errorf("marshal token data: %w", err)
	}
	if err := s.client.Set(ctx, s.key(purpose, auth.HashToken(raw)), jsonData, ttl).Err(); err != nil {
		return "", fmt.Errorf("save %s token: %w", purpose, err)
	}
	return raw, nil
}

// Consume returns the user the token was issued for and deletes it in the
// same round trip, so a token works at most once.
func (s *RedisStore) Consume(ctx context.Context, purpose, raw string) (int64, error) {
	if raw == "" {
		return 0, ErrInvalidToken
	}
	jsonData, err := s.client.GetDel(ctx, s.key(purpose, auth.HashToken(raw))).Result()
	if errors.Is(err, redis.Nil) {
		return 0, ErrInvalidToken
	}
	if err != nil {
		return 0, fmt.Errorf("consume %s token: %w", purpose, err)
	}

	var data TokenData
	if err := json.Unmarshal([]byte(jsonData), &data); err != nil {
		return 0, fmt.Errorf("unmarshal token data: %w", err)
	}
	if data.UserID <= 0 {
		return 0, ErrInvalidToken
	}
	return data.UserID, nil
}

// Close closes the Redis connection
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks if Redis is reachable
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func generateToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
