// Package apikey issues and checks user-managed API keys. A key reads
// "<label>_<prefix>_<secret>"; only sha256("<prefix>.<secret>") is stored.
package apikey

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"taskaza/api/internal/auth"
	"taskaza/api/internal/store"
)

const (
	DefaultLabel = "tsk"

	maxNameLength  = 100
	maxScopeLength = 64
	prefixBytes    = 3
	secretBytes    = 32
)

var (
	// ErrInvalidKey covers unknown, malformed, revoked and expired keys alike.
	ErrInvalidKey = errors.New("invalid api key")
	ErrNotFound   = errors.New("api key not found")
)

// InputError reports a malformed field of a key request.
type InputError struct {
	Field   string
	Message string
}

func (e *InputError) Error() string {
	return e.Field + ": " + e.Message
}

type Store interface {
	CreateAPIKey(ctx context.Context, key store.APIKey) (store.APIKey, error)
	ListAPIKeys(ctx context.Context, userID int64) ([]store.APIKey, error)
	GetAPIKeyByHash(ctx context.Context, secretHash string) (store.APIKey, error)
	RevokeAPIKey(ctx context.Context, userID, keyID int64, at time.Time) error
	DeleteAPIKey(ctx context.Context, userID, keyID int64) error
}

type Service struct {
	store Store
	label string
	now   func() time.Time
}

func NewService(keys Store, label string) *Service {
	label = strings.TrimSpace(label)
	if label == "" {
		label = DefaultLabel
	}
	return &Service{
		store: keys,
		label: label,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

type CreateRequest struct {
	Name      string
	Scopes    []string
	ExpiresAt *time.Time
}

// Issued is a freshly created key. Secret is the full key and is never
// available again.
type Issued struct {
	Key    store.APIKey
	Secret string
}

func (s *Service) Create(ctx context.Context, ownerID int64, req CreateRequest) (Issued, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return Issued{}, &InputError{Field: "name", Message: "name is required"}
	}
	if utf8.RuneCountInString(name) > maxNameLength {
		return Issued{}, &InputError{Field: "name", Message: fmt.Sprintf("name must be at most %d characters", maxNameLength)}
	}
	scopes, err := normalizeScopes(req.Scopes)
	if err != nil {
		return Issued{}, err
	}
	var expiresAt *time.Time
	if req.ExpiresAt != nil {
		if !req.ExpiresAt.After(s.now()) {
			return Issued{}, &InputError{Field: "expires_at", Message: "expires_at must be in the future"}
		}
		value := req.ExpiresAt.UTC()
		expiresAt = &value
	}

	prefix, secret, err := generateKey()
	if err != nil {
		return Issued{}, fmt.Errorf("generate api key: %w", err)
	}
	key, err := s.store.CreateAPIKey(ctx, store.APIKey{
		OwnerID:    ownerID,
		Name:       name,
		Prefix:     prefix,
		SecretHash: hashKey(prefix, secret),
		Scopes:     scopes,
		ExpiresAt:  expiresAt,
	})
	if err != nil {
		return Issued{}, err
	}
	return Issued{Key: key, Secret: s.label + "_" + prefix + "_" + secret}, nil
}

func (s *Service) List(ctx context.Context, ownerID int64) ([]store.APIKey, error) {
	return s.store.ListAPIKeys(ctx, ownerID)
}

// Revoke marks the key unusable but keeps it listed. A key that is
// already revoked counts as not found.
func (s *Service) Revoke(ctx context.Context, ownerID, keyID int64) error {
	return notFound(s.store.RevokeAPIKey(ctx, ownerID, keyID, s.now()))
}

func (s *Service) Delete(ctx context.Context, ownerID, keyID int64) error {
	return notFound(s.store.DeleteAPIKey(ctx, ownerID, keyID))
}

// Authenticate resolves a presented key to its stored record.
func (s *Service) Authenticate(ctx context.Context, raw string) (store.APIKey, error) {
	rest, ok := strings.CutPrefix(raw, s.label+"_")
	if !ok {
		return store.APIKey{}, ErrInvalidKey
	}
	prefix, secret, ok := strings.Cut(rest, "_")
	if !ok || len(prefix) != 2*prefixBytes || secret == "" {
		return store.APIKey{}, ErrInvalidKey
	}

	key, err := s.store.GetAPIKeyByHash(ctx, hashKey(prefix, secret))
	if errors.Is(err, store.ErrNotFound) {
		return store.APIKey{}, ErrInvalidKey
	}
	if err != nil {
		return store.APIKey{}, err
	}
	if key.Revoked {
		return store.APIKey{}, ErrInvalidKey
	}
	if key.ExpiresAt != nil && !s.now().Before(*key.ExpiresAt) {
		return store.APIKey{}, ErrInvalidKey
	}
	return key, nil
}

// normalizeScopes trims and de-duplicates; an empty list means no scopes.
func normalizeScopes(scopes []string) ([]string, error) {
	if len(scopes) == 0 {
		return nil, nil
	}
	out := make([]string, 0, len(scopes))
	seen := make(map[string]struct{}, len(scopes))
	for i, scope := range scopes {
		scope = strings.TrimSpace(scope)
		field := fmt.Sprintf("scopes[%d]", i)
		if scope == "" {
			return nil, &InputError{Field: field, Message: "scope must not be blank"}
		}
		if len(scope) > maxScopeLength {
			return nil, &InputError{Field: field, Message: fmt.Sprintf("scope must be at most %d characters", maxScopeLength)}
		}
		if _, dup := seen[scope]; dup {
			continue
		}
		seen[scope] = struct{}{}
		out = append(out, scope)
	}
	return out, nil
}

func generateKey() (prefix, secret string, err error) {
	b := make([]byte, prefixBytes+secretBytes)
	if _, err := rand.Read(b); err != nil {
		return "", "", err
	}
	return hex.EncodeToString(b[:prefixBytes]), base64.RawURLEncoding.EncodeToString(b[prefixBytes:]), nil
}

func hashKey(prefix, secret string) string {
	return auth.HashToken(prefix + "." + secret)
}

func notFound(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return ErrNotFound
	}
	return err
}
