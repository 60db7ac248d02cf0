package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const apiKeyColumns = `id, user_id, name, prefix, secret_hash, scopes, expires_at, revoked, revoked_at, created_at`

func (s *PostgresStore) CreateAPIKey(ctx context.Context, key APIKey) (APIKey, error) {
	scopes, err := encodeScopes(key.Scopes)
	if err != nil {
		return APIKey{}, err
	}
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO api_keys (user_id, name, prefix, secret_hash, scopes, expires_at)
		VALUES ($1, $2, $3, $4, $5::jsonb, $6)
		RETURNING `+apiKeyColumns,
		key.OwnerID, key.Name, key.Prefix, key.SecretHash, scopes, key.ExpiresAt,
	)
	created, err := scanAPIKey(row)
	if err != nil {
		if isUniqueViolation(err) {
			return APIKey{}, ErrConflict
		}
		return APIKey{}, fmt.Errorf("insert api key: %w", err)
	}
	return created, nil
}

// ListAPIKeys returns every key of the user, revoked ones included, newest first.
func (s *PostgresStore) ListAPIKeys(ctx context.Context, userID int64) ([]APIKey, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+apiKeyColumns+`
		FROM api_keys
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	defer rows.Close()

	keys := make([]APIKey, 0)
	for rows.Next() {
		key, err := scanAPIKey(rows)
		if err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	return keys, nil
}

func (s *PostgresStore) GetAPIKeyByHash(ctx context.Context, secretHash string) (APIKey, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+apiKeyColumns+` FROM api_keys WHERE secret_hash = $1`, secretHash)
	key, err := scanAPIKey(row)
	if errors.Is(err, sql.ErrNoRows) {
		return APIKey{}, ErrNotFound
	}
	if err != nil {
		return APIKey{}, fmt.Errorf("get api key: %w", err)
	}
	return key, nil
}

// RevokeAPIKey returns ErrNotFound when the key is missing, belongs to
// someone else or is already revoked.
func (s *PostgresStore) RevokeAPIKey(ctx context.Context, userID, keyID int64, at time.Time) error {
	return s.execUser(ctx, "revoke api key", `
		UPDATE api_keys SET revoked = TRUE, revoked_at = $3
		WHERE id = $1 AND user_id = $2 AND NOT revoked`,
		keyID, userID, at,
	)
}

func (s *PostgresStore) DeleteAPIKey(ctx context.Context, userID, keyID int64) error {
	return s.execUser(ctx, "delete api key", `DELETE FROM api_keys WHERE id = $1 AND user_id = $2`, keyID, userID)
}

func scanAPIKey(row rowScanner) (APIKey, error) {
	var (
		key    APIKey
		scopes []byte
	)
	err := row.Scan(
		&key.ID,
		&key.OwnerID,
		&key.Name,
		&key.Prefix,
		&key.SecretHash,
		&scopes,
		&key.ExpiresAt,
		&key.Revoked,
		&key.RevokedAt,
		&key.CreatedAt,
	)
	if err != nil {
		return APIKey{}, err
	}
	if scopes != nil {
		if err := json.Unmarshal(scopes, &key.Scopes); err != nil {
			return APIKey{}, fmt.Errorf("decode scopes: %w", err)
		}
	}
	return key, nil
}

// encodeScopes keeps "no scopes" as SQL NULL rather than an empty array.
func encodeScopes(scopes []string) (any, error) {
	if scopes == nil {
		return nil, nil
	}
	encoded, err := json.Marshal(scopes)
	if err != nil {
		return nil, fmt.Errorf("encode scopes: %w", err)
	}
	return string(encoded), nil
}
