package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

type apiKeyRow struct {
	ID         int64    `gorm:"primaryKey"`
	OwnerID    int64    `gorm:"column:user_id;not null;index:ix_api_keys_user_active,priority:1"`
	Name       string   `gorm:"size:100;not null"`
	Prefix     string   `gorm:"size:32;not null;index"`
	SecretHash string   `gorm:"size:128;not null;uniqueIndex"`
	Scopes     []string `gorm:"serializer:json"`
	ExpiresAt  *time.Time
	Revoked    bool `gorm:"not null;default:false;index:ix_api_keys_user_active,priority:2"`
	RevokedAt  *time.Time
	CreatedAt  time.Time
}

func (apiKeyRow) TableName() string { return "api_keys" }

func (s *SQLiteStore) CreateAPIKey(ctx context.Context, key APIKey) (APIKey, error) {
	row := apiKeyRow{
		OwnerID:    key.OwnerID,
		Name:       key.Name,
		Prefix:     key.Prefix,
		SecretHash: key.SecretHash,
		Scopes:     key.Scopes,
		ExpiresAt:  key.ExpiresAt,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return APIKey{}, ErrConflict
		}
		return APIKey{}, fmt.Errorf("insert api key: %w", err)
	}
	return row.toAPIKey(), nil
}

func (s *SQLiteStore) ListAPIKeys(ctx context.Context, userID int64) ([]APIKey, error) {
	var rows []apiKeyRow
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC, id DESC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list api keys: %w", err)
	}
	keys := make([]APIKey, 0, len(rows))
	for _, row := range rows {
		keys = append(keys, row.toAPIKey())
	}
	return keys, nil
}

func (s *SQLiteStore) GetAPIKeyByHash(ctx context.Context, secretHash string) (APIKey, error) {
	var row apiKeyRow
	err := s.db.WithContext(ctx).Where("secret_hash = ?", secretHash).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return APIKey{}, ErrNotFound
	}
	if err != nil {
		return APIKey{}, fmt.Errorf("get api key: %w", err)
	}
	return row.toAPIKey(), nil
}

func (s *SQLiteStore) RevokeAPIKey(ctx context.Context, userID, keyID int64, at time.Time) error {
	result := s.db.WithContext(ctx).Model(&apiKeyRow{}).
		Where("id = ? AND user_id = ? AND revoked = ?", keyID, userID, false).
		Updates(map[string]any{"revoked": true, "revoked_at": at.UTC()})
	if result.Error != nil {
		return fmt.Errorf("revoke api key: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) DeleteAPIKey(ctx context.Context, userID, keyID int64) error {
	result := s.db.WithContext(ctx).Where("id = ? AND user_id = ?", keyID, userID).Delete(&apiKeyRow{})
	if result.Error != nil {
		return fmt.Errorf("delete api key: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r apiKeyRow) toAPIKey() APIKey {
	return APIKey{
		ID:         r.ID,
		OwnerID:    r.OwnerID,
		Name:       r.Name,
		Prefix:     r.Prefix,
		SecretHash: r.SecretHash,
		Scopes:     r.Scopes,
		ExpiresAt:  r.ExpiresAt,
		Revoked:    r.Revoked,
		RevokedAt:  r.RevokedAt,
		CreatedAt:  r.CreatedAt,
	}
}
