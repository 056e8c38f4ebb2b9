package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/modelrelay/admission/internal/models"
	"github.com/modelrelay/admission/internal/ratelimit"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormOverrideStore persists per-key rate limit overrides via GORM.
type GormOverrideStore struct {
	db *gorm.DB
}

// NewGormOverrideStore constructs a GormOverrideStore.
func NewGormOverrideStore(db *gorm.DB) *GormOverrideStore {
	return &GormOverrideStore{db: db}
}

// LoadConfig returns the persisted override for the key, or nil when none
// exists.
func (s *GormOverrideStore) LoadConfig(ctx context.Context, apiKey string) (*ratelimit.Config, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("override store: not initialized")
	}
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, nil
	}

	var row models.RateLimitOverride
	if errFind := s.db.WithContext(ctx).
		Where("api_key = ?", apiKey).
		Take(&row).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("override store: load: %w", errFind)
	}

	cfg := ratelimit.Config{
		RequestsPerMinute: row.RequestsPerMinute,
		RequestsPerHour:   row.RequestsPerHour,
		RequestsPerDay:    row.RequestsPerDay,
		TokensPerMinute:   row.TokensPerMinute,
		TokensPerHour:     row.TokensPerHour,
		TokensPerDay:      row.TokensPerDay,
		BurstLimit:        row.BurstLimit,
		ConcurrencyLimit:  row.ConcurrencyLimit,
		WindowSeconds:     row.WindowSeconds,
	}
	return &cfg, nil
}

// SaveConfig upserts the override row for the key, keeping the operator
// audit metadata alongside the limits.
func (s *GormOverrideStore) SaveConfig(ctx context.Context, apiKey string, cfg ratelimit.Config, meta map[string]string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("override store: not initialized")
	}
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return fmt.Errorf("override store: missing api key")
	}

	var payload datatypes.JSON
	if len(meta) > 0 {
		encoded, errMarshal := json.Marshal(meta)
		if errMarshal != nil {
			return fmt.Errorf("override store: encode meta: %w", errMarshal)
		}
		payload = encoded
	}

	row := models.RateLimitOverride{
		APIKey:            apiKey,
		RequestsPerMinute: cfg.RequestsPerMinute,
		RequestsPerHour:   cfg.RequestsPerHour,
		RequestsPerDay:    cfg.RequestsPerDay,
		TokensPerMinute:   cfg.TokensPerMinute,
		TokensPerHour:     cfg.TokensPerHour,
		TokensPerDay:      cfg.TokensPerDay,
		BurstLimit:        cfg.BurstLimit,
		ConcurrencyLimit:  cfg.ConcurrencyLimit,
		WindowSeconds:     cfg.WindowSeconds,
		Meta:              payload,
	}
	if errUpsert := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "api_key"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"requests_per_minute",
			"requests_per_hour",
			"requests_per_day",
			"tokens_per_minute",
			"tokens_per_hour",
			"tokens_per_day",
			"burst_limit",
			"concurrency_limit",
			"window_seconds",
			"meta",
			"updated_at",
		}),
	}).Create(&row).Error; errUpsert != nil {
		return fmt.Errorf("override store: upsert: %w", errUpsert)
	}
	return nil
}
