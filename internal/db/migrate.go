package db

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/modelrelay/admission/internal/models"
	"github.com/modelrelay/admission/internal/ratelimit"
	"github.com/modelrelay/admission/internal/settings"
	"gorm.io/gorm"
)

// Migrate runs database migrations for the current dialect.
func Migrate(conn *gorm.DB) error {
	if conn == nil {
		return fmt.Errorf("db: nil connection")
	}
	if errAutoMigrate := conn.AutoMigrate(
		&models.Account{},
		&models.APIKey{},
		&models.RateLimitOverride{},
		&models.Setting{},
	); errAutoMigrate != nil {
		return fmt.Errorf("db: migrate: %w", errAutoMigrate)
	}

	if errBackfill := backfillAccountTiers(conn); errBackfill != nil {
		return errBackfill
	}
	return ensureDefaultLimitsSetting(conn)
}

// backfillAccountTiers normalizes legacy rows with an empty tier.
func backfillAccountTiers(conn *gorm.DB) error {
	if errUpdate := conn.Exec(`
		UPDATE accounts
		SET tier = 'default'
		WHERE tier IS NULL OR tier = ''
	`).Error; errUpdate != nil {
		return fmt.Errorf("db: backfill account tiers: %w", errUpdate)
	}
	return nil
}

// ensureDefaultLimitsSetting seeds the default limiter configuration row
// when it is absent so operators can tune it without a deploy.
func ensureDefaultLimitsSetting(conn *gorm.DB) error {
	var existing models.Setting
	errFind := conn.Where("key = ?", settings.DefaultLimitsKey).Take(&existing).Error
	if errFind == nil {
		return nil
	}
	if !errors.Is(errFind, gorm.ErrRecordNotFound) {
		return fmt.Errorf("db: read default limits setting: %w", errFind)
	}

	payload, errMarshal := json.Marshal(ratelimit.DefaultConfig())
	if errMarshal != nil {
		return fmt.Errorf("db: encode default limits: %w", errMarshal)
	}
	row := models.Setting{Key: settings.DefaultLimitsKey, Value: payload}
	if errCreate := conn.Create(&row).Error; errCreate != nil {
		return fmt.Errorf("db: seed default limits setting: %w", errCreate)
	}
	return nil
}
