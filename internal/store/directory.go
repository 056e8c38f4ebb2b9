package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/modelrelay/admission/internal/models"
	"github.com/modelrelay/admission/internal/ratelimit"
	"gorm.io/gorm"
)

// GormAccountDirectory resolves account metadata for issued API keys.
type GormAccountDirectory struct {
	db *gorm.DB
}

// NewGormAccountDirectory constructs a GormAccountDirectory.
func NewGormAccountDirectory(db *gorm.DB) *GormAccountDirectory {
	return &GormAccountDirectory{db: db}
}

// GetAccount returns the active account owning the key, or nil when the key
// is unknown, inactive, or orphaned.
func (d *GormAccountDirectory) GetAccount(ctx context.Context, apiKey string) (*ratelimit.Account, error) {
	if d == nil || d.db == nil {
		return nil, fmt.Errorf("account directory: not initialized")
	}
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, nil
	}

	type accountRow struct {
		ID    uint64
		Email string
		Tier  string
	}
	var row accountRow
	if errFind := d.db.WithContext(ctx).
		Model(&models.APIKey{}).
		Select("accounts.id", "accounts.email", "accounts.tier").
		Joins("JOIN accounts ON accounts.id = api_keys.account_id").
		Where("api_keys.key = ? AND api_keys.active = ? AND accounts.active = ?", apiKey, true, true).
		Take(&row).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("account directory: lookup: %w", errFind)
	}
	return &ratelimit.Account{ID: row.ID, Email: row.Email, Tier: row.Tier}, nil
}

// IsAdminTier reports whether the account has the admin tier.
func (d *GormAccountDirectory) IsAdminTier(ctx context.Context, accountID uint64) (bool, error) {
	if d == nil || d.db == nil {
		return false, fmt.Errorf("account directory: not initialized")
	}
	if accountID == 0 {
		return false, nil
	}
	var account models.Account
	if errFind := d.db.WithContext(ctx).
		Model(&models.Account{}).
		Select("tier").
		Where("id = ?", accountID).
		Take(&account).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("account directory: tier lookup: %w", errFind)
	}
	return account.Tier == ratelimit.TierAdmin, nil
}
