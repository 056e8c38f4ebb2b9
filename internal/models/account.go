package models

import "time"

// Account represents a gateway customer account.
type Account struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	Email string `gorm:"type:text;not null;uniqueIndex"` // Registration email.
	Name  string `gorm:"type:text"`                      // Display name.
	Tier  string `gorm:"type:text;not null;default:'default'"` // Rate limit tier: default, premium, enterprise, admin.

	Active bool `gorm:"not null;default:true"` // Whether the account may call the gateway.

	APIKeys []APIKey `gorm:"foreignKey:AccountID"` // Issued API keys.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}
