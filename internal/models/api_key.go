package models

import "time"

// APIKey represents an issued gateway API key.
type APIKey struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	Key  string `gorm:"type:text;not null;uniqueIndex"` // Issued key value.
	Name string `gorm:"type:text"`                      // Operator-facing label.

	AccountID uint64   `gorm:"index;not null"`       // Owning account ID.
	Account   *Account `gorm:"foreignKey:AccountID"` // Owning account.

	Active     bool       `gorm:"not null;default:true"` // Whether the key is accepted.
	LastUsedAt *time.Time `gorm:"index"`                 // Last admission check timestamp.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}
