package models

import (
	"time"

	"gorm.io/datatypes"
)

// RateLimitOverride persists a per-key rate limit configuration that
// replaces the tier preset for that key.
type RateLimitOverride struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	APIKey string `gorm:"type:text;not null;uniqueIndex;column:api_key"` // Key the override applies to.

	RequestsPerMinute int `gorm:"not null;default:0"` // Request cap per minute window.
	RequestsPerHour   int `gorm:"not null;default:0"` // Request cap per hour window.
	RequestsPerDay    int `gorm:"not null;default:0"` // Request cap per day window.
	TokensPerMinute   int `gorm:"not null;default:0"` // Token cap per minute window.
	TokensPerHour     int `gorm:"not null;default:0"` // Token cap per hour window.
	TokensPerDay      int `gorm:"not null;default:0"` // Token cap per day window.
	BurstLimit        int `gorm:"not null;default:0"` // Burst bucket capacity.
	ConcurrencyLimit  int `gorm:"not null;default:0"` // In-flight request cap.
	WindowSeconds     int `gorm:"not null;default:0"` // Burst refill window in seconds.

	Meta datatypes.JSON `gorm:"type:jsonb"` // Operator audit notes, e.g. who set it and why.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}
