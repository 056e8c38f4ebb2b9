package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/modelrelay/admission/internal/models"
	"github.com/modelrelay/admission/internal/ratelimit"
	"github.com/modelrelay/admission/internal/settings"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// LoadDefaultLimits reads the default limiter configuration from the
// settings table, falling back to the built-in preset on any failure.
func LoadDefaultLimits(ctx context.Context, conn *gorm.DB) ratelimit.Config {
	fallback := ratelimit.DefaultConfig()
	if conn == nil {
		return fallback
	}

	var row models.Setting
	if errFind := conn.WithContext(ctx).
		Where("key = ?", settings.DefaultLimitsKey).
		Take(&row).Error; errFind != nil {
		if !errors.Is(errFind, gorm.ErrRecordNotFound) {
			log.WithError(errFind).Warn("settings: default limits read failed, using preset")
		}
		return fallback
	}

	var cfg ratelimit.Config
	if errUnmarshal := json.Unmarshal(row.Value, &cfg); errUnmarshal != nil {
		log.WithError(errUnmarshal).Warn("settings: default limits malformed, using preset")
		return fallback
	}
	return cfg
}

// LoadManagerOptions reads the result cache tuning from the settings table.
// Missing or malformed rows leave the zero value so the manager defaults
// apply.
func LoadManagerOptions(ctx context.Context, conn *gorm.DB) ratelimit.ManagerOptions {
	opts := ratelimit.ManagerOptions{}
	if conn == nil {
		return opts
	}
	if ttl, ok := intSetting(ctx, conn, settings.ResultCacheTTLSecondsKey); ok && ttl > 0 {
		opts.ResultCacheTTL = time.Duration(ttl) * time.Second
	}
	if size, ok := intSetting(ctx, conn, settings.ResultCacheSizeKey); ok && size > 0 {
		opts.ResultCacheSize = size
	}
	return opts
}

func intSetting(ctx context.Context, conn *gorm.DB, key string) (int, bool) {
	var row models.Setting
	if errFind := conn.WithContext(ctx).
		Where("key = ?", key).
		Take(&row).Error; errFind != nil {
		return 0, false
	}
	var value int
	if errUnmarshal := json.Unmarshal(row.Value, &value); errUnmarshal != nil {
		return 0, false
	}
	return value, true
}
