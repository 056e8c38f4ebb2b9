package settings

// DB config keys and defaults for settings.
const (
	// DefaultLimitsKey is the DB config key holding the default rate
	// limit configuration as JSON.
	DefaultLimitsKey = "RATE_LIMIT_DEFAULTS"
	// ResultCacheTTLSecondsKey controls the admission result cache TTL.
	ResultCacheTTLSecondsKey = "RATE_LIMIT_RESULT_CACHE_TTL_SECONDS"
	// ResultCacheSizeKey controls the admission result cache capacity.
	ResultCacheSizeKey = "RATE_LIMIT_RESULT_CACHE_SIZE"
	// DefaultRedisPrefix is the fallback Redis key prefix.
	DefaultRedisPrefix = "mra"
)
