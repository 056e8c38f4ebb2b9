package ratelimit

// Tier names used by policy resolution and account rows.
const (
	TierDefault    = "default"
	TierPremium    = "premium"
	TierEnterprise = "enterprise"
	TierAdmin      = "admin"
)

// Config describes the limits applied to a single API key. Values are
// immutable once constructed; updates replace the whole value.
type Config struct {
	RequestsPerMinute int
	RequestsPerHour   int
	RequestsPerDay    int
	TokensPerMinute   int
	TokensPerHour     int
	TokensPerDay      int
	BurstLimit        int
	ConcurrencyLimit  int
	WindowSeconds     int
}

// DefaultConfig returns the limits applied when no tier or override matches.
func DefaultConfig() Config {
	return Config{
		RequestsPerMinute: 60,
		RequestsPerHour:   1000,
		RequestsPerDay:    10000,
		TokensPerMinute:   10000,
		TokensPerHour:     100000,
		TokensPerDay:      1000000,
		BurstLimit:        10,
		ConcurrencyLimit:  10,
		WindowSeconds:     60,
	}
}

// PremiumConfig returns the limits for premium tier accounts.
func PremiumConfig() Config {
	return Config{
		RequestsPerMinute: 300,
		RequestsPerHour:   5000,
		RequestsPerDay:    50000,
		TokensPerMinute:   50000,
		TokensPerHour:     500000,
		TokensPerDay:      5000000,
		BurstLimit:        50,
		ConcurrencyLimit:  25,
		WindowSeconds:     60,
	}
}

// EnterpriseConfig returns the limits for enterprise tier accounts.
func EnterpriseConfig() Config {
	return Config{
		RequestsPerMinute: 1200,
		RequestsPerHour:   20000,
		RequestsPerDay:    200000,
		TokensPerMinute:   200000,
		TokensPerHour:     2000000,
		TokensPerDay:      20000000,
		BurstLimit:        200,
		ConcurrencyLimit:  100,
		WindowSeconds:     60,
	}
}

// SevereConfig returns the restricted limits for suspicious accounts,
// such as those registered with disposable email providers.
func SevereConfig() Config {
	return Config{
		RequestsPerMinute: 5,
		RequestsPerHour:   30,
		RequestsPerDay:    100,
		TokensPerMinute:   2000,
		TokensPerHour:     10000,
		TokensPerDay:      20000,
		BurstLimit:        2,
		ConcurrencyLimit:  2,
		WindowSeconds:     60,
	}
}

// BlockedConfig returns the near-zero limits for blocked email domains.
func BlockedConfig() Config {
	return Config{
		RequestsPerMinute: 1,
		RequestsPerHour:   2,
		RequestsPerDay:    5,
		TokensPerMinute:   100,
		TokensPerHour:     200,
		TokensPerDay:      500,
		BurstLimit:        1,
		ConcurrencyLimit:  1,
		WindowSeconds:     60,
	}
}

// ConfigForTier maps an account tier to its preset limits.
func ConfigForTier(tier string) Config {
	switch tier {
	case TierPremium:
		return PremiumConfig()
	case TierEnterprise:
		return EnterpriseConfig()
	default:
		return DefaultConfig()
	}
}

// normalized fills zero fields from the default preset so a partial
// override row never produces an unlimited dimension by accident.
func (c Config) normalized() Config {
	def := DefaultConfig()
	if c.RequestsPerMinute <= 0 {
		c.RequestsPerMinute = def.RequestsPerMinute
	}
	if c.RequestsPerHour <= 0 {
		c.RequestsPerHour = def.RequestsPerHour
	}
	if c.RequestsPerDay <= 0 {
		c.RequestsPerDay = def.RequestsPerDay
	}
	if c.TokensPerMinute <= 0 {
		c.TokensPerMinute = def.TokensPerMinute
	}
	if c.TokensPerHour <= 0 {
		c.TokensPerHour = def.TokensPerHour
	}
	if c.TokensPerDay <= 0 {
		c.TokensPerDay = def.TokensPerDay
	}
	if c.BurstLimit <= 0 {
		c.BurstLimit = def.BurstLimit
	}
	if c.ConcurrencyLimit <= 0 {
		c.ConcurrencyLimit = def.ConcurrencyLimit
	}
	if c.WindowSeconds <= 0 {
		c.WindowSeconds = def.WindowSeconds
	}
	return c
}
