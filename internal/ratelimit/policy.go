package ratelimit

import (
	"context"
	"sync"

	log "github.com/sirupsen/logrus"
)

// Account describes the metadata policy resolution needs. It is fetched
// exactly once per check and reused for every tier decision.
type Account struct {
	ID    uint64
	Email string
	Tier  string
}

// AccountDirectory looks up account metadata for an API key.
type AccountDirectory interface {
	// GetAccount returns the account owning the key, or nil when unknown.
	GetAccount(ctx context.Context, apiKey string) (*Account, error)
	// IsAdminTier reports whether the account has the admin tier.
	IsAdminTier(ctx context.Context, accountID uint64) (bool, error)
}

// OverrideStore persists per-key limit overrides.
type OverrideStore interface {
	// LoadConfig returns the override for the key, or nil when none exists.
	LoadConfig(ctx context.Context, apiKey string) (*Config, error)
	// SaveConfig writes the override through to the persisted store.
	SaveConfig(ctx context.Context, apiKey string, cfg Config, meta map[string]string) error
}

// Policy is the resolved admission policy for one key.
type Policy struct {
	Config      Config
	AdminBypass bool
}

// Resolver decides which Config applies to a key: admin bypass, blocked
// domain, temporary email domain, persisted override, tier preset.
type Resolver struct {
	directory  AccountDirectory
	overrides  OverrideStore
	classifier *DomainClassifier
	defaults   Config

	mu    sync.RWMutex
	cache map[string]Config
}

// NewResolver constructs a Resolver. defaults is the config applied when no
// higher-precedence rule matches.
func NewResolver(directory AccountDirectory, overrides OverrideStore, classifier *DomainClassifier, defaults Config) *Resolver {
	return &Resolver{
		directory:  directory,
		overrides:  overrides,
		classifier: classifier,
		defaults:   defaults.normalized(),
		cache:      make(map[string]Config),
	}
}

// Resolve returns the policy for the key. Lookup failures degrade to the
// default config rather than failing the request path.
func (r *Resolver) Resolve(ctx context.Context, apiKey string) Policy {
	account := r.lookupAccount(ctx, apiKey)
	if account != nil {
		if account.Tier == TierAdmin {
			return Policy{AdminBypass: true}
		}
		if r.classifier.IsBlockedDomain(account.Email) {
			return Policy{Config: BlockedConfig()}
		}
		if r.classifier.IsTemporaryEmailDomain(account.Email) {
			return Policy{Config: SevereConfig()}
		}
	}

	if cached, ok := r.cachedConfig(apiKey); ok {
		return Policy{Config: cached}
	}
	if override := r.loadOverride(ctx, apiKey); override != nil {
		cfg := override.normalized()
		r.SetConfig(apiKey, cfg)
		return Policy{Config: cfg}
	}

	if account != nil && account.Tier != "" && account.Tier != TierDefault {
		return Policy{Config: ConfigForTier(account.Tier)}
	}
	return Policy{Config: r.defaults}
}

// SetConfig replaces the cached override for the key. The cache has no TTL;
// it is invalidated only by explicit updates through here.
func (r *Resolver) SetConfig(apiKey string, cfg Config) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache[apiKey] = cfg
}

func (r *Resolver) cachedConfig(apiKey string) (Config, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cfg, ok := r.cache[apiKey]
	return cfg, ok
}

func (r *Resolver) lookupAccount(ctx context.Context, apiKey string) *Account {
	if r.directory == nil {
		return nil
	}
	account, errLookup := r.directory.GetAccount(ctx, apiKey)
	if errLookup != nil {
		log.WithError(errLookup).Warn("rate limit: account lookup failed")
		return nil
	}
	return account
}

func (r *Resolver) loadOverride(ctx context.Context, apiKey string) *Config {
	if r.overrides == nil {
		return nil
	}
	override, errLoad := r.overrides.LoadConfig(ctx, apiKey)
	if errLoad != nil {
		log.WithError(errLoad).Warn("rate limit: override load failed, using defaults")
		return nil
	}
	return override
}
