package httpapi

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/modelrelay/admission/internal/circuit"
	"github.com/modelrelay/admission/internal/models"
	"github.com/modelrelay/admission/internal/ratelimit"
	"github.com/modelrelay/admission/internal/store"
)

// AdminHandler manages accounts, per-key overrides, and breaker inspection.
type AdminHandler struct {
	db        *gorm.DB
	manager   *ratelimit.Manager
	registry  *circuit.Registry
	overrides *store.GormOverrideStore
}

// createAccountRequest captures the payload for account creation.
type createAccountRequest struct {
	Email string `json:"email"` // Registration email.
	Name  string `json:"name"`  // Display name.
	Tier  string `json:"tier"`  // Rate limit tier.
}

var validTiers = map[string]struct{}{
	ratelimit.TierDefault:    {},
	ratelimit.TierPremium:    {},
	ratelimit.TierEnterprise: {},
	ratelimit.TierAdmin:      {},
}

// CreateAccount creates an account with one issued API key.
func (h *AdminHandler) CreateAccount(c *gin.Context) {
	var body createAccountRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	email := strings.ToLower(strings.TrimSpace(body.Email))
	if email == "" || !strings.Contains(email, "@") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "valid email is required"})
		return
	}
	tier := strings.TrimSpace(body.Tier)
	if tier == "" {
		tier = ratelimit.TierDefault
	}
	if _, ok := validTiers[tier]; !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown tier"})
		return
	}

	account := models.Account{
		Email: email,
		Name:  strings.TrimSpace(body.Name),
		Tier:  tier,
	}
	key := models.APIKey{Key: "mrk-" + uuid.NewString()}

	errCreate := h.db.WithContext(c.Request.Context()).Transaction(func(tx *gorm.DB) error {
		if errAccount := tx.Create(&account).Error; errAccount != nil {
			return errAccount
		}
		key.AccountID = account.ID
		return tx.Create(&key).Error
	})
	if errCreate != nil {
		c.JSON(http.StatusConflict, gin.H{"error": "account creation failed"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"account_id": account.ID,
		"email":      account.Email,
		"tier":       account.Tier,
		"api_key":    key.Key,
	})
}

// overridePayload mirrors the override row for the admin API.
type overridePayload struct {
	RequestsPerMinute int    `json:"requests_per_minute"`
	RequestsPerHour   int    `json:"requests_per_hour"`
	RequestsPerDay    int    `json:"requests_per_day"`
	TokensPerMinute   int    `json:"tokens_per_minute"`
	TokensPerHour     int    `json:"tokens_per_hour"`
	TokensPerDay      int    `json:"tokens_per_day"`
	BurstLimit        int    `json:"burst_limit"`
	ConcurrencyLimit  int    `json:"concurrency_limit"`
	WindowSeconds     int    `json:"window_seconds"`
	Note              string `json:"note,omitempty"`
}

// GetOverride returns the persisted override for a key.
func (h *AdminHandler) GetOverride(c *gin.Context) {
	apiKey := strings.TrimSpace(c.Param("key"))
	cfg, errLoad := h.overrides.LoadConfig(c.Request.Context(), apiKey)
	if errLoad != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "override lookup failed"})
		return
	}
	if cfg == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no override for key"})
		return
	}
	c.JSON(http.StatusOK, overridePayload{
		RequestsPerMinute: cfg.RequestsPerMinute,
		RequestsPerHour:   cfg.RequestsPerHour,
		RequestsPerDay:    cfg.RequestsPerDay,
		TokensPerMinute:   cfg.TokensPerMinute,
		TokensPerHour:     cfg.TokensPerHour,
		TokensPerDay:      cfg.TokensPerDay,
		BurstLimit:        cfg.BurstLimit,
		ConcurrencyLimit:  cfg.ConcurrencyLimit,
		WindowSeconds:     cfg.WindowSeconds,
	})
}

// PutOverride writes a per-key override through the manager so the config
// cache updates atomically with the persisted row.
func (h *AdminHandler) PutOverride(c *gin.Context) {
	apiKey := strings.TrimSpace(c.Param("key"))
	if apiKey == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "key is required"})
		return
	}
	var body overridePayload
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	meta := map[string]string{}
	if note := strings.TrimSpace(body.Note); note != "" {
		meta["note"] = note
	}
	if subject := c.GetString(adminSubjectKey); subject != "" {
		meta["updated_by"] = subject
	}

	cfg := ratelimit.Config{
		RequestsPerMinute: body.RequestsPerMinute,
		RequestsPerHour:   body.RequestsPerHour,
		RequestsPerDay:    body.RequestsPerDay,
		TokensPerMinute:   body.TokensPerMinute,
		TokensPerHour:     body.TokensPerHour,
		TokensPerDay:      body.TokensPerDay,
		BurstLimit:        body.BurstLimit,
		ConcurrencyLimit:  body.ConcurrencyLimit,
		WindowSeconds:     body.WindowSeconds,
	}
	if errUpdate := h.manager.UpdateConfig(c.Request.Context(), apiKey, cfg, meta); errUpdate != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "override update failed"})
		return
	}
	c.Status(http.StatusNoContent)
}

// ListBreakers reports the current state of every constructed breaker.
func (h *AdminHandler) ListBreakers(c *gin.Context) {
	snaps := h.registry.Snapshots(c.Request.Context())
	payload := make(map[string]gin.H, len(snaps))
	for provider, snap := range snaps {
		payload[provider] = gin.H{
			"state":             snap.State,
			"failure_count":     snap.FailureCount,
			"success_count":     snap.SuccessCount,
			"consecutive_opens": snap.ConsecutiveOpens,
			"opened_at":         snap.OpenedAt,
		}
	}
	c.JSON(http.StatusOK, payload)
}
