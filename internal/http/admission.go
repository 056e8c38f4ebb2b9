package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/modelrelay/admission/internal/ratelimit"
)

// AdmissionHandler exposes the rate limit check and release operations.
type AdmissionHandler struct {
	manager *ratelimit.Manager
}

// checkRequest captures the payload for an admission check.
type checkRequest struct {
	APIKey string `json:"api_key"` // Key to admit.
	Tokens int64  `json:"tokens"`  // Estimated completion tokens.
}

// Check runs the admission decision and writes the rate limit headers. A
// denial maps to 429 with Retry-After.
func (h *AdmissionHandler) Check(c *gin.Context) {
	var body checkRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	apiKey := strings.TrimSpace(body.APIKey)
	if apiKey == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "api_key is required"})
		return
	}
	if body.Tokens < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "tokens must be non-negative"})
		return
	}

	result := h.manager.Check(c.Request.Context(), apiKey, body.Tokens)
	writeRateLimitHeaders(c, result)
	if !result.Allowed {
		c.Header("Retry-After", strconv.Itoa(result.RetryAfterSeconds))
		c.JSON(http.StatusTooManyRequests, gin.H{
			"error":       result.Reason,
			"retry_after": result.RetryAfterSeconds,
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"allowed":               true,
		"slot_held":             result.SlotHeld,
		"remaining_requests":    result.RemainingRequests,
		"remaining_tokens":      result.RemainingTokens,
		"burst_remaining":       result.BurstRemaining,
		"concurrency_remaining": result.ConcurrencyRemaining,
		"reset":                 result.Reset.UTC(),
	})
}

// releaseRequest captures the payload for returning a concurrency slot.
type releaseRequest struct {
	APIKey string `json:"api_key"` // Key that completed a request.
	// SlotHeld echoes the check response. Absent means true so older
	// callers keep decrementing.
	SlotHeld *bool `json:"slot_held"`
}

// Release returns the key's concurrency slot after the upstream call
// finishes, succeeds or not. Callers whose check reported slot_held=false
// are a no-op.
func (h *AdmissionHandler) Release(c *gin.Context) {
	var body releaseRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	apiKey := strings.TrimSpace(body.APIKey)
	if apiKey == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "api_key is required"})
		return
	}
	held := body.SlotHeld == nil || *body.SlotHeld
	h.manager.Release(c.Request.Context(), apiKey, ratelimit.Result{SlotHeld: held})
	c.Status(http.StatusNoContent)
}
