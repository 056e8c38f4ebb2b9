package httpapi

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/modelrelay/admission/internal/ratelimit"
)

// writeRateLimitHeaders maps the header-shaped result fields to the
// X-RateLimit response headers the gateway contract promises.
func writeRateLimitHeaders(c *gin.Context, result ratelimit.Result) {
	c.Header("X-RateLimit-Limit-Requests", strconv.Itoa(result.LimitRequests))
	c.Header("X-RateLimit-Limit-Tokens", strconv.Itoa(result.LimitTokens))
	c.Header("X-RateLimit-Remaining-Requests", strconv.Itoa(result.RemainingRequests))
	c.Header("X-RateLimit-Remaining-Tokens", strconv.Itoa(result.RemainingTokens))
	c.Header("X-RateLimit-Reset-Requests", strconv.FormatInt(result.ResetRequestsEpoch, 10))
	c.Header("X-RateLimit-Reset-Tokens", strconv.FormatInt(result.ResetTokensEpoch, 10))
	if result.BurstWindow != "" {
		c.Header("X-RateLimit-Burst-Window", result.BurstWindow)
	}
}
