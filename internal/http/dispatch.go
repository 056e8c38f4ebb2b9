package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/modelrelay/admission/internal/app"
	"github.com/modelrelay/admission/internal/circuit"
)

// errUpstreamFailure stands in for a provider failure reported by a gateway
// worker. Only its non-nil-ness matters to the breaker.
var errUpstreamFailure = errors.New("httpapi: reported upstream failure")

// DispatchHandler lets gateway workers feed upstream call outcomes through
// the shared breakers. Workers that hold the provider connection report here
// so every instance converges on the same circuit state.
type DispatchHandler struct {
	dispatcher *app.Dispatcher
}

// reportRequest captures one upstream call outcome.
type reportRequest struct {
	Success bool `json:"success"` // Whether the provider call succeeded.
}

// Report records the outcome against the provider's breaker. While the
// circuit is open the report is fast-failed with 503 and Retry-After, which
// tells the worker to stop calling the provider entirely.
func (h *DispatchHandler) Report(c *gin.Context) {
	provider := strings.TrimSpace(c.Param("provider"))
	if provider == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "provider is required"})
		return
	}
	var body reportRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	errDispatch := h.dispatcher.Dispatch(c.Request.Context(), provider, func(context.Context) error {
		if body.Success {
			return nil
		}
		return errUpstreamFailure
	})

	var openErr *circuit.OpenError
	if errors.As(errDispatch, &openErr) {
		c.Header("Retry-After", strconv.Itoa(openErr.RetryAfterSeconds()))
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":       openErr.Error(),
			"retry_after": openErr.RetryAfterSeconds(),
		})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"recorded": true})
}
