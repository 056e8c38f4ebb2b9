package httpapi

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/modelrelay/admission/internal/ratelimit"
)

// adminSubjectKey is the gin context key carrying the verified admin subject.
const adminSubjectKey = "adminSubject"

// RequireAdmission rate limits the request itself by the caller's X-API-Key
// and releases the concurrency slot when the handler finishes, success or
// not. This is the in-process shape of the check/release pair.
func RequireAdmission(manager *ratelimit.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		apiKey := strings.TrimSpace(c.GetHeader("X-API-Key"))
		if apiKey == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing api key"})
			return
		}
		result := manager.Check(c.Request.Context(), apiKey, 0)
		writeRateLimitHeaders(c, result)
		if !result.Allowed {
			c.Header("Retry-After", strconv.Itoa(result.RetryAfterSeconds))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       result.Reason,
				"retry_after": result.RetryAfterSeconds,
			})
			return
		}
		defer manager.Release(c.Request.Context(), apiKey, result)
		c.Next()
	}
}

// RequireAdmin verifies the Bearer token on admin routes.
func RequireAdmin(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if strings.TrimSpace(secret) == "" {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "admin api disabled"})
			return
		}
		header := strings.TrimSpace(c.GetHeader("Authorization"))
		token, found := strings.CutPrefix(header, "Bearer ")
		if !found || strings.TrimSpace(token) == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}

		subject, errVerify := verifyAdminToken(secret, strings.TrimSpace(token))
		if errVerify != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Set(adminSubjectKey, subject)
		c.Next()
	}
}

// IssueAdminToken mints a signed admin token for the subject.
func IssueAdminToken(secret, subject string, expiry time.Duration) (string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", fmt.Errorf("httpapi: missing jwt secret")
	}
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(expiry)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, errSign := token.SignedString([]byte(secret))
	if errSign != nil {
		return "", fmt.Errorf("httpapi: sign token: %w", errSign)
	}
	return signed, nil
}

func verifyAdminToken(secret, token string) (string, error) {
	parsed, errParse := jwt.ParseWithClaims(token, &jwt.RegisteredClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if errParse != nil {
		return "", errParse
	}
	claims, ok := parsed.Claims.(*jwt.RegisteredClaims)
	if !ok || !parsed.Valid {
		return "", fmt.Errorf("invalid claims")
	}
	return claims.Subject, nil
}
