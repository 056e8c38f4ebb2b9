// Package httpapi is the thin HTTP surface over the admission core. It maps
// limiter results to 429 responses with X-RateLimit headers and breaker
// fast-fails to 503; the core packages know nothing about HTTP.
package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/modelrelay/admission/internal/app"
	"github.com/modelrelay/admission/internal/circuit"
	"github.com/modelrelay/admission/internal/config"
	"github.com/modelrelay/admission/internal/ratelimit"
	"github.com/modelrelay/admission/internal/store"
)

// RouterDeps carries the constructed components the handlers need.
type RouterDeps struct {
	Manager    *ratelimit.Manager
	Registry   *circuit.Registry
	Dispatcher *app.Dispatcher
	DB         *gorm.DB
	Admin      config.AdminConfig
}

// NewRouter builds the gin engine with all admission routes.
func NewRouter(deps RouterDeps) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	admission := &AdmissionHandler{manager: deps.Manager}
	router.POST("/v1/admission/check", admission.Check)
	router.POST("/v1/admission/release", admission.Release)

	dispatch := &DispatchHandler{dispatcher: deps.Dispatcher}
	router.POST("/v1/providers/:provider/report", RequireAdmission(deps.Manager), dispatch.Report)

	admin := &AdminHandler{
		db:        deps.DB,
		manager:   deps.Manager,
		registry:  deps.Registry,
		overrides: store.NewGormOverrideStore(deps.DB),
	}
	adminGroup := router.Group("/admin", RequireAdmin(deps.Admin.JWTSecret))
	adminGroup.POST("/accounts", admin.CreateAccount)
	adminGroup.GET("/keys/:key/limits", admin.GetOverride)
	adminGroup.PUT("/keys/:key/limits", admin.PutOverride)
	adminGroup.GET("/breakers", admin.ListBreakers)

	return router
}
