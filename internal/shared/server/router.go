package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	googleauth "docchat-backend/internal/auth"
	"docchat-backend/internal/conversations"
	"docchat-backend/internal/documents"
	"docchat-backend/internal/realtime"
	"docchat-backend/internal/shared/auth"
	"docchat-backend/internal/shared/config"
	"docchat-backend/internal/shared/metrics"
	"docchat-backend/internal/shared/server/health"
	"docchat-backend/internal/shared/server/middleware"
	"docchat-backend/internal/shared/server/respond"
	"docchat-backend/internal/uploads"
)

// Rate limit groups.
const (
	groupDefault = "DEFAULT"
	groupRead    = "READ"
	groupUpload  = "UPLOAD"
)

// RouterDeps carries the handlers mounted on the engine. Nil handlers are skipped.
type RouterDeps struct {
	Config        config.Config
	Verifier      auth.Verifier
	Health        *health.Service
	Documents     *documents.Handler
	Conversations *conversations.Handler
	Uploads       *uploads.Handler
	GoogleAuth    *googleauth.GoogleLogin
	Gateway       *realtime.Gateway
	RateLimiter   *middleware.RateLimiter
}

// NewRouter constructs the Gin engine with middleware and routes registered.
func NewRouter(deps RouterDeps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	r.Use(
		middleware.RequestID(),
		middleware.Logging(),
		middleware.Recovery(),
		middleware.CORS(deps.Config.CORSAllowOrigin),
		middleware.Auth(deps.Verifier),
		middleware.RateLimit(middleware.RateLimitConfig{
			DefaultGroup: groupDefault,
			GroupFor:     rateGroup,
			Limiter:      deps.RateLimiter,
			Rules: map[string]middleware.RateLimitRule{
				groupDefault: {Rate: 5, Burst: 20},
				groupRead:    {Rate: 20, Burst: 40},
				groupUpload:  {Rate: 1, Burst: 5},
			},
		}),
	)

	healthSvc := deps.Health
	if healthSvc == nil {
		healthSvc = health.NewService()
	}

	r.GET("/metrics", metrics.Handler())
	if deps.Gateway != nil {
		r.GET("/ws", deps.Gateway.Handle)
	}

	api := r.Group("/api/v1")
	api.GET("/health", func(c *gin.Context) {
		report := healthSvc.Status(c.Request.Context())
		status := http.StatusOK
		if !report.OK {
			status = http.StatusServiceUnavailable
		}
		respond.JSON(c, status, report)
	})
	var lister DocumentLister
	if deps.Documents != nil && deps.Documents.Svc != nil {
		lister = deps.Documents.Svc
	}
	registerMeRoutes(api, lister)
	if deps.GoogleAuth != nil {
		deps.GoogleAuth.RegisterRoutes(api)
	}
	if deps.Documents != nil {
		deps.Documents.RegisterRoutes(api)
	}
	if deps.Conversations != nil {
		deps.Conversations.RegisterRoutes(api)
	}
	if deps.Uploads != nil {
		deps.Uploads.RegisterRoutes(api)
	}

	return r
}

func rateGroup(c *gin.Context) string {
	path := c.Request.URL.Path
	switch {
	case c.Request.Method == http.MethodGet:
		return groupRead
	case c.Request.Method == http.MethodPost && (path == "/api/v1/documents" || strings.HasPrefix(path, "/api/v1/uploads/")):
		return groupUpload
	default:
		return groupDefault
	}
}

// Addr normalizes the listen address.
func Addr(port string) string {
	if port == "" {
		return ":8080"
	}
	if port[0] == ':' {
		return port
	}
	return ":" + port
}
