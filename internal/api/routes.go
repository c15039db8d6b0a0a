package api

import (
	"context"
	"crypto/rsa"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"gleeworld-hub/internal/api/middleware"
	"gleeworld-hub/internal/api/response"
	v1 "gleeworld-hub/internal/api/v1"
	"gleeworld-hub/internal/service"
	"gleeworld-hub/internal/sse"
	"gleeworld-hub/pkg/logger"
)

const defaultReadyTimeout = 3 * time.Second

type RouterDeps struct {
	Announcements *service.AnnouncementService
	Audit         *service.AuditService
	Hub           *sse.SSEHub
	RecentLogs    *logger.RecentLogs

	PublicKey     *rsa.PublicKey
	InternalToken string
	AllowOrigins  []string

	// Ready reports whether the store is reachable.
	Ready        func(ctx context.Context) error
	ReadyTimeout time.Duration

	Logger *zap.Logger
}

func NewRouter(deps RouterDeps) *gin.Engine {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.ReadyTimeout <= 0 {
		deps.ReadyTimeout = defaultReadyTimeout
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(buildCORSMiddleware(deps.AllowOrigins))
	router.Use(middleware.RequestLogger(deps.Logger))

	healthHandler := func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
	readyHandler := func(c *gin.Context) {
		if deps.Ready != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), deps.ReadyTimeout)
			defer cancel()

			if err := deps.Ready(ctx); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{
					"status": "not_ready",
					"error":  "database unavailable",
				})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	}

	router.GET("/health", healthHandler)
	router.GET("/health/ready", readyHandler)

	internal := router.Group("/internal")
	internal.Use(middleware.InternalTokenAuth(deps.InternalToken, true))
	internal.GET("/metrics", gin.WrapH(promhttp.Handler()))
	internal.GET("/logs", recentLogsHandler(deps.RecentLogs))

	apiV1 := router.Group("/api/v1")
	apiV1.GET("/health", healthHandler)
	apiV1.GET("/health/ready", readyHandler)
	v1.RegisterAnnouncementRoutes(apiV1, deps.Announcements, deps.Audit, deps.PublicKey)
	v1.RegisterAuditRoutes(apiV1, deps.Audit, deps.PublicKey)
	v1.RegisterSSERoutes(apiV1, deps.Hub, deps.PublicKey)

	return router
}

func recentLogsHandler(store *logger.RecentLogs) gin.HandlerFunc {
	return func(c *gin.Context) {
		if store == nil {
			response.Fail(c, http.StatusServiceUnavailable, response.ErrUnavailable, "log capture disabled")
			return
		}

		q := logger.Query{
			Level:          c.Query("level"),
			Keyword:        c.Query("keyword"),
			AnnouncementID: c.Query("announcement_id"),
		}
		q.Page, q.PageSize = queryInt(c, "page"), queryInt(c, "page_size")

		if q.Page <= 0 {
			q.Page = 1
		}
		if q.PageSize <= 0 || q.PageSize > 200 {
			q.PageSize = 20
		}

		items, total := store.Query(q)
		response.Paginated(c, items, q.Page, q.PageSize, total)
	}
}

func queryInt(c *gin.Context, key string) int {
	n, err := strconv.Atoi(strings.TrimSpace(c.Query(key)))
	if err != nil {
		return 0
	}
	return n
}

func buildCORSMiddleware(allowOrigins []string) gin.HandlerFunc {
	origins := make([]string, 0, len(allowOrigins))
	for _, origin := range allowOrigins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" || trimmed == "*" {
			continue
		}
		origins = append(origins, trimmed)
	}
	if len(origins) == 0 {
		origins = []string{"http://localhost:5173"}
	}

	return cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Authorization", "Last-Event-ID", "X-Request-ID"},
		ExposeHeaders:    []string{"Content-Type", "X-Request-ID", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	})
}
