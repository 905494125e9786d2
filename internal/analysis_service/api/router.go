package api

import (
	"net/http"

	"ticketmind/internal/config"
	"ticketmind/pkg/ratelimiter"

	"github.com/gin-gonic/gin"
)

// ActorMiddleware resolves the acting user for audit attribution and sets
// it in the request context. Handlers thread the actor explicitly into
// every service call; there is no global current-actor state.
// In a real deployment this would come from the validated auth token.
func ActorMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor := c.GetHeader("X-Actor")
		if actor == "" {
			actor = "system"
		}
		c.Set("actor", actor)
		c.Next()
	}
}

// RateLimitMiddleware rejects requests above the configured rate.
func RateLimitMiddleware(cfg config.RateLimiterConfig) gin.HandlerFunc {
	limiter := ratelimiter.NewTokenBucket(cfg.Rate, cfg.Capacity)
	return func(c *gin.Context) {
		if !limiter.Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "Too many requests"})
			return
		}
		c.Next()
	}
}

// RegisterRoutes registers all the routes for the analysis service.
func RegisterRoutes(router *gin.Engine, api *API, cfg config.MiddlewareConfig) {
	v1 := router.Group("/api/v1")
	v1.Use(ActorMiddleware())
	if cfg.RateLimiter.Enabled {
		v1.Use(RateLimitMiddleware(cfg.RateLimiter))
	}

	tickets := v1.Group("/tickets")
	{
		tickets.POST("/:id/analysis", api.EnqueueHandler)
		tickets.GET("/:id/analysis/progress", api.ProgressHandler)
		tickets.GET("/:id/analysis/latest", api.LatestTaskHandler)
	}

	tasks := v1.Group("/analysis")
	{
		tasks.GET("", api.ListTasksHandler)
		tasks.GET("/:id", api.GetTaskHandler)
		tasks.POST("/:id/retry", api.RetryHandler)
	}

	// Administrative batch operations live under their own prefix so the
	// route tree keeps static and :id segments apart.
	admin := v1.Group("/admin")
	{
		admin.POST("/analysis/bulk", api.EnqueueBulkHandler)
		admin.POST("/analysis/dismiss_failed", api.DismissFailedHandler)
	}
}
