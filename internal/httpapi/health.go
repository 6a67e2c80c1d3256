package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// HealthController exposes upstream health, cache and latency figures.
type HealthController struct {
	quoter  Quoter
	sampler Sampler
}

// NewHealthController creates the health routes. sampler may be nil.
func NewHealthController(q Quoter, s Sampler) *HealthController {
	return &HealthController{quoter: q, sampler: s}
}

// RegisterRoutes implements Controller.
func (c *HealthController) RegisterRoutes(r *gin.Engine) {
	api := r.Group("/api/health")
	api.GET("/quotes", c.quotes)
	api.GET("/cache", c.cache)
	api.GET("/latency", c.latency)
	api.GET("/sources", c.sources)
}

func (c *HealthController) quotes(ctx *gin.Context) {
	h := c.quoter.HealthCheck(ctx.Request.Context())

	status := "healthy"
	if !h.Healthy {
		status = "degraded"
	}
	body := gin.H{
		"api_status":       status,
		"healthy":          h.Healthy,
		"message":          h.Message,
		"cached":           h.Cached,
		"last_checked_at":  h.LastCheckedAt,
		"response_time_ms": float64(h.ResponseTime.Microseconds()) / 1000,
		"cache_stats":      c.quoter.CacheStats(),
		"timestamp":        time.Now().UTC(),
	}
	if c.sampler != nil {
		body["service_stats"] = c.sampler.Stats()
	}
	ctx.JSON(http.StatusOK, gin.H{"success": true, "health": body})
}

func (c *HealthController) cache(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, gin.H{
		"success":     true,
		"cache_stats": c.quoter.CacheStats(),
		"cache_type":  "LRU with TTL",
		"timestamp":   time.Now().UTC(),
	})
}

func (c *HealthController) latency(ctx *gin.Context) {
	m := c.quoter.LatencyMetrics()
	ctx.JSON(http.StatusOK, gin.H{
		"success":       true,
		"quote_latency": m,
		"status":        m.Status(),
		"timestamp":     time.Now().UTC(),
	})
}

func (c *HealthController) sources(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, gin.H{"success": true, "sources": c.quoter.SourceStatus()})
}
