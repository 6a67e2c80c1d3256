package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"sol-price-oracle/internal/sampler"
	"sol-price-oracle/internal/volatility"
)

// Sampler is the sampling-service surface used by the API.
type Sampler interface {
	Start(ctx context.Context) error
	Stop() error
	Stats() sampler.Stats
	PriceHistory(symbol string, window time.Duration) []sampler.PriceSample
	AllRealizedVolatility() map[string]sampler.Reading
	AllStability() map[string]volatility.StabilityReport
	Anomalies(symbol string) []volatility.AnomalyEvent
	AllAnomalies() map[string][]volatility.AnomalyEvent
}

const defaultHistoryMinutes = 60

// AnalyticsController serves volatility, stability and sampling control.
type AnalyticsController struct {
	sampler Sampler
	// base outlives requests so a loop started over HTTP keeps running.
	base context.Context
}

// NewAnalyticsController creates analytics and sampling routes. Loops started
// through the API stop when base is cancelled.
func NewAnalyticsController(base context.Context, s Sampler) *AnalyticsController {
	return &AnalyticsController{sampler: s, base: base}
}

// RegisterRoutes implements Controller.
func (c *AnalyticsController) RegisterRoutes(r *gin.Engine) {
	analytics := r.Group("/api/analytics")
	analytics.GET("/rvi", c.rvi)
	analytics.GET("/stability", c.stability)
	analytics.GET("/anomalies/:token", c.anomalies)
	analytics.GET("/history/:token", c.history)

	sampling := r.Group("/api/sampling")
	sampling.POST("/start", c.start)
	sampling.POST("/stop", c.stop)
	sampling.GET("/stats", c.stats)
}

func (c *AnalyticsController) rvi(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, gin.H{
		"success":       true,
		"rvi":           c.sampler.AllRealizedVolatility(),
		"service_stats": c.sampler.Stats(),
		"timestamp":     time.Now().UTC(),
	})
}

func (c *AnalyticsController) stability(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, gin.H{
		"success":   true,
		"stability": c.sampler.AllStability(),
		"anomalies": c.sampler.AllAnomalies(),
		"timestamp": time.Now().UTC(),
	})
}

func (c *AnalyticsController) anomalies(ctx *gin.Context) {
	token := ctx.Param("token")
	ctx.JSON(http.StatusOK, gin.H{
		"success":   true,
		"token":     token,
		"anomalies": c.sampler.Anomalies(token),
	})
}

func (c *AnalyticsController) history(ctx *gin.Context) {
	token := ctx.Param("token")
	minutes := defaultHistoryMinutes
	if raw := ctx.Query("minutes"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			ctx.JSON(http.StatusBadRequest, errorBody("minutes must be a positive integer"))
			return
		}
		minutes = n
	}

	ctx.JSON(http.StatusOK, gin.H{
		"success": true,
		"token":   token,
		"minutes": minutes,
		"history": c.sampler.PriceHistory(token, time.Duration(minutes)*time.Minute),
	})
}

func (c *AnalyticsController) start(ctx *gin.Context) {
	if err := c.sampler.Start(c.base); err != nil {
		ctx.JSON(http.StatusInternalServerError, errorBody(err.Error()))
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"success": true, "service_stats": c.sampler.Stats()})
}

func (c *AnalyticsController) stop(ctx *gin.Context) {
	if err := c.sampler.Stop(); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, sampler.ErrStopTimeout) {
			status = http.StatusGatewayTimeout
		}
		ctx.JSON(status, errorBody(err.Error()))
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"success": true, "service_stats": c.sampler.Stats()})
}

func (c *AnalyticsController) stats(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, gin.H{"success": true, "service_stats": c.sampler.Stats()})
}
