package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"sol-price-oracle/internal/cache"
	"sol-price-oracle/internal/fetcher"
	"sol-price-oracle/internal/latency"
)

// Quoter is the price-fetcher surface used by the API.
type Quoter interface {
	Resolve(ctx context.Context, id string) fetcher.Resolution
	GetPrices(ctx context.Context, ids []string) map[string]float64
	Ladder(ctx context.Context, id string, sizes []float64) []fetcher.LadderStep
	CacheStats() cache.Stats
	LatencyMetrics() latency.Metrics
	HealthCheck(ctx context.Context) fetcher.Health
	SourceStatus() []fetcher.SourceStatus
	Registry() *fetcher.Registry
}

// PriceController serves price lookups and the quote ladder.
type PriceController struct {
	quoter Quoter
}

// NewPriceController creates the price routes.
func NewPriceController(q Quoter) *PriceController {
	return &PriceController{quoter: q}
}

// RegisterRoutes implements Controller.
func (c *PriceController) RegisterRoutes(r *gin.Engine) {
	api := r.Group("/api")
	api.GET("/prices/:id", c.price)
	api.GET("/prices", c.prices)
	api.GET("/quotes", c.quotes)
	api.GET("/quotes/ladder", c.ladder)
}

// price accepts a mint or a registered symbol.
func (c *PriceController) price(ctx *gin.Context) {
	reg := c.quoter.Registry()
	id := reg.Normalize(ctx.Param("id"))
	res := c.quoter.Resolve(ctx.Request.Context(), id)

	ctx.JSON(http.StatusOK, gin.H{
		"success":   true,
		"id":        res.ID,
		"symbol":    reg.Token(id).Symbol,
		"price":     res.Price,
		"tier":      res.Tier,
		"degraded":  res.Degraded(),
		"timestamp": time.Now().UTC(),
	})
}

// prices answers keyed by the identifiers the caller sent.
func (c *PriceController) prices(ctx *gin.Context) {
	requested := splitList(ctx.Query("ids"))
	if len(requested) == 0 {
		ctx.JSON(http.StatusBadRequest, errorBody("ids parameter required"))
		return
	}

	out := c.lookup(ctx, requested)
	ctx.JSON(http.StatusOK, gin.H{"success": true, "prices": out, "timestamp": time.Now().UTC()})
}

// quotes answers by symbol and defaults to every registered token.
func (c *PriceController) quotes(ctx *gin.Context) {
	reg := c.quoter.Registry()
	symbols := splitList(ctx.Query("tokens"))
	if len(symbols) == 0 {
		for _, t := range reg.Tokens() {
			symbols = append(symbols, t.Symbol)
		}
	}

	known := symbols[:0]
	for _, s := range symbols {
		if _, ok := reg.Lookup(s); ok {
			known = append(known, s)
		}
	}

	ctx.JSON(http.StatusOK, gin.H{"success": true, "quotes": c.lookup(ctx, known), "timestamp": time.Now().UTC()})
}

func (c *PriceController) lookup(ctx *gin.Context, requested []string) map[string]float64 {
	reg := c.quoter.Registry()
	ids := make([]string, len(requested))
	for i, r := range requested {
		ids[i] = reg.Normalize(r)
	}

	prices := c.quoter.GetPrices(ctx.Request.Context(), ids)
	out := make(map[string]float64, len(requested))
	for i, r := range requested {
		out[r] = prices[ids[i]]
	}
	return out
}

func (c *PriceController) ladder(ctx *gin.Context) {
	raw := ctx.Query("id")
	if raw == "" {
		raw = ctx.Query("mint")
	}
	if raw == "" {
		ctx.JSON(http.StatusBadRequest, errorBody("id parameter required"))
		return
	}

	var sizes []float64
	for _, s := range splitList(ctx.Query("sizes")) {
		size, err := strconv.ParseFloat(s, 64)
		if err != nil || !fetcher.ValidLadderSize(size) {
			ctx.JSON(http.StatusBadRequest, errorBody("sizes must be positive numbers"))
			return
		}
		sizes = append(sizes, size)
	}

	id := c.quoter.Registry().Normalize(raw)
	ctx.JSON(http.StatusOK, gin.H{
		"success":   true,
		"mint":      id,
		"ladder":    c.quoter.Ladder(ctx.Request.Context(), id, sizes),
		"timestamp": time.Now().UTC(),
	})
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
