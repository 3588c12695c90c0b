package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/portablestew/key-commune/internal/hotcache"
)

type healthResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	PoolKeyCount  int    `json:"pool_key_count"`
	StatsCount    int    `json:"stats_count"`
	CacheAgeSecs  int64  `json:"cache_age_seconds"`
}

// healthHandler serves GET /health: status in {healthy, degraded,
// initializing}, uptime, pool counts, and cache age, per §6.
func healthHandler(cache *hotcache.Cache, startedAt time.Time) gin.HandlerFunc {
	return func(c *gin.Context) {
		status := cache.Status()

		state := "healthy"
		switch {
		case !status.Cached:
			state = "initializing"
		case status.Stale():
			state = "degraded"
		case status.KeyCount == 0:
			state = "degraded"
		}

		c.JSON(http.StatusOK, healthResponse{
			Status:        state,
			UptimeSeconds: int64(time.Since(startedAt).Seconds()),
			PoolKeyCount:  status.KeyCount,
			StatsCount:    status.StatsCount,
			CacheAgeSecs:  int64(status.Age.Seconds()),
		})
	}
}
