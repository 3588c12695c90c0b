package http

import (
	"html/template"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/portablestew/key-commune/internal/hotcache"
)

var statusPageTemplate = template.Must(template.New("status").Parse(`<!DOCTYPE html>
<html>
<head><title>key-commune</title></head>
<body>
<h1>key-commune</h1>
<p>Uptime: {{.UptimeSeconds}}s</p>
<p>Credential pool cached: {{.Cache.Cached}}</p>
<p>Cached pool size: {{.Cache.KeyCount}}</p>
<p>Cached statistics entries: {{.Cache.StatsCount}}</p>
<p>Cache age: {{.CacheAgeSeconds}}s</p>
</body>
</html>
`))

type statusPageData struct {
	UptimeSeconds   int64
	Cache           hotcache.Status
	CacheAgeSeconds int64
}

// statusHandler renders the human-readable status page at GET /.
func statusHandler(cache *hotcache.Cache, startedAt time.Time) gin.HandlerFunc {
	return func(c *gin.Context) {
		status := cache.Status()
		data := statusPageData{
			UptimeSeconds:   int64(time.Since(startedAt).Seconds()),
			Cache:           status,
			CacheAgeSeconds: int64(status.Age.Seconds()),
		}

		c.Writer.Header().Set("Content-Type", "text/html; charset=utf-8")
		c.Writer.WriteHeader(http.StatusOK)
		_ = statusPageTemplate.Execute(c.Writer, data)
	}
}
