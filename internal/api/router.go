// Package api serves the feed store snapshot over HTTP.
package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Kay-cwc/dex-market-data-stream/internal/config"
	"github.com/Kay-cwc/dex-market-data-stream/internal/model"
)

// Snapshotter exposes the current feeds keyed by symbol.
type Snapshotter interface {
	Snapshot() map[string]model.Feed
}

// Options configures the router.
type Options struct {
	Feeds   map[config.Dex]Snapshotter
	Metrics http.Handler
	// Health reports readiness; nil means always healthy.
	Health func() error
	Logger *zap.Logger
}

// NewRouter builds the gin engine with /market-data/:dex, /healthz and /metrics.
func NewRouter(opts Options) *gin.Engine {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(logger))

	router.GET("/market-data/:dex", func(c *gin.Context) {
		dex, err := config.ParseDex(c.Param("dex"))
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		source, ok := opts.Feeds[dex]
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "dex not served: " + string(dex)})
			return
		}
		c.JSON(http.StatusOK, source.Snapshot())
	})

	router.GET("/healthz", func(c *gin.Context) {
		if opts.Health != nil {
			if err := opts.Health(); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	if opts.Metrics != nil {
		router.GET("/metrics", gin.WrapH(opts.Metrics))
	}
	return router
}

// NewServer wraps handler in an http.Server with conservative timeouts.
func NewServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		)
	}
}
