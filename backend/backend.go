// Package backend exposes a chain controller over HTTP with JSON bodies.
//
// Routes:
//
//	GET     /plugins                  available units sorted by name
//	GET     /config                   current configuration
//	PUT     /config                   apply configuration
//	OPTIONS /config                   CORS preflight
//	POST    /config/:index/parameters set parameters of a node
//	POST    /reload                   reload units and rebuild the chain
//	GET     /settings                 global settings
//	PUT     /settings                 apply global settings
//	GET     /metrics                  prometheus metrics
package backend

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dudk/fxchain/chain"
	"github.com/dudk/fxchain/engine"
	"github.com/dudk/fxchain/log"
	"github.com/dudk/fxchain/metric"
	"github.com/dudk/fxchain/unit"
)

// DefaultPort is the default port of the backend.
const DefaultPort = 5396

// ErrNotBound is returned when no controller is bound to the backend.
var ErrNotBound = errors.New("backend is not bound")

// Parameters is the body of the set parameters request.
type Parameters struct {
	Parameters []unit.Value `json:"parameters"`
}

// Option provides a way to set functional parameters to backend.
type Option func(b *Backend)

// WithLogger sets logger to backend. If this option is not provided,
// silent logger is used.
func WithLogger(l log.Logger) Option {
	return func(b *Backend) {
		b.log = l
	}
}

// WithMetrics exposes metrics at /metrics.
func WithMetrics(m *metric.Metrics) Option {
	return func(b *Backend) {
		b.metrics = m
	}
}

// Backend is an HTTP configuration source. It implements chain.Source.
type Backend struct {
	api     chain.API
	router  *gin.Engine
	log     log.Logger
	metrics *metric.Metrics

	mu     sync.Mutex
	server *http.Server
}

// New creates a backend with all routes registered.
func New(options ...Option) *Backend {
	b := &Backend{
		log: log.Silent(),
	}
	for _, option := range options {
		option(b)
	}
	gin.SetMode(gin.ReleaseMode)
	b.router = gin.New()
	b.router.Use(gin.Recovery(), b.logRequest, cors)
	b.router.GET("/plugins", b.bound(b.plugins))
	b.router.GET("/config", b.bound(b.config))
	b.router.PUT("/config", b.bound(b.applyConfig))
	b.router.OPTIONS("/config", preflight)
	b.router.POST("/config/:index/parameters", b.bound(b.setParameters))
	b.router.POST("/reload", b.bound(b.reload))
	b.router.GET("/settings", b.bound(b.settings))
	b.router.PUT("/settings", b.bound(b.applySettings))
	if b.metrics != nil {
		b.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(b.metrics.Registry(), promhttp.HandlerOpts{})))
	}
	b.router.NoRoute(func(c *gin.Context) {
		c.String(http.StatusNotFound, "not found")
	})
	return b
}

// Bind implements chain.Source.
func (b *Backend) Bind(api chain.API) {
	b.api = api
}

// Handler returns the HTTP handler of the backend.
func (b *Backend) Handler() http.Handler {
	return b.router
}

// ListenAndServe serves requests on addr until Shutdown is called.
func (b *Backend) ListenAndServe(addr string) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           b.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	b.mu.Lock()
	b.server = server
	b.mu.Unlock()
	b.log.Infof("starting configuration backend on %s", addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server started by ListenAndServe.
func (b *Backend) Shutdown(ctx context.Context) error {
	b.mu.Lock()
	server := b.server
	b.mu.Unlock()
	if server == nil {
		return nil
	}
	return server.Shutdown(ctx)
}

func (b *Backend) bound(h gin.HandlerFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		if b.api == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": ErrNotBound.Error()})
			return
		}
		h(c)
	}
}

func (b *Backend) logRequest(c *gin.Context) {
	start := time.Now()
	c.Next()
	b.log.WithField("method", c.Request.Method).
		WithField("path", c.Request.URL.Path).
		WithField("status", c.Writer.Status()).
		WithField("latency", time.Since(start)).
		Debug("request")
}

func cors(c *gin.Context) {
	c.Header("Access-Control-Allow-Origin", "*")
	c.Next()
}

func preflight(c *gin.Context) {
	c.Header("Access-Control-Allow-Methods", "GET, POST, PUT")
	c.Header("Access-Control-Allow-Headers", "Content-Type")
	c.Status(http.StatusOK)
}

func (b *Backend) plugins(c *gin.Context) {
	c.JSON(http.StatusOK, b.api.AvailableUnits().Sorted())
}

func (b *Backend) config(c *gin.Context) {
	c.JSON(http.StatusOK, b.api.CurrentConfiguration())
}

func (b *Backend) applyConfig(c *gin.Context) {
	var cfg chain.Configuration
	if err := c.ShouldBindJSON(&cfg); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := b.api.ApplyConfiguration(cfg); err != nil {
		b.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, b.api.CurrentConfiguration())
}

func (b *Backend) setParameters(c *gin.Context) {
	index, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid index %q", c.Param("index"))})
		return
	}
	var p Parameters
	if err := c.ShouldBindJSON(&p); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ok, err := b.api.SetParameters(index, p.Parameters)
	if err != nil {
		b.fail(c, err)
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("no node at index %d", index)})
		return
	}
	c.JSON(http.StatusOK, p)
}

func (b *Backend) reload(c *gin.Context) {
	if err := b.api.Reload(); err != nil {
		b.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, b.api.CurrentConfiguration())
}

func (b *Backend) settings(c *gin.Context) {
	c.JSON(http.StatusOK, b.api.GlobalSettings())
}

func (b *Backend) applySettings(c *gin.Context) {
	var s chain.GlobalSettings
	if err := c.ShouldBindJSON(&s); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := b.api.ApplyGlobalSettings(s); err != nil {
		b.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, b.api.GlobalSettings())
}

// fail maps controller errors to status codes.
func (b *Backend) fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, chain.ErrUnknownUnit):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, engine.ErrChannelFull):
		status = http.StatusServiceUnavailable
	}
	b.log.WithField("path", c.Request.URL.Path).WithField("error", err).Warn("request failed")
	c.JSON(status, gin.H{"error": err.Error()})
}
