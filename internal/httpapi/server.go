package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"rfidattend/internal/attendance"
	"rfidattend/internal/auth"
	"rfidattend/internal/httpmiddleware"
)

// HealthCheck reports whether one dependency is reachable.
type HealthCheck func(ctx context.Context) bool

// Options wires the router.
type Options struct {
	Service         *attendance.Service
	Signer          auth.Signer
	Log             *zap.Logger
	Gatherer        prometheus.Gatherer
	Health          map[string]HealthCheck
	RateLimitPerMin int
	ScanTimeout     time.Duration
}

type handler struct {
	svc         *attendance.Service
	signer      auth.Signer
	log         *zap.Logger
	health      map[string]HealthCheck
	scanTimeout time.Duration
}

// New builds the gin engine serving device registration, scans and ledger reads.
func New(opts Options) *gin.Engine {
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	if opts.ScanTimeout <= 0 {
		opts.ScanTimeout = 5 * time.Second
	}
	h := &handler{
		svc:         opts.Service,
		signer:      opts.Signer,
		log:         opts.Log,
		health:      opts.Health,
		scanTimeout: opts.ScanTimeout,
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger(opts.Log, "/healthz", "/metrics"))
	r.Use(corsMiddleware())
	r.Use(securityHeaders())

	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})))
	r.GET("/healthz", h.healthz)

	v1 := r.Group("/v1")
	if opts.RateLimitPerMin > 0 {
		v1.Use(httpmiddleware.NewTokenBucket(opts.RateLimitPerMin, opts.RateLimitPerMin, httpmiddleware.ClientIP).GinMiddleware())
	}
	v1.POST("/devices/register", h.registerDevice)

	authed := v1.Group("", auth.DeviceAuth(opts.Signer))
	authed.POST("/scans", h.postScan)
	authed.GET("/attendance", h.listAttendance)
	return r
}

func (h *handler) healthz(c *gin.Context) {
	status := http.StatusOK
	body := gin.H{"status": "ok"}
	for name, check := range h.health {
		ok := check(c.Request.Context())
		body[name] = ok
		if !ok {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
		}
	}
	c.JSON(status, body)
}

func requestLogger(log *zap.Logger, skip ...string) gin.HandlerFunc {
	skipped := make(map[string]struct{}, len(skip))
	for _, p := range skip {
		skipped[p] = struct{}{}
	}
	return func(c *gin.Context) {
		if _, ok := skipped[c.Request.URL.Path]; ok {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()
		log.Debug("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}

// CORS middleware for browser requests
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}

		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}
		c.Next()
	}
}
