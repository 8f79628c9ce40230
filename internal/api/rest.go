// Package api provides the REST API and server for repeatd.
// It includes endpoints for listing, adding and aborting jobs, the recent
// event history, and real-time updates via WebSocket.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mescon/repeatd/internal/auth"
	"github.com/mescon/repeatd/internal/clock"
	"github.com/mescon/repeatd/internal/domain"
	"github.com/mescon/repeatd/internal/eventbus"
	"github.com/mescon/repeatd/internal/logger"
	"github.com/mescon/repeatd/internal/metrics"
	"github.com/mescon/repeatd/internal/notifier"
	"github.com/mescon/repeatd/internal/repeater"
	"github.com/mescon/repeatd/internal/services"
)

// Mutating routes allow 120 requests per minute per IP, burst of 60.
const (
	apiRate         = 120
	apiRateInterval = time.Minute
	apiBurst        = 60
	sweepInterval   = 5 * time.Minute
)

type RESTServer struct {
	router       *gin.Engine
	httpServer   *http.Server
	jobs         *services.JobService
	eventBus     *eventbus.EventBus
	journal      EventStore
	notifier     *notifier.Notifier
	metrics      *metrics.MetricsService
	hub          *WebSocketHub
	limiter      *RateLimiter
	sweeper      *repeater.Repeater
	apiKeyHash   string
	abortTimeout time.Duration
	clock        clock.Clock
	startTime    time.Time
	requestSeq   atomic.Uint64
}

// EventStore is a persistent event journal the events endpoint can read from.
type EventStore interface {
	RecentEvents(limit int, jobID string) ([]domain.Event, error)
	Stats() (map[string]interface{}, error)
}

// ServerDeps contains all dependencies required for the REST server
type ServerDeps struct {
	Jobs     *services.JobService
	EventBus *eventbus.EventBus
	Notifier *notifier.Notifier // optional
	Metrics  *metrics.MetricsService
	// Journal serves GET /api/events when set; otherwise the bus history is used.
	Journal EventStore

	// APIKeyHash is the bcrypt hash mutating routes are checked against. Empty disables auth.
	APIKeyHash string
	// CORSOrigin is "*", a comma-separated allow list, or empty for same-origin.
	CORSOrigin string
	// AbortTimeout bounds how long abort requests wait for jobs. Default: 30s
	AbortTimeout time.Duration
	// Clock drives the rate limiter. Default: clock.Default
	Clock clock.Clock
}

func NewRESTServer(deps ServerDeps) *RESTServer {
	// Set Gin to release mode for production (suppresses debug warnings)
	if gin.Mode() != gin.TestMode {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()

	clk := deps.Clock
	if clk == nil {
		clk = clock.Default
	}
	abortTimeout := deps.AbortTimeout
	if abortTimeout <= 0 {
		abortTimeout = 30 * time.Second
	}

	s := &RESTServer{
		router:       r,
		jobs:         deps.Jobs,
		eventBus:     deps.EventBus,
		journal:      deps.Journal,
		notifier:     deps.Notifier,
		metrics:      deps.Metrics,
		hub:          NewWebSocketHub(deps.EventBus, deps.CORSOrigin),
		limiter:      NewRateLimiter(apiRate, apiRateInterval, apiBurst, clk),
		apiKeyHash:   deps.APIKeyHash,
		abortTimeout: abortTimeout,
		clock:        clk,
		startTime:    clk.Now(),
	}

	// Request ID middleware for correlation/tracing
	r.Use(func(c *gin.Context) {
		// Use existing request ID from header if provided, otherwise generate one
		reqID := c.GetHeader("X-Request-ID")
		if reqID == "" {
			reqID = fmt.Sprintf("%d-%d", s.clock.Now().UnixNano(), s.requestSeq.Add(1))
		}
		c.Set("request_id", reqID)
		c.Header("X-Request-ID", reqID)
		c.Next()
	})

	// Custom recovery middleware with enhanced logging
	r.Use(gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		reqID := c.GetString("request_id")
		logger.Errorf("[PANIC RECOVERY] request_id=%s path=%s method=%s error=%v",
			reqID, c.Request.URL.Path, c.Request.Method, recovered)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":      ErrMsgInternalError,
			"request_id": reqID,
		})
	}))

	r.Use(corsMiddleware(deps.CORSOrigin))

	// Idle rate limit buckets are swept on a repeater of our own
	sweeper, err := repeater.New(func(*repeater.Tick) error {
		if n := s.limiter.Sweep(); n > 0 {
			logger.Debugf("Rate limiter: swept %d idle clients", n)
		}
		return nil
	}, repeater.Options{Interval: sweepInterval, Delay: sweepInterval, Name: "ratelimit-sweep", Clock: clk})
	if err != nil {
		logger.Errorf("Failed to start rate limiter sweep: %v", err)
	}
	s.sweeper = sweeper

	s.setupRoutes()

	return s
}

// corsMiddleware sets CORS headers for allowed origins.
// If corsOrigins is empty no CORS header is set and the browser enforces same-origin.
func corsMiddleware(corsOrigins string) gin.HandlerFunc {
	allowedOrigins := parseOrigins(corsOrigins)

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")

		// Only set CORS headers if origin is allowed
		if corsOrigins == "*" {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		} else if origin != "" && allowedOrigins[origin] {
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
			c.Writer.Header().Set("Vary", "Origin")
			c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		}

		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, X-API-Key, X-Request-ID, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func (s *RESTServer) setupRoutes() {
	if s.metrics != nil {
		s.router.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}

	api := s.router.Group("/api")
	{
		api.GET("/health", s.handleHealth)
		api.GET("/jobs", s.listJobs)
		api.GET("/jobs/:id", s.getJob)

		protected := api.Group("")
		protected.Use(s.authMiddleware())
		{
			protected.GET("/events", s.getRecentEvents)
			protected.GET("/ws", s.hub.HandleConnection)

			mutating := protected.Group("")
			mutating.Use(s.limiter.Middleware())
			{
				mutating.POST("/jobs", s.createJob)
				mutating.POST("/jobs/:id/abort", s.abortJob)
				mutating.PUT("/jobs/:id/interval", s.updateJobInterval)
				mutating.POST("/abort", s.abortAll)
				mutating.POST("/notifications/test", s.testNotification)
			}
		}
	}

	s.router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "API endpoint not found"})
	})
}

// Handler exposes the router, mainly for tests.
func (s *RESTServer) Handler() http.Handler {
	return s.router
}

func (s *RESTServer) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops the HTTP server, disconnects websocket clients and stops the sweep.
func (s *RESTServer) Shutdown(ctx context.Context) error {
	s.hub.Close()
	if s.sweeper != nil {
		s.sweeper.Abort()
	}
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *RESTServer) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.apiKeyHash == "" {
			c.Next()
			return
		}

		token := c.GetHeader("X-API-Key")
		if token == "" {
			token = c.GetHeader("Authorization")
			token = strings.TrimPrefix(token, "Bearer ")
		}
		if token == "" {
			token = c.Query("token")
		}
		if token == "" {
			token = c.Query("apikey")
		}

		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": ErrMsgAuthenticationRequired})
			return
		}

		if err := auth.CheckAPIKey(token, s.apiKeyHash); err != nil {
			logger.Debugf("Rejected API key from %s: %v", c.ClientIP(), err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": ErrMsgInvalidAPIKey})
			return
		}

		c.Next()
	}
}
