// Package api exposes the router's HTTP surface: quote retrieval, swap
// execution and lifecycle reads under a versioned prefix, plus health and
// metrics endpoints.
package api

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	limiter "github.com/ulule/limiter/v3"
	ginlimiter "github.com/ulule/limiter/v3/drivers/middleware/gin"
	memorystore "github.com/ulule/limiter/v3/drivers/store/memory"
	"go.uber.org/zap"

	"github.com/Aidin1998/dexroute_unified/internal/router"
	"github.com/Aidin1998/dexroute_unified/internal/swap"
)

var validate = validator.New()

// Server is the HTTP API server.
type Server struct {
	router   *gin.Engine
	logger   *zap.Logger
	engine   *router.Engine
	executor *swap.Executor
	store    *swap.Store
}

// NewServer wires middleware and routes around the core services.
func NewServer(logger *zap.Logger, engine *router.Engine, executor *swap.Executor, store *swap.Store, rateLimit string) *Server {
	s := &Server{
		logger:   logger,
		engine:   engine,
		executor: executor,
		store:    store,
	}

	r := gin.New()
	r.Use(ginzap.Ginzap(logger, time.RFC3339, true))
	r.Use(ginzap.RecoveryWithZap(logger, true))
	r.Use(CorrelationMiddleware())

	r.Use(cors.New(cors.Config{
		AllowOrigins:  []string{"*"},
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "X-Correlation-Id"},
		ExposeHeaders: []string{"Content-Length", "X-Correlation-Id"},
		MaxAge:        12 * time.Hour,
	}))

	if rateLimit != "" {
		if rate, err := limiter.NewRateFromFormatted(rateLimit); err == nil {
			store := memorystore.NewStore()
			r.Use(ginlimiter.NewMiddleware(limiter.New(store, rate)))
		} else {
			logger.Warn("invalid rate limit format, ingress limiting disabled",
				zap.String("rate_limit", rateLimit), zap.Error(err))
		}
	}

	r.GET("/health", s.handleHealth)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := r.Group("/api/v1")
	{
		v1.GET("/quote", s.handleGetQuote)
		v1.GET("/quote/:id", s.handleGetQuoteRecord)
		v1.POST("/swap/execute", s.handleExecuteSwap)
		v1.POST("/swap/simulate", s.handleSimulateSwap)
		v1.GET("/swap/:transactionId", s.handleGetSwap)
		v1.POST("/swap/:transactionId/cancel", s.handleCancelSwap)
	}

	s.router = r
	return s
}

// Handler returns the underlying http.Handler for serving and tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := contextWithTimeout(c, 2*time.Second)
	defer cancel()
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"detail": s.engine.Health(ctx),
	})
}
