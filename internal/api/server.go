// Package api is the thin gin-gonic/gin HTTP surface (C11) wiring the
// endpoints of spec.md §6 to the Transaction Manager and read-only
// DAOs. It exists to give C1-C10 a runnable entry point and contains
// no business logic of its own — every handler either reads through a
// DAO or delegates to internal/txmanager.
package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"cnop-transactional-core/internal/cache"
	"cnop-transactional-core/internal/config"
	"cnop-transactional-core/internal/dao"
	"cnop-transactional-core/internal/gateway"
	"cnop-transactional-core/internal/obslog"
	"cnop-transactional-core/internal/store"
	"cnop-transactional-core/internal/txmanager"
)

// Server wires the HTTP router to the core's collaborators.
type Server struct {
	router     *gin.Engine
	httpServer *http.Server
	cfg        config.ServerConfig

	db       *store.DB
	users    *dao.UserDAO
	balances *dao.BalanceDAO
	orders   *dao.OrderDAO
	assets   *dao.AssetDAO
	tx       *txmanager.Manager
	verifier *gateway.Verifier
	cache    *cache.Cache // nil when Redis is disabled
	log      obslog.ActionLogger
	limiter  *rateLimiter
}

// Dependencies bundles everything NewServer needs, avoiding an
// unwieldy constructor argument list as the collaborator count grows.
type Dependencies struct {
	DB       *store.DB
	Users    *dao.UserDAO
	Balances *dao.BalanceDAO
	Orders   *dao.OrderDAO
	Assets   *dao.AssetDAO
	Tx       *txmanager.Manager
	Verifier *gateway.Verifier
	Cache    *cache.Cache
	Log      obslog.ActionLogger
}

// NewServer builds a Server and registers every route.
func NewServer(cfg config.ServerConfig, deps Dependencies) *Server {
	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = strings.Split(cfg.AllowedOrigins, ",")
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", gateway.HeaderRequestID, gateway.HeaderUserName, gateway.HeaderUserRole, gateway.HeaderAuthenticated}
	router.Use(cors.New(corsConfig))

	router.Use(requestIDMiddleware())
	router.Use(gatewayContextMiddleware())

	s := &Server{
		router:   router,
		cfg:      cfg,
		db:       deps.DB,
		users:    deps.Users,
		balances: deps.Balances,
		orders:   deps.Orders,
		assets:   deps.Assets,
		tx:       deps.Tx,
		verifier: deps.Verifier,
		cache:    deps.Cache,
		log:      deps.Log,
		limiter:  newRateLimiter(rateLimitRequestsPerWindow, rateLimitWindow),
	}
	router.Use(rateLimitMiddleware(s.limiter))
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)

	authGroup := s.router.Group("/auth")
	{
		authGroup.POST("/register", s.handleRegister)
		authGroup.GET("/me", requireAuth(), s.handleGetMe)
		authGroup.PUT("/me", requireAuth(), s.handleUpdateMe)
	}

	balanceGroup := s.router.Group("/balance", requireAuth())
	{
		balanceGroup.POST("/deposit", s.handleDeposit)
		balanceGroup.POST("/withdraw", s.handleWithdraw)
	}

	orderGroup := s.router.Group("/orders", requireAuth())
	{
		orderGroup.POST("", s.handleCreateOrder)
		orderGroup.GET("/:id", s.handleGetOrder)
	}
	s.router.GET("/users/:username/orders", requireAuth(), s.handleListUserOrders)

	inventoryGroup := s.router.Group("/inventory")
	{
		inventoryGroup.GET("", s.handleListInventory)
		inventoryGroup.GET("/:asset_id", s.handleGetInventoryItem)
	}
}

// handleHealth reports process and dependency health; used by the
// deployment platform's readiness probe.
func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	body := gin.H{"status": "healthy"}
	status := http.StatusOK

	if err := s.db.HealthCheck(ctx); err != nil {
		body["status"] = "unhealthy"
		body["database"] = "unhealthy"
		status = http.StatusServiceUnavailable
	} else {
		body["database"] = "healthy"
	}

	if s.cache != nil {
		if s.cache.IsHealthy() {
			body["cache"] = "healthy"
		} else {
			body["cache"] = "degraded"
		}
	}

	c.JSON(status, body)
}

// Start runs the HTTP server until it is stopped or fails.
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.cfg.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("serve http: %w", err)
	}
	return nil
}

// Shutdown gracefully drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
