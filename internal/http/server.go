// Package http exposes the claims core over a gin API surface. Handlers
// stay thin: bind, delegate to the domain component, map the sentinel
// error to a status code.
package http

import (
	"log"
	"net/http"
	"strconv"
	"time"

	"coverpool/internal/audit"
	"coverpool/internal/domain/claims"
	"coverpool/internal/idempotency"
	"coverpool/internal/ledger"
	"coverpool/internal/metrics"
	"coverpool/internal/pool"
	"coverpool/internal/quorum"
	"coverpool/internal/verify"

	"github.com/gin-gonic/gin"
)

type ServerConfig struct {
	Addr               string
	RateLimitPerMinute int
}

type Deps struct {
	Ledger   *ledger.Ledger
	Verifier *verify.Service
	Quorum   *quorum.Quorum
	Pool     *pool.Pool
	Audit    *audit.Log
	Limiter  claims.RateLimiter
	Idem     *idempotency.Store
	Metrics  *metrics.Registry
	Authn    Authenticator
	Authz    claims.Authorizer
	Logger   *log.Logger
}

type Server struct {
	cfg      ServerConfig
	engine   *gin.Engine
	ledger   *ledger.Ledger
	verifier *verify.Service
	quorum   *quorum.Quorum
	pool     *pool.Pool
	audit    *audit.Log
	limiter  claims.RateLimiter
	idem     *idempotency.Store
	metrics  *metrics.Registry
	authn    Authenticator
	authz    claims.Authorizer
	logger   *log.Logger
}

func NewServer(cfg ServerConfig, deps Deps) *Server {
	if deps.Idem == nil {
		deps.Idem = idempotency.NewStore(idempotency.DefaultTTL)
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.NewRegistry()
	}
	if deps.Logger == nil {
		deps.Logger = log.Default()
	}
	s := &Server{
		cfg:      cfg,
		ledger:   deps.Ledger,
		verifier: deps.Verifier,
		quorum:   deps.Quorum,
		pool:     deps.Pool,
		audit:    deps.Audit,
		limiter:  deps.Limiter,
		idem:     deps.Idem,
		metrics:  deps.Metrics,
		authn:    deps.Authn,
		authz:    deps.Authz,
		logger:   deps.Logger,
	}
	s.engine = s.buildRouter()
	return s
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) Run() error {
	s.logger.Printf("http: listening on %s", s.cfg.Addr)
	return s.engine.Run(s.cfg.Addr)
}

func (s *Server) buildRouter() *gin.Engine {
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(s.rateLimitMiddleware())

	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	engine.GET("/metrics", gin.WrapH(s.metrics.Handler()))

	v1 := engine.Group("/v1")

	claimsGroup := v1.Group("/claims")
	claimsGroup.POST("", s.authed(claims.PermClaimWrite), s.handleSubmitClaim)
	claimsGroup.GET("", s.authed(claims.PermClaimRead), s.handleListClaims)
	claimsGroup.GET("/:id", s.authed(claims.PermClaimRead), s.handleGetClaim)
	claimsGroup.POST("/:id/payout", s.authed(claims.PermClaimOverride), s.handleRetryPayout)
	claimsGroup.POST("/:id/override", s.authed(claims.PermClaimOverride), s.handleOverrideClaim)
	claimsGroup.GET("/:id/events", s.authed(claims.PermClaimRead), s.handleAuditTrail)

	verifications := v1.Group("/verifications")
	verifications.GET("/:id", s.authed(claims.PermClaimRead), s.handleGetVerification)
	verifications.POST("/:id/respond", s.authed(claims.PermVerifyRespond), s.handleRespondVerification)
	verifications.POST("/:id/timeout", s.authed(""), s.handleCheckTimeout)

	approvals := v1.Group("/approvals")
	approvals.POST("", s.authed(claims.PermApprovalWrite), s.handleCreateApproval)
	approvals.GET("/:id", s.authed(claims.PermApprovalRead), s.handleGetApproval)
	approvals.POST("/:id/approve", s.authed(claims.PermApprovalWrite), s.handleApprove)

	quorumGroup := v1.Group("/quorum")
	quorumGroup.POST("/signers", s.authed(claims.PermApprovalWrite), s.handleAddSigner)
	quorumGroup.DELETE("/signers/:id", s.authed(claims.PermApprovalWrite), s.handleRemoveSigner)
	quorumGroup.PUT("/threshold", s.authed(claims.PermApprovalWrite), s.handleChangeThreshold)

	poolGroup := v1.Group("/pool")
	poolGroup.POST("/deposits", s.authed(claims.PermPoolDeposit), s.handleDeposit)
	poolGroup.GET("/balance", s.authed(claims.PermPoolRead), s.handlePoolBalance)
	poolGroup.GET("/utilization", s.authed(claims.PermPoolRead), s.handlePoolUtilization)
	// Owner gate is enforced by the pool itself against the caller subject.
	poolGroup.POST("/emergency-withdrawals", s.authed(""), s.handleEmergencyWithdraw)

	return engine
}

func (s *Server) authed(permission string) gin.HandlerFunc {
	return AuthMiddleware(s.authn, s.authz, permission, false)
}

// rateLimitMiddleware applies a fixed per-minute window keyed by client
// address. Limiter errors fail open; the limiter protects against abuse,
// not against its own outages.
func (s *Server) rateLimitMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.limiter == nil || s.cfg.RateLimitPerMinute <= 0 {
			c.Next()
			return
		}
		decision, err := s.limiter.Allow(c.Request.Context(), "ip:"+c.ClientIP(), s.cfg.RateLimitPerMinute, time.Minute)
		if err != nil {
			s.logger.Printf("http: rate limiter error: %v", err)
			c.Next()
			return
		}
		c.Header("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
		if !decision.Allowed {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, ErrorResponse{
				Code:    "RATE_LIMITED",
				Message: "request rate exceeded",
			})
			return
		}
		c.Next()
	}
}

// refreshPoolGauges pushes current pool readings to the metrics registry
// after any operation that can move balances.
func (s *Server) refreshPoolGauges() {
	for asset, balance := range s.pool.Balances() {
		s.metrics.SetPoolBalance(string(asset), balance)
	}
	s.metrics.SetPoolUtilization(s.pool.Utilization())
}
