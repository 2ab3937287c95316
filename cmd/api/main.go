package main

import (
	"context"
	"log"
	"time"

	"coverpool/internal/audit"
	"coverpool/internal/config"
	"coverpool/internal/domain/claims"
	"coverpool/internal/http"
	"coverpool/internal/http/auth"
	"coverpool/internal/idempotency"
	"coverpool/internal/infra/db"
	"coverpool/internal/infra/policyopa"
	"coverpool/internal/infra/ratelimit"
	"coverpool/internal/infra/settlement"
	"coverpool/internal/ledger"
	"coverpool/internal/metrics"
	"coverpool/internal/pool"
	"coverpool/internal/quorum"
	"coverpool/internal/verify"
)

func main() {
	cfg := config.FromEnv()
	logger := log.Default()
	ctx := context.Background()

	if cfg.AuthMode != "header" {
		logger.Fatalf("auth: unsupported AUTH_MODE %q", cfg.AuthMode)
	}

	var sinks []audit.Sink
	var policies claims.PolicySource
	if cfg.PostgresDSN != "" {
		store, err := db.NewStore(cfg.PostgresDSN)
		if err != nil {
			logger.Fatalf("postgres: %v", err)
		}
		defer store.Close()
		sinks = append(sinks, db.NewEventArchive(store.DB))
		policies = db.NewPolicyRepo(store.DB)
		logger.Printf("postgres: connected")
	} else {
		policies = claims.StaticPolicySource{}
		logger.Printf("postgres: no DSN, policies are empty and events stay in memory")
	}
	auditLog := audit.NewLog(sinks...)

	var settle settlement.Client
	if cfg.EthRPCURL != "" {
		eth, err := settlement.NewEthClient(ctx, settlement.EthClientConfig{
			RPCURL:        cfg.EthRPCURL,
			PrivateKeyHex: cfg.EthPrivateKeyHex,
			VaultAddress:  cfg.EthVaultAddress,
		})
		if err != nil {
			logger.Fatalf("eth settlement: %v", err)
		}
		settle = eth
		logger.Printf("settlement: on-chain vault %s", cfg.EthVaultAddress)
	} else {
		settle = settlement.NewFakeClient()
		logger.Printf("settlement: off-process (no ETH_RPC_URL)")
	}

	liquidity := pool.New(cfg.PoolOwner, settle, auditLog)
	if err := liquidity.AuthorizeWithdrawer(cfg.PoolOwner, ledger.WithdrawerIdentity); err != nil {
		logger.Fatalf("pool: authorize ledger: %v", err)
	}

	verifier := verify.New(cfg.VerifyTimeout, auditLog)

	signers := cfg.QuorumSigners
	if len(signers) == 0 {
		logger.Fatalf("quorum: QUORUM_SIGNERS is required")
	}
	q, err := quorum.New(signers, cfg.QuorumThreshold, auditLog)
	if err != nil {
		logger.Fatalf("quorum: %v", err)
	}

	var escalation ledger.EscalationPolicy
	if cfg.PolicyBundlePath != "" {
		engine, err := policyopa.NewEngineFromBundlePath(ctx, cfg.PolicyBundlePath, "escalation")
		if err != nil {
			logger.Fatalf("policy bundle: %v", err)
		}
		escalation = engine
		logger.Printf("escalation: opa bundle %s", cfg.PolicyBundlePath)
	} else {
		escalation = ledger.FixedThreshold{Threshold: cfg.EscalationThreshold}
		logger.Printf("escalation: fixed threshold %d", cfg.EscalationThreshold)
	}

	claimLedger := ledger.New(ledger.Deps{
		Policies:    policies,
		Verifier:    verifier,
		Quorum:      q,
		Pool:        liquidity,
		Escalation:  escalation,
		Authorities: cfg.Authorities,
		Operators:   cfg.Operators,
		Log:         auditLog,
	})
	verifier.SetHandler(claimLedger)
	q.SetReleaser(claimLedger)

	var limiter claims.RateLimiter
	if cfg.RedisAddr != "" {
		limiter, err = ratelimit.NewRedisLimiter(cfg.RedisAddr, cfg.RedisPassword, 0, time.Now)
		if err != nil {
			logger.Fatalf("redis limiter: %v", err)
		}
		logger.Printf("rate limit: redis %s", cfg.RedisAddr)
	} else {
		limiter = ratelimit.NewMemoryLimiter(ratelimit.MemoryLimiterConfig{})
		logger.Printf("rate limit: in-memory")
	}

	server := http.NewServer(http.ServerConfig{
		Addr:               cfg.HTTPAddr,
		RateLimitPerMinute: cfg.RateLimitPerMinute,
	}, http.Deps{
		Ledger:   claimLedger,
		Verifier: verifier,
		Quorum:   q,
		Pool:     liquidity,
		Audit:    auditLog,
		Limiter:  limiter,
		Idem:     idempotency.NewStore(idempotency.DefaultTTL),
		Metrics:  metrics.NewRegistry(),
		Authn:    auth.NewHeaderAuthenticator(),
		Authz:    auth.NewAuthorizer(),
		Logger:   logger,
	})

	if err := server.Run(); err != nil {
		logger.Fatalf("http: %v", err)
	}
}
