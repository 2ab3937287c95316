package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	HTTPAddr            string
	PostgresDSN         string
	RedisAddr           string
	RedisPassword       string
	EthRPCURL           string
	EthPrivateKeyHex    string
	EthVaultAddress     string
	PolicyBundlePath    string
	EscalationThreshold int64
	QuorumThreshold     int
	QuorumSigners       []string
	Authorities         []string
	Operators           []string
	PoolOwner           string
	VerifyTimeout       time.Duration
	RateLimitPerMinute  int
	AuthMode            string
}

func FromEnv() Config {
	addr := os.Getenv("HTTP_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	return Config{
		HTTPAddr:            addr,
		PostgresDSN:         os.Getenv("POSTGRES_DSN"),
		RedisAddr:           os.Getenv("REDIS_ADDR"),
		RedisPassword:       os.Getenv("REDIS_PASSWORD"),
		EthRPCURL:           os.Getenv("ETH_RPC_URL"),
		EthPrivateKeyHex:    os.Getenv("ETH_PRIVATE_KEY"),
		EthVaultAddress:     os.Getenv("ETH_VAULT_ADDRESS"),
		PolicyBundlePath:    os.Getenv("POLICY_BUNDLE_PATH"),
		EscalationThreshold: envInt64("ESCALATION_THRESHOLD", 10000),
		QuorumThreshold:     envInt("QUORUM_THRESHOLD", 2),
		QuorumSigners:       envList("QUORUM_SIGNERS"),
		Authorities:         envList("VERIFY_AUTHORITIES"),
		Operators:           envList("OVERRIDE_OPERATORS"),
		PoolOwner:           envDefault("POOL_OWNER", "pool-owner"),
		VerifyTimeout:       envDuration("VERIFY_TIMEOUT", time.Hour),
		RateLimitPerMinute:  envInt("RATE_LIMIT_RPM", 120),
		AuthMode:            envDefault("AUTH_MODE", "header"),
	}
}

func envDefault(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envInt64(key string, def int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}

func envList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
