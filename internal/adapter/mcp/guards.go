package mcp

import (
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
	"golang.org/x/time/rate"
)

const (
	defaultServerMaxPayloadBytes = 1 << 20
	defaultServerRateBurst       = 20
)

type ServerRuntimeConfig struct {
	MaxPayloadBytes int
	// RateLimit is tool calls per second. Zero disables limiting.
	RateLimit float64
	RateBurst int
}

func defaultServerRuntimeConfig() ServerRuntimeConfig {
	return ServerRuntimeConfig{
		MaxPayloadBytes: defaultServerMaxPayloadBytes,
		RateBurst:       defaultServerRateBurst,
	}
}

func normalizeServerRuntimeConfig(cfg ServerRuntimeConfig) ServerRuntimeConfig {
	out := defaultServerRuntimeConfig()
	if cfg.MaxPayloadBytes > 0 {
		out.MaxPayloadBytes = cfg.MaxPayloadBytes
	}
	if cfg.RateLimit > 0 {
		out.RateLimit = cfg.RateLimit
	}
	if cfg.RateBurst > 0 {
		out.RateBurst = cfg.RateBurst
	}
	return out
}

type requestGuards struct {
	maxPayloadBytes int
	limiter         *rate.Limiter
}

func newRequestGuards(cfg ServerRuntimeConfig) *requestGuards {
	normalized := normalizeServerRuntimeConfig(cfg)
	g := &requestGuards{
		maxPayloadBytes: normalized.MaxPayloadBytes,
	}
	if normalized.RateLimit > 0 {
		g.limiter = rate.NewLimiter(rate.Limit(normalized.RateLimit), normalized.RateBurst)
	}
	return g
}

func (g *requestGuards) checkAndConsume(payload []byte) error {
	if g.maxPayloadBytes > 0 && len(payload) > g.maxPayloadBytes {
		return wireError(
			jsonrpc.CodeInvalidParams,
			"request payload exceeds configured limit",
			map[string]any{
				"payload_bytes": len(payload),
				"max_bytes":     g.maxPayloadBytes,
			},
		)
	}
	if g.limiter != nil && !g.limiter.Allow() {
		return wireError(
			errorCodeRateLimited,
			"rate limit exceeded",
			map[string]any{
				"retryable":  true,
				"rate_limit": float64(g.limiter.Limit()),
				"burst":      g.limiter.Burst(),
			},
		)
	}
	return nil
}

func (c ServerRuntimeConfig) Validate() error {
	if c.MaxPayloadBytes < 0 {
		return fmt.Errorf("max payload bytes must be >= 0")
	}
	if c.RateLimit < 0 {
		return fmt.Errorf("rate limit must be >= 0")
	}
	if c.RateLimit > 0 && c.RateBurst <= 0 {
		return fmt.Errorf("rate burst must be positive when rate limiting is enabled")
	}
	return nil
}
