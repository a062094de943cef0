package resolver

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/kithlabs/kith/internal/config"
)

// ErrResolverUnavailable is returned while the circuit is open and requests
// are being rejected to let the resolver recover.
var ErrResolverUnavailable = errors.New("identity resolver is unavailable")

// Guarded wraps an IdentityResolver with a circuit breaker and a rate
// limiter. The resolver is the one external dependency this engine calls, and
// connectors hammer it once per observation; the limiter keeps the request
// rate civil and the breaker stops a dead resolver from stalling every
// connector in turn.
type Guarded struct {
	inner   IdentityResolver
	breaker *gobreaker.CircuitBreaker
	limiter *rate.Limiter
	log     zerolog.Logger
}

// NewGuarded wraps inner with the configured breaker and limiter.
func NewGuarded(inner IdentityResolver, cfg *config.ResolverConfig, log zerolog.Logger) *Guarded {
	g := &Guarded{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Burst),
		log:     log.With().Str("component", "resolver").Logger(),
	}

	settings := gobreaker.Settings{
		Name:    "IdentityResolver",
		Timeout: cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.MaxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			g.log.Warn().
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("resolver circuit state changed")
		},
	}
	g.breaker = gobreaker.NewCircuitBreaker(settings)
	return g
}

// Resolve waits for rate-limit headroom, then calls the wrapped resolver
// through the circuit breaker. An open circuit fails fast with
// ErrResolverUnavailable instead of queueing work behind a dead upstream.
func (g *Guarded) Resolve(ctx context.Context, hint Hint) (*Resolution, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("failed to acquire resolver rate slot: %w", err)
	}

	result, err := g.breaker.Execute(func() (interface{}, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return g.inner.Resolve(ctx, hint)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, ErrResolverUnavailable
		}
		return nil, err
	}
	return result.(*Resolution), nil
}
