package resolver

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kithlabs/kith/internal/config"
	"github.com/kithlabs/kith/pkg/types"
)

type scriptedResolver struct {
	calls int
	fail  bool
}

func (s *scriptedResolver) Resolve(ctx context.Context, hint Hint) (*Resolution, error) {
	s.calls++
	if s.fail {
		return nil, errors.New("resolver exploded")
	}
	return &Resolution{
		Person:     &types.PersonEntity{ID: "per:resolved", CanonicalName: hint.Name},
		Confidence: 0.9,
	}, nil
}

func guardConfig() *config.ResolverConfig {
	return &config.ResolverConfig{
		MaxFailures:    3,
		BreakerTimeout: time.Minute,
		RatePerSecond:  1000,
		Burst:          1000,
	}
}

func TestGuardedPassesThrough(t *testing.T) {
	inner := &scriptedResolver{}
	g := NewGuarded(inner, guardConfig(), zerolog.Nop())

	res, err := g.Resolve(context.Background(), Hint{Name: "Dana Velez"})
	require.NoError(t, err)
	assert.Equal(t, "per:resolved", res.Person.ID)
	assert.Equal(t, 0.9, res.Confidence)
	assert.Equal(t, 1, inner.calls)
}

func TestGuardedTripsAfterConsecutiveFailures(t *testing.T) {
	inner := &scriptedResolver{fail: true}
	g := NewGuarded(inner, guardConfig(), zerolog.Nop())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := g.Resolve(ctx, Hint{Email: "dana@example.com"})
		require.Error(t, err)
		require.NotErrorIs(t, err, ErrResolverUnavailable, "failures below the trip point surface as-is")
	}

	// The circuit is now open: calls fail fast without reaching the inner
	// resolver.
	before := inner.calls
	_, err := g.Resolve(ctx, Hint{Email: "dana@example.com"})
	assert.ErrorIs(t, err, ErrResolverUnavailable)
	assert.Equal(t, before, inner.calls)
}

func TestGuardedRecoversAfterTimeout(t *testing.T) {
	cfg := guardConfig()
	cfg.BreakerTimeout = 50 * time.Millisecond

	inner := &scriptedResolver{fail: true}
	g := NewGuarded(inner, cfg, zerolog.Nop())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, _ = g.Resolve(ctx, Hint{Phone: "+15550100"})
	}
	_, err := g.Resolve(ctx, Hint{Phone: "+15550100"})
	require.ErrorIs(t, err, ErrResolverUnavailable)

	// After the open window the breaker lets a probe through, and a
	// healthy upstream closes it again.
	inner.fail = false
	time.Sleep(80 * time.Millisecond)
	res, err := g.Resolve(ctx, Hint{Phone: "+15550100"})
	require.NoError(t, err)
	assert.Equal(t, "per:resolved", res.Person.ID)
}

func TestGuardedHonorsContextCancellation(t *testing.T) {
	inner := &scriptedResolver{}
	g := NewGuarded(inner, guardConfig(), zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := g.Resolve(ctx, Hint{Name: "Dana Velez"})
	assert.Error(t, err)
	assert.Equal(t, 0, inner.calls)
}
