package mock

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestStableCoinsPinned(t *testing.T) {
	g := NewGenerator(zap.NewNop().Sugar(), 3000, 0.05)
	for _, sym := range []string{"USDCUSDT", "usdtusd", "DAIUSDT"} {
		price, err := g.FetchPrice(context.Background(), sym)
		require.NoError(t, err)
		assert.True(t, price.Equal(decimal.NewFromInt(1)), sym)
	}
}

func TestWalkStaysWithinBounds(t *testing.T) {
	g := NewGenerator(zap.NewNop().Sugar(), 100, 0.2)
	g.SetBasePrice("ETHUSDT", 2000)

	first, err := g.FetchPrice(context.Background(), "ETHUSDT")
	require.NoError(t, err)
	assert.Equal(t, "2000", first.String())

	lo, hi := decimal.NewFromInt(1000), decimal.NewFromInt(3000)
	for i := 0; i < 200; i++ {
		price, err := g.FetchPrice(context.Background(), "ETHUSDT")
		require.NoError(t, err)
		assert.True(t, price.GreaterThanOrEqual(lo) && price.LessThanOrEqual(hi), price.String())
	}
}

func TestDefaultBase(t *testing.T) {
	g := NewGenerator(zap.NewNop().Sugar(), 0, 0)
	price, err := g.FetchPrice(context.Background(), "ARBUSDT")
	require.NoError(t, err)
	assert.Equal(t, "1", price.String())
	assert.Equal(t, "mock", g.Name())
	assert.True(t, g.Health().Healthy)
}

func TestCancelledContext(t *testing.T) {
	g := NewGenerator(zap.NewNop().Sugar(), 1, 0.01)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := g.FetchPrice(ctx, "ETHUSDT")
	assert.ErrorIs(t, err, context.Canceled)
}
