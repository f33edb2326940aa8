package service

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	appdomain "github.com/smallbiznis/chargegate/internal/app/domain"
	gatewaydomain "github.com/smallbiznis/chargegate/internal/gateway/domain"
	"github.com/stretchr/testify/require"
)

func TestEstimateAllowance(t *testing.T) {
	f := newGatewayFixture(t)
	pricing := &appdomain.Pricing{
		ChargePerRequest: decimal.RequireFromString("0.001"),
		MinMonthlyCharge: decimal.RequireFromString("1"),
	}

	// No pricing: nothing may be skipped, but the time bound still applies.
	skip, ttl := f.caches.EstimateAllowance(decimal.Zero, decimal.Zero, nil)
	require.EqualValues(t, 0, skip)
	require.Equal(t, time.Hour, ttl)

	// balance 10, minimum 1: headroom 9 / 0.001 = 9000, conservatively / 100.
	// owner 10 / 0.0001 = 100000, conservatively / 10000.
	skip, ttl = f.caches.EstimateAllowance(
		decimal.RequireFromString("10"),
		decimal.RequireFromString("10"),
		pricing,
	)
	require.EqualValues(t, 10, skip)
	require.Equal(t, time.Hour, ttl)

	// Deep balances clamp at the hard skip ceiling.
	skip, _ = f.caches.EstimateAllowance(
		decimal.RequireFromString("100000"),
		decimal.RequireFromString("100000"),
		pricing,
	)
	require.EqualValues(t, 100, skip)

	// A balance below the monthly minimum admits nothing on trust.
	skip, _ = f.caches.EstimateAllowance(
		decimal.RequireFromString("0.5"),
		decimal.RequireFromString("100000"),
		pricing,
	)
	require.EqualValues(t, 0, skip)

	// A broke owner blocks skipping regardless of the subscriber.
	skip, _ = f.caches.EstimateAllowance(
		decimal.RequireFromString("100000"),
		decimal.Zero,
		pricing,
	)
	require.EqualValues(t, 0, skip)
}

func TestShouldSkip(t *testing.T) {
	f := newGatewayFixture(t)
	now := f.clk.Now()

	cache := &gatewaydomain.GatewayRequestDecisionCache{
		NextForcedBalanceCheckRequestCount: 10,
		NextForcedBalanceCheckAt:           now.Add(time.Hour),
		PricingPK:                          "pricing:weather-api:1",
		UserPK:                             "user:1",
	}

	require.True(t, f.caches.ShouldSkip(cache, 5, false))
	require.False(t, f.caches.ShouldSkip(nil, 5, false))
	require.False(t, f.caches.ShouldSkip(cache, 5, true))
	require.False(t, f.caches.ShouldSkip(cache, 10, false))
	require.False(t, f.caches.ShouldSkip(cache, 11, false))

	// A row computed for an unsubscribed caller carries no pricing evidence
	// and never short-circuits.
	unsubscribed := *cache
	unsubscribed.PricingPK = ""
	require.False(t, f.caches.ShouldSkip(&unsubscribed, 5, false))

	f.clk.Advance(2 * time.Hour)
	require.False(t, f.caches.ShouldSkip(cache, 5, false))
}

func TestNeedsRefresh(t *testing.T) {
	f := newGatewayFixture(t)
	now := f.clk.Now()

	fresh := &gatewaydomain.GatewayRequestDecisionCache{
		NextForcedBalanceCheckRequestCount: 100,
		NextForcedBalanceCheckAt:           now.Add(time.Hour),
	}
	require.False(t, f.caches.NeedsRefresh(fresh, 5))

	// Within ten requests of the bound.
	require.True(t, f.caches.NeedsRefresh(fresh, 95))

	// Within ten minutes of the bound.
	f.clk.Advance(51 * time.Minute)
	require.True(t, f.caches.NeedsRefresh(fresh, 5))

	require.False(t, f.caches.NeedsRefresh(nil, 0))
}
