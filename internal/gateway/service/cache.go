package service

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	appdomain "github.com/smallbiznis/chargegate/internal/app/domain"
	"github.com/smallbiznis/chargegate/internal/clock"
	"github.com/smallbiznis/chargegate/internal/config"
	gatewaydomain "github.com/smallbiznis/chargegate/internal/gateway/domain"
	"github.com/smallbiznis/chargegate/internal/metrics"
	"github.com/smallbiznis/chargegate/pkg/money"
	"github.com/smallbiznis/chargegate/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	// maxChecksToSkip caps how many requests may bypass the full evaluator.
	maxChecksToSkip = 100
	// recheckCeiling is the hard staleness bound regardless of request volume.
	recheckCeiling = time.Hour

	// refresh margins: recompute before the window actually closes.
	refreshCountMargin = 10
	refreshTimeMargin  = 10 * time.Minute

	// conservative divisors on the raw affordability estimates.
	subscriberSkipDivisor = 100
	ownerSkipDivisor      = 10000
)

type CachesParam struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	GenID     *snowflake.Node
	Clock     clock.Clock
	Config    config.Config
	Evaluator *Evaluator
	Metrics   *metrics.Metrics `optional:"true"`
}

// Caches maintains the heuristically-bounded decision cache.
type Caches struct {
	db  *gorm.DB
	log *zap.Logger

	genID     *snowflake.Node
	clock     clock.Clock
	evaluator *Evaluator
	metrics   *metrics.Metrics
	repo      repository.Repository[gatewaydomain.GatewayRequestDecisionCache]

	serviceFeePerRequest decimal.Decimal
}

func NewCaches(p CachesParam) (*Caches, error) {
	serviceFee, err := money.Parse(p.Config.ServiceFeePerRequest)
	if err != nil {
		return nil, err
	}
	return &Caches{
		db:  p.DB,
		log: p.Log.Named("gateway.caches"),

		genID:     p.GenID,
		clock:     p.Clock,
		evaluator: p.Evaluator,
		metrics:   p.Metrics,
		repo:      repository.ProvideStore[gatewaydomain.GatewayRequestDecisionCache](p.DB),

		serviceFeePerRequest: serviceFee,
	}, nil
}

// EstimateAllowance is a conservative heuristic for how many requests may be
// admitted without re-reading balances. The time bound is always the fixed
// one-hour ceiling, independent of the count estimate.
func (c *Caches) EstimateAllowance(subscriberBalance, ownerBalance decimal.Decimal, pricing *appdomain.Pricing) (numChecksToSkip int64, timeUntilNextCheck time.Duration) {
	if pricing == nil {
		return 0, recheckCeiling
	}

	maxBySubscriber := int64(maxChecksToSkip)
	if pricing.ChargePerRequest.IsPositive() {
		headroom := money.ClampFloor(subscriberBalance.Sub(pricing.MinMonthlyCharge), decimal.Zero)
		maxBySubscriber = headroom.Div(pricing.ChargePerRequest).IntPart() / subscriberSkipDivisor
	}

	maxByOwner := int64(maxChecksToSkip)
	if c.serviceFeePerRequest.IsPositive() {
		owner := money.ClampFloor(ownerBalance, decimal.Zero)
		maxByOwner = owner.Div(c.serviceFeePerRequest).IntPart() / ownerSkipDivisor
	}

	numChecksToSkip = maxBySubscriber
	if maxByOwner < numChecksToSkip {
		numChecksToSkip = maxByOwner
	}
	if numChecksToSkip > maxChecksToSkip {
		numChecksToSkip = maxChecksToSkip
	}
	if numChecksToSkip < 0 {
		numChecksToSkip = 0
	}
	return numChecksToSkip, recheckCeiling
}

// GetOrCreate reads the cache row for (user, <global>), computing and storing
// a fresh estimate when absent. A nil, nil return means this worker lost the
// first-create race; the caller treats that as a transient deny.
func (c *Caches) GetOrCreate(ctx context.Context, userID snowflake.ID, appName string, currentCounter int64) (*gatewaydomain.GatewayRequestDecisionCache, error) {
	query := &gatewaydomain.GatewayRequestDecisionCache{
		RequesterID: userID,
		AppName:     gatewaydomain.GlobalAppSentinel,
	}

	existing, err := c.repo.FindOne(ctx, query)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	row, err := c.compute(ctx, userID, appName, currentCounter)
	if err != nil {
		return nil, err
	}
	err = c.repo.Create(ctx, row)
	if errors.Is(err, repository.ErrAlreadyExists) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return row, nil
}

// CreateOrUpdate recomputes the bounds and persists them, creating the row if
// needed. Same nil-on-lost-race contract as GetOrCreate.
func (c *Caches) CreateOrUpdate(ctx context.Context, userID snowflake.ID, appName string, currentCounter int64) (*gatewaydomain.GatewayRequestDecisionCache, error) {
	row, err := c.compute(ctx, userID, appName, currentCounter)
	if err != nil {
		return nil, err
	}

	affected, err := c.repo.Update(ctx,
		&gatewaydomain.GatewayRequestDecisionCache{
			RequesterID: userID,
			AppName:     gatewaydomain.GlobalAppSentinel,
		},
		map[string]any{
			"next_forced_balance_check_request_count": row.NextForcedBalanceCheckRequestCount,
			"next_forced_balance_check_at":            row.NextForcedBalanceCheckAt,
			"pricing_pk":                              row.PricingPK,
			"user_pk":                                 row.UserPK,
			"updated_at":                              c.clock.Now(),
		})
	if err != nil {
		return nil, err
	}
	if affected > 0 {
		if c.metrics != nil {
			c.metrics.RecordCacheRefresh()
		}
		return row, nil
	}

	err = c.repo.Create(ctx, row)
	if errors.Is(err, repository.ErrAlreadyExists) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return row, nil
}

// ShouldSkip reports whether the cached window still admits this request
// without a full evaluator pass. Cached pricing evidence is required: a row
// computed for an unsubscribed caller never short-circuits.
func (c *Caches) ShouldSkip(cache *gatewaydomain.GatewayRequestDecisionCache, currentCounter int64, forceBalanceCheck bool) bool {
	if cache == nil || forceBalanceCheck || cache.PricingPK == "" {
		return false
	}
	return cache.NextForcedBalanceCheckRequestCount > currentCounter &&
		cache.NextForcedBalanceCheckAt.After(c.clock.Now())
}

// NeedsRefresh reports whether the cached window is close enough to closing
// that it should be recomputed now.
func (c *Caches) NeedsRefresh(cache *gatewaydomain.GatewayRequestDecisionCache, currentCounter int64) bool {
	if cache == nil {
		return false
	}
	return cache.NextForcedBalanceCheckRequestCount-currentCounter < refreshCountMargin ||
		cache.NextForcedBalanceCheckAt.Sub(c.clock.Now()) < refreshTimeMargin
}

func (c *Caches) compute(ctx context.Context, userID snowflake.ID, appName string, currentCounter int64) (*gatewaydomain.GatewayRequestDecisionCache, error) {
	ev, err := c.evaluator.Fetch(ctx, userID, appName)
	if err != nil {
		return nil, err
	}

	subscriberBalance := decimal.Zero
	if ev.subscriber != nil {
		subscriberBalance = ev.subscriber.Balance
	}
	ownerBalance := decimal.Zero
	if ev.owner != nil {
		ownerBalance = ev.owner.Balance
	}

	skip, ttl := c.EstimateAllowance(subscriberBalance, ownerBalance, ev.pricing)

	now := c.clock.Now()
	row := &gatewaydomain.GatewayRequestDecisionCache{
		ID:                                 c.genID.Generate(),
		RequesterID:                        userID,
		AppName:                            gatewaydomain.GlobalAppSentinel,
		NextForcedBalanceCheckRequestCount: currentCounter + skip,
		NextForcedBalanceCheckAt:           now.Add(ttl),
		CreatedAt:                          now,
		UpdatedAt:                          now,
	}
	if ev.pricing != nil {
		row.PricingPK = ev.pricing.PK()
	}
	if ev.subscriber != nil {
		row.UserPK = ev.subscriber.PK()
	}
	return row, nil
}
