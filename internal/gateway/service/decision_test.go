package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	accountdomain "github.com/smallbiznis/chargegate/internal/account/domain"
	accountservice "github.com/smallbiznis/chargegate/internal/account/service"
	appdomain "github.com/smallbiznis/chargegate/internal/app/domain"
	appservice "github.com/smallbiznis/chargegate/internal/app/service"
	billingdomain "github.com/smallbiznis/chargegate/internal/billing/domain"
	billingservice "github.com/smallbiznis/chargegate/internal/billing/service"
	"github.com/smallbiznis/chargegate/internal/clock"
	"github.com/smallbiznis/chargegate/internal/config"
	gatewaydomain "github.com/smallbiznis/chargegate/internal/gateway/domain"
	quotadomain "github.com/smallbiznis/chargegate/internal/quota/domain"
	quotaservice "github.com/smallbiznis/chargegate/internal/quota/service"
	usagedomain "github.com/smallbiznis/chargegate/internal/usage/domain"
	usageservice "github.com/smallbiznis/chargegate/internal/usage/service"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type gatewayFixture struct {
	conn *gorm.DB
	clk  *clock.FakeClock
	node *snowflake.Node

	accounts accountdomain.Service
	apps     appdomain.Service

	counters *Counters
	caches   *Caches
	svc      gatewaydomain.Service
}

func newGatewayFixture(t *testing.T) *gatewayFixture {
	t.Helper()

	conn, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	sqlDB, err := conn.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, conn.AutoMigrate(
		&accountdomain.User{},
		&appdomain.App{},
		&appdomain.Pricing{},
		&appdomain.Subscription{},
		&usagedomain.UsageLog{},
		&usagedomain.UsageSummary{},
		&quotadomain.FreeQuotaUsage{},
		&billingdomain.AccountActivity{},
		&gatewaydomain.GatewayRequestCounter{},
		&gatewaydomain.GatewayRequestDecisionCache{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	clk := clock.NewFakeClock(time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC))
	log := zap.NewNop()
	cfg := config.Config{
		ServiceFeePerRequest:    "0.0001",
		MonthlyChargeOnHoldDays: 30,
	}

	accounts := accountservice.NewService(accountservice.ServiceParam{DB: conn, Log: log, GenID: node})
	apps := appservice.NewService(appservice.ServiceParam{DB: conn, Log: log, GenID: node})
	quota := quotaservice.NewService(quotaservice.ServiceParam{DB: conn, Log: log, GenID: node, Clock: clk})
	usage := usageservice.NewService(usageservice.ServiceParam{DB: conn, Log: log, GenID: node, Clock: clk})
	billing, err := billingservice.NewService(billingservice.ServiceParam{
		DB: conn, Log: log, GenID: node, Clock: clk, Config: cfg,
		AccountSvc: accounts, AppSvc: apps, QuotaSvc: quota, UsageSvc: usage,
	})
	require.NoError(t, err)

	evaluator := NewEvaluator(EvaluatorParam{
		Log:        log,
		AccountSvc: accounts,
		AppSvc:     apps,
		QuotaSvc:   quota,
		BillingSvc: billing,
	})
	counters := NewCounters(CountersParam{DB: conn, Log: log, GenID: node, Clock: clk})
	caches, err := NewCaches(CachesParam{
		DB: conn, Log: log, GenID: node, Clock: clk, Config: cfg,
		Evaluator: evaluator,
	})
	require.NoError(t, err)

	svc := NewService(ServiceParam{
		Log:       log,
		Counters:  counters,
		Caches:    caches,
		Evaluator: evaluator,
	})

	return &gatewayFixture{
		conn: conn,
		clk:  clk,
		node: node,

		accounts: accounts,
		apps:     apps,

		counters: counters,
		caches:   caches,
		svc:      svc,
	}
}

func (f *gatewayFixture) seedUser(t *testing.T, name, balance string) *accountdomain.User {
	t.Helper()
	user := &accountdomain.User{Name: name, Balance: decimal.RequireFromString(balance)}
	require.NoError(t, f.accounts.CreateUser(context.Background(), user))
	return user
}

func (f *gatewayFixture) seedSubscription(t *testing.T, subscriberID, ownerID snowflake.ID, appName, charge, minMonthly string, freeQuota int64) *appdomain.Pricing {
	t.Helper()
	ctx := context.Background()

	require.NoError(t, f.apps.CreateApp(ctx, &appdomain.App{Name: appName, OwnerID: ownerID}))
	pricing := &appdomain.Pricing{
		AppName:          appName,
		Name:             "standard",
		ChargePerRequest: decimal.RequireFromString(charge),
		MinMonthlyCharge: decimal.RequireFromString(minMonthly),
		FreeQuota:        freeQuota,
		Active:           true,
	}
	require.NoError(t, f.apps.CreatePricing(ctx, pricing))
	_, err := f.apps.Subscribe(ctx, subscriberID, appName, pricing.ID)
	require.NoError(t, err)
	return pricing
}

func TestCheckAllowsSolventSubscriber(t *testing.T) {
	f := newGatewayFixture(t)
	ctx := context.Background()

	owner := f.seedUser(t, "owner", "10")
	subscriber := f.seedUser(t, "subscriber", "10")
	pricing := f.seedSubscription(t, subscriber.ID, owner.ID, "weather-api", "0.001", "1", 0)

	decision, err := f.svc.CheckUserIsAllowed(ctx, gatewaydomain.CheckRequest{
		UserID:            subscriber.ID,
		AppName:           "weather-api",
		ForceBalanceCheck: true,
		ForceAwait:        true,
	})
	require.NoError(t, err)
	require.True(t, decision.Allowed)
	require.Equal(t, gatewaydomain.ReasonNone, decision.Reason)
	require.Equal(t, pricing.PK(), decision.PricingPK)
	require.Equal(t, subscriber.PK(), decision.UserPK)
}

func TestCheckDeniesUnsubscribedUser(t *testing.T) {
	f := newGatewayFixture(t)
	ctx := context.Background()

	owner := f.seedUser(t, "owner", "10")
	stranger := f.seedUser(t, "stranger", "10")
	require.NoError(t, f.apps.CreateApp(ctx, &appdomain.App{Name: "weather-api", OwnerID: owner.ID}))

	decision, err := f.svc.CheckUserIsAllowed(ctx, gatewaydomain.CheckRequest{
		UserID:            stranger.ID,
		AppName:           "weather-api",
		ForceBalanceCheck: true,
		ForceAwait:        true,
	})
	require.NoError(t, err)
	require.False(t, decision.Allowed)
	require.Equal(t, gatewaydomain.ReasonNotSubscribed, decision.Reason)
}

func TestCheckDeniesInsufficientBalance(t *testing.T) {
	f := newGatewayFixture(t)
	ctx := context.Background()

	owner := f.seedUser(t, "owner", "10")
	subscriber := f.seedUser(t, "subscriber", "0.5")
	f.seedSubscription(t, subscriber.ID, owner.ID, "weather-api", "0.001", "1", 0)

	decision, err := f.svc.CheckUserIsAllowed(ctx, gatewaydomain.CheckRequest{
		UserID:            subscriber.ID,
		AppName:           "weather-api",
		ForceBalanceCheck: true,
		ForceAwait:        true,
	})
	require.NoError(t, err)
	require.False(t, decision.Allowed)
	require.Equal(t, gatewaydomain.ReasonInsufficientBalance, decision.Reason)
}

func TestCheckDeniesWhenOwnerCannotCover(t *testing.T) {
	f := newGatewayFixture(t)
	ctx := context.Background()

	// Requests ride the free quota, but the subscriber still owes the monthly
	// minimum and the owner cannot backstop it.
	owner := f.seedUser(t, "owner", "0")
	subscriber := f.seedUser(t, "subscriber", "10")
	f.seedSubscription(t, subscriber.ID, owner.ID, "weather-api", "0.001", "1", 100)

	decision, err := f.svc.CheckUserIsAllowed(ctx, gatewaydomain.CheckRequest{
		UserID:            subscriber.ID,
		AppName:           "weather-api",
		ForceBalanceCheck: true,
		ForceAwait:        true,
	})
	require.NoError(t, err)
	require.False(t, decision.Allowed)
	require.Equal(t, gatewaydomain.ReasonOwnerInsufficientBalance, decision.Reason)
}

func TestCheckDeniesOverRateLimit(t *testing.T) {
	f := newGatewayFixture(t)
	ctx := context.Background()
	user := snowflake.ID(42)

	require.NoError(t, f.conn.Create(&gatewaydomain.GatewayRequestCounter{
		ID:                    f.node.Generate(),
		RequesterID:           user,
		AppName:               gatewaydomain.GlobalAppSentinel,
		Counter:               6000,
		CounterSinceLastReset: 6000,
		LastResetAt:           f.clk.Now(),
	}).Error)

	decision, err := f.svc.CheckUserIsAllowed(ctx, gatewaydomain.CheckRequest{
		UserID:  user,
		AppName: "weather-api",
	})
	require.NoError(t, err)
	require.False(t, decision.Allowed)
	require.Equal(t, gatewaydomain.ReasonTooManyRequests, decision.Reason)
}

func TestCheckDeniesWhenCounterCreateLosesRace(t *testing.T) {
	f := newGatewayFixture(t)
	ctx := context.Background()
	user := snowflake.ID(42)

	failNextCreate(t, f.conn,
		func(dest any) bool {
			_, ok := dest.(*gatewaydomain.GatewayRequestCounter)
			return ok
		},
		func() {
			require.NoError(t, f.conn.Create(&gatewaydomain.GatewayRequestCounter{
				ID:                    f.node.Generate(),
				RequesterID:           user,
				AppName:               gatewaydomain.GlobalAppSentinel,
				Counter:               1,
				CounterSinceLastReset: 1,
				LastResetAt:           f.clk.Now(),
			}).Error)
		})

	decision, err := f.svc.CheckUserIsAllowed(ctx, gatewaydomain.CheckRequest{
		UserID:  user,
		AppName: "weather-api",
	})
	require.NoError(t, err)
	require.False(t, decision.Allowed)
	require.Equal(t, gatewaydomain.ReasonTooManyRequests, decision.Reason)
}

func TestCheckDeniesWhenCacheCreateLosesRace(t *testing.T) {
	f := newGatewayFixture(t)
	ctx := context.Background()

	owner := f.seedUser(t, "owner", "10")
	subscriber := f.seedUser(t, "subscriber", "10")
	f.seedSubscription(t, subscriber.ID, owner.ID, "weather-api", "0.001", "1", 0)

	failNextCreate(t, f.conn,
		func(dest any) bool {
			_, ok := dest.(*gatewaydomain.GatewayRequestDecisionCache)
			return ok
		},
		func() {
			require.NoError(t, f.conn.Create(&gatewaydomain.GatewayRequestDecisionCache{
				ID:                       f.node.Generate(),
				RequesterID:              subscriber.ID,
				AppName:                  gatewaydomain.GlobalAppSentinel,
				NextForcedBalanceCheckAt: f.clk.Now(),
			}).Error)
		})

	// The lost cache-create race denies this one request and nothing else.
	first, err := f.svc.CheckUserIsAllowed(ctx, gatewaydomain.CheckRequest{
		UserID:            subscriber.ID,
		AppName:           "weather-api",
		ForceBalanceCheck: true,
		ForceAwait:        true,
	})
	require.NoError(t, err)
	require.False(t, first.Allowed)
	require.Equal(t, gatewaydomain.ReasonTooManyRequests, first.Reason)

	// The retry reads the winner's row and runs the full evaluation.
	second, err := f.svc.CheckUserIsAllowed(ctx, gatewaydomain.CheckRequest{
		UserID:            subscriber.ID,
		AppName:           "weather-api",
		ForceBalanceCheck: true,
		ForceAwait:        true,
	})
	require.NoError(t, err)
	require.True(t, second.Allowed)
}

func TestCheckUsesCachedVerdict(t *testing.T) {
	f := newGatewayFixture(t)
	ctx := context.Background()

	owner := f.seedUser(t, "owner", "10")
	subscriber := f.seedUser(t, "subscriber", "10")
	pricing := f.seedSubscription(t, subscriber.ID, owner.ID, "weather-api", "0.001", "1", 0)

	first, err := f.svc.CheckUserIsAllowed(ctx, gatewaydomain.CheckRequest{
		UserID:            subscriber.ID,
		AppName:           "weather-api",
		ForceBalanceCheck: true,
		ForceAwait:        true,
	})
	require.NoError(t, err)
	require.True(t, first.Allowed)

	// The second check rides the cached window; no force, no full evaluation.
	second, err := f.svc.CheckUserIsAllowed(ctx, gatewaydomain.CheckRequest{
		UserID:     subscriber.ID,
		AppName:    "weather-api",
		ForceAwait: true,
	})
	require.NoError(t, err)
	require.True(t, second.Allowed)
	require.Equal(t, pricing.PK(), second.PricingPK)
	require.Equal(t, subscriber.PK(), second.UserPK)
}

func TestCheckSurfacesMissingEntities(t *testing.T) {
	f := newGatewayFixture(t)
	ctx := context.Background()

	owner := f.seedUser(t, "owner", "10")
	subscriber := f.seedUser(t, "subscriber", "10")
	require.NoError(t, f.apps.CreateApp(ctx, &appdomain.App{Name: "weather-api", OwnerID: owner.ID}))

	_, err := f.svc.CheckUserIsAllowed(ctx, gatewaydomain.CheckRequest{
		UserID:            subscriber.ID,
		AppName:           "no-such-app",
		ForceBalanceCheck: true,
		ForceAwait:        true,
	})
	require.ErrorIs(t, err, appdomain.ErrAppNotFound)

	_, err = f.svc.CheckUserIsAllowed(ctx, gatewaydomain.CheckRequest{
		UserID:            snowflake.ID(999),
		AppName:           "weather-api",
		ForceBalanceCheck: true,
		ForceAwait:        true,
	})
	require.ErrorIs(t, err, accountdomain.ErrUserNotFound)
}
