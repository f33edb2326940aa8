package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	accountdomain "github.com/smallbiznis/chargegate/internal/account/domain"
	appdomain "github.com/smallbiznis/chargegate/internal/app/domain"
	billingdomain "github.com/smallbiznis/chargegate/internal/billing/domain"
	quotadomain "github.com/smallbiznis/chargegate/internal/quota/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type EvaluatorParam struct {
	fx.In

	Log        *zap.Logger
	AccountSvc accountdomain.Service
	AppSvc     appdomain.Service
	QuotaSvc   quotadomain.Service
	BillingSvc billingdomain.Service
}

// Evaluator runs the balance and quota checks that back a full (non-cached)
// admission decision.
type Evaluator struct {
	log *zap.Logger

	accountSvc accountdomain.Service
	appSvc     appdomain.Service
	quotaSvc   quotadomain.Service
	billingSvc billingdomain.Service
}

func NewEvaluator(p EvaluatorParam) *Evaluator {
	return &Evaluator{
		log:        p.Log.Named("gateway.evaluator"),
		accountSvc: p.AccountSvc,
		appSvc:     p.AppSvc,
		quotaSvc:   p.QuotaSvc,
		billingSvc: p.BillingSvc,
	}
}

// evaluation is everything a decision needs, fetched once.
type evaluation struct {
	subscriber *accountdomain.User
	app        *appdomain.App
	owner      *accountdomain.User
	pricing    *appdomain.Pricing

	// hasFreeQuota is nil when the caller has no pricing (not subscribed).
	hasFreeQuota *bool
	monthly      billingdomain.MonthlyChargeStatus
}

// Fetch issues the independent reads concurrently and awaits each value only
// where it is needed; the result is identical to sequential reads, the
// fan-out is purely for tail latency.
func (e *Evaluator) Fetch(ctx context.Context, userID snowflake.ID, appName string) (*evaluation, error) {
	ev := &evaluation{}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		subscriber, err := e.accountSvc.GetUser(gctx, userID)
		if err != nil {
			return err
		}
		ev.subscriber = subscriber
		return nil
	})
	g.Go(func() error {
		app, err := e.appSvc.GetApp(gctx, appName)
		if err != nil {
			return err
		}
		ev.app = app
		owner, err := e.accountSvc.GetUser(gctx, app.OwnerID)
		if err != nil {
			return err
		}
		ev.owner = owner
		return nil
	})
	g.Go(func() error {
		pricing, err := e.appSvc.GetSubscribedPricing(gctx, userID, appName)
		if err != nil {
			return err
		}
		ev.pricing = pricing
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if ev.pricing == nil {
		return ev, nil
	}

	g, gctx = errgroup.WithContext(ctx)
	g.Go(func() error {
		has, err := e.HasSufficientFreeQuota(gctx, userID, appName, ev.pricing)
		if err != nil {
			return err
		}
		ev.hasFreeQuota = has
		return nil
	})
	g.Go(func() error {
		monthly, err := e.billingSvc.EvaluateMonthlyCharge(gctx, userID, appName, ev.pricing.MinMonthlyCharge)
		if err != nil {
			return err
		}
		ev.monthly = monthly
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return ev, nil
}

// HasSufficientFreeQuota reports whether the subscriber still has free-quota
// headroom on the app; nil when there is no pricing to measure against.
func (e *Evaluator) HasSufficientFreeQuota(ctx context.Context, userID snowflake.ID, appName string, pricing *appdomain.Pricing) (*bool, error) {
	if pricing == nil {
		return nil, nil
	}
	row, err := e.quotaSvc.GetOrCreate(ctx, userID, appName)
	if err != nil {
		return nil, err
	}
	has := row.Usage < pricing.FreeQuota
	return &has, nil
}

// SubscriberCanAfford: balance covers one request plus any monthly minimum
// still due.
func (e *Evaluator) SubscriberCanAfford(ev *evaluation) bool {
	if ev.subscriber == nil || ev.pricing == nil {
		return false
	}
	needed := ev.pricing.ChargePerRequest
	if ev.monthly.Collect {
		needed = needed.Add(ev.monthly.Due)
	}
	return ev.subscriber.Balance.GreaterThanOrEqual(needed)
}

// OwnerCanCoverRequests: when the free quota absorbs the request, the owner
// only backstops the subscriber's pending monthly due, not the request fee.
// The asymmetry (subscriber's due, not an owner-specific amount) is
// intentional and load-bearing for the pairing of ledger entries.
func (e *Evaluator) OwnerCanCoverRequests(ev *evaluation) bool {
	if ev.owner == nil {
		return false
	}
	if !ev.monthly.Collect {
		return true
	}
	return ev.owner.Balance.GreaterThanOrEqual(ev.monthly.Due)
}
