package service

import (
	"context"

	gatewaydomain "github.com/smallbiznis/chargegate/internal/gateway/domain"
	"github.com/smallbiznis/chargegate/internal/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type ServiceParam struct {
	fx.In

	Log       *zap.Logger
	Counters  *Counters
	Caches    *Caches
	Evaluator *Evaluator
	Metrics   *metrics.Metrics `optional:"true"`
}

// Service is the gateway decision orchestrator.
type Service struct {
	log *zap.Logger

	counters  *Counters
	caches    *Caches
	evaluator *Evaluator
	metrics   *metrics.Metrics
}

func NewService(p ServiceParam) gatewaydomain.Service {
	return &Service{
		log: p.Log.Named("gateway.service"),

		counters:  p.Counters,
		caches:    p.Caches,
		evaluator: p.Evaluator,
		metrics:   p.Metrics,
	}
}

// CheckUserIsAllowed evaluates, in order: the rate check, the decision cache,
// the cached fast path, then the full balance and quota evaluation. Races on
// lazy creation degrade to a deny for this one request, never an error.
func (s *Service) CheckUserIsAllowed(ctx context.Context, req gatewaydomain.CheckRequest) (gatewaydomain.Decision, error) {
	counter, err := s.counters.IncrementOrCreate(ctx, req.UserID)
	if err != nil {
		return gatewaydomain.Decision{}, err
	}
	if counter == nil || counter.CounterSinceLastReset > maxRequestsPerWindow {
		return s.deny(gatewaydomain.ReasonTooManyRequests), nil
	}

	cache, err := s.caches.GetOrCreate(ctx, req.UserID, req.AppName, counter.Counter)
	if err != nil {
		return gatewaydomain.Decision{}, err
	}
	if cache == nil {
		// Lost the first-create race; deny-and-retry is the safe default.
		return s.deny(gatewaydomain.ReasonTooManyRequests), nil
	}

	if s.caches.NeedsRefresh(cache, counter.Counter) {
		s.refresh(ctx, req, counter.Counter)
	}

	if s.caches.ShouldSkip(cache, counter.Counter, req.ForceBalanceCheck) {
		if s.metrics != nil {
			s.metrics.RecordCacheSkip()
		}
		return s.record(gatewaydomain.Decision{
			Allowed:   true,
			PricingPK: cache.PricingPK,
			UserPK:    cache.UserPK,
		}), nil
	}

	ev, err := s.evaluator.Fetch(ctx, req.UserID, req.AppName)
	if err != nil {
		// An unknown app or user is a genuinely missing required entity and
		// surfaces as an error; only the not-subscribed case is a verdict.
		return gatewaydomain.Decision{}, err
	}

	if ev.pricing == nil {
		return s.deny(gatewaydomain.ReasonNotSubscribed), nil
	}

	if ev.hasFreeQuota != nil && *ev.hasFreeQuota {
		if !s.evaluator.OwnerCanCoverRequests(ev) {
			return s.deny(gatewaydomain.ReasonOwnerInsufficientBalance), nil
		}
	} else if !s.evaluator.SubscriberCanAfford(ev) {
		return s.deny(gatewaydomain.ReasonInsufficientBalance), nil
	}

	return s.record(gatewaydomain.Decision{
		Allowed:   true,
		PricingPK: ev.pricing.PK(),
		UserPK:    ev.subscriber.PK(),
	}), nil
}

// refresh recomputes the cache bounds, detached from the response path unless
// the caller asked to await its own cache write.
func (s *Service) refresh(ctx context.Context, req gatewaydomain.CheckRequest, currentCounter int64) {
	if req.ForceAwait {
		if _, err := s.caches.CreateOrUpdate(ctx, req.UserID, req.AppName, currentCounter); err != nil {
			s.log.Warn("decision cache refresh failed",
				zap.String("requester_id", req.UserID.String()),
				zap.Error(err),
			)
		}
		return
	}

	detached := context.WithoutCancel(ctx)
	go func() {
		if _, err := s.caches.CreateOrUpdate(detached, req.UserID, req.AppName, currentCounter); err != nil {
			s.log.Warn("decision cache refresh failed",
				zap.String("requester_id", req.UserID.String()),
				zap.Error(err),
			)
		}
	}()
}

func (s *Service) deny(reason gatewaydomain.Reason) gatewaydomain.Decision {
	return s.record(gatewaydomain.Decision{Allowed: false, Reason: reason})
}

func (s *Service) record(d gatewaydomain.Decision) gatewaydomain.Decision {
	if s.metrics != nil {
		s.metrics.RecordDecision(d.Allowed, string(d.Reason))
	}
	return d
}
