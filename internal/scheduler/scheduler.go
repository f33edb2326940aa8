package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	billingdomain "github.com/smallbiznis/chargegate/internal/billing/domain"
	billingservice "github.com/smallbiznis/chargegate/internal/billing/service"
	"github.com/smallbiznis/chargegate/internal/clock"
	"github.com/smallbiznis/chargegate/internal/config"
	"github.com/smallbiznis/chargegate/internal/queuecontext"
	usagedomain "github.com/smallbiznis/chargegate/internal/usage/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const jobTimeout = 5 * time.Minute

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	Clock      clock.Clock
	Config     config.Config
	BillingSvc billingdomain.Service
	UsageSvc   usagedomain.Service
	Dispatcher billingservice.Dispatcher `optional:"true"`
}

// Scheduler periodically drains pending usage into the billing pipeline and
// sweeps activities whose settle time has passed.
type Scheduler struct {
	db  *gorm.DB
	log *zap.Logger

	clock      clock.Clock
	interval   time.Duration
	billingSvc billingdomain.Service
	usageSvc   usagedomain.Service
	dispatcher billingservice.Dispatcher
}

func New(p Params) *Scheduler {
	interval := time.Duration(p.Config.SchedulerInterval) * time.Second
	if interval <= 0 {
		interval = time.Minute
	}
	return &Scheduler{
		db:  p.DB,
		log: p.Log.Named("scheduler"),

		clock:      p.Clock,
		interval:   interval,
		billingSvc: p.BillingSvc,
		usageSvc:   p.UsageSvc,
		dispatcher: p.Dispatcher,
	}
}

func (s *Scheduler) RunOnce(parent context.Context) error {
	ctx, cancel := context.WithTimeout(parent, jobTimeout)
	defer cancel()

	return errors.Join(
		s.runJob(ctx, "trigger_billing", s.triggerBilling),
		s.runJob(ctx, "settle_due", s.settleDue),
	)
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) runJob(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	start := time.Now()
	err := fn(ctx)
	if err != nil {
		s.log.Warn("job failed",
			zap.String("job", name),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err),
		)
		return err
	}
	s.log.Debug("job finished",
		zap.String("job", name),
		zap.Duration("elapsed", time.Since(start)),
	)
	return nil
}

// triggerBilling walks every (subscriber, app) pair with pending usage and
// runs the billing pipeline for it under the queue caller identity.
func (s *Scheduler) triggerBilling(ctx context.Context) error {
	pairs, err := s.usageSvc.ListPendingPairs(ctx, 100)
	if err != nil {
		return err
	}
	if len(pairs) == 0 {
		return nil
	}

	ctx = queuecontext.WithCaller(ctx, queuecontext.CallerBillingQueue)
	var errs []error
	for _, pair := range pairs {
		if _, err := s.billingSvc.TriggerBilling(ctx, pair.SubscriberID, pair.AppName); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// settleDue enqueues a settlement pass for every user holding pending
// activities whose settle time has passed. The dispatcher keeps per-user
// ordering; without one the sweep is a no-op.
func (s *Scheduler) settleDue(ctx context.Context) error {
	if s.dispatcher == nil {
		return nil
	}

	var userIDs []snowflake.ID
	err := s.db.WithContext(ctx).
		Model(&billingdomain.AccountActivity{}).
		Distinct("user_id").
		Where("status = ? AND settle_at <= ?", billingdomain.ActivityStatusPending, s.clock.Now()).
		Pluck("user_id", &userIDs).Error
	if err != nil {
		return err
	}

	for _, userID := range userIDs {
		s.dispatcher.Enqueue(userID)
	}
	return nil
}
