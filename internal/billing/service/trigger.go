package service

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	billingdomain "github.com/smallbiznis/chargegate/internal/billing/domain"
	"github.com/smallbiznis/chargegate/internal/queuecontext"
	"go.uber.org/zap"
)

// TriggerBilling aggregates pending usage logs, bills every pending summary
// and enqueues settlement for the subscriber and the app owner.
//
// It is idempotent: a re-run after a partial failure only touches summaries
// still pending. It aggregates and settles financial state for a whole
// (user, app) pair, so only the internal billing queue may invoke it.
func (s *Service) TriggerBilling(ctx context.Context, subscriberID snowflake.ID, appName string) (billingdomain.TriggerBillingResult, error) {
	caller, ok := queuecontext.CallerFromContext(ctx)
	if !ok || caller != queuecontext.CallerBillingQueue {
		return billingdomain.TriggerBillingResult{}, billingdomain.ErrDeniedCaller
	}

	if _, err := s.usageSvc.CollectUsageLogs(ctx, subscriberID, appName); err != nil {
		return billingdomain.TriggerBillingResult{}, err
	}

	summaries, err := s.usageSvc.ListPendingSummaries(ctx, subscriberID, appName)
	if err != nil {
		return billingdomain.TriggerBillingResult{}, err
	}

	result := billingdomain.TriggerBillingResult{}
	var errs []error
	for _, summary := range summaries {
		if _, err := s.GenerateAccountActivities(ctx, summary, billingdomain.GenerateOptions{}); err != nil {
			if errors.Is(err, billingdomain.ErrSummaryAlreadyBilled) {
				continue
			}
			errs = append(errs, err)
			continue
		}
		result.AffectedUsageSummaries = append(result.AffectedUsageSummaries, summary)
	}

	app, err := s.appSvc.GetApp(ctx, appName)
	if err != nil {
		errs = append(errs, err)
	}

	if s.dispatcher != nil {
		s.dispatcher.Enqueue(subscriberID)
		if app != nil {
			s.dispatcher.Enqueue(app.OwnerID)
		}
	}

	if s.metrics != nil {
		s.metrics.RecordBillingRun(len(result.AffectedUsageSummaries))
	}
	s.log.Info("billing triggered",
		zap.String("subscriber_id", subscriberID.String()),
		zap.String("app", appName),
		zap.Int("billed_summaries", len(result.AffectedUsageSummaries)),
	)

	return result, errors.Join(errs...)
}
