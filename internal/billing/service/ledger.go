package service

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
	billingdomain "github.com/smallbiznis/chargegate/internal/billing/domain"
	usagedomain "github.com/smallbiznis/chargegate/internal/usage/domain"
	"go.uber.org/zap"
)

// GenerateAccountActivities converts one pending usage summary into ledger
// entries:
//
//   - per-request charge: subscriber credit + app-owner debit on the billable
//     volume, both settling immediately
//   - service fee: app-owner credit on the total volume, free quota included,
//     since the fee is the platform's, not the subscriber's
//   - monthly minimum, when due: subscriber credit settling immediately and an
//     app-owner debit held back to absorb refunds and chargebacks
//
// The summary flips to billed before any entry is written; a summary that is
// not pending anymore is never billed again.
func (s *Service) GenerateAccountActivities(ctx context.Context, summary *usagedomain.UsageSummary, opts billingdomain.GenerateOptions) ([]*billingdomain.AccountActivity, error) {
	if summary == nil || summary.ID == 0 {
		return nil, billingdomain.ErrInvalidSummary
	}

	pricing, err := s.appSvc.GetPricing(ctx, summary.PricingID)
	if err != nil {
		return nil, err
	}
	app, err := s.appSvc.GetApp(ctx, summary.AppName)
	if err != nil {
		return nil, err
	}

	split, err := s.quotaSvc.ComputeBillableVolume(ctx, summary.SubscriberID, summary.AppName, summary.Volume, pricing.FreeQuota)
	if err != nil {
		return nil, err
	}
	if split.Free > 0 {
		if err := s.quotaSvc.AddUsage(ctx, summary.SubscriberID, summary.AppName, split.Free); err != nil {
			return nil, err
		}
	}

	now := s.clock.Now()

	// Claim the summary. Zero rows affected means another run billed it first.
	res := s.db.WithContext(ctx).Model(&usagedomain.UsageSummary{}).
		Where("id = ? AND status = ?", summary.ID, usagedomain.UsageSummaryStatusPending).
		Updates(map[string]any{
			"status":     usagedomain.UsageSummaryStatusBilled,
			"billed_at":  now,
			"updated_at": now,
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, billingdomain.ErrSummaryAlreadyBilled
	}
	summary.Status = usagedomain.UsageSummaryStatusBilled
	summary.BilledAt = &now

	requestCharge := pricing.ChargePerRequest.Mul(decimal.NewFromInt(split.Billable))
	serviceFee := s.serviceFeePerRequest.Mul(decimal.NewFromInt(summary.Volume))
	summaryID := summary.ID

	activities := []*billingdomain.AccountActivity{
		{
			ID:                s.genID.Generate(),
			UserID:            summary.SubscriberID,
			AppName:           summary.AppName,
			Type:              billingdomain.ActivityTypeCredit,
			Reason:            billingdomain.ReasonAPIPerRequestCharge,
			Description:       fmt.Sprintf("API usage charge for %s", summary.AppName),
			Amount:            requestCharge,
			Status:            billingdomain.ActivityStatusPending,
			SettleAt:          now,
			UsageSummaryID:    &summaryID,
			ConsumedFreeQuota: split.Free,
			CreatedAt:         now,
			UpdatedAt:         now,
		},
		{
			ID:                s.genID.Generate(),
			UserID:            app.OwnerID,
			AppName:           summary.AppName,
			Type:              billingdomain.ActivityTypeDebit,
			Reason:            billingdomain.ReasonAPIPerRequestCharge,
			Description:       fmt.Sprintf("API usage income for %s", summary.AppName),
			Amount:            requestCharge,
			Status:            billingdomain.ActivityStatusPending,
			SettleAt:          now,
			UsageSummaryID:    &summaryID,
			ConsumedFreeQuota: split.Free,
			CreatedAt:         now,
			UpdatedAt:         now,
		},
		{
			ID:             s.genID.Generate(),
			UserID:         app.OwnerID,
			AppName:        summary.AppName,
			Type:           billingdomain.ActivityTypeCredit,
			Reason:         billingdomain.ReasonServiceFeePerRequest,
			Description:    fmt.Sprintf("Service fee for %s", summary.AppName),
			Amount:         serviceFee,
			Status:         billingdomain.ActivityStatusPending,
			SettleAt:       now,
			UsageSummaryID: &summaryID,
			CreatedAt:      now,
			UpdatedAt:      now,
		},
	}

	if !opts.DisableMonthlyCharge {
		monthly, err := s.EvaluateMonthlyCharge(ctx, summary.SubscriberID, summary.AppName, pricing.MinMonthlyCharge)
		if err != nil {
			return nil, err
		}

		amount := decimal.Zero
		switch {
		case monthly.Collect:
			amount = monthly.Due
		case opts.ForceMonthlyCharge:
			amount = pricing.MinMonthlyCharge
		}

		if amount.IsPositive() {
			reason := billingdomain.ReasonAPIMinMonthlyCharge
			if monthly.IsUpgrade {
				reason = billingdomain.ReasonAPIMinMonthlyChargeUpgrade
			}
			activities = append(activities,
				&billingdomain.AccountActivity{
					ID:             s.genID.Generate(),
					UserID:         summary.SubscriberID,
					AppName:        summary.AppName,
					Type:           billingdomain.ActivityTypeCredit,
					Reason:         reason,
					Description:    fmt.Sprintf("Monthly minimum charge for %s", summary.AppName),
					Amount:         amount,
					Status:         billingdomain.ActivityStatusPending,
					SettleAt:       now,
					UsageSummaryID: &summaryID,
					CreatedAt:      now,
					UpdatedAt:      now,
				},
				&billingdomain.AccountActivity{
					ID:             s.genID.Generate(),
					UserID:         app.OwnerID,
					AppName:        summary.AppName,
					Type:           billingdomain.ActivityTypeDebit,
					Reason:         reason,
					Description:    fmt.Sprintf("Monthly minimum income for %s", summary.AppName),
					Amount:         amount,
					Status:         billingdomain.ActivityStatusPending,
					SettleAt:       now.Add(s.monthlyChargeOnHold),
					UsageSummaryID: &summaryID,
					CreatedAt:      now,
					UpdatedAt:      now,
				},
			)
		}
	}

	// Create concurrently; collect every failure instead of failing fast so a
	// partial ledger is visible in the logs and surfaced as one error.
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	created := make([]*billingdomain.AccountActivity, 0, len(activities))
	for _, activity := range activities {
		wg.Add(1)
		go func(a *billingdomain.AccountActivity) {
			defer wg.Done()
			if err := s.activityRepo.Create(ctx, a); err != nil {
				s.log.Error("failed to create account activity",
					zap.String("user_id", a.UserID.String()),
					zap.String("reason", string(a.Reason)),
					zap.String("amount", a.Amount.String()),
					zap.Error(err),
				)
				mu.Lock()
				errs = append(errs, fmt.Errorf("activity %s/%s: %w", a.UserID, a.Reason, err))
				mu.Unlock()
				return
			}
			mu.Lock()
			created = append(created, a)
			mu.Unlock()
		}(activity)
	}
	wg.Wait()

	if len(errs) > 0 {
		return created, errors.Join(errs...)
	}

	if s.metrics != nil {
		s.metrics.RecordLedgerActivities(len(created))
	}
	return created, nil
}
