package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	billingdomain "github.com/smallbiznis/chargegate/internal/billing/domain"
)

// EvaluateMonthlyCharge sums the subscriber's settled-or-pending monthly
// charges on the app over the trailing 30 days. Upgrades count toward the
// total so a plan change is never double-billed.
func (s *Service) EvaluateMonthlyCharge(ctx context.Context, subscriberID snowflake.ID, appName string, minMonthlyCharge decimal.Decimal) (billingdomain.MonthlyChargeStatus, error) {
	windowStart := s.clock.Now().Add(-monthlyChargeWindow)

	var rows []billingdomain.AccountActivity
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND app_name = ?", subscriberID, appName).
		Where("reason IN ?", []billingdomain.ActivityReason{
			billingdomain.ReasonAPIMinMonthlyCharge,
			billingdomain.ReasonAPIMinMonthlyChargeUpgrade,
		}).
		Where("status IN ?", []billingdomain.ActivityStatus{
			billingdomain.ActivityStatusPending,
			billingdomain.ActivityStatusSettled,
		}).
		Where("type = ?", billingdomain.ActivityTypeCredit).
		Where("settle_at >= ?", windowStart).
		Find(&rows).Error
	if err != nil {
		return billingdomain.MonthlyChargeStatus{}, err
	}

	paid := decimal.Zero
	for _, row := range rows {
		paid = paid.Add(row.Amount)
	}

	if paid.GreaterThanOrEqual(minMonthlyCharge) {
		return billingdomain.MonthlyChargeStatus{
			Collect:   false,
			Due:       decimal.Zero,
			IsUpgrade: len(rows) > 0,
		}, nil
	}

	return billingdomain.MonthlyChargeStatus{
		Collect:   true,
		Due:       minMonthlyCharge.Sub(paid),
		IsUpgrade: len(rows) > 0,
	}, nil
}
