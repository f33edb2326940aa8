// Package domain contains the billing ledger: account activities, the
// monthly-charge evaluation and the billing trigger contract.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	usagedomain "github.com/smallbiznis/chargegate/internal/usage/domain"
)

var (
	ErrDeniedCaller         = errors.New("billing trigger denied: caller is not the billing queue")
	ErrSummaryAlreadyBilled = errors.New("usage summary already billed")
	ErrInvalidSummary       = errors.New("invalid usage summary")
)

type ActivityType string

const (
	// ActivityTypeCredit is money leaving the user's balance on settlement.
	ActivityTypeCredit ActivityType = "credit"
	// ActivityTypeDebit is money entering the user's balance on settlement.
	ActivityTypeDebit ActivityType = "debit"
)

type ActivityStatus string

const (
	ActivityStatusPending ActivityStatus = "pending"
	ActivityStatusSettled ActivityStatus = "settled"
)

type ActivityReason string

const (
	ReasonAPIPerRequestCharge       ActivityReason = "api_per_request_charge"
	ReasonAPIMinMonthlyCharge       ActivityReason = "api_min_monthly_charge"
	ReasonAPIMinMonthlyChargeUpgrade ActivityReason = "api_min_monthly_charge_upgrade"
	ReasonServiceFeePerRequest      ActivityReason = "api_service_fee_per_request"
)

// AccountActivity is an immutable ledger entry; settlement only flips
// pending -> settled. Amounts are never negative.
type AccountActivity struct {
	ID                snowflake.ID    `gorm:"primaryKey"`
	UserID            snowflake.ID    `gorm:"not null;index"`
	AppName           string          `gorm:"type:text;index"`
	Type              ActivityType    `gorm:"type:text;not null"`
	Reason            ActivityReason  `gorm:"type:text;not null;index"`
	Description       string          `gorm:"type:text"`
	Amount            decimal.Decimal `gorm:"type:numeric;not null"`
	Status            ActivityStatus  `gorm:"type:text;not null;index"`
	SettleAt          time.Time       `gorm:"not null;index"`
	UsageSummaryID    *snowflake.ID   `gorm:"index"`
	ConsumedFreeQuota int64           `gorm:"not null;default:0"`
	CreatedAt         time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt         time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (AccountActivity) TableName() string { return "account_activities" }

// MonthlyChargeStatus reports whether a monthly minimum is still due for a
// (subscriber, app) pair in the trailing 30-day window.
type MonthlyChargeStatus struct {
	// Collect is true when a charge is due.
	Collect bool
	// Due is the prorated amount still owed (minMonthlyCharge - paid so far).
	Due decimal.Decimal
	// IsUpgrade is true when a charge already exists in the window, i.e. this
	// is a mid-period plan upgrade rather than an initial charge.
	IsUpgrade bool
}

// GenerateOptions tune ledger generation for one usage summary.
type GenerateOptions struct {
	ForceMonthlyCharge   bool
	DisableMonthlyCharge bool
}

// TriggerBillingResult lists the summaries the run billed.
type TriggerBillingResult struct {
	AffectedUsageSummaries []*usagedomain.UsageSummary
}

type Service interface {
	// EvaluateMonthlyCharge sums settled-or-pending monthly-charge activities
	// for the subscriber on the app over the trailing 30 days.
	EvaluateMonthlyCharge(ctx context.Context, subscriberID snowflake.ID, appName string, minMonthlyCharge decimal.Decimal) (MonthlyChargeStatus, error)

	// GenerateAccountActivities converts a pending usage summary into paired
	// ledger entries for subscriber and app owner.
	GenerateAccountActivities(ctx context.Context, summary *usagedomain.UsageSummary, opts GenerateOptions) ([]*AccountActivity, error)

	// TriggerBilling aggregates pending usage, generates ledger entries and
	// enqueues settlement. Callable only from the billing queue identity.
	TriggerBilling(ctx context.Context, subscriberID snowflake.ID, appName string) (TriggerBillingResult, error)

	// SettleAccountActivities finalizes every pending activity due for the
	// user and applies the net to the balance.
	SettleAccountActivities(ctx context.Context, userID snowflake.ID) (int64, error)
}
