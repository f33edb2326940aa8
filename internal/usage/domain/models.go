// Package domain contains raw usage records and their aggregates.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

var (
	ErrInvalidUsageLog = errors.New("invalid usage log")
)

type UsageLogStatus string

const (
	UsageLogStatusPending   UsageLogStatus = "pending"
	UsageLogStatusCollected UsageLogStatus = "collected"
)

type UsageSummaryStatus string

const (
	UsageSummaryStatusPending UsageSummaryStatus = "pending"
	UsageSummaryStatusBilled  UsageSummaryStatus = "billed"
)

// UsageLog stores a single proxied call awaiting aggregation.
type UsageLog struct {
	ID             snowflake.ID      `gorm:"primaryKey"`
	SubscriberID   snowflake.ID      `gorm:"not null;index:ix_usage_logs_pair"`
	AppName        string            `gorm:"type:text;not null;index:ix_usage_logs_pair"`
	Path           string            `gorm:"type:text;not null"`
	PricingID      snowflake.ID      `gorm:"not null"`
	Volume         int64             `gorm:"not null;default:1"`
	Status         UsageLogStatus    `gorm:"type:text;not null;index"`
	UsageSummaryID *snowflake.ID     `gorm:"index"`
	Metadata       datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt      time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt      time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (UsageLog) TableName() string { return "usage_logs" }

// UsageSummary aggregates a batch of usage logs. It transitions
// pending -> billed exactly once, when first processed by the ledger generator.
type UsageSummary struct {
	ID           snowflake.ID       `gorm:"primaryKey"`
	SubscriberID snowflake.ID       `gorm:"not null;index:ix_usage_summaries_pair"`
	AppName      string             `gorm:"type:text;not null;index:ix_usage_summaries_pair"`
	PricingID    snowflake.ID       `gorm:"not null"`
	Volume       int64              `gorm:"not null"`
	NumUsageLogs int64              `gorm:"not null"`
	Status       UsageSummaryStatus `gorm:"type:text;not null;index"`
	BilledAt     *time.Time
	CreatedAt    time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt    time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (UsageSummary) TableName() string { return "usage_summaries" }

// Pair identifies a (subscriber, app) combination with pending usage.
type Pair struct {
	SubscriberID snowflake.ID
	AppName      string
}

type Service interface {
	CreateUsageLog(ctx context.Context, log *UsageLog) error
	// CollectUsageLogs folds all pending logs for the pair into a new pending
	// summary and marks them collected. Returns nil when nothing is pending.
	CollectUsageLogs(ctx context.Context, subscriberID snowflake.ID, appName string) (*UsageSummary, error)
	ListPendingSummaries(ctx context.Context, subscriberID snowflake.ID, appName string) ([]*UsageSummary, error)
	// ListPendingPairs lists (subscriber, app) pairs that have pending usage
	// logs; the billing scheduler walks this.
	ListPendingPairs(ctx context.Context, limit int) ([]Pair, error)
}
