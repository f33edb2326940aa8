// Package domain contains the free-quota consumption tracker.
package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

var (
	ErrInvalidVolume = errors.New("invalid volume")
)

// FreeQuotaUsage tracks how much of a pricing plan's free allowance a
// subscriber has consumed on an app. Usage only ever grows; the evaluator
// enforces the quota ceiling at read time.
type FreeQuotaUsage struct {
	ID           snowflake.ID `gorm:"primaryKey"`
	SubscriberID snowflake.ID `gorm:"not null;uniqueIndex:ux_free_quota_usages_pair,priority:1"`
	AppName      string       `gorm:"type:text;not null;uniqueIndex:ux_free_quota_usages_pair,priority:2"`
	Usage        int64        `gorm:"not null;default:0"`
	CreatedAt    time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt    time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (FreeQuotaUsage) TableName() string { return "free_quota_usages" }

// BillableVolume is the free/billable split of a usage batch.
type BillableVolume struct {
	Free     int64
	Billable int64
}

type Service interface {
	// GetOrCreate lazily creates the row at usage 0. Losing the create race is
	// recovered by re-reading; the row is never absent afterwards.
	GetOrCreate(ctx context.Context, subscriberID snowflake.ID, appName string) (*FreeQuotaUsage, error)
	// ComputeBillableVolume splits volume into the part still covered by the
	// free quota and the part to bill.
	ComputeBillableVolume(ctx context.Context, subscriberID snowflake.ID, appName string, volume, freeQuota int64) (BillableVolume, error)
	// AddUsage atomically increments consumed quota by delta.
	AddUsage(ctx context.Context, subscriberID snowflake.ID, appName string, delta int64) error
}
