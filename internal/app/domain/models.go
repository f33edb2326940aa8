// Package domain contains the app catalog: apps, their pricing plans and
// subscriber subscriptions.
package domain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

var (
	ErrAppNotFound       = errors.New("app not found")
	ErrPricingNotFound   = errors.New("pricing not found")
	ErrInvalidApp        = errors.New("invalid app")
	ErrInvalidPricing    = errors.New("invalid pricing")
	ErrImmutablePricing  = errors.New("pricing financial terms are immutable")
	ErrAlreadySubscribed = errors.New("subscription already exists")
)

// App is a third-party API registered on the platform.
type App struct {
	ID        snowflake.ID `gorm:"primaryKey"`
	Name      string       `gorm:"type:text;not null;uniqueIndex"`
	OwnerID   snowflake.ID `gorm:"not null;index"`
	CreatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (App) TableName() string { return "apps" }

// Pricing is a plan offered by an app. Financial terms are immutable after
// creation; only Name, CallToAction and Active may change.
type Pricing struct {
	ID               snowflake.ID    `gorm:"primaryKey"`
	AppName          string          `gorm:"type:text;not null;index"`
	Name             string          `gorm:"type:text;not null"`
	CallToAction     string          `gorm:"type:text"`
	ChargePerRequest decimal.Decimal `gorm:"type:numeric;not null"`
	MinMonthlyCharge decimal.Decimal `gorm:"type:numeric;not null"`
	FreeQuota        int64           `gorm:"not null"`
	Active           bool            `gorm:"not null;default:true"`
	CreatedAt        time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt        time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Pricing) TableName() string { return "pricings" }

// PK is the opaque stringified primary key handed out as decision evidence.
func (p Pricing) PK() string { return fmt.Sprintf("pricing:%s:%s", p.AppName, p.ID) }

// Subscription binds a subscriber to one active pricing per app.
type Subscription struct {
	ID           snowflake.ID `gorm:"primaryKey"`
	SubscriberID snowflake.ID `gorm:"not null;uniqueIndex:ux_subscriptions_subscriber_app,priority:1"`
	AppName      string       `gorm:"type:text;not null;uniqueIndex:ux_subscriptions_subscriber_app,priority:2"`
	PricingID    snowflake.ID `gorm:"not null"`
	CreatedAt    time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt    time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Subscription) TableName() string { return "subscriptions" }

// UpdatePricingRequest only carries the mutable pricing fields.
type UpdatePricingRequest struct {
	Name         *string
	CallToAction *string
	Active       *bool
}

type Service interface {
	GetApp(ctx context.Context, name string) (*App, error)
	CreateApp(ctx context.Context, app *App) error

	GetPricing(ctx context.Context, pricingID snowflake.ID) (*Pricing, error)
	CreatePricing(ctx context.Context, pricing *Pricing) error
	UpdatePricing(ctx context.Context, pricingID snowflake.ID, req UpdatePricingRequest) error

	Subscribe(ctx context.Context, subscriberID snowflake.ID, appName string, pricingID snowflake.ID) (*Subscription, error)
	// GetSubscribedPricing resolves the active pricing for a (subscriber, app)
	// pair, nil when the caller is not subscribed.
	GetSubscribedPricing(ctx context.Context, subscriberID snowflake.ID, appName string) (*Pricing, error)
}
