// Package domain contains the gateway admission decision contract and its
// derived state: the per-user request counter and the decision cache.
package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
)

// GlobalAppSentinel keys the per-user counter and decision cache rows that
// apply across all apps, so the (requester, app) unique index serves both.
const GlobalAppSentinel = "<global>"

// GatewayRequestCounter tracks a user's request rate. Counter is monotonic;
// CounterSinceLastReset is zeroed every reset window.
type GatewayRequestCounter struct {
	ID                    snowflake.ID `gorm:"primaryKey"`
	RequesterID           snowflake.ID `gorm:"not null;uniqueIndex:ux_gateway_counters_pair,priority:1"`
	AppName               string       `gorm:"type:text;not null;uniqueIndex:ux_gateway_counters_pair,priority:2"`
	Counter               int64        `gorm:"not null;default:0"`
	CounterSinceLastReset int64        `gorm:"not null;default:0"`
	LastResetAt           time.Time    `gorm:"not null"`
	CreatedAt             time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt             time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (GatewayRequestCounter) TableName() string { return "gateway_request_counters" }

// GatewayRequestDecisionCache bounds how long a "likely still solvent"
// verdict can be trusted without a full balance check. It is derived state:
// its absence or staleness never yields an incorrect allow, only a slower one.
type GatewayRequestDecisionCache struct {
	ID                                 snowflake.ID `gorm:"primaryKey"`
	RequesterID                        snowflake.ID `gorm:"not null;uniqueIndex:ux_gateway_decision_caches_pair,priority:1"`
	AppName                            string       `gorm:"type:text;not null;uniqueIndex:ux_gateway_decision_caches_pair,priority:2"`
	NextForcedBalanceCheckRequestCount int64        `gorm:"not null"`
	NextForcedBalanceCheckAt           time.Time    `gorm:"not null"`
	PricingPK                          string       `gorm:"type:text"`
	UserPK                             string       `gorm:"type:text"`
	CreatedAt                          time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt                          time.Time    `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (GatewayRequestDecisionCache) TableName() string { return "gateway_decision_caches" }

// Reason is the structured deny reason; empty on allow.
type Reason string

const (
	ReasonNone                     Reason = ""
	ReasonNotSubscribed            Reason = "NotSubscribed"
	ReasonInsufficientBalance      Reason = "InsufficientBalance"
	ReasonOwnerInsufficientBalance Reason = "OwnerInsufficientBalance"
	ReasonTooManyRequests          Reason = "TooManyRequests"
)

// CheckRequest is one admission question for a proxied call.
type CheckRequest struct {
	UserID  snowflake.ID
	AppName string
	// ForceBalanceCheck bypasses the cached fast path.
	ForceBalanceCheck bool
	// ForceAwait makes cache maintenance synchronous; used by tests and by
	// paths that must not race ahead of their own cache write.
	ForceAwait bool
}

// Decision is the structured allow/deny verdict with its evidence.
type Decision struct {
	Allowed   bool   `json:"allowed"`
	Reason    Reason `json:"reason,omitempty"`
	PricingPK string `json:"pricingPK,omitempty"`
	UserPK    string `json:"userPK,omitempty"`
}

type Service interface {
	// CheckUserIsAllowed decides whether one proxied request may proceed. It
	// has no side effects beyond the counter increment and cache maintenance.
	CheckUserIsAllowed(ctx context.Context, req CheckRequest) (Decision, error)
}
