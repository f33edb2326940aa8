// Package migration creates the schema on startup so the service is usable
// out of the box for local and self-hosted environments.
package migration

import (
	accountdomain "github.com/smallbiznis/chargegate/internal/account/domain"
	appdomain "github.com/smallbiznis/chargegate/internal/app/domain"
	billingdomain "github.com/smallbiznis/chargegate/internal/billing/domain"
	gatewaydomain "github.com/smallbiznis/chargegate/internal/gateway/domain"
	quotadomain "github.com/smallbiznis/chargegate/internal/quota/domain"
	usagedomain "github.com/smallbiznis/chargegate/internal/usage/domain"
	"gorm.io/gorm"
)

// Models lists every persisted type, in dependency order.
func Models() []any {
	return []any{
		&accountdomain.User{},
		&appdomain.App{},
		&appdomain.Pricing{},
		&appdomain.Subscription{},
		&usagedomain.UsageLog{},
		&usagedomain.UsageSummary{},
		&quotadomain.FreeQuotaUsage{},
		&billingdomain.AccountActivity{},
		&gatewaydomain.GatewayRequestCounter{},
		&gatewaydomain.GatewayRequestDecisionCache{},
	}
}

func Run(conn *gorm.DB) error {
	return conn.AutoMigrate(Models()...)
}
