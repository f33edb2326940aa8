package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/chargegate/internal/account"
	"github.com/smallbiznis/chargegate/internal/app"
	"github.com/smallbiznis/chargegate/internal/billing"
	"github.com/smallbiznis/chargegate/internal/clock"
	"github.com/smallbiznis/chargegate/internal/config"
	"github.com/smallbiznis/chargegate/internal/gateway"
	"github.com/smallbiznis/chargegate/internal/logger"
	"github.com/smallbiznis/chargegate/internal/metrics"
	"github.com/smallbiznis/chargegate/internal/migration"
	"github.com/smallbiznis/chargegate/internal/quota"
	"github.com/smallbiznis/chargegate/internal/scheduler"
	"github.com/smallbiznis/chargegate/internal/server"
	"github.com/smallbiznis/chargegate/internal/settlement"
	"github.com/smallbiznis/chargegate/internal/usage"
	"github.com/smallbiznis/chargegate/pkg/db"
	"go.uber.org/fx"
)

func main() {
	application := fx.New(
		// Core infrastructure
		config.Module,
		logger.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		metrics.Module,
		migration.Module,

		// Functional domains
		account.Module,
		app.Module,
		usage.Module,
		quota.Module,
		billing.Module,
		settlement.Module,
		gateway.Module,

		// Transport and background work
		server.Module,
		scheduler.Module,
	)
	application.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
