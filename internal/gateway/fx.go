package gateway

import (
	"github.com/smallbiznis/chargegate/internal/gateway/service"
	"go.uber.org/fx"
)

var Module = fx.Module("gateway.service",
	fx.Provide(
		service.NewCounters,
		service.NewCaches,
		service.NewEvaluator,
		service.NewService,
	),
)
