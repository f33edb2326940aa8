package quota

import (
	"github.com/smallbiznis/chargegate/internal/quota/service"
	"go.uber.org/fx"
)

var Module = fx.Module("quota.service",
	fx.Provide(service.NewService),
)
