package app

import (
	"github.com/smallbiznis/chargegate/internal/app/service"
	"go.uber.org/fx"
)

var Module = fx.Module("app.service",
	fx.Provide(service.NewService),
)
