package settlement

import (
	"context"

	redis "github.com/redis/go-redis/v9"
	billingdomain "github.com/smallbiznis/chargegate/internal/billing/domain"
	billingservice "github.com/smallbiznis/chargegate/internal/billing/service"
	"github.com/smallbiznis/chargegate/internal/config"
	"go.uber.org/fx"
)

var Module = fx.Module("settlement",
	fx.Provide(
		NewRedisClient,
		NewLocker,
		NewDispatcher,
		func(d *Dispatcher) billingservice.Dispatcher { return d },
	),
	fx.Invoke(bind),
)

// NewRedisClient returns nil when redis is not configured; the dispatcher
// then relies on its in-process per-user ordering alone.
func NewRedisClient(cfg config.Config) *redis.Client {
	if cfg.RedisAddr == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
}

func bind(lc fx.Lifecycle, d *Dispatcher, svc billingdomain.Service) {
	d.Bind(svc.SettleAccountActivities)
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			d.Drain()
			return nil
		},
	})
}
