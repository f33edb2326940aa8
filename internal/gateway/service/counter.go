package service

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/chargegate/internal/clock"
	gatewaydomain "github.com/smallbiznis/chargegate/internal/gateway/domain"
	"github.com/smallbiznis/chargegate/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	// counterResetWindow is how often CounterSinceLastReset zeroes.
	counterResetWindow = 60 * time.Second
	// maxRequestsPerWindow is the per-user ceiling inside one reset window.
	maxRequestsPerWindow = 6000
)

type CountersParam struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
}

// Counters maintains the global per-user request counter.
type Counters struct {
	db  *gorm.DB
	log *zap.Logger

	genID *snowflake.Node
	clock clock.Clock
	repo  repository.Repository[gatewaydomain.GatewayRequestCounter]
}

func NewCounters(p CountersParam) *Counters {
	return &Counters{
		db:  p.DB,
		log: p.Log.Named("gateway.counters"),

		genID: p.GenID,
		clock: p.Clock,
		repo:  repository.ProvideStore[gatewaydomain.GatewayRequestCounter](p.DB),
	}
}

// IncrementOrCreate atomically bumps both counters, creating the row at 1 when
// absent. A nil, nil return means this worker lost the first-create race; the
// caller denies this one request and the counter is guaranteed to exist for
// the next call. When the reset window has elapsed the zeroing of
// CounterSinceLastReset is scheduled off the request path.
func (c *Counters) IncrementOrCreate(ctx context.Context, userID snowflake.ID) (*gatewaydomain.GatewayRequestCounter, error) {
	now := c.clock.Now()
	query := &gatewaydomain.GatewayRequestCounter{
		RequesterID: userID,
		AppName:     gatewaydomain.GlobalAppSentinel,
	}

	affected, err := c.repo.Update(ctx, query, map[string]any{
		"counter":                  gorm.Expr("counter + 1"),
		"counter_since_last_reset": gorm.Expr("counter_since_last_reset + 1"),
		"updated_at":               now,
	})
	if err != nil {
		return nil, err
	}

	if affected == 0 {
		row := &gatewaydomain.GatewayRequestCounter{
			ID:                    c.genID.Generate(),
			RequesterID:           userID,
			AppName:               gatewaydomain.GlobalAppSentinel,
			Counter:               1,
			CounterSinceLastReset: 1,
			LastResetAt:           now,
			CreatedAt:             now,
			UpdatedAt:             now,
		}
		err := c.repo.Create(ctx, row)
		if errors.Is(err, repository.ErrAlreadyExists) {
			// Another worker created it between our update and create.
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return row, nil
	}

	row, err := c.repo.FindOne(ctx, query)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, nil
	}

	if now.Sub(row.LastResetAt) >= counterResetWindow {
		detached := context.WithoutCancel(ctx)
		go func() {
			if err := c.SyncWindowReset(detached, userID); err != nil {
				c.log.Warn("counter window reset failed",
					zap.String("requester_id", userID.String()),
					zap.Error(err),
				)
			}
		}()
	}

	return row, nil
}

// SyncWindowReset zeroes the windowed counter when the window has actually
// elapsed; the guard in the WHERE clause makes concurrent resets harmless.
func (c *Counters) SyncWindowReset(ctx context.Context, userID snowflake.ID) error {
	now := c.clock.Now()
	return c.db.WithContext(ctx).Model(&gatewaydomain.GatewayRequestCounter{}).
		Where("requester_id = ? AND app_name = ? AND last_reset_at <= ?",
			userID, gatewaydomain.GlobalAppSentinel, now.Add(-counterResetWindow)).
		Updates(map[string]any{
			"counter_since_last_reset": 0,
			"last_reset_at":            now,
			"updated_at":               now,
		}).Error
}
