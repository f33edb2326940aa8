package service

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/chargegate/internal/clock"
	quotadomain "github.com/smallbiznis/chargegate/internal/quota/domain"
	"github.com/smallbiznis/chargegate/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
}

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID *snowflake.Node
	clock clock.Clock
	repo  repository.Repository[quotadomain.FreeQuotaUsage]
}

func NewService(p ServiceParam) quotadomain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("quota.service"),

		genID: p.GenID,
		clock: p.Clock,
		repo:  repository.ProvideStore[quotadomain.FreeQuotaUsage](p.DB),
	}
}

func (s *Service) GetOrCreate(ctx context.Context, subscriberID snowflake.ID, appName string) (*quotadomain.FreeQuotaUsage, error) {
	query := &quotadomain.FreeQuotaUsage{SubscriberID: subscriberID, AppName: appName}

	existing, err := s.repo.FindOne(ctx, query)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	now := s.clock.Now()
	row := &quotadomain.FreeQuotaUsage{
		ID:           s.genID.Generate(),
		SubscriberID: subscriberID,
		AppName:      appName,
		Usage:        0,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	err = s.repo.Create(ctx, row)
	if err == nil {
		return row, nil
	}
	if errors.Is(err, repository.ErrAlreadyExists) {
		// Another worker created it first; its row is authoritative.
		return s.repo.FindOne(ctx, query)
	}
	return nil, err
}

func (s *Service) ComputeBillableVolume(ctx context.Context, subscriberID snowflake.ID, appName string, volume, freeQuota int64) (quotadomain.BillableVolume, error) {
	if volume < 0 {
		return quotadomain.BillableVolume{}, quotadomain.ErrInvalidVolume
	}

	row, err := s.GetOrCreate(ctx, subscriberID, appName)
	if err != nil {
		return quotadomain.BillableVolume{}, err
	}

	remaining := freeQuota - row.Usage
	if remaining < 0 {
		remaining = 0
	}
	free := volume
	if remaining < free {
		free = remaining
	}

	return quotadomain.BillableVolume{
		Free:     free,
		Billable: volume - free,
	}, nil
}

func (s *Service) AddUsage(ctx context.Context, subscriberID snowflake.ID, appName string, delta int64) error {
	if delta < 0 {
		return quotadomain.ErrInvalidVolume
	}
	if delta == 0 {
		return nil
	}

	affected, err := s.repo.Update(ctx,
		&quotadomain.FreeQuotaUsage{SubscriberID: subscriberID, AppName: appName},
		map[string]any{
			"usage":      gorm.Expr("usage + ?", delta),
			"updated_at": s.clock.Now(),
		})
	if err != nil {
		return err
	}
	if affected == 0 {
		// Row is lazily created; make it exist and retry once.
		if _, err := s.GetOrCreate(ctx, subscriberID, appName); err != nil {
			return err
		}
		_, err = s.repo.Update(ctx,
			&quotadomain.FreeQuotaUsage{SubscriberID: subscriberID, AppName: appName},
			map[string]any{
				"usage":      gorm.Expr("usage + ?", delta),
				"updated_at": s.clock.Now(),
			})
		return err
	}
	return nil
}
