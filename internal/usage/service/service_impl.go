package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/chargegate/internal/clock"
	usagedomain "github.com/smallbiznis/chargegate/internal/usage/domain"
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

	genID       *snowflake.Node
	clock       clock.Clock
	logRepo     repository.Repository[usagedomain.UsageLog]
	summaryRepo repository.Repository[usagedomain.UsageSummary]
}

func NewService(p ServiceParam) usagedomain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("usage.service"),

		genID:       p.GenID,
		clock:       p.Clock,
		logRepo:     repository.ProvideStore[usagedomain.UsageLog](p.DB),
		summaryRepo: repository.ProvideStore[usagedomain.UsageSummary](p.DB),
	}
}

func (s *Service) CreateUsageLog(ctx context.Context, record *usagedomain.UsageLog) error {
	if record == nil || record.SubscriberID == 0 || strings.TrimSpace(record.AppName) == "" {
		return usagedomain.ErrInvalidUsageLog
	}
	if record.Volume <= 0 {
		record.Volume = 1
	}
	if record.ID == 0 {
		record.ID = s.genID.Generate()
	}
	record.Status = usagedomain.UsageLogStatusPending
	return s.logRepo.Create(ctx, record)
}

// CollectUsageLogs runs in one transaction so a crash between summarizing and
// marking leaves every log pending and the next run re-collects cleanly.
func (s *Service) CollectUsageLogs(ctx context.Context, subscriberID snowflake.ID, appName string) (*usagedomain.UsageSummary, error) {
	var summary *usagedomain.UsageSummary

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var logs []usagedomain.UsageLog
		if err := tx.Where(
			"subscriber_id = ? AND app_name = ? AND status = ?",
			subscriberID, appName, usagedomain.UsageLogStatusPending,
		).Find(&logs).Error; err != nil {
			return err
		}
		if len(logs) == 0 {
			return nil
		}

		var volume int64
		ids := make([]snowflake.ID, 0, len(logs))
		for _, l := range logs {
			volume += l.Volume
			ids = append(ids, l.ID)
		}

		now := s.clock.Now()
		summary = &usagedomain.UsageSummary{
			ID:           s.genID.Generate(),
			SubscriberID: subscriberID,
			AppName:      appName,
			PricingID:    logs[0].PricingID,
			Volume:       volume,
			NumUsageLogs: int64(len(logs)),
			Status:       usagedomain.UsageSummaryStatusPending,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := tx.Create(summary).Error; err != nil {
			return err
		}

		return tx.Model(&usagedomain.UsageLog{}).
			Where("id IN ?", ids).
			Updates(map[string]any{
				"status":           usagedomain.UsageLogStatusCollected,
				"usage_summary_id": summary.ID,
				"updated_at":       now,
			}).Error
	})
	if err != nil {
		return nil, err
	}

	if summary != nil {
		s.log.Info("collected usage logs",
			zap.String("subscriber_id", subscriberID.String()),
			zap.String("app", appName),
			zap.Int64("volume", summary.Volume),
			zap.Int64("num_logs", summary.NumUsageLogs),
		)
	}
	return summary, nil
}

func (s *Service) ListPendingSummaries(ctx context.Context, subscriberID snowflake.ID, appName string) ([]*usagedomain.UsageSummary, error) {
	return s.summaryRepo.Find(ctx, &usagedomain.UsageSummary{
		SubscriberID: subscriberID,
		AppName:      appName,
		Status:       usagedomain.UsageSummaryStatusPending,
	})
}

func (s *Service) ListPendingPairs(ctx context.Context, limit int) ([]usagedomain.Pair, error) {
	if limit <= 0 {
		limit = 100
	}
	var pairs []usagedomain.Pair
	err := s.db.WithContext(ctx).Raw(
		`SELECT DISTINCT subscriber_id, app_name
		 FROM usage_logs
		 WHERE status = ?
		 LIMIT ?`,
		usagedomain.UsageLogStatusPending,
		limit,
	).Scan(&pairs).Error
	return pairs, err
}
