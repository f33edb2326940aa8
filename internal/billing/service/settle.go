package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	accountdomain "github.com/smallbiznis/chargegate/internal/account/domain"
	billingdomain "github.com/smallbiznis/chargegate/internal/billing/domain"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// SettleAccountActivities finalizes every pending activity whose settle time
// has passed and applies the net (debits minus credits) to the user balance.
// Runs in one transaction; the per-user settlement queue guarantees two runs
// for the same user never interleave.
func (s *Service) SettleAccountActivities(ctx context.Context, userID snowflake.ID) (int64, error) {
	now := s.clock.Now()
	var settled int64

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var due []billingdomain.AccountActivity
		if err := tx.
			Where("user_id = ? AND status = ? AND settle_at <= ?",
				userID, billingdomain.ActivityStatusPending, now).
			Find(&due).Error; err != nil {
			return err
		}
		if len(due) == 0 {
			return nil
		}

		net := decimal.Zero
		ids := make([]snowflake.ID, 0, len(due))
		for _, activity := range due {
			switch activity.Type {
			case billingdomain.ActivityTypeDebit:
				net = net.Add(activity.Amount)
			case billingdomain.ActivityTypeCredit:
				net = net.Sub(activity.Amount)
			}
			ids = append(ids, activity.ID)
		}

		// The per-user queue is the write lock here; a row lock would not be
		// portable to sqlite anyway.
		var user accountdomain.User
		if err := tx.Where("id = ?", userID).First(&user).Error; err != nil {
			return err
		}

		if err := tx.Model(&accountdomain.User{}).
			Where("id = ?", userID).
			Updates(map[string]any{
				"balance":    user.Balance.Add(net),
				"updated_at": now,
			}).Error; err != nil {
			return err
		}

		if err := tx.Model(&billingdomain.AccountActivity{}).
			Where("id IN ?", ids).
			Updates(map[string]any{
				"status":     billingdomain.ActivityStatusSettled,
				"updated_at": now,
			}).Error; err != nil {
			return err
		}

		settled = int64(len(ids))
		s.log.Info("settled account activities",
			zap.String("user_id", userID.String()),
			zap.Int64("count", settled),
			zap.String("net", net.String()),
		)
		return nil
	})
	if err != nil {
		return 0, err
	}

	if settled > 0 && s.metrics != nil {
		s.metrics.RecordSettledActivities(int(settled))
	}
	return settled, nil
}
