package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/chargegate/internal/clock"
	usagedomain "github.com/smallbiznis/chargegate/internal/usage/domain"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestService(t *testing.T) (usagedomain.Service, *gorm.DB) {
	t.Helper()

	conn, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	sqlDB, err := conn.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, conn.AutoMigrate(&usagedomain.UsageLog{}, &usagedomain.UsageSummary{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	svc := NewService(ServiceParam{
		DB:    conn,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: clock.NewFakeClock(time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)),
	})
	return svc, conn
}

func TestCreateUsageLogDefaults(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	log := &usagedomain.UsageLog{
		SubscriberID: 1,
		AppName:      "weather-api",
		Path:         "/v1/forecast",
		PricingID:    9,
	}
	require.NoError(t, svc.CreateUsageLog(ctx, log))
	require.NotZero(t, log.ID)
	require.EqualValues(t, 1, log.Volume)
	require.Equal(t, usagedomain.UsageLogStatusPending, log.Status)

	require.ErrorIs(t,
		svc.CreateUsageLog(ctx, &usagedomain.UsageLog{AppName: "weather-api"}),
		usagedomain.ErrInvalidUsageLog,
	)
}

func TestCollectUsageLogs(t *testing.T) {
	svc, conn := newTestService(t)
	ctx := context.Background()
	subscriber := snowflake.ID(1)

	for i := 0; i < 3; i++ {
		require.NoError(t, svc.CreateUsageLog(ctx, &usagedomain.UsageLog{
			SubscriberID: subscriber,
			AppName:      "weather-api",
			Path:         "/v1/forecast",
			PricingID:    9,
			Volume:       2,
		}))
	}

	summary, err := svc.CollectUsageLogs(ctx, subscriber, "weather-api")
	require.NoError(t, err)
	require.NotNil(t, summary)
	require.EqualValues(t, 6, summary.Volume)
	require.EqualValues(t, 3, summary.NumUsageLogs)
	require.Equal(t, usagedomain.UsageSummaryStatusPending, summary.Status)

	var collected int64
	require.NoError(t, conn.Model(&usagedomain.UsageLog{}).
		Where("status = ? AND usage_summary_id = ?", usagedomain.UsageLogStatusCollected, summary.ID).
		Count(&collected).Error)
	require.EqualValues(t, 3, collected)

	// Nothing pending anymore.
	again, err := svc.CollectUsageLogs(ctx, subscriber, "weather-api")
	require.NoError(t, err)
	require.Nil(t, again)
}

func TestListPendingPairs(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	require.NoError(t, svc.CreateUsageLog(ctx, &usagedomain.UsageLog{
		SubscriberID: 1, AppName: "weather-api", PricingID: 9,
	}))
	require.NoError(t, svc.CreateUsageLog(ctx, &usagedomain.UsageLog{
		SubscriberID: 1, AppName: "weather-api", PricingID: 9,
	}))
	require.NoError(t, svc.CreateUsageLog(ctx, &usagedomain.UsageLog{
		SubscriberID: 2, AppName: "geo-api", PricingID: 11,
	}))

	pairs, err := svc.ListPendingPairs(ctx, 100)
	require.NoError(t, err)
	require.Len(t, pairs, 2)

	_, err = svc.CollectUsageLogs(ctx, 1, "weather-api")
	require.NoError(t, err)

	pairs, err = svc.ListPendingPairs(ctx, 100)
	require.NoError(t, err)
	require.Len(t, pairs, 1)
	require.Equal(t, "geo-api", pairs[0].AppName)
}
