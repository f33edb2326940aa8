package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/chargegate/internal/clock"
	gatewaydomain "github.com/smallbiznis/chargegate/internal/gateway/domain"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newCountersTest(t *testing.T) (*Counters, *clock.FakeClock, *gorm.DB) {
	t.Helper()

	conn, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	sqlDB, err := conn.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, conn.AutoMigrate(&gatewaydomain.GatewayRequestCounter{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	clk := clock.NewFakeClock(time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC))

	counters := NewCounters(CountersParam{
		DB:    conn,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: clk,
	})
	return counters, clk, conn
}

// failNextCreate makes the next insert of the matched model fail with a
// unique key conflict, committing the winner's row first. It reproduces
// another worker inserting the same row between this worker's read and its
// own insert.
func failNextCreate(t *testing.T, conn *gorm.DB, match func(dest any) bool, seedWinner func()) {
	t.Helper()
	const name = "test:lost_create_race"
	fired := false
	err := conn.Callback().Create().Before("gorm:begin_transaction").Register(name, func(tx *gorm.DB) {
		if fired || !match(tx.Statement.Dest) {
			return
		}
		fired = true
		if seedWinner != nil {
			seedWinner()
		}
		tx.AddError(gorm.ErrDuplicatedKey)
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Callback().Create().Remove(name) })
}

func TestIncrementOrCreate(t *testing.T) {
	counters, _, _ := newCountersTest(t)
	ctx := context.Background()
	user := snowflake.ID(42)

	row, err := counters.IncrementOrCreate(ctx, user)
	require.NoError(t, err)
	require.NotNil(t, row)
	require.EqualValues(t, 1, row.Counter)
	require.EqualValues(t, 1, row.CounterSinceLastReset)

	for i := 0; i < 4; i++ {
		row, err = counters.IncrementOrCreate(ctx, user)
		require.NoError(t, err)
		require.NotNil(t, row)
	}
	require.EqualValues(t, 5, row.Counter)
	require.EqualValues(t, 5, row.CounterSinceLastReset)
}

func TestIncrementOrCreateLostCreateRace(t *testing.T) {
	counters, clk, conn := newCountersTest(t)
	ctx := context.Background()
	user := snowflake.ID(42)

	node, err := snowflake.NewNode(2)
	require.NoError(t, err)
	failNextCreate(t, conn,
		func(dest any) bool {
			_, ok := dest.(*gatewaydomain.GatewayRequestCounter)
			return ok
		},
		func() {
			require.NoError(t, conn.Create(&gatewaydomain.GatewayRequestCounter{
				ID:                    node.Generate(),
				RequesterID:           user,
				AppName:               gatewaydomain.GlobalAppSentinel,
				Counter:               1,
				CounterSinceLastReset: 1,
				LastResetAt:           clk.Now(),
			}).Error)
		})

	// Losing the first-create race yields nil, nil rather than an error.
	row, err := counters.IncrementOrCreate(ctx, user)
	require.NoError(t, err)
	require.Nil(t, row)

	// The winner's row serves every later call.
	row, err = counters.IncrementOrCreate(ctx, user)
	require.NoError(t, err)
	require.NotNil(t, row)
	require.EqualValues(t, 2, row.Counter)
	require.EqualValues(t, 2, row.CounterSinceLastReset)
}

func TestWindowResetZeroesOnlyWindowedCounter(t *testing.T) {
	counters, clk, _ := newCountersTest(t)
	ctx := context.Background()
	user := snowflake.ID(42)

	for i := 0; i < 3; i++ {
		_, err := counters.IncrementOrCreate(ctx, user)
		require.NoError(t, err)
	}

	// Before the window elapses a reset must not fire.
	clk.Advance(30 * time.Second)
	require.NoError(t, counters.SyncWindowReset(ctx, user))
	row, err := counters.IncrementOrCreate(ctx, user)
	require.NoError(t, err)
	require.EqualValues(t, 4, row.CounterSinceLastReset)

	clk.Advance(31 * time.Second)
	require.NoError(t, counters.SyncWindowReset(ctx, user))

	row, err = counters.IncrementOrCreate(ctx, user)
	require.NoError(t, err)
	require.EqualValues(t, 5, row.Counter)
	require.EqualValues(t, 1, row.CounterSinceLastReset)
}
