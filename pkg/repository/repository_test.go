package repository

import (
	"context"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type keyedRow struct {
	ID      int64  `gorm:"primaryKey"`
	OwnerID int64  `gorm:"not null;uniqueIndex:ux_keyed_rows_pair,priority:1"`
	Name    string `gorm:"type:text;not null;uniqueIndex:ux_keyed_rows_pair,priority:2"`
}

func newTestStore(t *testing.T) Repository[keyedRow] {
	t.Helper()

	conn, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{TranslateError: true})
	require.NoError(t, err)
	sqlDB, err := conn.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, conn.AutoMigrate(&keyedRow{}))

	return ProvideStore[keyedRow](conn)
}

func TestCreateMapsDuplicateKey(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, &keyedRow{ID: 1, OwnerID: 42, Name: "weather-api"}))

	// A second insert on the same unique pair is the conditional-create
	// primitive losing: it must surface as ErrAlreadyExists, nothing else.
	err := repo.Create(ctx, &keyedRow{ID: 2, OwnerID: 42, Name: "weather-api"})
	require.ErrorIs(t, err, ErrAlreadyExists)

	// The winner's row is untouched.
	row, err := repo.FindOne(ctx, &keyedRow{OwnerID: 42, Name: "weather-api"})
	require.NoError(t, err)
	require.NotNil(t, row)
	require.EqualValues(t, 1, row.ID)
}

func TestFindOneMissIsNil(t *testing.T) {
	repo := newTestStore(t)

	row, err := repo.FindOne(context.Background(), &keyedRow{OwnerID: 7, Name: "geo-api"})
	require.NoError(t, err)
	require.Nil(t, row)
}
