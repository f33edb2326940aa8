// Package repository exposes a generic gorm-backed store.
//
// The only cross-worker coordination primitive the core relies on is the
// conditional create: Create fails with ErrAlreadyExists when a unique key is
// already present, which lets stateless workers race on lazy row creation and
// recover locally.
package repository

import (
	"context"
	"errors"

	"gorm.io/gorm"
)

// ErrAlreadyExists reports a conditional create that lost to another writer.
var ErrAlreadyExists = errors.New("resource already exists")

type Repository[T any] interface {
	WithTrx(tx *gorm.DB) Repository[T]

	Find(ctx context.Context, query *T) ([]*T, error)
	FindOne(ctx context.Context, query *T) (*T, error)
	Create(ctx context.Context, resource *T) error
	Update(ctx context.Context, query *T, values map[string]any) (int64, error)
	Count(ctx context.Context, query *T) (int64, error)
}
