// Package domain contains the user account model and balance access contract.
package domain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

var (
	ErrUserNotFound = errors.New("user not found")
	ErrInvalidUser  = errors.New("invalid user")
)

// User owns a balance that settlement mutates. Balance may go negative only
// down to BalanceLimit; the limit is enforced upstream of the core.
type User struct {
	ID           snowflake.ID    `gorm:"primaryKey"`
	Name         string          `gorm:"type:text;not null;uniqueIndex"`
	Balance      decimal.Decimal `gorm:"type:numeric;not null"`
	BalanceLimit decimal.Decimal `gorm:"type:numeric;not null"`
	CreatedAt    time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt    time.Time       `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (User) TableName() string { return "users" }

// PK is the opaque stringified primary key handed out as decision evidence.
func (u User) PK() string { return fmt.Sprintf("user:%s", u.ID) }

type Service interface {
	GetUser(ctx context.Context, userID snowflake.ID) (*User, error)
	// GetUserBalance reads the settled balance for gating decisions.
	GetUserBalance(ctx context.Context, userID snowflake.ID) (decimal.Decimal, error)
	CreateUser(ctx context.Context, user *User) error
}
