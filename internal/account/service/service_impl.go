package service

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	accountdomain "github.com/smallbiznis/chargegate/internal/account/domain"
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
}

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID    *snowflake.Node
	userRepo repository.Repository[accountdomain.User]
}

func NewService(p ServiceParam) accountdomain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("account.service"),

		genID:    p.GenID,
		userRepo: repository.ProvideStore[accountdomain.User](p.DB),
	}
}

func (s *Service) GetUser(ctx context.Context, userID snowflake.ID) (*accountdomain.User, error) {
	if userID == 0 {
		return nil, accountdomain.ErrInvalidUser
	}
	user, err := s.userRepo.FindOne(ctx, &accountdomain.User{ID: userID})
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, accountdomain.ErrUserNotFound
	}
	return user, nil
}

func (s *Service) GetUserBalance(ctx context.Context, userID snowflake.ID) (decimal.Decimal, error) {
	user, err := s.GetUser(ctx, userID)
	if err != nil {
		return decimal.Zero, err
	}
	return user.Balance, nil
}

func (s *Service) CreateUser(ctx context.Context, user *accountdomain.User) error {
	if user == nil || user.Name == "" {
		return accountdomain.ErrInvalidUser
	}
	if user.ID == 0 {
		user.ID = s.genID.Generate()
	}
	return s.userRepo.Create(ctx, user)
}
