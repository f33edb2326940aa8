package service

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	appdomain "github.com/smallbiznis/chargegate/internal/app/domain"
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

	genID            *snowflake.Node
	appRepo          repository.Repository[appdomain.App]
	pricingRepo      repository.Repository[appdomain.Pricing]
	subscriptionRepo repository.Repository[appdomain.Subscription]
}

func NewService(p ServiceParam) appdomain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("app.service"),

		genID:            p.GenID,
		appRepo:          repository.ProvideStore[appdomain.App](p.DB),
		pricingRepo:      repository.ProvideStore[appdomain.Pricing](p.DB),
		subscriptionRepo: repository.ProvideStore[appdomain.Subscription](p.DB),
	}
}

func (s *Service) GetApp(ctx context.Context, name string) (*appdomain.App, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, appdomain.ErrInvalidApp
	}
	app, err := s.appRepo.FindOne(ctx, &appdomain.App{Name: name})
	if err != nil {
		return nil, err
	}
	if app == nil {
		return nil, appdomain.ErrAppNotFound
	}
	return app, nil
}

func (s *Service) CreateApp(ctx context.Context, app *appdomain.App) error {
	if app == nil || strings.TrimSpace(app.Name) == "" || app.OwnerID == 0 {
		return appdomain.ErrInvalidApp
	}
	if app.ID == 0 {
		app.ID = s.genID.Generate()
	}
	return s.appRepo.Create(ctx, app)
}

func (s *Service) GetPricing(ctx context.Context, pricingID snowflake.ID) (*appdomain.Pricing, error) {
	if pricingID == 0 {
		return nil, appdomain.ErrInvalidPricing
	}
	pricing, err := s.pricingRepo.FindOne(ctx, &appdomain.Pricing{ID: pricingID})
	if err != nil {
		return nil, err
	}
	if pricing == nil {
		return nil, appdomain.ErrPricingNotFound
	}
	return pricing, nil
}

func (s *Service) CreatePricing(ctx context.Context, pricing *appdomain.Pricing) error {
	if pricing == nil || strings.TrimSpace(pricing.AppName) == "" {
		return appdomain.ErrInvalidPricing
	}
	if pricing.ChargePerRequest.IsNegative() || pricing.MinMonthlyCharge.IsNegative() || pricing.FreeQuota < 0 {
		return appdomain.ErrInvalidPricing
	}
	if pricing.ID == 0 {
		pricing.ID = s.genID.Generate()
	}
	return s.pricingRepo.Create(ctx, pricing)
}

// UpdatePricing only touches the mutable columns; financial terms stay frozen
// so historical ledger entries remain explainable.
func (s *Service) UpdatePricing(ctx context.Context, pricingID snowflake.ID, req appdomain.UpdatePricingRequest) error {
	if pricingID == 0 {
		return appdomain.ErrInvalidPricing
	}

	values := map[string]any{}
	if req.Name != nil {
		values["name"] = *req.Name
	}
	if req.CallToAction != nil {
		values["call_to_action"] = *req.CallToAction
	}
	if req.Active != nil {
		values["active"] = *req.Active
	}
	if len(values) == 0 {
		return nil
	}

	affected, err := s.pricingRepo.Update(ctx, &appdomain.Pricing{ID: pricingID}, values)
	if err != nil {
		return err
	}
	if affected == 0 {
		return appdomain.ErrPricingNotFound
	}
	return nil
}

func (s *Service) Subscribe(ctx context.Context, subscriberID snowflake.ID, appName string, pricingID snowflake.ID) (*appdomain.Subscription, error) {
	pricing, err := s.GetPricing(ctx, pricingID)
	if err != nil {
		return nil, err
	}
	if pricing.AppName != appName {
		return nil, appdomain.ErrInvalidPricing
	}

	sub := &appdomain.Subscription{
		ID:           s.genID.Generate(),
		SubscriberID: subscriberID,
		AppName:      appName,
		PricingID:    pricingID,
	}
	if err := s.subscriptionRepo.Create(ctx, sub); err != nil {
		if errors.Is(err, repository.ErrAlreadyExists) {
			return nil, appdomain.ErrAlreadySubscribed
		}
		return nil, err
	}
	return sub, nil
}

func (s *Service) GetSubscribedPricing(ctx context.Context, subscriberID snowflake.ID, appName string) (*appdomain.Pricing, error) {
	sub, err := s.subscriptionRepo.FindOne(ctx, &appdomain.Subscription{
		SubscriberID: subscriberID,
		AppName:      appName,
	})
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, nil
	}
	return s.pricingRepo.FindOne(ctx, &appdomain.Pricing{ID: sub.PricingID})
}
