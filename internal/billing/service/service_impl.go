package service

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	accountdomain "github.com/smallbiznis/chargegate/internal/account/domain"
	appdomain "github.com/smallbiznis/chargegate/internal/app/domain"
	billingdomain "github.com/smallbiznis/chargegate/internal/billing/domain"
	"github.com/smallbiznis/chargegate/internal/clock"
	"github.com/smallbiznis/chargegate/internal/config"
	"github.com/smallbiznis/chargegate/internal/metrics"
	quotadomain "github.com/smallbiznis/chargegate/internal/quota/domain"
	usagedomain "github.com/smallbiznis/chargegate/internal/usage/domain"
	"github.com/smallbiznis/chargegate/pkg/money"
	"github.com/smallbiznis/chargegate/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// monthlyChargeWindow is the trailing period over which paid monthly charges
// count toward the minimum.
const monthlyChargeWindow = 30 * 24 * time.Hour

// Dispatcher enqueues settlement work, ordered per user.
type Dispatcher interface {
	Enqueue(userID snowflake.ID)
}

type ServiceParam struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Config     config.Config
	AccountSvc accountdomain.Service
	AppSvc     appdomain.Service
	QuotaSvc   quotadomain.Service
	UsageSvc   usagedomain.Service
	Dispatcher Dispatcher       `optional:"true"`
	Metrics    *metrics.Metrics `optional:"true"`
}

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID      *snowflake.Node
	clock      clock.Clock
	accountSvc accountdomain.Service
	appSvc     appdomain.Service
	quotaSvc   quotadomain.Service
	usageSvc   usagedomain.Service
	dispatcher Dispatcher
	metrics    *metrics.Metrics

	activityRepo repository.Repository[billingdomain.AccountActivity]

	serviceFeePerRequest decimal.Decimal
	monthlyChargeOnHold  time.Duration
}

func NewService(p ServiceParam) (billingdomain.Service, error) {
	serviceFee, err := money.Parse(p.Config.ServiceFeePerRequest)
	if err != nil {
		return nil, err
	}

	return &Service{
		db:  p.DB,
		log: p.Log.Named("billing.service"),

		genID:      p.GenID,
		clock:      p.Clock,
		accountSvc: p.AccountSvc,
		appSvc:     p.AppSvc,
		quotaSvc:   p.QuotaSvc,
		usageSvc:   p.UsageSvc,
		dispatcher: p.Dispatcher,
		metrics:    p.Metrics,

		activityRepo: repository.ProvideStore[billingdomain.AccountActivity](p.DB),

		serviceFeePerRequest: serviceFee,
		monthlyChargeOnHold:  time.Duration(p.Config.MonthlyChargeOnHoldDays) * 24 * time.Hour,
	}, nil
}
