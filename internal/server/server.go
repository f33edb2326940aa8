package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	accountdomain "github.com/smallbiznis/chargegate/internal/account/domain"
	appdomain "github.com/smallbiznis/chargegate/internal/app/domain"
	billingdomain "github.com/smallbiznis/chargegate/internal/billing/domain"
	"github.com/smallbiznis/chargegate/internal/config"
	gatewaydomain "github.com/smallbiznis/chargegate/internal/gateway/domain"
	usagedomain "github.com/smallbiznis/chargegate/internal/usage/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func registerGin(cfg config.Config) *gin.Engine {
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(ErrorHandlingMiddleware())
	return engine
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatal("http server failed", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type ServerParams struct {
	fx.In

	Gin        *gin.Engine
	Cfg        config.Config
	Log        *zap.Logger
	GatewaySvc gatewaydomain.Service
	BillingSvc billingdomain.Service
	AccountSvc accountdomain.Service
	AppSvc     appdomain.Service
	UsageSvc   usagedomain.Service
}

type Server struct {
	engine *gin.Engine
	cfg    config.Config
	log    *zap.Logger

	gatewaySvc gatewaydomain.Service
	billingSvc billingdomain.Service
	accountSvc accountdomain.Service
	appSvc     appdomain.Service
	usageSvc   usagedomain.Service
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine: p.Gin,
		cfg:    p.Cfg,
		log:    p.Log.Named("server"),

		gatewaySvc: p.GatewaySvc,
		billingSvc: p.BillingSvc,
		accountSvc: p.AccountSvc,
		appSvc:     p.AppSvc,
		usageSvc:   p.UsageSvc,
	}

	svc.registerOpsRoutes()
	svc.registerInternalRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerOpsRoutes() {
	s.engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "version": s.cfg.AppVersion})
	})
	s.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

func (s *Server) registerInternalRoutes() {
	internal := s.engine.Group("/internal/v1", s.InternalAuthRequired())

	internal.POST("/gateway/check", s.CheckGatewayDecision)
	internal.POST("/billing/trigger", s.TriggerBilling)
	internal.POST("/usage", s.IngestUsage)

	internal.POST("/users", s.CreateUser)
	internal.GET("/users/:id", s.GetUser)
	internal.GET("/users/:id/balance", s.GetUserBalance)

	internal.POST("/apps", s.CreateApp)
	internal.POST("/pricings", s.CreatePricing)
	internal.PATCH("/pricings/:id", s.UpdatePricing)
	internal.POST("/subscriptions", s.Subscribe)
}
