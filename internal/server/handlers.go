package server

import (
	"net/http"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	accountdomain "github.com/smallbiznis/chargegate/internal/account/domain"
	appdomain "github.com/smallbiznis/chargegate/internal/app/domain"
	gatewaydomain "github.com/smallbiznis/chargegate/internal/gateway/domain"
	"github.com/smallbiznis/chargegate/internal/queuecontext"
	usagedomain "github.com/smallbiznis/chargegate/internal/usage/domain"
	"gorm.io/datatypes"
)

func parseID(raw string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(raw)
	if err != nil {
		return 0, ErrInvalidRequest
	}
	return id, nil
}

type checkRequest struct {
	UserID            string `json:"userId" binding:"required"`
	AppName           string `json:"appName" binding:"required"`
	ForceBalanceCheck bool   `json:"forceBalanceCheck"`
	ForceAwait        bool   `json:"forceAwait"`
}

func (s *Server) CheckGatewayDecision(c *gin.Context) {
	var req checkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	userID, err := parseID(req.UserID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	decision, err := s.gatewaySvc.CheckUserIsAllowed(c.Request.Context(), gatewaydomain.CheckRequest{
		UserID:            userID,
		AppName:           req.AppName,
		ForceBalanceCheck: req.ForceBalanceCheck,
		ForceAwait:        req.ForceAwait,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, decision)
}

type triggerBillingRequest struct {
	SubscriberID string `json:"subscriberId" binding:"required"`
	AppName      string `json:"appName" binding:"required"`
}

// TriggerBilling runs the billing pipeline for one (subscriber, app) pair.
// The endpoint is the queue's delivery target, so the queue caller identity is
// attached here.
func (s *Server) TriggerBilling(c *gin.Context) {
	var req triggerBillingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	subscriberID, err := parseID(req.SubscriberID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	ctx := queuecontext.WithCaller(c.Request.Context(), queuecontext.CallerBillingQueue)
	result, err := s.billingSvc.TriggerBilling(ctx, subscriberID, req.AppName)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"billedUsageSummaries": len(result.AffectedUsageSummaries),
	})
}

type ingestUsageRequest struct {
	SubscriberID string         `json:"subscriberId" binding:"required"`
	AppName      string         `json:"appName" binding:"required"`
	Path         string         `json:"path"`
	PricingID    string         `json:"pricingId" binding:"required"`
	Volume       int64          `json:"volume"`
	Metadata     map[string]any `json:"metadata"`
}

func (s *Server) IngestUsage(c *gin.Context) {
	var req ingestUsageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	subscriberID, err := parseID(req.SubscriberID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	pricingID, err := parseID(req.PricingID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	volume := req.Volume
	if volume == 0 {
		volume = 1
	}

	log := &usagedomain.UsageLog{
		SubscriberID: subscriberID,
		AppName:      req.AppName,
		Path:         req.Path,
		PricingID:    pricingID,
		Volume:       volume,
		Metadata:     datatypes.JSONMap(req.Metadata),
	}
	if err := s.usageSvc.CreateUsageLog(c.Request.Context(), log); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": log.ID.String()})
}

type createUserRequest struct {
	Name         string          `json:"name" binding:"required"`
	Balance      decimal.Decimal `json:"balance"`
	BalanceLimit decimal.Decimal `json:"balanceLimit"`
}

func (s *Server) CreateUser(c *gin.Context) {
	var req createUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	user := &accountdomain.User{
		Name:         req.Name,
		Balance:      req.Balance,
		BalanceLimit: req.BalanceLimit,
	}
	if err := s.accountSvc.CreateUser(c.Request.Context(), user); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": user.ID.String()})
}

func (s *Server) GetUser(c *gin.Context) {
	userID, err := parseID(c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	user, err := s.accountSvc.GetUser(c.Request.Context(), userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"id":      user.ID.String(),
		"name":    user.Name,
		"balance": user.Balance,
	})
}

func (s *Server) GetUserBalance(c *gin.Context) {
	userID, err := parseID(c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	balance, err := s.accountSvc.GetUserBalance(c.Request.Context(), userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"balance": balance})
}

type createAppRequest struct {
	Name    string `json:"name" binding:"required"`
	OwnerID string `json:"ownerId" binding:"required"`
}

func (s *Server) CreateApp(c *gin.Context) {
	var req createAppRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	ownerID, err := parseID(req.OwnerID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	app := &appdomain.App{Name: req.Name, OwnerID: ownerID}
	if err := s.appSvc.CreateApp(c.Request.Context(), app); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": app.ID.String()})
}

type createPricingRequest struct {
	AppName          string          `json:"appName" binding:"required"`
	Name             string          `json:"name" binding:"required"`
	CallToAction     string          `json:"callToAction"`
	ChargePerRequest decimal.Decimal `json:"chargePerRequest"`
	MinMonthlyCharge decimal.Decimal `json:"minMonthlyCharge"`
	FreeQuota        int64           `json:"freeQuota"`
}

func (s *Server) CreatePricing(c *gin.Context) {
	var req createPricingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	pricing := &appdomain.Pricing{
		AppName:          req.AppName,
		Name:             req.Name,
		CallToAction:     req.CallToAction,
		ChargePerRequest: req.ChargePerRequest,
		MinMonthlyCharge: req.MinMonthlyCharge,
		FreeQuota:        req.FreeQuota,
		Active:           true,
	}
	if err := s.appSvc.CreatePricing(c.Request.Context(), pricing); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": pricing.ID.String(), "pk": pricing.PK()})
}

type updatePricingRequest struct {
	Name         *string `json:"name"`
	CallToAction *string `json:"callToAction"`
	Active       *bool   `json:"active"`
}

func (s *Server) UpdatePricing(c *gin.Context) {
	pricingID, err := parseID(c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	var req updatePricingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	err = s.appSvc.UpdatePricing(c.Request.Context(), pricingID, appdomain.UpdatePricingRequest{
		Name:         req.Name,
		CallToAction: req.CallToAction,
		Active:       req.Active,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type subscribeRequest struct {
	SubscriberID string `json:"subscriberId" binding:"required"`
	AppName      string `json:"appName" binding:"required"`
	PricingID    string `json:"pricingId" binding:"required"`
}

func (s *Server) Subscribe(c *gin.Context) {
	var req subscribeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	subscriberID, err := parseID(req.SubscriberID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	pricingID, err := parseID(req.PricingID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	sub, err := s.appSvc.Subscribe(c.Request.Context(), subscriberID, req.AppName, pricingID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": sub.ID.String()})
}
