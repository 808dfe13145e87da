package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"auction-marketplace/internal/domain"
	"auction-marketplace/internal/services"
	"auction-marketplace/pkg/logger"
)

type AuctionService interface {
	CreateAuction(ctx context.Context, req services.CreateAuctionRequest) (*domain.Auction, error)
	GetAuction(ctx context.Context, auctionID string) (*domain.Auction, error)
}

type PointsService interface {
	Balance(ctx context.Context, userID string) (*domain.PointBalance, error)
}

// PointDepositor credits points to a user. Both ledger backends implement it.
type PointDepositor interface {
	Deposit(ctx context.Context, userID string, amount int64) error
}

type AuctionResponse struct {
	AuctionID    string    `json:"auction_id"`
	SellerID     string    `json:"seller_id"`
	ProductID    string    `json:"product_id"`
	StartPrice   int64     `json:"start_price"`
	CurrentPrice int64     `json:"current_price"`
	WinnerID     string    `json:"winner_id,omitempty"`
	StartTime    time.Time `json:"start_time"`
	EndTime      time.Time `json:"end_time"`
	Status       string    `json:"status"`
}

type DepositRequest struct {
	Amount int64 `json:"amount"`
}

type AuctionHandler struct {
	auctions  AuctionService
	points    PointsService
	depositor PointDepositor
	scheduler domain.AuctionScheduler
	log       logger.Logger
}

func NewAuctionHandler(auctions AuctionService, points PointsService, depositor PointDepositor,
	scheduler domain.AuctionScheduler, log logger.Logger) *AuctionHandler {
	return &AuctionHandler{
		auctions:  auctions,
		points:    points,
		depositor: depositor,
		scheduler: scheduler,
		log:       log,
	}
}

func (h *AuctionHandler) Register(api *echo.Group) {
	api.POST("/auctions", h.CreateAuction)
	api.GET("/auctions/:id", h.GetAuction)
	api.GET("/users/:id/points", h.GetPointsBalance)
	api.POST("/users/:id/points", h.DepositPoints)
	api.POST("/admin/sweep", h.Sweep)
}

func (h *AuctionHandler) CreateAuction(c echo.Context) error {
	var req services.CreateAuctionRequest
	if err := c.Bind(&req); err != nil {
		h.log.Error("Failed to bind request", "error", err)
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "Invalid request body"})
	}

	auction, err := h.auctions.CreateAuction(c.Request().Context(), req)
	if errors.Is(err, domain.ErrInvalidAuction) {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}
	if err != nil {
		h.log.Error("Failed to create auction", "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to create auction"})
	}

	return c.JSON(http.StatusCreated, toAuctionResponse(auction))
}

func (h *AuctionHandler) GetAuction(c echo.Context) error {
	auctionID := c.Param("id")

	auction, err := h.auctions.GetAuction(c.Request().Context(), auctionID)
	if errors.Is(err, domain.ErrAuctionNotFound) {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "Auction not found"})
	}
	if err != nil {
		h.log.Error("Failed to load auction", "auction_id", auctionID, "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Failed to load auction"})
	}

	return c.JSON(http.StatusOK, toAuctionResponse(auction))
}

func (h *AuctionHandler) GetPointsBalance(c echo.Context) error {
	userID := c.Param("id")

	balance, err := h.points.Balance(c.Request().Context(), userID)
	if err != nil {
		h.log.Error("Failed to load points balance", "user_id", userID, "error", err)
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "Points balance unavailable"})
	}
	return c.JSON(http.StatusOK, balance)
}

func (h *AuctionHandler) DepositPoints(c echo.Context) error {
	userID := c.Param("id")

	var req DepositRequest
	if err := c.Bind(&req); err != nil || req.Amount <= 0 {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "amount must be positive"})
	}

	if err := h.depositor.Deposit(c.Request().Context(), userID, req.Amount); err != nil {
		h.log.Error("Failed to deposit points", "user_id", userID, "amount", req.Amount, "error", err)
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "Deposit failed"})
	}
	return h.GetPointsBalance(c)
}

// Sweep runs one lifecycle pass immediately instead of waiting for the next tick.
func (h *AuctionHandler) Sweep(c echo.Context) error {
	report, err := h.scheduler.Sweep(c.Request().Context())
	if err != nil {
		h.log.Error("Manual sweep failed", "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Sweep failed"})
	}
	return c.JSON(http.StatusOK, report)
}

func toAuctionResponse(a *domain.Auction) AuctionResponse {
	return AuctionResponse{
		AuctionID:    a.ID,
		SellerID:     a.SellerID,
		ProductID:    a.ProductID,
		StartPrice:   a.StartPrice,
		CurrentPrice: a.CurrentPrice,
		WinnerID:     a.WinnerID,
		StartTime:    a.StartTime,
		EndTime:      a.EndTime,
		Status:       a.Status.String(),
	}
}
