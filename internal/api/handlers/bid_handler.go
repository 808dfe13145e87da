package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"auction-marketplace/internal/domain"
	"auction-marketplace/pkg/logger"
)

type BidPlacer interface {
	AttemptBid(ctx context.Context, auctionID, userID string, amount int64, requestedAt time.Time) (domain.BidOutcome, error)
}

type AuctionStateReader interface {
	Current(ctx context.Context, auctionID string) (*domain.AuctionCacheEntry, error)
}

type BidHistoryReader interface {
	BidHistory(ctx context.Context, auctionID string) ([]*domain.Bid, error)
}

type PlaceBidRequest struct {
	UserID string `json:"user_id"`
	Amount int64  `json:"amount"`
}

type AuctionStateResponse struct {
	AuctionID     string    `json:"auction_id"`
	SellerID      string    `json:"seller_id"`
	Status        string    `json:"status"`
	StartPrice    int64     `json:"start_price"`
	CurrentPrice  int64     `json:"current_price"`
	LeaderID      string    `json:"leader_id,omitempty"`
	BidCount      int64     `json:"bid_count"`
	UniqueBidders int64     `json:"unique_bidders"`
	EndTime       time.Time `json:"end_time"`
}

type BidResponse struct {
	ID       string    `json:"id"`
	UserID   string    `json:"user_id"`
	Amount   int64     `json:"amount"`
	Sequence int64     `json:"sequence"`
	BidTime  time.Time `json:"bid_time"`
	Status   string    `json:"status"`
}

// BidHandler serves the REST side of the bidding service.
type BidHandler struct {
	bids         BidPlacer
	states       AuctionStateReader
	history      BidHistoryReader
	stateTimeout time.Duration
	log          logger.Logger
}

func NewBidHandler(bids BidPlacer, states AuctionStateReader, history BidHistoryReader,
	stateTimeout time.Duration, log logger.Logger) *BidHandler {
	if stateTimeout <= 0 {
		stateTimeout = 2 * time.Second
	}
	return &BidHandler{
		bids:         bids,
		states:       states,
		history:      history,
		stateTimeout: stateTimeout,
		log:          log,
	}
}

func (h *BidHandler) Register(router *mux.Router) {
	api := router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/auctions/{id}/bids", h.PlaceBid).Methods(http.MethodPost)
	api.HandleFunc("/auctions/{id}/bids", h.GetBidHistory).Methods(http.MethodGet)
	api.HandleFunc("/auctions/{id}/state", h.GetAuctionState).Methods(http.MethodGet)
}

func (h *BidHandler) PlaceBid(w http.ResponseWriter, r *http.Request) {
	requestedAt := time.Now()
	auctionID := mux.Vars(r)["id"]

	var req PlaceBidRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	outcome, err := h.bids.AttemptBid(r.Context(), auctionID, req.UserID, req.Amount, requestedAt)
	if err != nil {
		h.log.Error("Failed to place bid", "auction_id", auctionID, "user_id", req.UserID, "error", err)
		writeError(w, http.StatusServiceUnavailable, "Bid could not be processed")
		return
	}

	writeJSON(w, StatusForOutcome(outcome), domain.NewBidResultMessage(auctionID, outcome))
}

func (h *BidHandler) GetAuctionState(w http.ResponseWriter, r *http.Request) {
	auctionID := mux.Vars(r)["id"]

	ctx, cancel := context.WithTimeout(r.Context(), h.stateTimeout)
	defer cancel()

	state, err := h.states.Current(ctx, auctionID)
	if errors.Is(err, domain.ErrAuctionNotFound) {
		writeError(w, http.StatusNotFound, "Auction not found")
		return
	}
	if err != nil {
		h.log.Error("Failed to load auction state", "auction_id", auctionID, "error", err)
		writeError(w, http.StatusServiceUnavailable, "Auction state unavailable")
		return
	}

	writeJSON(w, http.StatusOK, AuctionStateResponse{
		AuctionID:     state.AuctionID,
		SellerID:      state.SellerID,
		Status:        state.Status.String(),
		StartPrice:    state.StartPrice,
		CurrentPrice:  state.CurrentPrice,
		LeaderID:      state.LastBidderID,
		BidCount:      state.BidCount,
		UniqueBidders: state.UniqueBidders,
		EndTime:       state.EndTime,
	})
}

func (h *BidHandler) GetBidHistory(w http.ResponseWriter, r *http.Request) {
	auctionID := mux.Vars(r)["id"]

	bids, err := h.history.BidHistory(r.Context(), auctionID)
	if errors.Is(err, domain.ErrAuctionNotFound) {
		writeError(w, http.StatusNotFound, "Auction not found")
		return
	}
	if err != nil {
		h.log.Error("Failed to load bid history", "auction_id", auctionID, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to load bid history")
		return
	}

	response := make([]BidResponse, 0, len(bids))
	for _, b := range bids {
		response = append(response, BidResponse{
			ID:       b.ID,
			UserID:   b.UserID,
			Amount:   b.Amount,
			Sequence: b.Sequence,
			BidTime:  b.BidTime,
			Status:   string(b.Status),
		})
	}
	writeJSON(w, http.StatusOK, response)
}

// StatusForOutcome maps a bid outcome to its HTTP status code.
func StatusForOutcome(outcome domain.BidOutcome) int {
	switch outcome.(type) {
	case domain.BidSuccess:
		return http.StatusOK
	case domain.BidPriceTooLow:
		return http.StatusConflict
	case domain.BidAuctionNotFound:
		return http.StatusNotFound
	case domain.BidAuctionEnded:
		return http.StatusGone
	case domain.BidSelfBidding:
		return http.StatusForbidden
	case domain.BidNotEnoughPoint:
		return http.StatusPaymentRequired
	case domain.BidFundsUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
