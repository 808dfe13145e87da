package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"auction-marketplace/internal/domain"
	"auction-marketplace/pkg/logger"
)

// BidPlacer decides bids sent over a live connection.
type BidPlacer interface {
	AttemptBid(ctx context.Context, auctionID, userID string, amount int64, requestedAt time.Time) (domain.BidOutcome, error)
}

// AuctionStateReader returns the cached auction state, loading it on a miss.
type AuctionStateReader interface {
	Current(ctx context.Context, auctionID string) (*domain.AuctionCacheEntry, error)
}

type HandlerOptions struct {
	AllowedOrigins []string
	WriteTimeout   time.Duration
	PongWait       time.Duration
	BidTimeout     time.Duration
}

type WebSocketHandler struct {
	bids     BidPlacer
	states   AuctionStateReader
	manager  *ConnectionManager
	upgrader websocket.Upgrader
	opts     HandlerOptions
	log      logger.Logger
}

func NewWebSocketHandler(bids BidPlacer, states AuctionStateReader, manager *ConnectionManager,
	opts HandlerOptions, log logger.Logger) *WebSocketHandler {
	if opts.PongWait <= 0 {
		opts.PongWait = 60 * time.Second
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = 5 * time.Second
	}
	if opts.BidTimeout <= 0 {
		opts.BidTimeout = 5 * time.Second
	}

	h := &WebSocketHandler{
		bids:    bids,
		states:  states,
		manager: manager,
		opts:    opts,
		log:     log,
	}
	h.upgrader = websocket.Upgrader{CheckOrigin: h.checkOrigin}
	return h
}

func (h *WebSocketHandler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.opts.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

type clientMessage struct {
	Type   string `json:"type"`
	Amount int64  `json:"amount"`
}

func (h *WebSocketHandler) HandleConnection(w http.ResponseWriter, r *http.Request) {
	auctionID := mux.Vars(r)["auctionID"]
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		http.Error(w, "user_id required", http.StatusBadRequest)
		return
	}

	state, err := h.states.Current(r.Context(), auctionID)
	if errors.Is(err, domain.ErrAuctionNotFound) {
		http.Error(w, "auction not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.log.Error("Failed to load auction state", "auction_id", auctionID, "error", err)
		http.Error(w, "auction state unavailable", http.StatusServiceUnavailable)
		return
	}
	if state.Status.IsTerminal() || state.Status == domain.AuctionEnded {
		http.Error(w, "auction has already ended", http.StatusGone)
		return
	}

	raw, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error("Failed to upgrade connection", "error", err)
		return
	}

	conn := NewConnection(raw, h.opts.WriteTimeout)
	sub := h.manager.Subscribe(auctionID, userID, conn)

	h.sendJSON(sub, domain.BidUpdateMessage{
		Type:          domain.PushBidUpdate,
		AuctionID:     auctionID,
		CurrentPrice:  state.CurrentPrice,
		LeaderID:      state.LastBidderID,
		Sequence:      state.BidCount,
		UniqueBidders: state.UniqueBidders,
		Timestamp:     time.Now(),
	})

	go h.keepAlive(conn, sub)
	go h.readLoop(raw, sub)
}

func (h *WebSocketHandler) keepAlive(conn *Connection, sub *Subscription) {
	ticker := time.NewTicker(h.opts.PongWait * 9 / 10)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := conn.Ping(); err != nil {
				_ = sub.Close()
				return
			}
		case <-sub.Done():
			return
		}
	}
}

func (h *WebSocketHandler) readLoop(raw *websocket.Conn, sub *Subscription) {
	defer sub.Close()

	_ = raw.SetReadDeadline(time.Now().Add(h.opts.PongWait))
	raw.SetPongHandler(func(string) error {
		return raw.SetReadDeadline(time.Now().Add(h.opts.PongWait))
	})

	for {
		var msg clientMessage
		if err := raw.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.log.Debug("Connection read failed", "user_id", sub.UserID(), "error", err)
			}
			return
		}
		_ = raw.SetReadDeadline(time.Now().Add(h.opts.PongWait))

		switch msg.Type {
		case "place_bid":
			h.handleBidMessage(sub, msg.Amount)
		case "ping":
			h.sendJSON(sub, map[string]string{"type": domain.PushPong})
		default:
			h.sendJSON(sub, map[string]string{"type": domain.PushError, "message": "unknown message type"})
		}
	}
}

func (h *WebSocketHandler) handleBidMessage(sub *Subscription, amount int64) {
	ctx, cancel := context.WithTimeout(context.Background(), h.opts.BidTimeout)
	defer cancel()

	outcome, err := h.bids.AttemptBid(ctx, sub.AuctionID(), sub.UserID(), amount, time.Now())
	if err != nil {
		h.log.Error("Failed to place bid", "auction_id", sub.AuctionID(), "user_id", sub.UserID(), "error", err)
		h.sendJSON(sub, map[string]string{"type": domain.PushError, "message": "failed to place bid"})
		return
	}

	result := domain.NewBidResultMessage(sub.AuctionID(), outcome)
	result.Type = domain.PushBidResult
	h.sendJSON(sub, result)
}

func (h *WebSocketHandler) sendJSON(sub *Subscription, message interface{}) {
	data, err := json.Marshal(message)
	if err != nil {
		h.log.Error("Failed to encode message", "error", err)
		return
	}
	if err := sub.Send(data); err != nil {
		_ = sub.Close()
	}
}
