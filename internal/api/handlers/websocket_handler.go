package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"auction-marketplace/internal/infrastructure/websocket"
	"auction-marketplace/pkg/logger"
)

type WebSocketHandlers struct {
	wsHandler *websocket.WebSocketHandler
}

func NewWebSocketHandlers(bids BidPlacer, states AuctionStateReader, connManager *websocket.ConnectionManager,
	opts websocket.HandlerOptions, log logger.Logger) *WebSocketHandlers {
	return &WebSocketHandlers{
		wsHandler: websocket.NewWebSocketHandler(bids, states, connManager, opts, log),
	}
}

func (h *WebSocketHandlers) Register(router *mux.Router) {
	router.HandleFunc("/ws/auction/{auctionID}", h.HandleConnection)
}

func (h *WebSocketHandlers) HandleConnection(w http.ResponseWriter, r *http.Request) {
	h.wsHandler.HandleConnection(w, r)
}
