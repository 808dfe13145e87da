package services

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"auction-marketplace/internal/domain"
	"auction-marketplace/internal/metrics"
	"auction-marketplace/pkg/logger"
	"auction-marketplace/pkg/utils"
)

// BidArchiver stores accepted bids from the broker a second time. SaveBid is idempotent on
// (auction, sequence), so this only fills rows a bidding instance failed to persist.
type BidArchiver struct {
	broker   domain.EventBroker
	auctions domain.AuctionRepository
	bids     domain.BidRepository
	timeout  time.Duration
	log      logger.Logger
}

func NewBidArchiver(broker domain.EventBroker, auctions domain.AuctionRepository, bids domain.BidRepository,
	timeout time.Duration, log logger.Logger) *BidArchiver {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &BidArchiver{
		broker:   broker,
		auctions: auctions,
		bids:     bids,
		timeout:  timeout,
		log:      log,
	}
}

// Start blocks until ctx is cancelled.
func (a *BidArchiver) Start(ctx context.Context) error {
	a.log.Info("Starting bid archiver")
	return a.broker.Subscribe(ctx, a.handle, domain.TopicBidSuccess, domain.TopicAuctionEnded)
}

func (a *BidArchiver) handle(topic string, payload []byte) error {
	metrics.ArchivedEvents.WithLabelValues(topic).Inc()

	switch topic {
	case domain.TopicBidSuccess:
		var event domain.BidSuccessEvent
		if err := json.Unmarshal(payload, &event); err != nil {
			return fmt.Errorf("decode %s: %w", topic, err)
		}
		return a.archiveBid(&event)
	case domain.TopicAuctionEnded:
		var event domain.AuctionEndedEvent
		if err := json.Unmarshal(payload, &event); err != nil {
			return fmt.Errorf("decode %s: %w", topic, err)
		}
		winner := ""
		if event.WinnerID != nil {
			winner = *event.WinnerID
		}
		a.log.Info("Auction ended", "auction_id", event.AuctionID, "seller_id", event.SellerID,
			"winner_id", winner, "final_price", event.FinalPrice)
		return nil
	}
	return fmt.Errorf("unknown topic %q", topic)
}

func (a *BidArchiver) archiveBid(event *domain.BidSuccessEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
	defer cancel()

	err := a.bids.SaveBid(ctx, &domain.Bid{
		ID:        utils.GenerateID("bid"),
		AuctionID: event.AuctionID,
		UserID:    event.UserID,
		Amount:    event.Amount,
		BidTime:   event.Timestamp,
		Sequence:  event.Sequence,
		Status:    domain.BidAccepted,
	})
	if err != nil {
		return fmt.Errorf("archive bid %s/%d: %w", event.AuctionID, event.Sequence, err)
	}
	if err := a.auctions.RaiseCurrentPrice(ctx, event.AuctionID, event.Amount); err != nil {
		return fmt.Errorf("raise price of auction %s: %w", event.AuctionID, err)
	}

	a.log.Debug("Bid archived", "auction_id", event.AuctionID, "sequence", event.Sequence, "amount", event.Amount)
	return nil
}
