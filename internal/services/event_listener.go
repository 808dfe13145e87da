package services

import (
	"context"
	"encoding/json"
	"fmt"

	"auction-marketplace/internal/domain"
	"auction-marketplace/pkg/logger"
)

// EventListener relays broker events from other instances to the websocket subscribers
// connected here. Events this instance published itself were already broadcast locally.
type EventListener struct {
	broker      domain.EventBroker
	broadcaster domain.AuctionBroadcaster
	instanceID  string
	log         logger.Logger
}

func NewEventListener(broker domain.EventBroker, broadcaster domain.AuctionBroadcaster,
	instanceID string, log logger.Logger) *EventListener {
	return &EventListener{
		broker:      broker,
		broadcaster: broadcaster,
		instanceID:  instanceID,
		log:         log,
	}
}

// Start blocks until ctx is cancelled.
func (el *EventListener) Start(ctx context.Context) error {
	el.log.Info("Starting event listener")
	return el.broker.Subscribe(ctx, el.handle, domain.TopicBidSuccess, domain.TopicAuctionEnded)
}

func (el *EventListener) handle(topic string, payload []byte) error {
	switch topic {
	case domain.TopicBidSuccess:
		var event domain.BidSuccessEvent
		if err := json.Unmarshal(payload, &event); err != nil {
			return fmt.Errorf("decode %s: %w", topic, err)
		}
		return el.handleBidSuccess(&event)
	case domain.TopicAuctionEnded:
		var event domain.AuctionEndedEvent
		if err := json.Unmarshal(payload, &event); err != nil {
			return fmt.Errorf("decode %s: %w", topic, err)
		}
		return el.handleAuctionEnded(&event)
	}
	return fmt.Errorf("unknown topic %q", topic)
}

func (el *EventListener) handleBidSuccess(event *domain.BidSuccessEvent) error {
	if event.Origin == el.instanceID {
		return nil
	}

	return el.broadcaster.BroadcastToAuction(context.Background(), event.AuctionID, domain.BidUpdateMessage{
		Type:         domain.PushBidUpdate,
		AuctionID:    event.AuctionID,
		CurrentPrice: event.Amount,
		LeaderID:     event.UserID,
		Sequence:     event.Sequence,
		Timestamp:    event.Timestamp,
	})
}

// handleAuctionEnded runs for every instance, including the publisher, since the
// scheduler does not hold websocket connections.
func (el *EventListener) handleAuctionEnded(event *domain.AuctionEndedEvent) error {
	if err := el.broadcaster.BroadcastToAuction(context.Background(), event.AuctionID, domain.AuctionEndedMessage{
		Type:       domain.PushAuctionEnded,
		AuctionID:  event.AuctionID,
		WinnerID:   event.WinnerID,
		FinalPrice: event.FinalPrice,
		EndedAt:    event.EndedAt,
	}); err != nil {
		el.log.Error("Failed to broadcast auction ended event", "auction_id", event.AuctionID, "error", err)
		return err
	}

	if err := el.broadcaster.CloseAuction(event.AuctionID); err != nil {
		el.log.Error("Failed to finalize connections for auction", "auction_id",
			event.AuctionID, "error", err)
		return err
	}
	return nil
}
