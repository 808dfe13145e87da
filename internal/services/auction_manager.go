package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"auction-marketplace/internal/domain"
	"auction-marketplace/internal/metrics"
	"auction-marketplace/pkg/logger"
	"auction-marketplace/pkg/utils"
)

type CreateAuctionRequest struct {
	SellerID   string    `json:"seller_id"`
	ProductID  string    `json:"product_id"`
	StartPrice int64     `json:"start_price"`
	StartTime  time.Time `json:"start_time"`
	EndTime    time.Time `json:"end_time"`
}

func (r CreateAuctionRequest) Validate() error {
	switch {
	case r.SellerID == "":
		return fmt.Errorf("%w: seller_id is required", domain.ErrInvalidAuction)
	case r.ProductID == "":
		return fmt.Errorf("%w: product_id is required", domain.ErrInvalidAuction)
	case r.StartPrice < 0:
		return fmt.Errorf("%w: start_price must not be negative", domain.ErrInvalidAuction)
	case r.StartTime.IsZero() || r.EndTime.IsZero():
		return fmt.Errorf("%w: start_time and end_time are required", domain.ErrInvalidAuction)
	case !r.EndTime.After(r.StartTime):
		return fmt.Errorf("%w: end_time must be after start_time", domain.ErrInvalidAuction)
	}
	return nil
}

// AuctionManager owns the auction lifecycle transitions. Every transition is a
// compare-and-set on the stored status, so repeating one is harmless.
type AuctionManager struct {
	auctions   domain.AuctionRepository
	bids       domain.BidRepository
	cache      domain.AuctionCache
	states     *AuctionStateLoader
	points     *PointReservationCoordinator
	broker     domain.EventBroker
	instanceID string
	now        func() time.Time
	log        logger.Logger
}

func NewAuctionManager(
	auctions domain.AuctionRepository,
	bids domain.BidRepository,
	cache domain.AuctionCache,
	states *AuctionStateLoader,
	points *PointReservationCoordinator,
	broker domain.EventBroker,
	instanceID string,
	log logger.Logger,
) *AuctionManager {
	return &AuctionManager{
		auctions:   auctions,
		bids:       bids,
		cache:      cache,
		states:     states,
		points:     points,
		broker:     broker,
		instanceID: instanceID,
		now:        time.Now,
		log:        log,
	}
}

func (am *AuctionManager) CreateAuction(ctx context.Context, req CreateAuctionRequest) (*domain.Auction, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	now := am.now()
	auction := &domain.Auction{
		ID:           utils.GenerateID("auction"),
		SellerID:     req.SellerID,
		ProductID:    req.ProductID,
		StartPrice:   req.StartPrice,
		CurrentPrice: req.StartPrice,
		StartTime:    req.StartTime,
		EndTime:      req.EndTime,
		Status:       domain.AuctionReady,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := am.auctions.CreateAuction(ctx, auction); err != nil {
		return nil, err
	}

	if err := am.states.Load(ctx, auction.ID); err != nil {
		am.log.Warn("Failed to warm auction cache", "auction_id", auction.ID, "error", err)
	}

	am.log.Info("Auction created", "auction_id", auction.ID, "seller_id", auction.SellerID,
		"start_time", auction.StartTime, "end_time", auction.EndTime)
	return auction, nil
}

func (am *AuctionManager) GetAuction(ctx context.Context, auctionID string) (*domain.Auction, error) {
	return am.auctions.GetAuction(ctx, auctionID)
}

func (am *AuctionManager) BidHistory(ctx context.Context, auctionID string) ([]*domain.Bid, error) {
	if _, err := am.auctions.GetAuction(ctx, auctionID); err != nil {
		return nil, err
	}
	return am.bids.GetBidHistory(ctx, auctionID)
}

// StartAuction opens a READY auction for bidding and reports whether this call did it.
func (am *AuctionManager) StartAuction(ctx context.Context, auctionID string) (bool, error) {
	return am.transition(ctx, auctionID, domain.AuctionReady, domain.AuctionOngoing)
}

// EndAuction closes an ONGOING auction to new bids and reports whether this call did it.
func (am *AuctionManager) EndAuction(ctx context.Context, auctionID string) (bool, error) {
	return am.transition(ctx, auctionID, domain.AuctionOngoing, domain.AuctionEnded)
}

// transition runs inside the auction's cache transaction, so a status change and a bid
// commit on the same auction never interleave.
func (am *AuctionManager) transition(ctx context.Context, auctionID string, from, to domain.AuctionStatus) (bool, error) {
	changed := false
	err := am.cache.Transact(ctx, auctionID, func(tx domain.CacheTx) error {
		ok, err := am.auctions.CompareAndSetStatus(ctx, auctionID, from, to)
		if err != nil || !ok {
			return err
		}
		changed = true
		return tx.SetStatus(to)
	})

	switch {
	case err == nil:
	case changed:
		// the stored status already changed; a stale cached status is corrected on reload
		am.log.Error("Failed to update cached status", "auction_id", auctionID, "status", to.String(), "error", err)
		if invErr := am.cache.Invalidate(ctx, auctionID); invErr != nil {
			am.log.Error("Failed to invalidate cached auction", "auction_id", auctionID, "error", invErr)
		}
	case errors.Is(err, domain.ErrCacheMiss):
		// nothing cached, so no bid can commit; the next load reads the new status
		changed, err = am.auctions.CompareAndSetStatus(ctx, auctionID, from, to)
		if err != nil {
			return false, err
		}
	default:
		return false, err
	}
	if !changed {
		return false, nil
	}

	metrics.SweepTransitions.WithLabelValues(to.String()).Inc()
	am.log.Info("Auction status changed", "auction_id", auctionID, "from", from.String(), "to", to.String())
	return true, nil
}

// SettleAuction finalizes the points of an ENDED auction and moves it to COMPLETED when
// it has a winner or FAILED when nobody bid. It reports whether this call settled it.
func (am *AuctionManager) SettleAuction(ctx context.Context, auction *domain.Auction) (bool, error) {
	if auction.Status != domain.AuctionEnded {
		return false, nil
	}

	winnerID, finalPrice, err := am.outcome(ctx, auction)
	if err != nil {
		return false, err
	}

	if _, err := am.points.Finalize(ctx, auction.ID, winnerID); err != nil {
		return false, fmt.Errorf("finalize points of auction %s: %w", auction.ID, err)
	}

	to := domain.AuctionFailed
	if winnerID != "" {
		to = domain.AuctionCompleted
	}
	ok, err := am.auctions.SettleAuction(ctx, auction.ID, to, winnerID, finalPrice)
	if err != nil || !ok {
		return false, err
	}
	metrics.SweepTransitions.WithLabelValues(to.String()).Inc()

	endedAt := am.now()
	var winner *string
	if winnerID != "" {
		winner = &winnerID
	}
	am.publishEnded(ctx, domain.AuctionEndedEvent{
		AuctionID:  auction.ID,
		SellerID:   auction.SellerID,
		WinnerID:   winner,
		FinalPrice: finalPrice,
		EndedAt:    endedAt,
		Origin:     am.instanceID,
	})

	if err := am.cache.SetStatus(ctx, auction.ID, to); err != nil {
		am.log.Warn("Failed to update cached status", "auction_id", auction.ID, "error", err)
	}
	if err := am.cache.Expire(ctx, auction.ID, am.states.TTL(auction.EndTime)); err != nil {
		am.log.Warn("Failed to expire cached auction", "auction_id", auction.ID, "error", err)
	}

	am.log.Info("Auction settled", "auction_id", auction.ID, "status", to.String(),
		"winner_id", winnerID, "final_price", finalPrice)
	return true, nil
}

// outcome prefers the cache, which sees accepted bids before they are persisted. The
// entry is read inside a transaction that also closes it, so no bid can commit after
// the winner has been chosen.
func (am *AuctionManager) outcome(ctx context.Context, auction *domain.Auction) (string, int64, error) {
	var entry domain.AuctionCacheEntry
	err := am.cache.Transact(ctx, auction.ID, func(tx domain.CacheTx) error {
		entry = tx.Entry()
		if entry.Status == domain.AuctionOngoing {
			// rehydrated from the store before the auction ended
			return tx.SetStatus(domain.AuctionEnded)
		}
		return nil
	})
	switch {
	case err == nil:
		return leader(auction, &entry)
	case !errors.Is(err, domain.ErrCacheMiss):
		// a live entry may hold bids the store has not seen yet; retried on the next sweep
		return "", 0, fmt.Errorf("close cached auction %s: %w", auction.ID, err)
	}

	summary, err := am.bids.GetBidSummary(ctx, auction.ID)
	if err != nil {
		return "", 0, fmt.Errorf("load bids of auction %s: %w", auction.ID, err)
	}
	return leader(auction, EntryFromStore(auction, summary))
}

func leader(auction *domain.Auction, entry *domain.AuctionCacheEntry) (string, int64, error) {
	if entry.LastBidderID == "" {
		return "", auction.StartPrice, nil
	}
	return entry.LastBidderID, entry.CurrentPrice, nil
}

func (am *AuctionManager) publishEnded(ctx context.Context, event domain.AuctionEndedEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		am.log.Error("Failed to encode auction ended event", "error", err)
		return
	}
	if err := am.broker.Publish(ctx, domain.TopicAuctionEnded, payload); err != nil {
		metrics.SideEffectFailures.WithLabelValues("publish").Inc()
		am.log.Error("Failed to publish auction ended event", "auction_id", event.AuctionID, "error", err)
	}
}
