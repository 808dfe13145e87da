package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"auction-marketplace/internal/domain"
	"auction-marketplace/internal/metrics"
	"auction-marketplace/pkg/logger"
)

// BidSubmitter receives accepted bids in commit order.
type BidSubmitter interface {
	Submit(ctx context.Context, bid domain.AcceptedBid) error
}

// BidArbitrator decides bid attempts. Checks run in a fixed order: auction exists, is
// open at the request time, bidder is not the seller, amount beats the current price,
// points can be held. The price check, the hold and the commit all run inside one cache
// transaction for the auction, so bids on one auction are decided one at a time.
type BidArbitrator struct {
	cache     domain.AuctionCache
	states    *AuctionStateLoader
	points    *PointReservationCoordinator
	sequencer BidSubmitter
	log       logger.Logger
}

func NewBidArbitrator(cache domain.AuctionCache, states *AuctionStateLoader, points *PointReservationCoordinator,
	sequencer BidSubmitter, log logger.Logger) *BidArbitrator {
	return &BidArbitrator{
		cache:     cache,
		states:    states,
		points:    points,
		sequencer: sequencer,
		log:       log,
	}
}

// AttemptBid returns exactly one outcome. The error is non-nil only when infrastructure
// failed before a decision could be made; no state was changed in that case.
func (a *BidArbitrator) AttemptBid(ctx context.Context, auctionID, userID string, amount int64, requestedAt time.Time) (domain.BidOutcome, error) {
	started := time.Now()
	outcome, err := a.attempt(ctx, auctionID, userID, amount, requestedAt)
	metrics.BidDecisionSeconds.Observe(time.Since(started).Seconds())
	if err != nil {
		a.log.Error("Bid attempt failed", "auction_id", auctionID, "user_id", userID, "amount", amount, "error", err)
		return nil, err
	}

	metrics.BidOutcomes.WithLabelValues(string(outcome.Code())).Inc()
	a.log.Debug("Bid decided", "auction_id", auctionID, "user_id", userID, "amount", amount,
		"code", outcome.Code())
	return outcome, nil
}

func (a *BidArbitrator) attempt(ctx context.Context, auctionID, userID string, amount int64, requestedAt time.Time) (domain.BidOutcome, error) {
	entry, err := a.states.Current(ctx, auctionID)
	if errors.Is(err, domain.ErrAuctionNotFound) {
		return domain.BidAuctionNotFound{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load auction %s: %w", auctionID, err)
	}

	if outcome := precheck(*entry, userID, requestedAt); outcome != nil {
		return outcome, nil
	}
	if amount <= 0 || amount <= entry.CurrentPrice {
		return domain.BidPriceTooLow{CurrentPrice: entry.CurrentPrice}, nil
	}

	var (
		outcome  domain.BidOutcome
		snapshot domain.AuctionCacheEntry
	)
	err = a.cache.Transact(ctx, auctionID, func(tx domain.CacheTx) error {
		snapshot = tx.Entry()
		var decideErr error
		outcome, decideErr = a.decide(ctx, tx, userID, amount, requestedAt)
		return decideErr
	})
	if errors.Is(err, domain.ErrLeaseLost) {
		// another transaction may already own the auction, so snapshot can be stale
		a.compensateUnderLease(userID, snapshot)
		return nil, err
	}
	if errors.Is(err, domain.ErrCacheMiss) {
		// entry evicted between the read and the transaction
		return domain.BidAuctionNotFound{}, nil
	}
	if err != nil {
		return nil, err
	}
	return outcome, nil
}

// precheck covers the checks that do not depend on the current price.
func precheck(entry domain.AuctionCacheEntry, userID string, requestedAt time.Time) domain.BidOutcome {
	if !entry.AcceptsBidsAt(requestedAt) {
		return domain.BidAuctionEnded{}
	}
	if userID == entry.SellerID {
		return domain.BidSelfBidding{}
	}
	return nil
}

func (a *BidArbitrator) decide(ctx context.Context, tx domain.CacheTx, userID string, amount int64, requestedAt time.Time) (domain.BidOutcome, error) {
	current := tx.Entry()
	if outcome := precheck(current, userID, requestedAt); outcome != nil {
		return outcome, nil
	}
	if amount <= current.CurrentPrice {
		return domain.BidPriceTooLow{CurrentPrice: current.CurrentPrice}, nil
	}

	switch err := a.points.Hold(ctx, userID, current.AuctionID, amount); {
	case errors.Is(err, domain.ErrInsufficientPoints):
		return domain.BidNotEnoughPoint{}, nil
	case errors.Is(err, domain.ErrFundsUnavailable):
		a.log.Warn("Point ledger unavailable", "auction_id", current.AuctionID, "user_id", userID, "error", err)
		// the ledger may have applied the hold before the deadline hit
		a.compensate(current, userID)
		return domain.BidFundsUnavailable{}, nil
	case err != nil:
		return nil, err
	}

	result, err := tx.Commit(userID, amount)
	switch {
	case errors.Is(err, domain.ErrAuctionClosed):
		a.compensate(current, userID)
		return domain.BidAuctionEnded{}, nil
	case errors.Is(err, domain.ErrPriceNotHigher):
		a.compensate(current, userID)
		return domain.BidPriceTooLow{CurrentPrice: current.CurrentPrice}, nil
	case errors.Is(err, domain.ErrLeaseLost):
		return nil, fmt.Errorf("commit bid: %w", err)
	case err != nil:
		a.compensate(current, userID)
		return nil, fmt.Errorf("commit bid: %w", err)
	}

	previous := result.PreviousBidderID
	if previous != "" && previous != userID {
		// one attempt while no other bid can commit; settlement releases it otherwise
		_ = a.points.ReleaseDisplaced(ctx, previous, current.AuctionID)
	}

	accepted := domain.AcceptedBid{
		AuctionID:        current.AuctionID,
		UserID:           userID,
		Amount:           amount,
		Sequence:         result.Entry.BidCount,
		BidTime:          requestedAt,
		PreviousBidderID: previous,
		UniqueBidders:    result.Entry.UniqueBidders,
	}
	if err := a.sequencer.Submit(ctx, accepted); err != nil {
		metrics.SideEffectFailures.WithLabelValues("submit").Inc()
		a.log.Error("Failed to queue accepted bid", "auction_id", current.AuctionID,
			"sequence", accepted.Sequence, "error", err)
	}

	return domain.BidSuccess{NewPrice: amount, Sequence: accepted.Sequence}, nil
}

// compensate undoes the hold placed for a bid whose commit failed. A leader raising
// their own bid gets their previous hold back; anyone else has the new hold released.
func (a *BidArbitrator) compensate(current domain.AuctionCacheEntry, userID string) {
	ctx := context.Background()
	if current.LastBidderID == userID {
		_ = a.points.Restore(ctx, userID, current.AuctionID, current.CurrentPrice)
		return
	}
	_ = a.points.Release(ctx, userID, current.AuctionID)
}

// compensateUnderLease re-reads the entry in a fresh transaction before undoing the
// hold, so a user displaced in the meantime does not get a hold restored.
func (a *BidArbitrator) compensateUnderLease(userID string, stale domain.AuctionCacheEntry) {
	ctx, cancel := context.WithTimeout(context.Background(), a.points.opts.Timeout*2)
	defer cancel()

	err := a.cache.Transact(ctx, stale.AuctionID, func(tx domain.CacheTx) error {
		a.compensate(tx.Entry(), userID)
		return nil
	})
	if err != nil {
		a.log.Warn("Compensating without a lease", "auction_id", stale.AuctionID, "user_id", userID, "error", err)
		a.compensate(stale, userID)
	}
}
