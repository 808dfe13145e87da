package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"auction-marketplace/internal/domain"
	"auction-marketplace/pkg/logger"
)

// AuctionStateLoader rebuilds cache entries from the store. Concurrent loads of the same
// auction share one store read, and Put is set-if-absent, so a load never overwrites an
// entry that bids have already advanced.
type AuctionStateLoader struct {
	auctions domain.AuctionRepository
	bids     domain.BidRepository
	cache    domain.AuctionCache
	grace    time.Duration
	group    singleflight.Group
	now      func() time.Time
	log      logger.Logger
}

func NewAuctionStateLoader(auctions domain.AuctionRepository, bids domain.BidRepository,
	cache domain.AuctionCache, grace time.Duration, log logger.Logger) *AuctionStateLoader {
	if grace <= 0 {
		grace = 10 * time.Minute
	}
	return &AuctionStateLoader{
		auctions: auctions,
		bids:     bids,
		cache:    cache,
		grace:    grace,
		now:      time.Now,
		log:      log,
	}
}

// Load makes sure a cache entry exists for the auction. It is a no-op when one does.
func (l *AuctionStateLoader) Load(ctx context.Context, auctionID string) error {
	if _, err := l.cache.Get(ctx, auctionID); err == nil {
		return nil
	} else if !errors.Is(err, domain.ErrCacheMiss) {
		return err
	}

	_, err, _ := l.group.Do(auctionID, func() (interface{}, error) {
		return nil, l.load(ctx, auctionID)
	})
	return err
}

func (l *AuctionStateLoader) load(ctx context.Context, auctionID string) error {
	auction, err := l.auctions.GetAuction(ctx, auctionID)
	if err != nil {
		return err
	}
	summary, err := l.bids.GetBidSummary(ctx, auctionID)
	if err != nil {
		return fmt.Errorf("load bids of auction %s: %w", auctionID, err)
	}

	entry := EntryFromStore(auction, summary)
	stored, err := l.cache.Put(ctx, entry, summary.BidderIDs, l.TTL(auction.EndTime))
	if err != nil {
		return err
	}
	if stored {
		l.log.Debug("Auction state loaded", "auction_id", auctionID,
			"current_price", entry.CurrentPrice, "bid_count", entry.BidCount)
	}
	return nil
}

// Current returns the cached state, loading it first on a miss.
func (l *AuctionStateLoader) Current(ctx context.Context, auctionID string) (*domain.AuctionCacheEntry, error) {
	entry, err := l.cache.Get(ctx, auctionID)
	if err == nil {
		return entry, nil
	}
	if !errors.Is(err, domain.ErrCacheMiss) {
		return nil, err
	}

	if err := l.Load(ctx, auctionID); err != nil {
		return nil, err
	}
	return l.cache.Get(ctx, auctionID)
}

// TTL keeps an entry until the grace window after the auction ends.
func (l *AuctionStateLoader) TTL(endTime time.Time) time.Duration {
	ttl := endTime.Add(l.grace).Sub(l.now())
	if ttl <= 0 {
		return l.grace
	}
	return ttl
}

// EntryFromStore builds a cache entry from the durable auction row and its bid aggregate.
func EntryFromStore(auction *domain.Auction, summary *domain.BidSummary) *domain.AuctionCacheEntry {
	price := auction.CurrentPrice
	if price < auction.StartPrice {
		price = auction.StartPrice
	}
	if summary.LastAmount > price {
		price = summary.LastAmount
	}

	return &domain.AuctionCacheEntry{
		AuctionID:     auction.ID,
		SellerID:      auction.SellerID,
		StartPrice:    auction.StartPrice,
		CurrentPrice:  price,
		LastBidderID:  summary.LastBidderID,
		UniqueBidders: summary.UniqueBidders,
		BidCount:      summary.LastSequence,
		Status:        auction.Status,
		EndTime:       auction.EndTime,
	}
}
