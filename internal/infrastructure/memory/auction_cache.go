package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"auction-marketplace/internal/domain"
)

// AuctionCache is a process-local domain.AuctionCache. Each auction has its own
// one-slot semaphore, so transactions on one auction serialize while transactions on
// other auctions proceed in parallel.
type AuctionCache struct {
	mu      sync.Mutex
	entries map[string]*cacheSlot
	now     func() time.Time
}

type cacheSlot struct {
	sem chan struct{} // held for the duration of a transaction

	dataMu    sync.RWMutex
	entry     domain.AuctionCacheEntry
	bidders   map[string]struct{}
	expiresAt time.Time
	removed   bool
}

func NewAuctionCache() *AuctionCache {
	return NewAuctionCacheWithClock(time.Now)
}

func NewAuctionCacheWithClock(now func() time.Time) *AuctionCache {
	return &AuctionCache{
		entries: make(map[string]*cacheSlot),
		now:     now,
	}
}

func (c *AuctionCache) slot(auctionID string) *cacheSlot {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.entries[auctionID]
	if !ok {
		return nil
	}

	s.dataMu.RLock()
	expired := !s.expiresAt.IsZero() && !c.now().Before(s.expiresAt)
	s.dataMu.RUnlock()

	if expired {
		s.dataMu.Lock()
		s.removed = true
		s.dataMu.Unlock()
		delete(c.entries, auctionID)
		return nil
	}
	return s
}

func (c *AuctionCache) Get(ctx context.Context, auctionID string) (*domain.AuctionCacheEntry, error) {
	s := c.slot(auctionID)
	if s == nil {
		return nil, domain.ErrCacheMiss
	}

	s.dataMu.RLock()
	defer s.dataMu.RUnlock()
	if s.removed {
		return nil, domain.ErrCacheMiss
	}
	entry := s.entry
	return &entry, nil
}

func (c *AuctionCache) Put(ctx context.Context, entry *domain.AuctionCacheEntry, bidderIDs []string, ttl time.Duration) (bool, error) {
	if entry == nil || entry.AuctionID == "" {
		return false, fmt.Errorf("put cache entry: %w", domain.ErrInvalidAuction)
	}
	if c.slot(entry.AuctionID) != nil {
		return false, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[entry.AuctionID]; exists {
		return false, nil
	}

	bidders := make(map[string]struct{}, len(bidderIDs))
	for _, id := range bidderIDs {
		bidders[id] = struct{}{}
	}

	s := &cacheSlot{
		sem:     make(chan struct{}, 1),
		entry:   *entry,
		bidders: bidders,
	}
	if ttl > 0 {
		s.expiresAt = c.now().Add(ttl)
	}
	c.entries[entry.AuctionID] = s
	return true, nil
}

func (c *AuctionCache) SetStatus(ctx context.Context, auctionID string, status domain.AuctionStatus) error {
	s := c.slot(auctionID)
	if s == nil {
		return nil
	}

	s.dataMu.Lock()
	defer s.dataMu.Unlock()
	s.entry.Status = status
	return nil
}

func (c *AuctionCache) Invalidate(ctx context.Context, auctionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if s, ok := c.entries[auctionID]; ok {
		s.dataMu.Lock()
		s.removed = true
		s.dataMu.Unlock()
		delete(c.entries, auctionID)
	}
	return nil
}

func (c *AuctionCache) Expire(ctx context.Context, auctionID string, ttl time.Duration) error {
	s := c.slot(auctionID)
	if s == nil {
		return nil
	}

	s.dataMu.Lock()
	defer s.dataMu.Unlock()
	s.expiresAt = c.now().Add(ttl)
	return nil
}

func (c *AuctionCache) Transact(ctx context.Context, auctionID string, fn func(tx domain.CacheTx) error) error {
	s := c.slot(auctionID)
	if s == nil {
		return domain.ErrCacheMiss
	}

	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return fmt.Errorf("wait for auction %s: %w", auctionID, ctx.Err())
	}
	defer func() { <-s.sem }()

	s.dataMu.RLock()
	removed := s.removed
	snapshot := s.entry
	s.dataMu.RUnlock()
	if removed {
		return domain.ErrCacheMiss
	}

	return fn(&memoryTx{slot: s, entry: snapshot})
}

type memoryTx struct {
	slot      *cacheSlot
	entry     domain.AuctionCacheEntry
	committed bool
}

func (tx *memoryTx) Entry() domain.AuctionCacheEntry {
	return tx.entry
}

func (tx *memoryTx) HasBid(userID string) bool {
	tx.slot.dataMu.RLock()
	defer tx.slot.dataMu.RUnlock()
	_, ok := tx.slot.bidders[userID]
	return ok
}

func (tx *memoryTx) Commit(userID string, amount int64) (*domain.CommitResult, error) {
	if tx.committed {
		return nil, domain.ErrTxCommitted
	}

	s := tx.slot
	s.dataMu.Lock()
	defer s.dataMu.Unlock()

	if s.removed {
		return nil, domain.ErrCacheMiss
	}
	if s.entry.Status != domain.AuctionOngoing {
		return nil, domain.ErrAuctionClosed
	}
	if amount <= s.entry.CurrentPrice {
		return nil, domain.ErrPriceNotHigher
	}

	previous := s.entry.LastBidderID
	_, seen := s.bidders[userID]
	if !seen {
		s.bidders[userID] = struct{}{}
		s.entry.UniqueBidders++
	}
	s.entry.CurrentPrice = amount
	s.entry.LastBidderID = userID
	s.entry.BidCount++

	tx.committed = true
	tx.entry = s.entry

	return &domain.CommitResult{
		Entry:            s.entry,
		PreviousBidderID: previous,
		FirstBidByUser:   !seen,
	}, nil
}

func (tx *memoryTx) SetStatus(status domain.AuctionStatus) error {
	s := tx.slot
	s.dataMu.Lock()
	defer s.dataMu.Unlock()

	if s.removed {
		return domain.ErrCacheMiss
	}
	s.entry.Status = status
	tx.entry.Status = status
	return nil
}
