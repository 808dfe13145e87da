package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"auction-marketplace/internal/domain"
)

// Store implements domain.AuctionRepository and domain.BidRepository in memory.
// It backs local runs and tests; production uses the MySQL repositories.
type Store struct {
	mu       sync.RWMutex
	auctions map[string]*domain.Auction
	bids     map[string][]*domain.Bid // auctionID -> bids ordered by sequence
	now      func() time.Time
}

func NewStore() *Store {
	return &Store{
		auctions: make(map[string]*domain.Auction),
		bids:     make(map[string][]*domain.Bid),
		now:      time.Now,
	}
}

func (s *Store) CreateAuction(ctx context.Context, auction *domain.Auction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a := *auction
	s.auctions[a.ID] = &a
	return nil
}

func (s *Store) GetAuction(ctx context.Context, auctionID string) (*domain.Auction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.auctions[auctionID]
	if !ok {
		return nil, domain.ErrAuctionNotFound
	}
	cp := *a
	return &cp, nil
}

func (s *Store) CompareAndSetStatus(ctx context.Context, auctionID string, from, to domain.AuctionStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.auctions[auctionID]
	if !ok {
		return false, domain.ErrAuctionNotFound
	}
	if a.Status != from {
		return false, nil
	}
	a.Status = to
	a.UpdatedAt = s.now()
	return true, nil
}

func (s *Store) SettleAuction(ctx context.Context, auctionID string, to domain.AuctionStatus, winnerID string, finalPrice int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.auctions[auctionID]
	if !ok {
		return false, domain.ErrAuctionNotFound
	}
	if a.Status != domain.AuctionEnded {
		return false, nil
	}
	a.Status = to
	a.WinnerID = winnerID
	if finalPrice > a.CurrentPrice {
		a.CurrentPrice = finalPrice
	}
	a.UpdatedAt = s.now()
	return true, nil
}

func (s *Store) RaiseCurrentPrice(ctx context.Context, auctionID string, price int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.auctions[auctionID]
	if !ok {
		return domain.ErrAuctionNotFound
	}
	if price > a.CurrentPrice {
		a.CurrentPrice = price
		a.UpdatedAt = s.now()
	}
	return nil
}

func (s *Store) list(limit int, match func(a *domain.Auction) bool) []*domain.Auction {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.Auction
	for _, a := range s.auctions {
		if match(a) {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (s *Store) ListDueToStart(ctx context.Context, now time.Time, limit int) ([]*domain.Auction, error) {
	return s.list(limit, func(a *domain.Auction) bool {
		return a.Status == domain.AuctionReady && !now.Before(a.StartTime)
	}), nil
}

func (s *Store) ListDueToEnd(ctx context.Context, now time.Time, limit int) ([]*domain.Auction, error) {
	return s.list(limit, func(a *domain.Auction) bool {
		return a.Status == domain.AuctionOngoing && !now.Before(a.EndTime)
	}), nil
}

func (s *Store) ListByStatus(ctx context.Context, status domain.AuctionStatus, limit int) ([]*domain.Auction, error) {
	return s.list(limit, func(a *domain.Auction) bool {
		return a.Status == status
	}), nil
}

func (s *Store) SaveBid(ctx context.Context, bid *domain.Bid) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.bids[bid.AuctionID] {
		if existing.Sequence == bid.Sequence {
			return nil
		}
	}

	b := *bid
	list := append(s.bids[bid.AuctionID], &b)
	sort.Slice(list, func(i, j int) bool { return list[i].Sequence < list[j].Sequence })
	s.bids[bid.AuctionID] = list
	return nil
}

func (s *Store) GetBidHistory(ctx context.Context, auctionID string) ([]*domain.Bid, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*domain.Bid, 0, len(s.bids[auctionID]))
	for _, b := range s.bids[auctionID] {
		cp := *b
		out = append(out, &cp)
	}
	return out, nil
}

func (s *Store) GetBidSummary(ctx context.Context, auctionID string) (*domain.BidSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	summary := &domain.BidSummary{}
	seen := make(map[string]struct{})
	for _, b := range s.bids[auctionID] {
		if b.Sequence > summary.LastSequence {
			summary.LastSequence = b.Sequence
		}
		if b.Status != domain.BidAccepted {
			continue
		}
		if _, ok := seen[b.UserID]; !ok {
			seen[b.UserID] = struct{}{}
			summary.BidderIDs = append(summary.BidderIDs, b.UserID)
		}
		summary.LastBidderID = b.UserID
		summary.LastAmount = b.Amount
	}
	summary.UniqueBidders = int64(len(seen))
	return summary, nil
}
