package services

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"auction-marketplace/internal/domain"
)

func TestAuctionStateLoader_RehydratesAfterEviction(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.ongoingAuction(t, "a1", 100)
	h.deposit(t, "alice", 1000)
	h.deposit(t, "bob", 1000)

	require.True(t, h.bid(t, "a1", "alice", 150).Accepted())
	require.True(t, h.bid(t, "a1", "bob", 200).Accepted())
	h.sequencer.Stop()
	require.NoError(t, h.cache.Invalidate(ctx, "a1"))

	entry, err := h.states.Current(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, int64(200), entry.CurrentPrice)
	assert.Equal(t, "bob", entry.LastBidderID)
	assert.Equal(t, int64(2), entry.BidCount)
	assert.Equal(t, int64(2), entry.UniqueBidders)

	// a returning bidder does not count twice
	outcome := h.bid(t, "a1", "alice", 300)
	assert.Equal(t, domain.BidSuccess{NewPrice: 300, Sequence: 3}, outcome)
	entry, err = h.cache.Get(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), entry.UniqueBidders)
}

func TestAuctionStateLoader_UnknownAuction(t *testing.T) {
	h := newHarness(t)
	_, err := h.states.Current(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrAuctionNotFound)
}

type countingAuctionRepository struct {
	domain.AuctionRepository
	gets atomic.Int32
}

func (r *countingAuctionRepository) GetAuction(ctx context.Context, auctionID string) (*domain.Auction, error) {
	r.gets.Add(1)
	time.Sleep(20 * time.Millisecond)
	return r.AuctionRepository.GetAuction(ctx, auctionID)
}

func TestAuctionStateLoader_CollapsesConcurrentLoads(t *testing.T) {
	h := newHarness(t)
	h.ongoingAuction(t, "a1", 100)
	repo := &countingAuctionRepository{AuctionRepository: h.store}
	loader := NewAuctionStateLoader(repo, h.store, h.cache, time.Minute, h.manager.log)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := loader.Current(context.Background(), "a1")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, repo.gets.Load(), int32(2))
}

func TestAuctionStateLoader_TTL(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	loader := NewAuctionStateLoader(nil, nil, nil, 10*time.Minute, newHarness(t).manager.log)
	loader.now = func() time.Time { return now }

	assert.Equal(t, 70*time.Minute, loader.TTL(now.Add(time.Hour)))
	assert.Equal(t, 5*time.Minute, loader.TTL(now.Add(-5*time.Minute)))
	assert.Equal(t, 10*time.Minute, loader.TTL(now.Add(-time.Hour)))
}

func TestEntryFromStore(t *testing.T) {
	auction := &domain.Auction{ID: "a1", SellerID: "s", StartPrice: 100, CurrentPrice: 180, Status: domain.AuctionOngoing}

	entry := EntryFromStore(auction, &domain.BidSummary{})
	assert.Equal(t, int64(180), entry.CurrentPrice)
	assert.Zero(t, entry.BidCount)

	entry = EntryFromStore(auction, &domain.BidSummary{LastSequence: 4, UniqueBidders: 3, LastBidderID: "bob", LastAmount: 220})
	assert.Equal(t, int64(220), entry.CurrentPrice)
	assert.Equal(t, int64(4), entry.BidCount)
	assert.Equal(t, "bob", entry.LastBidderID)
}
