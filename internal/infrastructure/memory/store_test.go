package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"auction-marketplace/internal/domain"
)

func TestStoreStatusCompareAndSet(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	require.NoError(t, s.CreateAuction(ctx, &domain.Auction{ID: "a1", StartPrice: 100, CurrentPrice: 100}))

	ok, err := s.CompareAndSetStatus(ctx, "a1", domain.AuctionReady, domain.AuctionOngoing)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.CompareAndSetStatus(ctx, "a1", domain.AuctionReady, domain.AuctionOngoing)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.CompareAndSetStatus(ctx, "missing", domain.AuctionReady, domain.AuctionOngoing)
	assert.ErrorIs(t, err, domain.ErrAuctionNotFound)
}

func TestStoreRaiseCurrentPriceIsMonotonic(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	require.NoError(t, s.CreateAuction(ctx, &domain.Auction{ID: "a1", StartPrice: 100, CurrentPrice: 100}))

	require.NoError(t, s.RaiseCurrentPrice(ctx, "a1", 300))
	require.NoError(t, s.RaiseCurrentPrice(ctx, "a1", 200))

	a, err := s.GetAuction(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, int64(300), a.CurrentPrice)
}

func TestStoreSettleOnlyFromEnded(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	require.NoError(t, s.CreateAuction(ctx, &domain.Auction{ID: "a1", Status: domain.AuctionOngoing}))

	ok, err := s.SettleAuction(ctx, "a1", domain.AuctionCompleted, "u1", 500)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.CompareAndSetStatus(ctx, "a1", domain.AuctionOngoing, domain.AuctionEnded)
	require.NoError(t, err)
	ok, err = s.SettleAuction(ctx, "a1", domain.AuctionCompleted, "u1", 500)
	require.NoError(t, err)
	assert.True(t, ok)

	a, _ := s.GetAuction(ctx, "a1")
	assert.Equal(t, domain.AuctionCompleted, a.Status)
	assert.Equal(t, "u1", a.WinnerID)
	assert.Equal(t, int64(500), a.CurrentPrice)
}

func TestStoreListDue(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	s := NewStore()
	require.NoError(t, s.CreateAuction(ctx, &domain.Auction{ID: "due", Status: domain.AuctionReady, StartTime: now.Add(-time.Second)}))
	require.NoError(t, s.CreateAuction(ctx, &domain.Auction{ID: "later", Status: domain.AuctionReady, StartTime: now.Add(time.Hour)}))
	require.NoError(t, s.CreateAuction(ctx, &domain.Auction{ID: "ending", Status: domain.AuctionOngoing, EndTime: now}))

	start, err := s.ListDueToStart(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, start, 1)
	assert.Equal(t, "due", start[0].ID)

	end, err := s.ListDueToEnd(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, end, 1)
	assert.Equal(t, "ending", end[0].ID)
}

func TestStoreSaveBidIdempotentAndSummary(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	bids := []*domain.Bid{
		{ID: "b1", AuctionID: "a1", UserID: "u1", Amount: 110, Sequence: 1, Status: domain.BidAccepted},
		{ID: "b2", AuctionID: "a1", UserID: "u2", Amount: 120, Sequence: 2, Status: domain.BidAccepted},
		{ID: "b3", AuctionID: "a1", UserID: "u1", Amount: 130, Sequence: 3, Status: domain.BidAccepted},
	}
	for _, b := range bids {
		require.NoError(t, s.SaveBid(ctx, b))
	}
	require.NoError(t, s.SaveBid(ctx, &domain.Bid{ID: "dup", AuctionID: "a1", UserID: "u9", Amount: 999, Sequence: 2, Status: domain.BidAccepted}))

	history, err := s.GetBidHistory(ctx, "a1")
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, "b2", history[1].ID)

	summary, err := s.GetBidSummary(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), summary.LastSequence)
	assert.Equal(t, int64(2), summary.UniqueBidders)
	assert.Equal(t, "u1", summary.LastBidderID)
	assert.Equal(t, int64(130), summary.LastAmount)
	assert.ElementsMatch(t, []string{"u1", "u2"}, summary.BidderIDs)
}
