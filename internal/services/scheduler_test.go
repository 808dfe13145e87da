package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"auction-marketplace/internal/domain"
	"auction-marketplace/internal/infrastructure/memory"
)

func newTestScheduler(h *harness, lock domain.DistributedLock, auctions domain.AuctionRepository) *CronAuctionScheduler {
	return NewCronAuctionScheduler(lock, auctions, h.manager, SchedulerOptions{
		Spec:     "@every 1s",
		LockName: "test-sweep",
		MaxHold:  time.Minute,
	}, h.manager.log)
}

func TestCreateAuction(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	start := time.Now().Add(time.Minute)

	auction, err := h.manager.CreateAuction(ctx, CreateAuctionRequest{
		SellerID:   "seller",
		ProductID:  "p1",
		StartPrice: 500,
		StartTime:  start,
		EndTime:    start.Add(time.Hour),
	})
	require.NoError(t, err)
	assert.Contains(t, auction.ID, "auction_")
	assert.Equal(t, domain.AuctionReady, auction.Status)
	assert.Equal(t, int64(500), auction.CurrentPrice)

	entry, err := h.cache.Get(ctx, auction.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.AuctionReady, entry.Status)
	assert.Equal(t, int64(500), entry.CurrentPrice)
}

func TestCreateAuction_Validation(t *testing.T) {
	h := newHarness(t)
	now := time.Now()

	cases := map[string]CreateAuctionRequest{
		"missing seller":   {ProductID: "p", StartTime: now, EndTime: now.Add(time.Hour)},
		"missing product":  {SellerID: "s", StartTime: now, EndTime: now.Add(time.Hour)},
		"negative price":   {SellerID: "s", ProductID: "p", StartPrice: -1, StartTime: now, EndTime: now.Add(time.Hour)},
		"missing times":    {SellerID: "s", ProductID: "p"},
		"end before start": {SellerID: "s", ProductID: "p", StartTime: now, EndTime: now.Add(-time.Hour)},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := h.manager.CreateAuction(context.Background(), req)
			assert.ErrorIs(t, err, domain.ErrInvalidAuction)
		})
	}
}

func TestSweep_FullLifecycle(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	sched := newTestScheduler(h, memory.NewLock(), h.store)

	start := time.Now().Add(-time.Second)
	auction, err := h.manager.CreateAuction(ctx, CreateAuctionRequest{
		SellerID: "seller", ProductID: "p1", StartPrice: 100,
		StartTime: start, EndTime: start.Add(time.Hour),
	})
	require.NoError(t, err)

	report, err := sched.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, &domain.SweepReport{Started: 1}, report)

	h.deposit(t, "alice", 1000)
	h.deposit(t, "bob", 1000)
	require.True(t, h.bid(t, auction.ID, "alice", 150).Accepted())
	require.True(t, h.bid(t, auction.ID, "bob", 250).Accepted())

	sched.now = func() time.Time { return auction.EndTime.Add(time.Second) }
	report, err = sched.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, &domain.SweepReport{Ended: 1, Settled: 1}, report)

	// bids are still queued in the sequencer; settlement reads the cache
	stored, err := h.store.GetAuction(ctx, auction.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.AuctionCompleted, stored.Status)
	assert.Equal(t, "bob", stored.WinnerID)
	assert.Equal(t, int64(250), stored.CurrentPrice)

	bob := h.balance(t, "bob")
	assert.Equal(t, int64(250), bob.Used)
	assert.Zero(t, bob.Held)
	assert.Equal(t, int64(1000), h.balance(t, "alice").Available)

	entry, err := h.cache.Get(ctx, auction.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.AuctionCompleted, entry.Status)
	assert.Equal(t, domain.BidAuctionEnded{}, h.bid(t, auction.ID, "alice", 900))

	report, err = sched.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, &domain.SweepReport{}, report)
	assert.Equal(t, int64(250), h.balance(t, "bob").Used)
}

func TestSweep_NoBidsFails(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	auction := h.ongoingAuction(t, "a1", 100)
	sched := newTestScheduler(h, memory.NewLock(), h.store)
	sched.now = func() time.Time { return auction.EndTime.Add(time.Second) }

	report, err := sched.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Settled)

	stored, err := h.store.GetAuction(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, domain.AuctionFailed, stored.Status)
	assert.Empty(t, stored.WinnerID)
	assert.Equal(t, int64(100), stored.CurrentPrice)
}

func TestSweep_SettlesFromStoreAfterCacheLoss(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	auction := h.ongoingAuction(t, "a1", 100)
	h.deposit(t, "alice", 1000)
	require.True(t, h.bid(t, "a1", "alice", 400).Accepted())
	h.sequencer.Stop()

	require.NoError(t, h.cache.Invalidate(ctx, "a1"))
	ok, err := h.store.CompareAndSetStatus(ctx, "a1", domain.AuctionOngoing, domain.AuctionEnded)
	require.NoError(t, err)
	require.True(t, ok)

	sched := newTestScheduler(h, memory.NewLock(), h.store)
	sched.now = func() time.Time { return auction.EndTime.Add(time.Second) }
	report, err := sched.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Settled)

	stored, err := h.store.GetAuction(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, domain.AuctionCompleted, stored.Status)
	assert.Equal(t, "alice", stored.WinnerID)
	assert.Equal(t, int64(400), h.balance(t, "alice").Used)
}

func TestSweep_SkipsWhenLockHeld(t *testing.T) {
	h := newHarness(t)
	lock := memory.NewLock()
	_, ok, err := lock.Acquire(context.Background(), "test-sweep", 0, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	report, err := newTestScheduler(h, lock, h.store).Sweep(context.Background())
	require.NoError(t, err)
	assert.True(t, report.Skipped)
}

type flakyAuctionRepository struct {
	domain.AuctionRepository
	failID string
}

func (r *flakyAuctionRepository) CompareAndSetStatus(ctx context.Context, auctionID string, from, to domain.AuctionStatus) (bool, error) {
	if auctionID == r.failID {
		return false, errors.New("deadlock detected")
	}
	return r.AuctionRepository.CompareAndSetStatus(ctx, auctionID, from, to)
}

func TestSweep_IsolatesFailures(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.ongoingAuction(t, "a1", 100)
	h.ongoingAuction(t, "a2", 100)

	repo := &flakyAuctionRepository{AuctionRepository: h.store, failID: "a1"}
	h.manager.auctions = repo
	sched := newTestScheduler(h, memory.NewLock(), repo)
	sched.now = func() time.Time { return time.Now().Add(2 * time.Hour) }

	report, err := sched.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 1, report.Ended)
	assert.Equal(t, 1, report.Settled)

	a1, err := h.store.GetAuction(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, domain.AuctionOngoing, a1.Status)
	a2, err := h.store.GetAuction(ctx, "a2")
	require.NoError(t, err)
	assert.Equal(t, domain.AuctionFailed, a2.Status)
}

func TestScheduler_StartRejectsBadSpec(t *testing.T) {
	h := newHarness(t)
	sched := NewCronAuctionScheduler(memory.NewLock(), h.store, h.manager, SchedulerOptions{Spec: "not a spec"}, h.manager.log)
	assert.Error(t, sched.Start(context.Background()))
}
