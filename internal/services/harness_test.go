package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"auction-marketplace/internal/domain"
	"auction-marketplace/internal/infrastructure/memory"
	"auction-marketplace/pkg/logger"
)

type recordingBroadcaster struct {
	mu       sync.Mutex
	messages map[string][]interface{}
	closed   []string
}

func newRecordingBroadcaster() *recordingBroadcaster {
	return &recordingBroadcaster{messages: make(map[string][]interface{})}
}

func (r *recordingBroadcaster) BroadcastToAuction(ctx context.Context, auctionID string, message interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages[auctionID] = append(r.messages[auctionID], message)
	return nil
}

func (r *recordingBroadcaster) CloseAuction(auctionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = append(r.closed, auctionID)
	return nil
}

func (r *recordingBroadcaster) bidUpdates(auctionID string) []domain.BidUpdateMessage {
	r.mu.Lock()
	defer r.mu.Unlock()

	var updates []domain.BidUpdateMessage
	for _, m := range r.messages[auctionID] {
		if u, ok := m.(domain.BidUpdateMessage); ok {
			updates = append(updates, u)
		}
	}
	return updates
}

type harness struct {
	store       *memory.Store
	cache       *memory.AuctionCache
	ledger      *memory.PointLedger
	broker      *memory.Broker
	broadcaster *recordingBroadcaster
	states      *AuctionStateLoader
	points      *PointReservationCoordinator
	sequencer   *BidSequencer
	arbitrator  *BidArbitrator
	manager     *AuctionManager
}

func newHarness(t *testing.T) *harness {
	return newHarnessWithLedger(t, nil)
}

// newHarnessWithLedger wires every service against in-memory collaborators. The
// sequencer is not started: Stop drains its queue inline, which keeps tests deterministic.
func newHarnessWithLedger(t *testing.T, ledger domain.PointLedger) *harness {
	t.Helper()
	log := logger.NewNop()

	h := &harness{
		store:       memory.NewStore(),
		cache:       memory.NewAuctionCache(),
		ledger:      memory.NewPointLedger(),
		broker:      memory.NewBroker(16),
		broadcaster: newRecordingBroadcaster(),
	}
	if ledger == nil {
		ledger = h.ledger
	}

	h.states = NewAuctionStateLoader(h.store, h.store, h.cache, time.Minute, log)
	h.points = NewPointReservationCoordinator(ledger, PointCoordinatorOptions{
		Timeout:    time.Second,
		MaxRetries: 2,
		Backoff:    Backoff{Base: time.Millisecond, Max: 5 * time.Millisecond},
	}, log)
	h.sequencer = NewBidSequencer(h.store, h.store, h.broker, h.broadcaster, SequencerOptions{
		Shards:     4,
		QueueSize:  1024,
		Backoff:    Backoff{Base: time.Millisecond, Max: 5 * time.Millisecond},
		InstanceID: "test-instance",
	}, log)
	h.arbitrator = NewBidArbitrator(h.cache, h.states, h.points, h.sequencer, log)
	h.manager = NewAuctionManager(h.store, h.store, h.cache, h.states, h.points, h.broker, "test-instance", log)
	return h
}

func (h *harness) ongoingAuction(t *testing.T, id string, startPrice int64) *domain.Auction {
	t.Helper()
	now := time.Now()
	auction := &domain.Auction{
		ID:           id,
		SellerID:     "seller",
		ProductID:    "product-" + id,
		StartPrice:   startPrice,
		CurrentPrice: startPrice,
		StartTime:    now.Add(-time.Minute),
		EndTime:      now.Add(time.Hour),
		Status:       domain.AuctionOngoing,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	require.NoError(t, h.store.CreateAuction(context.Background(), auction))
	return auction
}

func (h *harness) deposit(t *testing.T, userID string, amount int64) {
	t.Helper()
	require.NoError(t, h.ledger.Deposit(context.Background(), userID, amount))
}

func (h *harness) bid(t *testing.T, auctionID, userID string, amount int64) domain.BidOutcome {
	t.Helper()
	outcome, err := h.arbitrator.AttemptBid(context.Background(), auctionID, userID, amount, time.Now())
	require.NoError(t, err)
	return outcome
}

func (h *harness) balance(t *testing.T, userID string) *domain.PointBalance {
	t.Helper()
	b, err := h.ledger.Balance(context.Background(), userID)
	require.NoError(t, err)
	return b
}
