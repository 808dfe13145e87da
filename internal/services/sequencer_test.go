package services

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"auction-marketplace/internal/domain"
	"auction-marketplace/internal/infrastructure/websocket"
	"auction-marketplace/pkg/logger"
)

func accepted(auctionID, userID string, amount, sequence int64) domain.AcceptedBid {
	return domain.AcceptedBid{
		AuctionID: auctionID,
		UserID:    userID,
		Amount:    amount,
		Sequence:  sequence,
		BidTime:   time.Now(),
	}
}

func TestBidSequencer_KeepsCommitOrderPerAuction(t *testing.T) {
	h := newHarness(t)
	h.ongoingAuction(t, "a1", 100)
	h.ongoingAuction(t, "a2", 100)
	h.sequencer.Start()

	ctx := context.Background()
	for i := int64(1); i <= 50; i++ {
		require.NoError(t, h.sequencer.Submit(ctx, accepted("a1", "alice", 100+i, i)))
		require.NoError(t, h.sequencer.Submit(ctx, accepted("a2", "bob", 200+i, i)))
	}
	h.sequencer.Stop()

	for _, id := range []string{"a1", "a2"} {
		updates := h.broadcaster.bidUpdates(id)
		require.Len(t, updates, 50)
		for i, u := range updates {
			assert.Equal(t, int64(i+1), u.Sequence)
		}

		history, err := h.store.GetBidHistory(ctx, id)
		require.NoError(t, err)
		assert.Len(t, history, 50)
	}

	a1, err := h.store.GetAuction(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, int64(150), a1.CurrentPrice)
}

func TestBidSequencer_RejectsAfterStop(t *testing.T) {
	h := newHarness(t)
	h.sequencer.Start()
	h.sequencer.Stop()
	h.sequencer.Stop()

	err := h.sequencer.Submit(context.Background(), accepted("a1", "alice", 150, 1))
	assert.ErrorIs(t, err, ErrSequencerStopped)
}

func TestBidSequencer_PublishesBidEvents(t *testing.T) {
	h := newHarness(t)
	h.ongoingAuction(t, "a1", 100)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	received := make(chan domain.BidSuccessEvent, 1)
	go func() {
		_ = h.broker.Subscribe(ctx, func(topic string, payload []byte) error {
			var event domain.BidSuccessEvent
			if err := json.Unmarshal(payload, &event); err != nil {
				return err
			}
			received <- event
			return nil
		}, domain.TopicBidSuccess)
	}()

	// the subscription registers asynchronously; resubmit until it sees one
	var event domain.BidSuccessEvent
	require.Eventually(t, func() bool {
		h.sequencer.process(0, accepted("a1", "alice", 150, 1))
		select {
		case event = <-received:
			return true
		case <-time.After(10 * time.Millisecond):
			return false
		}
	}, 2*time.Second, 20*time.Millisecond)

	assert.Equal(t, "a1", event.AuctionID)
	assert.Equal(t, "alice", event.UserID)
	assert.Equal(t, int64(150), event.Amount)
	assert.Equal(t, "test-instance", event.Origin)
}

type failingBidRepository struct {
	domain.BidRepository
	calls int
}

func (r *failingBidRepository) SaveBid(ctx context.Context, bid *domain.Bid) error {
	r.calls++
	return errors.New("database down")
}

func TestBidSequencer_PersistFailureStillBroadcasts(t *testing.T) {
	h := newHarness(t)
	h.ongoingAuction(t, "a1", 100)
	bids := &failingBidRepository{BidRepository: h.store}
	seq := NewBidSequencer(h.store, bids, h.broker, h.broadcaster, SequencerOptions{
		Shards:         1,
		PersistRetries: 3,
		Backoff:        Backoff{Base: time.Millisecond, Max: time.Millisecond},
	}, h.manager.log)

	require.NoError(t, seq.Submit(context.Background(), accepted("a1", "alice", 150, 1)))
	seq.Stop()

	assert.Equal(t, 3, bids.calls)
	assert.Len(t, h.broadcaster.bidUpdates("a1"), 1)
}

func TestEventListener_RelaysForeignBids(t *testing.T) {
	broadcaster := newRecordingBroadcaster()
	listener := NewEventListener(nil, broadcaster, "instance-a", newHarness(t).manager.log)

	own, err := json.Marshal(domain.BidSuccessEvent{AuctionID: "a1", UserID: "alice", Amount: 150, Sequence: 1, Origin: "instance-a"})
	require.NoError(t, err)
	foreign, err := json.Marshal(domain.BidSuccessEvent{AuctionID: "a1", UserID: "bob", Amount: 200, Sequence: 2, Origin: "instance-b"})
	require.NoError(t, err)

	require.NoError(t, listener.handle(domain.TopicBidSuccess, own))
	require.NoError(t, listener.handle(domain.TopicBidSuccess, foreign))

	updates := broadcaster.bidUpdates("a1")
	require.Len(t, updates, 1)
	assert.Equal(t, "bob", updates[0].LeaderID)
	assert.Equal(t, int64(2), updates[0].Sequence)
}

func TestEventListener_AuctionEndedClosesSubscribers(t *testing.T) {
	broadcaster := newRecordingBroadcaster()
	listener := NewEventListener(nil, broadcaster, "instance-a", newHarness(t).manager.log)

	winner := "bob"
	payload, err := json.Marshal(domain.AuctionEndedEvent{AuctionID: "a1", WinnerID: &winner, FinalPrice: 200, Origin: "instance-a"})
	require.NoError(t, err)
	require.NoError(t, listener.handle(domain.TopicAuctionEnded, payload))

	require.Len(t, broadcaster.messages["a1"], 1)
	ended, ok := broadcaster.messages["a1"][0].(domain.AuctionEndedMessage)
	require.True(t, ok)
	assert.Equal(t, domain.PushAuctionEnded, ended.Type)
	assert.Equal(t, int64(200), ended.FinalPrice)
	assert.Equal(t, []string{"a1"}, broadcaster.closed)
}

func TestEventListener_RejectsGarbage(t *testing.T) {
	listener := NewEventListener(nil, newRecordingBroadcaster(), "instance-a", newHarness(t).manager.log)

	assert.Error(t, listener.handle(domain.TopicBidSuccess, []byte("{")))
	assert.Error(t, listener.handle("unknown.topic", []byte("{}")))
}

// stalledPush is a websocket transport whose writes never complete.
type stalledPush struct{ unblock chan struct{} }

func (p stalledPush) Send(message []byte) error {
	<-p.unblock
	return errors.New("write timeout")
}

func (p stalledPush) Close() error { return nil }

func TestBidSequencer_StalledSubscriberDoesNotHoldShard(t *testing.T) {
	h := newHarness(t)
	h.ongoingAuction(t, "a1", 100)
	h.ongoingAuction(t, "a2", 100)

	stalled := stalledPush{unblock: make(chan struct{})}
	defer close(stalled.unblock)
	fanout := websocket.NewConnectionManagerWithBuffer(2, logger.NewNop())
	defer fanout.Shutdown()
	fanout.Subscribe("a1", "watcher", stalled)

	// one shard, so both auctions share a worker
	sequencer := NewBidSequencer(h.store, h.store, h.broker, fanout, SequencerOptions{
		Shards:           1,
		BroadcastTimeout: 5 * time.Second,
		InstanceID:       "test-instance",
	}, logger.NewNop())
	sequencer.Start()
	defer sequencer.Stop()

	ctx := context.Background()
	for i := int64(1); i <= 10; i++ {
		require.NoError(t, sequencer.Submit(ctx, accepted("a1", "alice", 100+i, i)))
	}
	require.NoError(t, sequencer.Submit(ctx, accepted("a2", "bob", 300, 1)))

	require.Eventually(t, func() bool {
		history, err := h.store.GetBidHistory(ctx, "a2")
		return err == nil && len(history) == 1
	}, time.Second, 5*time.Millisecond)

	history, err := h.store.GetBidHistory(ctx, "a1")
	require.NoError(t, err)
	assert.Len(t, history, 10)
	assert.Zero(t, fanout.Count("a1"))
}
