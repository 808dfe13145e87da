package services

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"auction-marketplace/internal/domain"
	"auction-marketplace/internal/metrics"
	"auction-marketplace/pkg/logger"
	"auction-marketplace/pkg/utils"
)

var ErrSequencerStopped = errors.New("bid sequencer stopped")

type SequencerOptions struct {
	Shards           int
	QueueSize        int
	PersistRetries   int
	PersistTimeout   time.Duration
	PublishTimeout   time.Duration
	BroadcastTimeout time.Duration
	Backoff          Backoff
	InstanceID       string
}

// BidSequencer runs the post-commit side effects of accepted bids. Bids of one auction
// always land on the same shard, so they are persisted, published and broadcast in
// commit order; shards run independently of each other.
type BidSequencer struct {
	auctions    domain.AuctionRepository
	bids        domain.BidRepository
	broker      domain.EventBroker
	broadcaster domain.AuctionBroadcaster
	opts        SequencerOptions
	log         logger.Logger

	shards  []chan domain.AcceptedBid
	mu      sync.RWMutex
	started bool
	stopped bool
	wg      sync.WaitGroup
}

func NewBidSequencer(auctions domain.AuctionRepository, bids domain.BidRepository, broker domain.EventBroker,
	broadcaster domain.AuctionBroadcaster, opts SequencerOptions, log logger.Logger) *BidSequencer {
	if opts.Shards <= 0 {
		opts.Shards = 8
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1024
	}
	if opts.PersistRetries <= 0 {
		opts.PersistRetries = 3
	}
	if opts.PersistTimeout <= 0 {
		opts.PersistTimeout = 3 * time.Second
	}
	if opts.PublishTimeout <= 0 {
		opts.PublishTimeout = time.Second
	}
	if opts.BroadcastTimeout <= 0 {
		opts.BroadcastTimeout = time.Second
	}
	if opts.Backoff.Base <= 0 {
		opts.Backoff = Backoff{Base: 50 * time.Millisecond, Max: time.Second}
	}

	s := &BidSequencer{
		auctions:    auctions,
		bids:        bids,
		broker:      broker,
		broadcaster: broadcaster,
		opts:        opts,
		log:         log,
		shards:      make([]chan domain.AcceptedBid, opts.Shards),
	}
	for i := range s.shards {
		s.shards[i] = make(chan domain.AcceptedBid, opts.QueueSize)
	}
	return s
}

func (s *BidSequencer) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true

	for i, ch := range s.shards {
		s.wg.Add(1)
		go s.worker(i, ch)
	}
	s.log.Info("Bid sequencer started", "shards", len(s.shards))
}

// Submit queues an accepted bid. It blocks while the auction's shard is full, which
// back-pressures bidders on that auction rather than dropping a committed bid.
func (s *BidSequencer) Submit(ctx context.Context, bid domain.AcceptedBid) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.stopped {
		return ErrSequencerStopped
	}

	ch := s.shards[s.shardFor(bid.AuctionID)]
	select {
	case ch <- bid:
		metrics.SequencerQueueDepth.Inc()
		return nil
	default:
	}

	s.log.Warn("Sequencer shard full, waiting", "auction_id", bid.AuctionID)
	select {
	case ch <- bid:
		metrics.SequencerQueueDepth.Inc()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *BidSequencer) shardFor(auctionID string) int {
	return int(xxhash.Sum64String(auctionID) % uint64(len(s.shards)))
}

// Stop rejects new bids and waits until every queued bid has been processed.
func (s *BidSequencer) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	for _, ch := range s.shards {
		close(ch)
	}
	started := s.started
	s.mu.Unlock()

	if !started {
		for i, ch := range s.shards {
			for bid := range ch {
				s.process(i, bid)
			}
		}
		return
	}
	s.wg.Wait()
	s.log.Info("Bid sequencer drained")
}

func (s *BidSequencer) worker(shard int, ch <-chan domain.AcceptedBid) {
	defer s.wg.Done()
	for bid := range ch {
		s.process(shard, bid)
	}
}

func (s *BidSequencer) process(shard int, bid domain.AcceptedBid) {
	metrics.SequencerQueueDepth.Dec()
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("Panic while processing accepted bid", "shard", shard,
				"auction_id", bid.AuctionID, "sequence", bid.Sequence, "panic", r)
		}
	}()

	s.persist(bid)
	s.publish(bid)
	s.broadcast(bid)
}

func (s *BidSequencer) persist(bid domain.AcceptedBid) {
	record := &domain.Bid{
		ID:        utils.GenerateID("bid"),
		AuctionID: bid.AuctionID,
		UserID:    bid.UserID,
		Amount:    bid.Amount,
		BidTime:   bid.BidTime,
		Sequence:  bid.Sequence,
		Status:    domain.BidAccepted,
	}

	err := retry(context.Background(), s.opts.PersistRetries, s.opts.Backoff, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, s.opts.PersistTimeout)
		defer cancel()
		if err := s.bids.SaveBid(ctx, record); err != nil {
			return err
		}
		return s.auctions.RaiseCurrentPrice(ctx, bid.AuctionID, bid.Amount)
	})
	if err != nil {
		metrics.SideEffectFailures.WithLabelValues("persist").Inc()
		s.log.Error("Failed to persist accepted bid", "auction_id", bid.AuctionID,
			"sequence", bid.Sequence, "user_id", bid.UserID, "amount", bid.Amount, "error", err)
	}
}

func (s *BidSequencer) publish(bid domain.AcceptedBid) {
	payload, err := json.Marshal(domain.BidSuccessEvent{
		AuctionID: bid.AuctionID,
		UserID:    bid.UserID,
		Amount:    bid.Amount,
		Sequence:  bid.Sequence,
		Timestamp: bid.BidTime,
		Origin:    s.opts.InstanceID,
	})
	if err != nil {
		s.log.Error("Failed to encode bid event", "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.opts.PublishTimeout)
	defer cancel()
	if err := s.broker.Publish(ctx, domain.TopicBidSuccess, payload); err != nil {
		metrics.SideEffectFailures.WithLabelValues("publish").Inc()
		s.log.Error("Failed to publish bid event", "auction_id", bid.AuctionID,
			"sequence", bid.Sequence, "error", err)
	}
}

func (s *BidSequencer) broadcast(bid domain.AcceptedBid) {
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.BroadcastTimeout)
	defer cancel()

	err := s.broadcaster.BroadcastToAuction(ctx, bid.AuctionID, domain.BidUpdateMessage{
		Type:          domain.PushBidUpdate,
		AuctionID:     bid.AuctionID,
		CurrentPrice:  bid.Amount,
		LeaderID:      bid.UserID,
		Sequence:      bid.Sequence,
		UniqueBidders: bid.UniqueBidders,
		Timestamp:     bid.BidTime,
	})
	if err != nil {
		metrics.SideEffectFailures.WithLabelValues("broadcast").Inc()
		s.log.Warn("Failed to broadcast bid update", "auction_id", bid.AuctionID, "error", err)
	}
}
