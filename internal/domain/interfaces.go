package domain

import (
	"context"
	"time"
)

// Repository interfaces
type AuctionRepository interface {
	CreateAuction(ctx context.Context, auction *Auction) error
	GetAuction(ctx context.Context, auctionID string) (*Auction, error)
	// CompareAndSetStatus moves the auction from one status to the next and reports
	// whether this call performed the transition.
	CompareAndSetStatus(ctx context.Context, auctionID string, from, to AuctionStatus) (bool, error)
	// SettleAuction moves an ENDED auction to a terminal status and stores the outcome.
	SettleAuction(ctx context.Context, auctionID string, to AuctionStatus, winnerID string, finalPrice int64) (bool, error)
	// RaiseCurrentPrice never lowers the stored price.
	RaiseCurrentPrice(ctx context.Context, auctionID string, price int64) error
	ListDueToStart(ctx context.Context, now time.Time, limit int) ([]*Auction, error)
	ListDueToEnd(ctx context.Context, now time.Time, limit int) ([]*Auction, error)
	ListByStatus(ctx context.Context, status AuctionStatus, limit int) ([]*Auction, error)
}

type BidRepository interface {
	// SaveBid is idempotent on (auction, sequence).
	SaveBid(ctx context.Context, bid *Bid) error
	GetBidHistory(ctx context.Context, auctionID string) ([]*Bid, error)
	GetBidSummary(ctx context.Context, auctionID string) (*BidSummary, error)
}

// Cache interfaces

// AuctionCache holds one entry per auction. Transact is the per-key serialization point:
// transactions on the same auction run one at a time, transactions on different auctions
// never wait for each other.
type AuctionCache interface {
	Get(ctx context.Context, auctionID string) (*AuctionCacheEntry, error)
	// Put stores entry only if no entry exists and reports whether it was stored.
	Put(ctx context.Context, entry *AuctionCacheEntry, bidderIDs []string, ttl time.Duration) (bool, error)
	SetStatus(ctx context.Context, auctionID string, status AuctionStatus) error
	Invalidate(ctx context.Context, auctionID string) error
	Expire(ctx context.Context, auctionID string, ttl time.Duration) error
	Transact(ctx context.Context, auctionID string, fn func(tx CacheTx) error) error
}

// CacheTx is valid only inside the Transact callback.
type CacheTx interface {
	Entry() AuctionCacheEntry
	HasBid(userID string) bool
	// Commit fails with ErrAuctionClosed unless the cached status is ONGOING.
	Commit(userID string, amount int64) (*CommitResult, error)
	// SetStatus changes the cached status while no bid on the auction can commit.
	SetStatus(status AuctionStatus) error
}

// Point ledger
type PointLedger interface {
	// Hold creates or replaces the single active hold of userID on auctionID.
	Hold(ctx context.Context, userID, auctionID string, amount int64) (*PointHold, error)
	Release(ctx context.Context, userID, auctionID string) error
	Finalize(ctx context.Context, auctionID, winnerID string) (*FinalizeResult, error)
	Balance(ctx context.Context, userID string) (*PointBalance, error)
}

// Event interfaces
type EventBroker interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	// Subscribe blocks, delivering messages to handler until ctx is cancelled.
	Subscribe(ctx context.Context, handler MessageHandler, topics ...string) error
}

type MessageHandler func(topic string, payload []byte) error

// Notification interfaces
type AuctionBroadcaster interface {
	BroadcastToAuction(ctx context.Context, auctionID string, message interface{}) error
	CloseAuction(auctionID string) error
}

// Lock interfaces
type DistributedLock interface {
	// Acquire returns ok=false without error when another holder owns name.
	Acquire(ctx context.Context, name string, minHold, maxHold time.Duration) (Lease, bool, error)
}

type Lease interface {
	Release(ctx context.Context) error
}
