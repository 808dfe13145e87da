package domain

import (
	"time"
)

type Auction struct {
	ID           string
	SellerID     string
	ProductID    string
	StartPrice   int64
	CurrentPrice int64
	WinnerID     string
	StartTime    time.Time
	EndTime      time.Time
	Status       AuctionStatus
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type AuctionStatus int

const (
	AuctionReady AuctionStatus = iota
	AuctionOngoing
	AuctionEnded
	AuctionCompleted
	AuctionFailed
)

func (s AuctionStatus) String() string {
	switch s {
	case AuctionReady:
		return "READY"
	case AuctionOngoing:
		return "ONGOING"
	case AuctionEnded:
		return "ENDED"
	case AuctionCompleted:
		return "COMPLETED"
	case AuctionFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// CanTransitionTo reports whether next is the immediate successor of s in the lifecycle.
func (s AuctionStatus) CanTransitionTo(next AuctionStatus) bool {
	switch s {
	case AuctionReady:
		return next == AuctionOngoing
	case AuctionOngoing:
		return next == AuctionEnded
	case AuctionEnded:
		return next == AuctionCompleted || next == AuctionFailed
	default:
		return false
	}
}

func (s AuctionStatus) IsTerminal() bool {
	return s == AuctionCompleted || s == AuctionFailed
}

type BidStatus string

const (
	BidAccepted  BidStatus = "ACCEPTED"
	BidCancelled BidStatus = "CANCELLED"
)

type Bid struct {
	ID        string
	AuctionID string
	UserID    string
	Amount    int64
	BidTime   time.Time
	Sequence  int64
	Status    BidStatus
}

// BidSummary is the aggregate of persisted bids used to rebuild a cache entry.
type BidSummary struct {
	LastSequence  int64
	UniqueBidders int64
	LastBidderID  string
	LastAmount    int64
	BidderIDs     []string
}

// AuctionCacheEntry is the rebuildable, non-authoritative per-auction state consulted by the arbitrator.
type AuctionCacheEntry struct {
	AuctionID     string
	SellerID      string
	StartPrice    int64
	CurrentPrice  int64
	LastBidderID  string
	UniqueBidders int64
	BidCount      int64
	Status        AuctionStatus
	EndTime       time.Time
}

func (e AuctionCacheEntry) AcceptsBidsAt(t time.Time) bool {
	return e.Status == AuctionOngoing && !t.After(e.EndTime)
}

// CommitResult is returned by CacheTx.Commit. Entry reflects the post-commit state,
// so Entry.BidCount is the sequence number of the committed bid.
type CommitResult struct {
	Entry            AuctionCacheEntry
	PreviousBidderID string
	FirstBidByUser   bool
}

// AcceptedBid is the internal "bid accepted" signal handed from the arbitrator to the sequencer.
type AcceptedBid struct {
	AuctionID        string
	UserID           string
	Amount           int64
	Sequence         int64
	BidTime          time.Time
	PreviousBidderID string
	UniqueBidders    int64
}

type HoldState string

const (
	HoldHeld     HoldState = "HELD"
	HoldReleased HoldState = "RELEASED"
	HoldUsed     HoldState = "USED"
)

type PointHold struct {
	UserID    string
	AuctionID string
	Amount    int64
	State     HoldState
}

type PointBalance struct {
	UserID    string `json:"user_id"`
	Available int64  `json:"available"`
	Held      int64  `json:"held"`
	Used      int64  `json:"used"`
}

// FinalizeResult reports what a ledger finalize did for one auction.
type FinalizeResult struct {
	UsedAmount int64
	Released   int
}
