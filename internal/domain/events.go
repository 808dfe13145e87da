package domain

import "time"

// Broker topics consumed by other services.
const (
	TopicBidSuccess   = "auction.bid-success"
	TopicAuctionEnded = "auction.ended"
)

type BidSuccessEvent struct {
	AuctionID string    `json:"auction_id"`
	UserID    string    `json:"user_id"`
	Amount    int64     `json:"amount"`
	Sequence  int64     `json:"sequence"`
	Timestamp time.Time `json:"timestamp"`
	Origin    string    `json:"origin"`
}

type AuctionEndedEvent struct {
	AuctionID  string    `json:"auction_id"`
	SellerID   string    `json:"seller_id"`
	WinnerID   *string   `json:"winner_id"`
	FinalPrice int64     `json:"final_price"`
	EndedAt    time.Time `json:"ended_at"`
	Origin     string    `json:"origin"`
}

// Push payload types sent to live subscribers.
const (
	PushBidUpdate    = "bid_update"
	PushAuctionEnded = "auction_ended"
	PushBidResult    = "bid_result"
	PushError        = "error"
	PushPong         = "pong"
)

type BidUpdateMessage struct {
	Type          string    `json:"type"`
	AuctionID     string    `json:"auction_id"`
	CurrentPrice  int64     `json:"current_price"`
	LeaderID      string    `json:"leader_id"`
	Sequence      int64     `json:"sequence"`
	UniqueBidders int64     `json:"unique_bidders,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

type AuctionEndedMessage struct {
	Type       string    `json:"type"`
	AuctionID  string    `json:"auction_id"`
	WinnerID   *string   `json:"winner_id"`
	FinalPrice int64     `json:"final_price"`
	EndedAt    time.Time `json:"ended_at"`
}
