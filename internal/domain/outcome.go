package domain

// OutcomeCode is the stable, user-visible code attached to every bid outcome.
type OutcomeCode string

const (
	CodeSuccess          OutcomeCode = "SUCCESS"
	CodePriceTooLow      OutcomeCode = "PRICE_TOO_LOW"
	CodeAuctionNotFound  OutcomeCode = "AUCTION_NOT_FOUND"
	CodeAuctionEnded     OutcomeCode = "AUCTION_ENDED"
	CodeSelfBidding      OutcomeCode = "SELF_BIDDING"
	CodeNotEnoughPoint   OutcomeCode = "NOT_ENOUGH_POINT"
	CodeFundsUnavailable OutcomeCode = "FUNDS_UNAVAILABLE"
)

// BidOutcome is a closed set: only the types in this file implement it.
// Callers switch on the concrete type and must handle every case.
type BidOutcome interface {
	Code() OutcomeCode
	Accepted() bool
	isBidOutcome()
}

type BidSuccess struct {
	NewPrice int64
	Sequence int64
}

type BidPriceTooLow struct {
	CurrentPrice int64
}

type BidAuctionNotFound struct{}

type BidAuctionEnded struct{}

type BidSelfBidding struct{}

type BidNotEnoughPoint struct{}

// BidFundsUnavailable means the point ledger could not be reached in time. Like every
// other rejection, nothing was committed.
type BidFundsUnavailable struct{}

func (BidSuccess) Code() OutcomeCode          { return CodeSuccess }
func (BidPriceTooLow) Code() OutcomeCode      { return CodePriceTooLow }
func (BidAuctionNotFound) Code() OutcomeCode  { return CodeAuctionNotFound }
func (BidAuctionEnded) Code() OutcomeCode     { return CodeAuctionEnded }
func (BidSelfBidding) Code() OutcomeCode      { return CodeSelfBidding }
func (BidNotEnoughPoint) Code() OutcomeCode   { return CodeNotEnoughPoint }
func (BidFundsUnavailable) Code() OutcomeCode { return CodeFundsUnavailable }

func (BidSuccess) Accepted() bool          { return true }
func (BidPriceTooLow) Accepted() bool      { return false }
func (BidAuctionNotFound) Accepted() bool  { return false }
func (BidAuctionEnded) Accepted() bool     { return false }
func (BidSelfBidding) Accepted() bool      { return false }
func (BidNotEnoughPoint) Accepted() bool   { return false }
func (BidFundsUnavailable) Accepted() bool { return false }

func (BidSuccess) isBidOutcome()          {}
func (BidPriceTooLow) isBidOutcome()      {}
func (BidAuctionNotFound) isBidOutcome()  {}
func (BidAuctionEnded) isBidOutcome()     {}
func (BidSelfBidding) isBidOutcome()      {}
func (BidNotEnoughPoint) isBidOutcome()   {}
func (BidFundsUnavailable) isBidOutcome() {}

// BidResultMessage is the client-facing rendering of a BidOutcome.
type BidResultMessage struct {
	Type         string      `json:"type,omitempty"`
	AuctionID    string      `json:"auction_id"`
	Code         OutcomeCode `json:"code"`
	Accepted     bool        `json:"accepted"`
	CurrentPrice int64       `json:"current_price,omitempty"`
	Sequence     int64       `json:"sequence,omitempty"`
}

func NewBidResultMessage(auctionID string, outcome BidOutcome) BidResultMessage {
	msg := BidResultMessage{
		AuctionID: auctionID,
		Code:      outcome.Code(),
		Accepted:  outcome.Accepted(),
	}
	switch o := outcome.(type) {
	case BidSuccess:
		msg.CurrentPrice = o.NewPrice
		msg.Sequence = o.Sequence
	case BidPriceTooLow:
		msg.CurrentPrice = o.CurrentPrice
	}
	return msg
}
