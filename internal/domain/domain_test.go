package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestAuctionStatusTransitions(t *testing.T) {
	tests := []struct {
		from, to AuctionStatus
		want     bool
	}{
		{AuctionReady, AuctionOngoing, true},
		{AuctionOngoing, AuctionEnded, true},
		{AuctionEnded, AuctionCompleted, true},
		{AuctionEnded, AuctionFailed, true},
		{AuctionReady, AuctionEnded, false},
		{AuctionOngoing, AuctionReady, false},
		{AuctionEnded, AuctionOngoing, false},
		{AuctionCompleted, AuctionFailed, false},
		{AuctionFailed, AuctionCompleted, false},
	}

	for _, tt := range tests {
		t.Run(tt.from.String()+"->"+tt.to.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanTransitionTo(tt.to))
		})
	}

	assert.True(t, AuctionCompleted.IsTerminal())
	assert.True(t, AuctionFailed.IsTerminal())
	assert.False(t, AuctionEnded.IsTerminal())
}

func TestCacheEntryAcceptsBidsAt(t *testing.T) {
	end := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	entry := AuctionCacheEntry{Status: AuctionOngoing, EndTime: end}

	assert.True(t, entry.AcceptsBidsAt(end.Add(-time.Second)))
	assert.True(t, entry.AcceptsBidsAt(end), "the end instant itself is still open")
	assert.False(t, entry.AcceptsBidsAt(end.Add(time.Millisecond)))

	entry.Status = AuctionReady
	assert.False(t, entry.AcceptsBidsAt(end.Add(-time.Hour)))
}

func TestOutcomeCodesAreStable(t *testing.T) {
	outcomes := map[BidOutcome]OutcomeCode{
		BidSuccess{NewPrice: 1, Sequence: 1}: CodeSuccess,
		BidPriceTooLow{CurrentPrice: 1}:      CodePriceTooLow,
		BidAuctionNotFound{}:                 CodeAuctionNotFound,
		BidAuctionEnded{}:                    CodeAuctionEnded,
		BidSelfBidding{}:                     CodeSelfBidding,
		BidNotEnoughPoint{}:                  CodeNotEnoughPoint,
		BidFundsUnavailable{}:                CodeFundsUnavailable,
	}

	for outcome, code := range outcomes {
		assert.Equal(t, code, outcome.Code())
		assert.Equal(t, code == CodeSuccess, outcome.Accepted())
	}
}
