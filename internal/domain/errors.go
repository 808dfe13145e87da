package domain

import "errors"

var (
	ErrAuctionNotFound    = errors.New("auction not found")
	ErrCacheMiss          = errors.New("auction cache entry not found")
	ErrPriceNotHigher     = errors.New("bid amount is not above the current price")
	ErrTxCommitted        = errors.New("cache transaction already committed")
	ErrLeaseLost          = errors.New("auction lease lost before commit")
	ErrAuctionClosed      = errors.New("auction is not accepting bids")
	ErrInsufficientPoints = errors.New("insufficient points")
	ErrFundsUnavailable   = errors.New("point ledger unavailable")
	ErrInvalidAuction     = errors.New("invalid auction")
)
