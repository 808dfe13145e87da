package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"auction-marketplace/internal/domain"
	"auction-marketplace/internal/metrics"
	"auction-marketplace/pkg/logger"
)

type PointCoordinatorOptions struct {
	Timeout    time.Duration
	MaxRetries int
	Backoff    Backoff
}

// PointReservationCoordinator fronts the point ledger: every call carries a deadline, and
// releases and finalizations are retried because their callers cannot undo the bid.
type PointReservationCoordinator struct {
	ledger domain.PointLedger
	opts   PointCoordinatorOptions
	log    logger.Logger
}

func NewPointReservationCoordinator(ledger domain.PointLedger, opts PointCoordinatorOptions, log logger.Logger) *PointReservationCoordinator {
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Second
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.Backoff.Base <= 0 {
		opts.Backoff.Base = 100 * time.Millisecond
	}
	if opts.Backoff.Max <= 0 {
		opts.Backoff.Max = 2 * time.Second
	}
	return &PointReservationCoordinator{ledger: ledger, opts: opts, log: log}
}

// Hold places or replaces the user's hold on the auction. It returns
// domain.ErrInsufficientPoints when the balance cannot cover it and
// domain.ErrFundsUnavailable when the ledger did not answer in time.
func (c *PointReservationCoordinator) Hold(ctx context.Context, userID, auctionID string, amount int64) error {
	callCtx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	_, err := c.ledger.Hold(callCtx, userID, auctionID, amount)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, domain.ErrInsufficientPoints):
		return domain.ErrInsufficientPoints
	default:
		return fmt.Errorf("%w: %v", domain.ErrFundsUnavailable, err)
	}
}

// Restore puts a previous hold amount back after a failed commit.
func (c *PointReservationCoordinator) Restore(ctx context.Context, userID, auctionID string, amount int64) error {
	err := c.withRetry(ctx, func(ctx context.Context) error {
		_, err := c.ledger.Hold(ctx, userID, auctionID, amount)
		if errors.Is(err, domain.ErrInsufficientPoints) {
			return permanent(err)
		}
		return err
	})
	if err != nil {
		metrics.SideEffectFailures.WithLabelValues("restore_hold").Inc()
		c.log.Error("Failed to restore hold", "user_id", userID, "auction_id", auctionID,
			"amount", amount, "error", err)
	}
	return err
}

func (c *PointReservationCoordinator) Release(ctx context.Context, userID, auctionID string) error {
	err := c.withRetry(ctx, func(ctx context.Context) error {
		return c.ledger.Release(ctx, userID, auctionID)
	})
	if err != nil {
		metrics.SideEffectFailures.WithLabelValues("release_hold").Inc()
		c.log.Error("Failed to release hold", "user_id", userID, "auction_id", auctionID, "error", err)
	}
	return err
}

// ReleaseDisplaced makes a single attempt to release the hold of an outbid leader. It runs
// while the auction is locked, so it is never retried; a hold it misses is released by
// Finalize when the auction settles.
func (c *PointReservationCoordinator) ReleaseDisplaced(ctx context.Context, userID, auctionID string) error {
	callCtx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	if err := c.ledger.Release(callCtx, userID, auctionID); err != nil {
		metrics.SideEffectFailures.WithLabelValues("release_hold").Inc()
		c.log.Warn("Failed to release displaced hold", "user_id", userID, "auction_id", auctionID, "error", err)
		return err
	}
	return nil
}

// Finalize charges the winner's hold and releases every other hold on the auction.
// An empty winnerID releases all holds.
func (c *PointReservationCoordinator) Finalize(ctx context.Context, auctionID, winnerID string) (*domain.FinalizeResult, error) {
	var result *domain.FinalizeResult
	err := c.withRetry(ctx, func(ctx context.Context) error {
		var err error
		result, err = c.ledger.Finalize(ctx, auctionID, winnerID)
		return err
	})
	if err != nil {
		c.log.Error("Failed to finalize holds", "auction_id", auctionID, "winner_id", winnerID, "error", err)
		return nil, err
	}
	return result, nil
}

func (c *PointReservationCoordinator) Balance(ctx context.Context, userID string) (*domain.PointBalance, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	b, err := c.ledger.Balance(callCtx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrFundsUnavailable, err)
	}
	return b, nil
}

func (c *PointReservationCoordinator) withRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	return retry(ctx, c.opts.MaxRetries, c.opts.Backoff, func(ctx context.Context) error {
		callCtx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
		defer cancel()
		return fn(callCtx)
	})
}
