package domain

import (
	"context"
)

// SweepReport summarizes one lifecycle sweep.
type SweepReport struct {
	Skipped bool `json:"skipped"`
	Started int  `json:"started"`
	Ended   int  `json:"ended"`
	Settled int  `json:"settled"`
	Failed  int  `json:"failed"`
}

// Scheduler interface
type AuctionScheduler interface {
	Sweep(ctx context.Context) (*SweepReport, error)
	Start(ctx context.Context) error
	Stop() error
}
