package services

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"auction-marketplace/internal/domain"
	"auction-marketplace/internal/metrics"
	"auction-marketplace/pkg/logger"
)

type SchedulerOptions struct {
	Spec      string
	LockName  string
	MinHold   time.Duration
	MaxHold   time.Duration
	BatchSize int
}

// CronAuctionScheduler sweeps due auctions through their lifecycle on a cron tick. Only
// the instance holding the cluster lock sweeps; the others skip that tick.
type CronAuctionScheduler struct {
	cron       *cron.Cron
	lock       domain.DistributedLock
	auctions   domain.AuctionRepository
	auctionMgr *AuctionManager
	opts       SchedulerOptions
	now        func() time.Time
	log        logger.Logger
}

func NewCronAuctionScheduler(lock domain.DistributedLock, auctions domain.AuctionRepository,
	auctionMgr *AuctionManager, opts SchedulerOptions, log logger.Logger) *CronAuctionScheduler {
	if opts.Spec == "" {
		opts.Spec = "@every 1s"
	}
	if opts.LockName == "" {
		opts.LockName = "auction-lifecycle-sweep"
	}
	if opts.MaxHold <= 0 {
		opts.MaxHold = 30 * time.Second
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}

	return &CronAuctionScheduler{
		cron: cron.New(cron.WithChain(
			cron.Recover(cron.DefaultLogger),
			cron.SkipIfStillRunning(cron.DefaultLogger),
		)),
		lock:       lock,
		auctions:   auctions,
		auctionMgr: auctionMgr,
		opts:       opts,
		now:        time.Now,
		log:        log,
	}
}

func (s *CronAuctionScheduler) Start(ctx context.Context) error {
	s.log.Info("Starting auction scheduler", "spec", s.opts.Spec)

	_, err := s.cron.AddFunc(s.opts.Spec, func() {
		report, err := s.Sweep(ctx)
		if err != nil {
			s.log.Error("Lifecycle sweep failed", "error", err)
			return
		}
		if report.Started+report.Ended+report.Settled+report.Failed > 0 {
			s.log.Info("Lifecycle sweep finished", "started", report.Started, "ended", report.Ended,
				"settled", report.Settled, "failed", report.Failed)
		}
	})
	if err != nil {
		return fmt.Errorf("schedule sweep %q: %w", s.opts.Spec, err)
	}

	s.cron.Start()
	return nil
}

func (s *CronAuctionScheduler) Stop() error {
	s.log.Info("Stopping auction scheduler")
	<-s.cron.Stop().Done()
	return nil
}

// Sweep runs one pass: start due auctions, end due auctions, settle ended ones. A failure
// on one auction is logged and counted and does not stop the pass.
func (s *CronAuctionScheduler) Sweep(ctx context.Context) (*domain.SweepReport, error) {
	report := &domain.SweepReport{}

	lease, ok, err := s.lock.Acquire(ctx, s.opts.LockName, s.opts.MinHold, s.opts.MaxHold)
	if err != nil {
		return nil, err
	}
	if !ok {
		metrics.SweepsSkipped.Inc()
		report.Skipped = true
		return report, nil
	}
	defer func() {
		if err := lease.Release(context.Background()); err != nil {
			s.log.Warn("Failed to release sweep lock", "error", err)
		}
	}()

	now := s.now()

	due, err := s.auctions.ListDueToStart(ctx, now, s.opts.BatchSize)
	if err != nil {
		return report, fmt.Errorf("list auctions due to start: %w", err)
	}
	for _, a := range due {
		s.each(report, a, "start", func() (bool, error) {
			return s.auctionMgr.StartAuction(ctx, a.ID)
		}, &report.Started)
	}

	due, err = s.auctions.ListDueToEnd(ctx, now, s.opts.BatchSize)
	if err != nil {
		return report, fmt.Errorf("list auctions due to end: %w", err)
	}
	for _, a := range due {
		s.each(report, a, "end", func() (bool, error) {
			return s.auctionMgr.EndAuction(ctx, a.ID)
		}, &report.Ended)
	}

	// includes auctions a crashed sweep ended but never settled
	ended, err := s.auctions.ListByStatus(ctx, domain.AuctionEnded, s.opts.BatchSize)
	if err != nil {
		return report, fmt.Errorf("list ended auctions: %w", err)
	}
	for _, a := range ended {
		s.each(report, a, "settle", func() (bool, error) {
			return s.auctionMgr.SettleAuction(ctx, a)
		}, &report.Settled)
	}

	return report, nil
}

func (s *CronAuctionScheduler) each(report *domain.SweepReport, a *domain.Auction, step string,
	fn func() (bool, error), counter *int) {
	done, err := s.isolate(fn)
	if err != nil {
		report.Failed++
		metrics.SweepFailures.Inc()
		s.log.Error("Lifecycle step failed", "step", step, "auction_id", a.ID, "error", err)
		return
	}
	if done {
		*counter++
	}
}

func (s *CronAuctionScheduler) isolate(fn func() (bool, error)) (done bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}
