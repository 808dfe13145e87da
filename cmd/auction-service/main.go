package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echoMiddleware "github.com/labstack/echo/v4/middleware"
	"golang.org/x/sync/errgroup"

	"auction-marketplace/internal/api/handlers"
	"auction-marketplace/internal/app"
	"auction-marketplace/internal/config"
	"auction-marketplace/internal/metrics"
	"auction-marketplace/internal/services"
	"auction-marketplace/pkg/logger"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.New().Fatal("Failed to load config", "error", err)
	}
	log := logger.NewWithLevel(cfg.Log.Level).With("service", "auction-service", "instance_id", cfg.Instance.ID)
	log.Info("Starting auction service", "config", cfg.GetConfigString())

	if !app.SharedState(cfg) {
		log.Fatal("Auction service needs the redis cache and points drivers",
			"cache", cfg.Cache.Driver, "points", cfg.Points.Driver)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	backends, err := app.Open(ctx, cfg, log)
	if err != nil {
		log.Error("Failed to initialize backends", "error", err)
		os.Exit(1)
	}
	defer backends.Close(log)

	states := services.NewAuctionStateLoader(backends.Auctions, backends.Bids, backends.Cache, cfg.Cache.GraceWindow, log)
	points := services.NewPointReservationCoordinator(backends.Ledger, services.PointCoordinatorOptions{
		Timeout:    cfg.Points.Timeout,
		MaxRetries: cfg.Points.MaxRetries,
		Backoff:    services.Backoff{Base: cfg.Points.RetryBaseDelay, Max: cfg.Points.RetryMaxDelay},
	}, log)
	auctionManager := services.NewAuctionManager(backends.Auctions, backends.Bids, backends.Cache, states, points,
		backends.Broker, cfg.Instance.ID, log)

	// Every instance ticks; the sweep lock lets one of them do the work.
	scheduler := services.NewCronAuctionScheduler(backends.Lock, backends.Auctions, auctionManager, services.SchedulerOptions{
		Spec:      cfg.Scheduler.Spec,
		LockName:  cfg.Scheduler.LockName,
		MinHold:   cfg.Scheduler.MinHold,
		MaxHold:   cfg.Scheduler.MaxHold,
		BatchSize: cfg.Scheduler.BatchSize,
	}, log)

	// Initialize Echo
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(echoMiddleware.RequestID())
	e.Use(echoMiddleware.Recover())
	e.Use(echoMiddleware.CORSWithConfig(echoMiddleware.CORSConfig{
		AllowOrigins: cfg.Server.AllowedOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{
			echo.HeaderOrigin,
			echo.HeaderContentType,
			echo.HeaderAccept,
			echo.HeaderAuthorization,
		},
		MaxAge: 86400,
	}))
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			req := c.Request()
			log.Debug("Request handled",
				"request_id", c.Response().Header().Get(echo.HeaderXRequestID),
				"method", req.Method,
				"path", req.URL.Path,
				"status", c.Response().Status,
				"latency", time.Since(start))
			return err
		}
	})

	auctionHandler := handlers.NewAuctionHandler(auctionManager, points, backends.Ledger, scheduler, log)
	auctionHandler.Register(e.Group("/api/v1"))

	e.GET("/metrics", echo.WrapHandler(metrics.Handler()))
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]interface{}{
			"status":    "ok",
			"service":   "auction-service",
			"timestamp": time.Now().Format(time.RFC3339),
		})
	})

	if err := scheduler.Start(ctx); err != nil {
		log.Error("Failed to start scheduler", "error", err)
		os.Exit(1)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("Starting auction server", "address", cfg.Address())
		if err := e.Start(cfg.Address()); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down auction service...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownGrace)
		defer cancel()

		if err := scheduler.Stop(); err != nil {
			log.Error("Failed to stop scheduler", "error", err)
		}
		return e.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error("Auction service stopped with error", "error", err)
		os.Exit(1)
	}
	log.Info("Auction service stopped")
}
