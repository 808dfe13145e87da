package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"golang.org/x/sync/errgroup"

	"auction-marketplace/internal/api/handlers"
	"auction-marketplace/internal/api/middleware"
	"auction-marketplace/internal/app"
	"auction-marketplace/internal/config"
	"auction-marketplace/internal/infrastructure/memory"
	"auction-marketplace/internal/infrastructure/websocket"
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
	log := logger.NewWithLevel(cfg.Log.Level).With("service", "bidding-service", "instance_id", cfg.Instance.ID)
	log.Info("Starting bidding service", "config", cfg.GetConfigString())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	backends, err := app.Open(ctx, cfg, log)
	if err != nil {
		log.Error("Failed to initialize backends", "error", err)
		os.Exit(1)
	}
	defer backends.Close(log)

	backoff := services.Backoff{Base: cfg.Points.RetryBaseDelay, Max: cfg.Points.RetryMaxDelay}

	// Initialize connection manager
	connManager := websocket.NewConnectionManagerWithBuffer(cfg.Bidding.SendBuffer, log)

	states := services.NewAuctionStateLoader(backends.Auctions, backends.Bids, backends.Cache, cfg.Cache.GraceWindow, log)
	points := services.NewPointReservationCoordinator(backends.Ledger, services.PointCoordinatorOptions{
		Timeout:    cfg.Points.Timeout,
		MaxRetries: cfg.Points.MaxRetries,
		Backoff:    backoff,
	}, log)
	sequencer := services.NewBidSequencer(backends.Auctions, backends.Bids, backends.Broker, connManager, services.SequencerOptions{
		Shards:           cfg.Bidding.Shards,
		QueueSize:        cfg.Bidding.QueueSize,
		PersistRetries:   cfg.Bidding.PersistRetries,
		PersistTimeout:   cfg.Bidding.PersistTimeout,
		PublishTimeout:   cfg.Bidding.PublishTimeout,
		BroadcastTimeout: cfg.Bidding.BroadcastTimeout,
		Backoff:          backoff,
		InstanceID:       cfg.Instance.ID,
	}, log)
	arbitrator := services.NewBidArbitrator(backends.Cache, states, points, sequencer, log)
	auctionManager := services.NewAuctionManager(backends.Auctions, backends.Bids, backends.Cache, states, points,
		backends.Broker, cfg.Instance.ID, log)
	eventListener := services.NewEventListener(backends.Broker, connManager, cfg.Instance.ID, log)

	// Setup routes
	router := mux.NewRouter()
	router.Use(middleware.CORS(cfg.Server.AllowedOrigins, log))

	handlers.NewBidHandler(arbitrator, states, auctionManager, cfg.Cache.RehydrateWait, log).Register(router)
	handlers.NewWebSocketHandlers(arbitrator, states, connManager, websocket.HandlerOptions{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		WriteTimeout:   cfg.Bidding.WriteTimeout,
		PongWait:       cfg.Bidding.PongWait,
	}, log).Register(router)

	router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	}).Methods(http.MethodGet)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	sequencer.Start()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := eventListener.Start(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	// Cache or ledger held in process memory are invisible to the auction service,
	// so this instance drives the lifecycle itself.
	if !app.SharedState(cfg) {
		scheduler := services.NewCronAuctionScheduler(memory.NewLock(), backends.Auctions, auctionManager, services.SchedulerOptions{
			Spec:      cfg.Scheduler.Spec,
			LockName:  cfg.Scheduler.LockName,
			MinHold:   cfg.Scheduler.MinHold,
			MaxHold:   cfg.Scheduler.MaxHold,
			BatchSize: cfg.Scheduler.BatchSize,
		}, log)
		if err := scheduler.Start(gctx); err != nil {
			log.Error("Failed to start scheduler", "error", err)
			os.Exit(1)
		}
		log.Warn("Running embedded lifecycle scheduler; do not run more than one bidding instance")
		g.Go(func() error {
			<-gctx.Done()
			return scheduler.Stop()
		})
	}

	g.Go(func() error {
		log.Info("Starting bidding server", "address", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down bidding service...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownGrace)
		defer cancel()

		err := server.Shutdown(shutdownCtx)
		// queued bids are already committed; drain them before closing sockets
		sequencer.Stop()
		connManager.Shutdown()
		return err
	})

	if err := g.Wait(); err != nil {
		log.Error("Bidding service stopped with error", "error", err)
		os.Exit(1)
	}
	log.Info("Bidding service stopped")
}
