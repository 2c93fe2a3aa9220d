package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/resort-booking-core/internal/checkin"
	"github.com/iliyamo/resort-booking-core/internal/clock"
	"github.com/iliyamo/resort-booking-core/internal/config"
	"github.com/iliyamo/resort-booking-core/internal/database"
	"github.com/iliyamo/resort-booking-core/internal/escrow"
	"github.com/iliyamo/resort-booking-core/internal/external"
	"github.com/iliyamo/resort-booking-core/internal/handler"
	"github.com/iliyamo/resort-booking-core/internal/ledger"
	"github.com/iliyamo/resort-booking-core/internal/logging"
	"github.com/iliyamo/resort-booking-core/internal/middleware"
	"github.com/iliyamo/resort-booking-core/internal/payment"
	"github.com/iliyamo/resort-booking-core/internal/queue"
	"github.com/iliyamo/resort-booking-core/internal/repository"
	"github.com/iliyamo/resort-booking-core/internal/router"
	"github.com/iliyamo/resort-booking-core/internal/statemachine"
)

func main() {
	cfg := config.Load()
	log := logging.Setup(cfg.App.Env, cfg.App.LogLevel)

	db, err := database.Open(cfg.DB.User, cfg.DB.Pass, cfg.DB.Host, cfg.DB.Port, cfg.DB.Name)
	if err != nil {
		log.WithError(err).Fatal("database connection failed")
	}
	defer db.Close()
	if cfg.DB.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.DB.MaxOpenConns)
		db.SetMaxIdleConns(cfg.DB.MaxOpenConns)
	}
	if cfg.DB.MigrateOnStart {
		if err := database.Migrate(db, database.DialectMySQL); err != nil {
			log.WithError(err).Fatal("migrations failed")
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rdb := config.NewRedisClient(cfg.Redis, logging.Component(log, "redis"))
	if rdb != nil {
		defer rdb.Close()
	}

	var events queue.Publisher = queue.NopPublisher{}
	if cfg.Queue.Enabled {
		events = queue.NewAMQPPublisher(cfg.Queue.URL, logging.Component(log, "publisher"))
		sink, closeSink := auditSink(cfg.Queue.AuditLog, log)
		defer closeSink()
		consumer := &queue.AuditConsumer{
			URL:   cfg.Queue.URL,
			Queue: queue.ReservationEventsQueue,
			Sink:  sink,
			Log:   logging.Component(log, "audit_consumer"),
		}
		go func() {
			if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.WithError(err).Error("audit consumer stopped")
			}
		}()
	}

	clk := clock.System{}
	ids := clock.UUIDGenerator{}
	store := repository.NewStore(db, repository.MySQL)
	machine := statemachine.New(clk, ids)

	// Optional collaborators stay nil interfaces when unconfigured.
	var (
		chain   *external.ChainGateway
		pricing ledger.PricingAdvisor
		proofs  payment.ProofSigner
	)
	ledgerDeps := ledger.Deps{Store: store, Machine: machine, Clock: clk, IDs: ids, Events: events, Log: logging.Component(log, "ledger")}
	checkinDeps := checkin.Deps{Store: store, Machine: machine, Clock: clk, IDs: ids, Events: events, Log: logging.Component(log, "checkin")}
	reporter := &escrow.Reporter{
		Source:      store,
		Clock:       clk,
		CallTimeout: cfg.Escrow.Timeout,
		Thresholds: escrow.Thresholds{
			Mismatch:       cfg.Escrow.AlertMismatch,
			MissingOnchain: cfg.Escrow.AlertMissing,
			Skipped:        cfg.Escrow.AlertSkipped,
		},
		Log: logging.Component(log, "escrow"),
	}
	if cfg.Escrow.GatewayURL != "" {
		chain = external.NewChainGateway(cfg.Escrow.GatewayURL, cfg.Escrow.Timeout, logging.Component(log, "chain_gateway"))
		ledgerDeps.Chain = chain
		checkinDeps.Chain = chain
		reporter.Chain = chain
	}
	if cfg.Pricing.URL != "" {
		pricing = external.NewPricingClient(cfg.Pricing.URL, cfg.Pricing.Timeout, logging.Component(log, "pricing"))
		ledgerDeps.Pricing = pricing
	}
	if cfg.Proof.BaseURL != "" {
		proofs = external.NewProofSigner(cfg.Proof.BaseURL, cfg.Proof.Secret, cfg.Proof.TTL, clk)
	}

	ledgerSvc := ledger.NewService(ledgerDeps, ledger.Options{
		MaxNights:      cfg.Booking.MaxNights,
		MaxUnits:       cfg.Booking.MaxUnits,
		MaxNotesLen:    cfg.Booking.MaxNotesLen,
		DepositPercent: cfg.Booking.DepositPercent,
		ChainKey:       cfg.Escrow.ActiveChain,
		ShadowWrite:    cfg.Escrow.ShadowWrite,
		GuestPass:      cfg.Escrow.GuestPass,
	})
	paymentSvc := payment.NewService(payment.Deps{
		Store: store, Machine: machine, Clock: clk, IDs: ids, Events: events, Proofs: proofs,
		Log: logging.Component(log, "payment"),
	})
	checkinSvc := checkin.NewService(checkinDeps, checkin.Options{
		Enabled:       cfg.Checkin.Enabled,
		Secret:        cfg.Checkin.Secret,
		Rotation:      cfg.Checkin.Rotation,
		Skew:          cfg.Checkin.Skew,
		VerifyTimeout: cfg.Checkin.VerifyTimeout,
	})

	monitor := escrow.NewMonitor(reporter, cfg.Escrow.ActiveChain, cfg.Escrow.Interval, cfg.Escrow.Limit,
		cfg.Escrow.SchedulerEnabled, logging.Component(log, "escrow"))
	go monitor.Start(ctx)

	retention := &checkin.Retention{
		Store:    store,
		Clock:    clk,
		Grace:    cfg.Checkin.RetentionGrace,
		Interval: cfg.Checkin.RetentionInterval,
		Log:      logging.Component(log, "retention"),
	}
	go retention.Start(ctx)

	e := echo.New()
	e.HideBanner = true
	e.Validator = handler.NewValidator()
	e.HTTPErrorHandler = handler.HTTPErrorHandler
	e.Use(echomw.RequestID())
	e.Use(middleware.RequestLogger(logging.Component(log, "http")))
	e.Use(echomw.Recover())

	limiter := middleware.NewTokenBucket(cfg.RateLimit, rdb, logging.Component(log, "ratelimit"))
	cache := middleware.NewRedisCache(cfg.Cache, rdb, logging.Component(log, "cache"))

	catalog := &handler.CatalogHandler{Ledger: ledgerSvc, Cache: cfg.Cache, Redis: rdb, Log: logging.Component(log, "catalog")}
	reservations := &handler.ReservationHandler{Ledger: ledgerSvc, Escrow: cfg.Escrow}
	payments := &handler.PaymentHandler{Payments: paymentSvc}
	desk := &handler.CheckinHandler{Checkin: checkinSvc}

	router.RegisterRoutes(e, db)
	router.RegisterPublic(e, catalog, cache)
	router.RegisterGuest(e, router.GuestHandlers{
		Reservations: reservations,
		Payments:     payments,
		Checkin:      desk,
	}, cfg.JWT.Secret, limiter)
	router.RegisterAdmin(e, router.AdminHandlers{
		Catalog:      catalog,
		Reservations: reservations,
		Payments:     payments,
		Checkin:      desk,
		Escrow: &handler.EscrowHandler{
			Reporter: reporter,
			Monitor:  monitor,
			Store:    store,
			Clock:    clk,
			Config:   cfg.Escrow,
		},
	}, cfg.JWT.Secret, limiter)

	addr := ":" + cfg.App.Port
	go func() {
		log.WithFields(logrus.Fields{"addr": addr, "env": cfg.App.Env}).Info("listening")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("server failed")
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("graceful shutdown failed")
	}
}

// auditSink opens the audit log file, falling back to the process log.
func auditSink(path string, log *logrus.Logger) (io.Writer, func()) {
	if path != "" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err == nil {
			return f, func() { _ = f.Close() }
		}
		log.WithError(err).WithField("path", path).Warn("audit log unavailable; writing to process log")
	}
	w := log.WriterLevel(logrus.InfoLevel)
	return w, func() { _ = w.Close() }
}
