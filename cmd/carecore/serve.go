package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"carecore/internal/alerts"
	"carecore/internal/assignment"
	"carecore/internal/auth"
	"carecore/internal/config"
	"carecore/internal/db"
	"carecore/internal/httpserver"
	"carecore/internal/incidents"
	"carecore/internal/logging"
	"carecore/internal/messaging"
	"carecore/internal/notify"
	"carecore/internal/priority"
	"carecore/internal/roster"
	"carecore/internal/telemetry"
)

func serve(ctx context.Context, cfg config.Config) error {
	logger := logging.New(cfg.Logging.Level, cfg.Logging.JSON)
	if cfg.UsingDevSecret() {
		logger.Warn("CARECORE_JWT_SECRET not set, signing tokens with the development secret")
	}

	conn, err := db.Open(ctx, cfg.DBDSN)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer conn.Close()
	if err := db.RunMigrations(ctx, conn, logger); err != nil {
		return err
	}

	accounts := auth.NewStore(conn)
	if err := accounts.SeedFromFile(ctx, cfg.StaffPath); err != nil {
		return fmt.Errorf("seed staff accounts: %w", err)
	}
	authSvc := auth.NewService(accounts, cfg.JWTSecret, cfg.TokenTTL)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	if err := telemetry.Register(reg); err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	table, err := priority.Load(cfg.RolesPath)
	if err != nil {
		return fmt.Errorf("load role table: %w", err)
	}
	logger.Info("role table loaded", "version", table.Version, "categories", len(table.Categories))

	store := incidents.NewStore(conn)
	machine := incidents.NewMachine(store, logger,
		incidents.WithReadReceipts(notify.NewReceiptClient(cfg.Notify.URL, cfg.Notify.Timeout)))

	natsCfg := messaging.Config{
		URL:             cfg.NATS.URL,
		Name:            "carecore",
		ConnectAttempts: cfg.NATS.ConnectAttempts,
		ConnectDelay:    cfg.NATS.ConnectDelay,
		ReconnectWait:   cfg.NATS.ReconnectWait,
		MaxReconnects:   cfg.NATS.MaxReconnects,
	}
	publisher := messaging.NewLazyPublisher(natsCfg, logger)
	defer publisher.Close()

	relay := notify.NewRelay(store, publisher, logger, notify.RelayConfig{
		Schedule:    cfg.Outbox.Schedule,
		BatchSize:   cfg.Outbox.BatchSize,
		MaxAttempts: cfg.Outbox.MaxAttempts,
	})
	orchestrator := assignment.NewOrchestrator(machine, table, roster.NewClient(cfg.Roster.URL, cfg.Roster.Timeout), relay, logger)
	intake := &alerts.Intake{Machine: machine, Assigner: orchestrator, Logger: logger}

	consumer := &alerts.Consumer{
		Dial: alerts.JetStreamDialer(alerts.JetStreamConfig{
			Conn: natsCfg,
			Pull: messaging.PullConfig{
				Durable:    cfg.NATS.Durable,
				AckWait:    cfg.NATS.AckWait,
				MaxDeliver: cfg.NATS.MaxDeliver,
			},
		}, logger),
		Handler: alerts.NewProcessor(intake, publisher, alerts.ProcessorConfig{
			DeadLetterSubject: messaging.DeadLetterSubject,
			MaxDeliver:        cfg.NATS.MaxDeliver,
			RedeliveryDelay:   cfg.NATS.RedeliveryDelay,
		}, logger),
		Pause:  cfg.NATS.CyclePause,
		Logger: logger,
	}

	router := httpserver.NewRouter(httpserver.RouteDeps{
		Logger:      logger,
		Auth:        authSvc,
		Incidents:   &incidents.Handler{Machine: machine, Logger: logger, Actor: auth.ActorFromContext},
		Intake:      intake,
		IngestToken: cfg.IngestToken,
		Gatherer:    reg,
		Ready:       func() bool { return ping(ctx, conn) },
	})
	server := httpserver.New(cfg.HTTPAddr, router, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Run(gctx) })
	g.Go(func() error { return consumer.Run(gctx) })
	g.Go(func() error { return relay.Run(gctx) })

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	logger.Info("carecore stopped", "err", err)
	return err
}

func ping(ctx context.Context, conn *sql.DB) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return conn.PingContext(ctx) == nil
}
