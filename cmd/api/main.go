package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/punchamoorthee/tokenledger/internal/activity"
	"github.com/punchamoorthee/tokenledger/internal/api"
	"github.com/punchamoorthee/tokenledger/internal/audit"
	"github.com/punchamoorthee/tokenledger/internal/config"
	"github.com/punchamoorthee/tokenledger/internal/detector"
	"github.com/punchamoorthee/tokenledger/internal/logging"
	"github.com/punchamoorthee/tokenledger/internal/review"
	"github.com/punchamoorthee/tokenledger/internal/service"
	"github.com/punchamoorthee/tokenledger/internal/store"
	"github.com/punchamoorthee/tokenledger/internal/telemetry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatal(err)
	}
	log := logging.New(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.WithError(err).Fatal("server exited")
	}
}

func run(ctx context.Context, cfg *config.Config, log *logrus.Logger) error {
	tp, err := telemetry.NewTracerProvider(ctx, "tokenledger", cfg.OTLPEndpoint)
	if err != nil {
		return err
	}
	telemetry.Install(tp)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Error("error shutting down tracer provider")
		}
	}()
	if cfg.OTLPEndpoint != "" {
		log.WithField("endpoint", cfg.OTLPEndpoint).Info("exporting traces over otlp")
	}

	db, err := store.NewStore(ctx, cfg.DBSource)
	if err != nil {
		return err
	}
	defer db.Close()

	var (
		auditOpts []audit.Option
		source    detector.Source = db
	)
	if cfg.RedisURL != "" {
		rdb, err := activity.NewClient(ctx, cfg.RedisURL)
		if err != nil {
			return err
		}
		defer rdb.Close()
		window := activity.NewWindow(rdb, activity.WithTTL(detector.DefaultThresholds.Window))
		auditOpts = append(auditOpts, audit.WithObserver(window))
		source = window
		log.Info("recent-activity window backed by redis")
	}

	auditLog := audit.NewLogger(db, log, auditOpts...)

	var (
		svcOpts     []service.Option
		handlerOpts = []api.HandlerOption{api.WithPinger(db)}
	)
	if cfg.DetectorEnabled {
		det := detector.New(source, log)
		svcOpts = append(svcOpts, service.WithDetector(det))
		handlerOpts = append(handlerOpts, api.WithEvaluator(det))
	}
	if len(cfg.KafkaBrokers) > 0 {
		queue, err := review.NewKafkaQueue(cfg.KafkaBrokers, cfg.ReviewTopic)
		if err != nil {
			return err
		}
		defer queue.Close()
		svcOpts = append(svcOpts, service.WithReviewer(queue))
		log.WithField("topic", cfg.ReviewTopic).Info("flagged transactions published to kafka")
	}

	ledger := service.NewLedgerService(db, auditLog, log, svcOpts...)
	handler := api.NewHandler(ledger, db, auditLog, log, handlerOpts...)
	tokens := api.NewTokenIssuer(cfg.JWTSecret, time.Hour)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           api.NewRouter(handler, tokens, log),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.WithFields(logrus.Fields{"port": cfg.Port, "env": cfg.Env}).Info("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		log.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
