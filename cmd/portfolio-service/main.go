// Command portfolio-service reconciles the transaction ledger into lots and
// serves positions and performance over HTTP.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/trogers1052/portfolio-service/internal/api"
	"github.com/trogers1052/portfolio-service/internal/cache"
	"github.com/trogers1052/portfolio-service/internal/config"
	"github.com/trogers1052/portfolio-service/internal/database"
	"github.com/trogers1052/portfolio-service/internal/kafka"
	"github.com/trogers1052/portfolio-service/internal/ledger"
	"github.com/trogers1052/portfolio-service/internal/lots"
	"github.com/trogers1052/portfolio-service/internal/portfolio"
	"github.com/trogers1052/portfolio-service/internal/pricefeed"
)

func main() {
	configPath := flag.String("config", "", "path to an optional TOML configuration file")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config", slog.String("path", *configPath), slog.String("error", err.Error()))
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(cfg.LogLevel)}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("service exited with error", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("portfolio service stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	db, err := database.New(cfg.Database.ConnectionString())
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.Migrate(cfg.Database.MigrationsDir); err != nil {
		return err
	}
	logger.Info("database ready", slog.String("host", cfg.Database.Host), slog.String("db", cfg.Database.DBName))

	yahoo := pricefeed.NewYahoo(
		pricefeed.WithBaseURL(cfg.Feed.BaseURL),
		pricefeed.WithHTTPTimeout(cfg.Feed.Timeout.Duration),
		pricefeed.WithRateLimit(cfg.Feed.RateLimit),
		pricefeed.WithStaleAfter(cfg.Feed.StaleAfter.Duration),
		pricefeed.WithSymbols(cfg.Feed.Symbols),
		pricefeed.WithYahooLogger(logger),
	)
	archive := database.NewPriceArchive(db, yahoo, "yahoo", logger)
	var feed pricefeed.Feed = pricefeed.NewMemo(archive, cfg.Feed.HistoryTTL.Duration)

	if cfg.Redis.Addr != "" {
		quotes, err := cache.New(ctx, cache.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			TTL:      cfg.Redis.TTL.Duration,
		})
		if err != nil {
			logger.Warn("quote cache disabled", slog.String("error", err.Error()))
		} else {
			defer quotes.Close()
			feed = pricefeed.NewFallback(feed, quotes, logger)
		}
	}

	method, err := lots.ParseMethod(cfg.Lots.Matching)
	if err != nil {
		return err
	}

	opts := []portfolio.Option{
		portfolio.WithStore(db),
		portfolio.WithLogger(logger),
	}
	var producer *kafka.Producer
	if len(cfg.Kafka.Brokers) > 0 && cfg.Kafka.SnapshotTopic != "" {
		producer = kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.SnapshotTopic)
		defer producer.Close()
		opts = append(opts, portfolio.WithPublisher(producer))
	}

	engine, err := portfolio.New(portfolio.Config{
		Ledger: ledger.Config{
			AllowBackdated:    cfg.Ledger.AllowBackdated,
			ReinvestDividends: cfg.Ledger.ReinvestDividends,
			DefaultCurrency:   cfg.Ledger.DefaultCurrency,
		},
		Method:      method,
		Timeout:     cfg.Analytics.QuoteTimeout.Duration,
		Concurrency: cfg.Analytics.Concurrency,
		MaxGap:      cfg.Analytics.MaxGapDays,
		Milestones:  cfg.Milestones,
	}, feed, opts...)
	if err != nil {
		return err
	}

	if err := engine.Load(ctx, db); err != nil {
		return err
	}
	for ticker, reason := range engine.Failures() {
		logger.Error("ticker history failed to load", slog.String("ticker", ticker), slog.String("error", reason))
	}
	stored, err := db.CountTransactions(ctx)
	if err != nil {
		return err
	}
	logger.Info("ledger loaded",
		slog.Int("stored", stored),
		slog.Int("transactions", len(engine.AllTransactions())),
		slog.Int("failed_tickers", len(engine.Failures())),
	)

	server := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           api.SetupRoutes(api.NewHandler(engine, db, logger)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http server listening", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		return archive.RunRetention(gctx, cfg.Feed.Retention.Duration, 24*time.Hour)
	})

	if len(cfg.Kafka.Brokers) > 0 {
		consumerOpts := []kafka.ConsumerOption{kafka.WithExistenceCheck(db)}
		if cfg.Kafka.DeadLetterTopic != "" {
			consumerOpts = append(consumerOpts, kafka.WithDeadLetterTopic(cfg.Kafka.Brokers, cfg.Kafka.DeadLetterTopic))
		}
		consumer := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.TransactionTopic, cfg.Kafka.GroupID, engine, logger, consumerOpts...)
		g.Go(func() error {
			return consumer.Start(gctx)
		})
	}

	return g.Wait()
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
