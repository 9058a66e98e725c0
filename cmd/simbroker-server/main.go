package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"simbroker/internal/api"
	"simbroker/internal/broker"
	"simbroker/internal/config"
	"simbroker/internal/quote"
	"simbroker/internal/store"
	"simbroker/internal/util"
)

func main() {
	if err := config.LoadEnvFile(); err != nil {
		log.Fatalf("loading .env: %v", err)
	}
	cfg, err := config.Load(config.Path())
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(logger)

	quotes := quote.NewSource(cfg.Simulator.Default())
	if err := quotes.Replace(cfg.Simulator.QuoteTable()); err != nil {
		log.Fatalf("seeding quotes: %v", err)
	}
	sim := broker.NewSimulatorBroker(quotes, cfg.Simulator.Cash(), logger)

	journal, err := openJournal(cfg.Storage, logger)
	if err != nil {
		log.Fatalf("opening journal: %v", err)
	}

	// The journal drains its own subscription; closing the subscription after
	// shutdown lets it flush whatever is still buffered.
	subID, events := sim.Subscribe(4096)
	journalDone := make(chan struct{})
	go func() {
		defer close(journalDone)
		store.RunJournal(context.Background(), journal, events, logger)
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger.Info("simbroker-server starting",
		"http", cfg.Server.Addr(),
		"grpc", cfg.Server.GRPCAddr(),
		"initial_cash", cfg.Simulator.Cash().String(),
		"journal", cfg.Storage.Journal,
	)

	srv := api.NewServer(sim, logger)
	serveErr := srv.ListenAndServe(ctx, cfg.Server.Addr(), cfg.Server.GRPCAddr())

	sim.Unsubscribe(subID)
	<-journalDone
	if err := journal.Close(); err != nil {
		logger.Error("closing journal", "error", err)
	}

	if serveErr != nil {
		logger.Error("server error", "error", serveErr)
		os.Exit(1)
	}
	logger.Info("simbroker-server stopped")
}

func openJournal(cfg config.Storage, logger *slog.Logger) (store.Journal, error) {
	switch cfg.Journal {
	case config.JournalSQLite:
		if err := os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o755); err != nil {
			return nil, fmt.Errorf("creating %s: %w", filepath.Dir(cfg.SQLitePath), err)
		}
		j, err := store.NewSQLiteJournal(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		logger.Info("journaling orders to sqlite", "path", cfg.SQLitePath)
		return j, nil
	case config.JournalParquet:
		j := store.NewParquetJournal(cfg.ParquetDir)
		logger.Info("journaling orders to parquet", "path", j.Path())
		return j, nil
	}
	return store.Discard{}, nil
}
