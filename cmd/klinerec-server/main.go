package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"klinerec/internal/archive"
	"klinerec/internal/config"
	"klinerec/internal/domain"
	"klinerec/internal/engine"
	"klinerec/internal/httpapi"
	"klinerec/internal/store"
	"klinerec/internal/timeline"
	"klinerec/internal/util"
)

func main() {
	// Load config.
	cfgPath := "config/klinerec.yaml"
	if p := os.Getenv("KLINEREC_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	logger := util.NewLogger(cfg.Logging.Level)
	util.SetDefault(logger)

	settings := config.LoadSettings(cfg.Recorder.SettingsPath)
	logger.Info("recorder settings",
		"periods", settings.RecordingKlinePeriods,
		"recording_tick", settings.RecordingTick,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// The writer goroutine and the HTTP read path each get their own store
	// handle; SQLite serialises them through WAL.
	var writeStore, readStore *store.SQLiteStore
	err = util.Retry(ctx, 5, time.Second, func() error {
		var err error
		if writeStore == nil {
			if writeStore, err = store.OpenSQLiteStore(cfg.Storage.StoreDir); err != nil {
				return err
			}
		}
		readStore, err = store.OpenSQLiteStore(cfg.Storage.StoreDir)
		return err
	})
	if err != nil {
		log.Fatalf("opening store: %v", err)
	}
	defer writeStore.Close()
	defer readStore.Close()

	writer := store.NewWriter(writeStore, cfg.Recorder.WriteQueueSize, logger)
	writer.Start()

	registry := timeline.NewRegistry()
	eng := engine.New(registry, engine.Options{
		Periods:         settings.Periods(),
		RecordingTick:   settings.RecordingTick,
		IgnorePast:      cfg.Recorder.IgnorePast,
		ActiveContracts: cfg.Recorder.ActiveContracts,
		Reader:          readStore,
		Writer:          writer,
		TickQueueSize:   cfg.Recorder.TickQueueSize,
		Logger:          logger,
	})

	// Archive completed bars of every recorded contract to Parquet.
	archiver := archive.NewArchiver(cfg.Storage.ArchiveDir, logger)
	archiver.Start()
	for symbol := range cfg.Recorder.ActiveContracts {
		cbs := make(map[domain.Period]engine.Callback)
		for _, p := range eng.Periods() {
			cbs[p] = archiver.Callback(p)
		}
		eng.SubscribeAll(symbol, cbs)
	}

	srv := httpapi.NewServer(eng, logger)
	httpServer := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: srv.Handler(),
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := eng.Run(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		logger.Info("klinerec server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down klinerec server")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("server error", "error", err)
	}

	// Flush the archive, then drain the write queue before the store closes.
	archiver.Stop()
	writer.Stop()
}
