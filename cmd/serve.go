package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"penelope-batcher/config"
	"penelope-batcher/db"
	"penelope-batcher/history"
	"penelope-batcher/mailbox"
	"penelope-batcher/router"
	"penelope-batcher/tools"
	"penelope-batcher/workers"

	"github.com/gin-gonic/gin"
	"github.com/jinzhu/gorm"
	"golang.org/x/sync/errgroup"
)

const STORAGE_MEMORY = "memory"

func runServer(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}

	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return err
	}

	logger, closer, err := cfg.Logger(verbose)
	if err != nil {
		return err
	}
	defer closer.Close()
	slog.SetDefault(logger)

	if !verbose {
		gin.SetMode(gin.ReleaseMode)
	}

	database, mb, hist, err := openStorage(cfg, logger)
	if err != nil {
		return err
	}
	if database != nil {
		defer database.Close()
	}

	svc := workers.NewService(mb, hist, buildResponder(cfg), buildGateway(cfg, logger), workers.ServiceOptions{
		Window:          cfg.Window(),
		Workers:         cfg.Batching.Workers,
		QueueSize:       cfg.Batching.QueueSize,
		MaxInFlight:     cfg.Batching.MaxInFlight,
		ShutdownGrace:   cfg.ShutdownGrace(),
		SweepInterval:   cfg.SweepInterval(),
		HistoryLimit:    cfg.History.Limit,
		DispatchTimeout: cfg.DispatchTimeout(),
		Logger:          logger,
	})

	r := gin.New()
	router.Initialize(r, cfg, svc, database, logger)

	srv := &http.Server{
		Addr:              ":" + cfg.ApiPort,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc.Start(ctx)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("penelope listening", "addr", srv.Addr, "version", Version, "dry_run", cfg.DryRun)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace())
		defer cancel()
		// stop accepting webhooks before draining the workers
		httpErr := srv.Shutdown(shutdownCtx)
		return errors.Join(httpErr, svc.Stop())
	})

	err = g.Wait()
	if err != nil {
		logger.Error("shutdown finished with errors", "error", err)
	}
	return err
}

// openStorage picks the mailbox and history backends. Memory mode keeps
// everything in process and skips the database.
func openStorage(cfg config.Configuration, logger *slog.Logger) (*gorm.DB, *mailbox.Mailbox, workers.HistoryStore, error) {
	mbOpts := []mailbox.Option{mailbox.WithTTL(cfg.MailboxTTL())}
	if cfg.Batching.FixedTTL {
		mbOpts = append(mbOpts, mailbox.WithFixedTTL())
	}
	histOpts := []history.Option{history.WithKeep(cfg.History.Keep), history.WithTTL(cfg.HistoryTTL())}

	if cfg.Database == STORAGE_MEMORY {
		logger.Warn("using in-memory storage; conversations are lost on restart")
		return nil, mailbox.New(mailbox.NewMemoryBackend(), mbOpts...), history.NewMemoryStore(histOpts...), nil
	}

	database, err := db.Connect(cfg, logger)
	if err != nil {
		return nil, nil, nil, err
	}
	return database,
		mailbox.New(mailbox.NewGormBackend(database), mbOpts...),
		history.NewGormStore(database, histOpts...),
		nil
}

func buildResponder(cfg config.Configuration) workers.Responder {
	return &tools.OpenAIResponder{
		ApiKey:          cfg.OpenAI.ApiKey,
		BaseURL:         cfg.OpenAI.BaseURL,
		Model:           cfg.OpenAI.Model,
		Instructions:    cfg.OpenAI.SystemPrompt,
		PromptID:        cfg.OpenAI.PromptID,
		PromptVersion:   cfg.OpenAI.PromptVersion,
		MaxOutputTokens: cfg.OpenAI.MaxOutputTokens,
	}
}

func buildGateway(cfg config.Configuration, logger *slog.Logger) workers.Gateway {
	if cfg.DryRun {
		return tools.LogGateway{Logger: logger.With("component", "gateway")}
	}
	return &tools.EvolutionClient{
		ServerURL: cfg.Evolution.ServerURL,
		Instance:  cfg.Evolution.Instance,
		ApiKey:    cfg.Evolution.ApiKey,
	}
}
