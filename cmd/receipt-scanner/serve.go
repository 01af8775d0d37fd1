package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/peterbourgon/ff/v4"
	"golang.org/x/sync/errgroup"

	"github.com/zombor/receipt-scanner/internal/classifier"
	"github.com/zombor/receipt-scanner/internal/receipt"
	"github.com/zombor/receipt-scanner/internal/training"
)

func newServeCommand(parent *ff.FlagSet, shared *sharedConfig) *ff.Command {
	fs := ff.NewFlagSet("serve").SetParent(parent)
	var (
		port             = fs.IntLong("port", 8080, "HTTP server port")
		dbPath           = fs.StringLong("db", "receipts.db", "Database file path")
		authUser         = fs.StringLong("auth-user", "", "Basic auth username (optional)")
		authPass         = fs.StringLong("auth-pass", "", "Basic auth password (optional)")
		retrainThreshold = fs.IntLong("retrain-threshold", training.DefaultConfig.Threshold, "corrections required before retraining")
		workers          = fs.IntLong("workers", 2, "background job workers")
		queueSize        = fs.IntLong("queue-size", 100, "maximum pending background jobs")
		reloadInterval   = fs.DurationLong("reload-interval", 0, "poll the models directory for new versions (0 disables)")
		trainIfMissing   = fs.BoolLong("train-if-missing", "train a seed model when the models directory is empty")
		ocrCfg           = registerOCR(fs)
		storageCfg       = registerStorage(fs)
	)

	return &ff.Command{
		Name:      "serve",
		Usage:     "receipt-scanner serve [FLAGS]",
		ShortHelp: "run the HTTP API",
		Flags:     fs,
		Exec: func(ctx context.Context, args []string) error {
			if err := shared.setupLogging(); err != nil {
				return err
			}

			registry, embedCloser, err := shared.newRegistry(ctx)
			if err != nil {
				return err
			}
			defer embedCloser.Close()

			seed, err := shared.loadSeed()
			if err != nil {
				return fmt.Errorf("loading seed corpus: %w", err)
			}
			cfg := training.DefaultConfig
			cfg.Threshold = *retrainThreshold
			retrainer := training.NewRetrainer(registry, seed, cfg, time.Now)

			if err := loadModel(ctx, registry, retrainer, *trainIfMissing); err != nil {
				return err
			}

			extractor, err := shared.newExtractor()
			if err != nil {
				return fmt.Errorf("loading patterns: %w", err)
			}
			scorer, err := shared.newScorer()
			if err != nil {
				return err
			}

			slog.Info("Initializing database...", "path", *dbPath)
			db, err := receipt.NewBoltDB(*dbPath)
			if err != nil {
				return err
			}
			defer db.Close()

			ocr, err := ocrCfg.build(ctx, shared)
			if err != nil {
				return err
			}
			defer ocr.Close()

			store, storeCloser, err := storageCfg.build(ctx)
			if err != nil {
				return err
			}
			defer storeCloser.Close()

			service := receipt.NewService(db, ocr, store, receipt.Pipeline{
				Extractor:  extractor,
				Scorer:     scorer,
				Classifier: registry,
				Categories: registry.Categories(),
				Trainer:    retrainer,
			})

			g, ctx := errgroup.WithContext(ctx)

			jobs := receipt.NewJobQueue(db, service, *workers, *queueSize)
			jobs.Start(ctx)
			defer jobs.Stop()

			server := receipt.NewServer(service, jobs, receipt.BasicAuth{Username: *authUser, Password: *authPass})
			httpServer := &http.Server{
				Addr:              fmt.Sprintf(":%d", *port),
				Handler:           server.Handler(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			g.Go(func() error {
				slog.Info("Server started", "address", fmt.Sprintf("http://localhost%s", httpServer.Addr))
				if *authUser != "" || *authPass != "" {
					slog.Info("Basic auth enabled", "user", *authUser)
				}
				if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("server error: %w", err)
				}
				return nil
			})
			g.Go(func() error {
				<-ctx.Done()
				slog.Info("Shutting down...")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
				defer cancel()
				return httpServer.Shutdown(shutdownCtx)
			})
			if *reloadInterval > 0 {
				g.Go(func() error {
					watchModels(ctx, registry, *reloadInterval)
					return nil
				})
			}
			return g.Wait()
		},
	}
}

// loadModel installs the newest saved model, training one from the seed
// corpus when none exists and train is set.
func loadModel(ctx context.Context, registry *classifier.Registry, retrainer *training.Retrainer, train bool) error {
	version, err := registry.LoadLatest()
	switch {
	case err == nil:
		slog.Info("Loaded classifier", "version", version)
		return nil
	case errors.Is(err, classifier.ErrNoModel) && train:
		slog.Info("No saved classifier, training from seed corpus", "dir", registry.Dir())
		res, err := retrainer.TrainInitial(ctx)
		if err != nil {
			return fmt.Errorf("training initial model: %w", err)
		}
		slog.Info("Trained initial classifier", "version", res.Version, "test_accuracy", res.TestAccuracy)
		return nil
	case errors.Is(err, classifier.ErrNoModel):
		slog.Warn("No saved classifier; processing is unavailable until one is trained", "dir", registry.Dir())
		return nil
	default:
		return fmt.Errorf("loading classifier: %w", err)
	}
}

// watchModels reloads the registry whenever a newer version appears on disk,
// so models trained by another process are picked up.
func watchModels(ctx context.Context, registry *classifier.Registry, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			before := registry.Version()
			after, err := registry.LoadLatest()
			if err != nil {
				if !errors.Is(err, classifier.ErrNoModel) {
					slog.Warn("Model reload failed", "error", err)
				}
				continue
			}
			if after != before {
				slog.Info("Reloaded classifier", "from", before, "to", after)
			}
		}
	}
}
