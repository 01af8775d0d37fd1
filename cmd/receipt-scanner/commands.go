package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/peterbourgon/ff/v4"

	"github.com/zombor/receipt-scanner/internal/classifier"
	"github.com/zombor/receipt-scanner/internal/extraction"
	"github.com/zombor/receipt-scanner/internal/receipt"
	"github.com/zombor/receipt-scanner/internal/training"
)

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

type extractOutput struct {
	File                 string                 `json:"file"`
	Text                 string                 `json:"text"`
	OCRConfidence        float64                `json:"ocr_confidence"`
	Entities             extraction.Entities    `json:"entities"`
	ExtractionConfidence float64                `json:"extraction_confidence"`
	Prediction           *classifier.Prediction `json:"prediction,omitempty"`
	ModelVersion         string                 `json:"model_version,omitempty"`
}

func newExtractCommand(parent *ff.FlagSet, shared *sharedConfig) *ff.Command {
	fs := ff.NewFlagSet("extract").SetParent(parent)
	var (
		textInput = fs.BoolLong("text", "treat inputs as OCR text files instead of images")
		classify  = fs.BoolLong("classify", "classify with the latest saved model")
		ocrCfg    = registerOCR(fs)
	)

	return &ff.Command{
		Name:      "extract",
		Usage:     "receipt-scanner extract [FLAGS] <FILE>...",
		ShortHelp: "extract entities from receipt images or text files",
		Flags:     fs,
		Exec: func(ctx context.Context, args []string) error {
			if err := shared.setupLogging(); err != nil {
				return err
			}
			if len(args) == 0 {
				return usageError{"extract needs at least one file"}
			}

			extractor, err := shared.newExtractor()
			if err != nil {
				return fmt.Errorf("loading patterns: %w", err)
			}
			scorer, err := shared.newScorer()
			if err != nil {
				return err
			}

			var registry *classifier.Registry
			if *classify {
				var closer io.Closer
				registry, closer, err = shared.newRegistry(ctx)
				if err != nil {
					return err
				}
				defer closer.Close()
				if _, err := registry.LoadLatest(); err != nil {
					return fmt.Errorf("loading classifier: %w", err)
				}
			}

			read := func(ctx context.Context, path string) (string, float64, error) {
				data, err := os.ReadFile(path)
				if err != nil {
					return "", 0, err
				}
				return string(data), 1, nil
			}
			if !*textInput {
				ocr, err := ocrCfg.build(ctx, shared)
				if err != nil {
					return err
				}
				defer ocr.Close()
				read = func(ctx context.Context, path string) (string, float64, error) {
					data, err := os.ReadFile(path)
					if err != nil {
						return "", 0, err
					}
					res, err := ocr.ExtractText(ctx, data, contentTypeFor(path))
					if err != nil {
						return "", 0, err
					}
					return res.Text, res.Confidence, nil
				}
			}

			for _, path := range args {
				text, ocrConfidence, err := read(ctx, path)
				if err != nil {
					return fmt.Errorf("reading %s: %w", path, err)
				}
				entities := extractor.Extract(text)
				out := extractOutput{
					File:                 path,
					Text:                 text,
					OCRConfidence:        ocrConfidence,
					Entities:             entities,
					ExtractionConfidence: scorer.Score(entities),
				}
				if registry != nil {
					p, err := registry.Predict(ctx, classifier.BuildInput(text, entities.MerchantName, entities.Items))
					if err != nil {
						return fmt.Errorf("classifying %s: %w", path, err)
					}
					out.Prediction = &p
					out.ModelVersion = registry.Version()
				}
				if err := printJSON(out); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func contentTypeFor(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		return "image/png"
	case ".pdf":
		return "application/pdf"
	case ".heic", ".heif":
		return "image/heic"
	case ".gif":
		return "image/gif"
	default:
		return "image/jpeg"
	}
}

func newTrainCommand(parent *ff.FlagSet, shared *sharedConfig) *ff.Command {
	fs := ff.NewFlagSet("train").SetParent(parent)
	testFraction := fs.Float64Long("test-fraction", training.DefaultConfig.TestFraction, "share of each category held out for evaluation")

	return &ff.Command{
		Name:      "train",
		Usage:     "receipt-scanner train [FLAGS]",
		ShortHelp: "train and save a classifier from the seed corpus",
		Flags:     fs,
		Exec: func(ctx context.Context, args []string) error {
			if err := shared.setupLogging(); err != nil {
				return err
			}
			registry, closer, err := shared.newRegistry(ctx)
			if err != nil {
				return err
			}
			defer closer.Close()

			seed, err := shared.loadSeed()
			if err != nil {
				return fmt.Errorf("loading seed corpus: %w", err)
			}
			cfg := training.DefaultConfig
			cfg.TestFraction = *testFraction
			res, err := training.NewRetrainer(registry, seed, cfg, time.Now).TrainInitial(ctx)
			if err != nil {
				return err
			}
			return printJSON(res)
		},
	}
}

func newRetrainCommand(parent *ff.FlagSet, shared *sharedConfig) *ff.Command {
	fs := ff.NewFlagSet("retrain").SetParent(parent)
	var (
		dbPath    = fs.StringLong("db", "receipts.db", "Database file path")
		threshold = fs.IntLong("retrain-threshold", training.DefaultConfig.Threshold, "corrections required before retraining")
	)

	return &ff.Command{
		Name:      "retrain",
		Usage:     "receipt-scanner retrain [FLAGS]",
		ShortHelp: "retrain the classifier from stored corrections",
		LongHelp:  "Reads every stored correction and trains a new version when at least --retrain-threshold exist. The database must not be open by a running server.",
		Flags:     fs,
		Exec: func(ctx context.Context, args []string) error {
			if err := shared.setupLogging(); err != nil {
				return err
			}
			registry, closer, err := shared.newRegistry(ctx)
			if err != nil {
				return err
			}
			defer closer.Close()

			seed, err := shared.loadSeed()
			if err != nil {
				return fmt.Errorf("loading seed corpus: %w", err)
			}
			cfg := training.DefaultConfig
			cfg.Threshold = *threshold
			retrainer := training.NewRetrainer(registry, seed, cfg, time.Now)

			db, err := receipt.NewBoltDB(*dbPath)
			if err != nil {
				return err
			}
			defer db.Close()

			// The service only needs the database and trainer for retraining.
			service := receipt.NewService(db, nil, nil, receipt.Pipeline{
				Classifier: registry,
				Categories: registry.Categories(),
				Trainer:    retrainer,
			})
			res, err := service.Retrain(ctx)
			if err != nil {
				return err
			}
			if res.Status == training.StatusSkipped {
				slog.Info("Retraining skipped", "reason", res.Reason, "corrections", res.CorrectionsCount, "threshold", cfg.Threshold)
			}
			return printJSON(res)
		},
	}
}

func newEvalCommand(parent *ff.FlagSet, shared *sharedConfig) *ff.Command {
	fs := ff.NewFlagSet("eval").SetParent(parent)
	var (
		dataPath = fs.StringLong("data", "", "labeled YAML corpus to evaluate on (default the seed corpus)")
		asJSON   = fs.BoolLong("json", "print the report as JSON")
	)

	return &ff.Command{
		Name:      "eval",
		Usage:     "receipt-scanner eval [FLAGS]",
		ShortHelp: "evaluate the latest saved classifier",
		Flags:     fs,
		Exec: func(ctx context.Context, args []string) error {
			if err := shared.setupLogging(); err != nil {
				return err
			}
			registry, closer, err := shared.newRegistry(ctx)
			if err != nil {
				return err
			}
			defer closer.Close()

			version, err := registry.LoadLatest()
			if err != nil {
				return fmt.Errorf("loading classifier: %w", err)
			}
			clf, err := registry.Current()
			if err != nil {
				return err
			}

			samples, err := shared.loadSeed()
			if *dataPath != "" {
				samples, err = training.LoadSeed(*dataPath)
			}
			if err != nil {
				return fmt.Errorf("loading evaluation data: %w", err)
			}
			texts, labels := training.Split(samples)

			report, err := classifier.Evaluate(ctx, clf, texts, labels)
			if err != nil {
				return err
			}
			if *asJSON {
				return printJSON(report)
			}
			fmt.Printf("model %s\n\n", version)
			return report.WriteText(os.Stdout)
		},
	}
}

func newModelsCommand(parent *ff.FlagSet, shared *sharedConfig) *ff.Command {
	fs := ff.NewFlagSet("models").SetParent(parent)

	return &ff.Command{
		Name:      "models",
		Usage:     "receipt-scanner models [FLAGS]",
		ShortHelp: "list saved classifier versions and their training history",
		Flags:     fs,
		Exec: func(ctx context.Context, args []string) error {
			if err := shared.setupLogging(); err != nil {
				return err
			}
			infos, err := classifier.ListVersions(*shared.modelsDir)
			if err != nil && !errors.Is(err, classifier.ErrNoModel) {
				return err
			}
			history, err := training.ReadMetadata(*shared.modelsDir)
			if err != nil {
				return err
			}
			corrections := make(map[string]int, len(history))
			for _, m := range history {
				corrections[m.Version] = m.CorrectionsUsed
			}

			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "VERSION\tCREATED\tTRAIN\tTEST\tTEST ACC\tCORRECTIONS\tEMBEDDER")
			for _, info := range infos {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%.3f\t%d\t%s/%d\n",
					info.Version,
					info.CreatedAt.Format(time.RFC3339),
					info.TrainingSampleCount,
					info.TestSampleCount,
					info.TestAccuracy,
					corrections[info.Version],
					info.EmbeddingConfig.Provider,
					info.EmbeddingConfig.Dimension,
				)
			}
			return tw.Flush()
		},
	}
}
