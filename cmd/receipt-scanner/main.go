package main

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

func main() {
	// Check for version flag before parsing other flags
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			os.Exit(0)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCommand()
	err := root.ParseAndRun(ctx, os.Args[1:],
		ff.WithEnvVarPrefix("RECEIPT_SCANNER"),
		ff.WithConfigFileFlag("config"),
		ff.WithConfigFileParser(ff.PlainParser),
	)
	switch {
	case err == nil:
	case errors.Is(err, ff.ErrHelp):
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Command(root.command()))
	default:
		if cmd := root.command(); cmd != nil && isUsageError(err) {
			fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Command(cmd))
		}
		slog.Error("Command failed", "error", err)
		os.Exit(1)
	}
}

// rootCommand owns the flags shared by every subcommand.
type rootCommand struct {
	*ff.Command
	cfg *sharedConfig
}

func newRootCommand() *rootCommand {
	fs := ff.NewFlagSet("receipt-scanner")
	cfg := registerShared(fs)

	root := &rootCommand{cfg: cfg}
	root.Command = &ff.Command{
		Name:      "receipt-scanner",
		Usage:     "receipt-scanner [FLAGS] <SUBCOMMAND>",
		ShortHelp: "extract, classify and learn from receipt images",
		Flags:     fs,
		Exec: func(ctx context.Context, args []string) error {
			return fmt.Errorf("%w: missing subcommand", ff.ErrHelp)
		},
	}
	root.Subcommands = []*ff.Command{
		newServeCommand(fs, cfg),
		newExtractCommand(fs, cfg),
		newTrainCommand(fs, cfg),
		newRetrainCommand(fs, cfg),
		newEvalCommand(fs, cfg),
		newModelsCommand(fs, cfg),
	}
	return root
}

// command returns the selected subcommand, or the root before parsing.
func (r *rootCommand) command() *ff.Command {
	if sel := r.GetSelected(); sel != nil {
		return sel
	}
	return r.Command
}

type usageError struct{ msg string }

func (e usageError) Error() string { return e.msg }

func isUsageError(err error) bool {
	var u usageError
	return errors.As(err, &u)
}

// setupLogging installs the default slog handler.
func setupLogging(level, format string) error {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return usageError{fmt.Sprintf("invalid log level %q", level)}
	}
	opts := &slog.HandlerOptions{Level: lvl}

	var handler slog.Handler
	switch format {
	case "text":
		handler = slog.NewTextHandler(os.Stderr, opts)
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, opts)
	default:
		return usageError{fmt.Sprintf("invalid log format %q, want text or json", format)}
	}
	slog.SetDefault(slog.New(handler))
	return nil
}
