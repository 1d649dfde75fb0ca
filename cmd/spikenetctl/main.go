package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"spikenet/internal/storage"
	"spikenet/pkg/spikenet"
)

const (
	defaultRunsDir    = "runs"
	defaultExportsDir = "exports"
	defaultDBPath     = "spikenet.db"
)

type globalOptions struct {
	storeKind  string
	dbPath     string
	runsDir    string
	exportsDir string
	logLevel   string
	logFormat  string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}
	root := &cobra.Command{
		Use:           "spikenetctl",
		Short:         "Evolve populations of spiking nets against data sets",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	flags := root.PersistentFlags()
	flags.StringVar(&opts.storeKind, "store", "sqlite", "store backend: memory|sqlite")
	flags.StringVar(&opts.dbPath, "db-path", defaultDBPath, "sqlite database path")
	flags.StringVar(&opts.runsDir, "runs-dir", defaultRunsDir, "run artifacts directory")
	flags.StringVar(&opts.exportsDir, "exports-dir", defaultExportsDir, "export destination directory")
	flags.StringVar(&opts.logLevel, "log-level", "info", "log level: debug|info|warn|error")
	flags.StringVar(&opts.logFormat, "log-format", "auto", "log format: auto|text|json")

	root.AddCommand(
		newInitCmd(opts),
		newRunCmd(opts),
		newRecordCmd(opts),
		newRunsCmd(opts),
		newLineageCmd(opts),
		newFitnessCmd(opts),
		newDiagnosticsCmd(opts),
		newTopologyCmd(opts),
		newExportCmd(opts),
	)
	return root
}

// newLogger writes text to terminals and JSON everywhere else unless the
// format is forced.
func newLogger(w io.Writer, level, format string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q", level)
	}
	handlerOpts := &slog.HandlerOptions{Level: lvl}

	switch strings.ToLower(format) {
	case "text":
		return slog.New(slog.NewTextHandler(w, handlerOpts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, handlerOpts)), nil
	case "", "auto":
		if f, ok := w.(*os.File); ok && (isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())) {
			return slog.New(slog.NewTextHandler(w, handlerOpts)), nil
		}
		return slog.New(slog.NewJSONHandler(w, handlerOpts)), nil
	default:
		return nil, fmt.Errorf("invalid log format %q", format)
	}
}

func openClient(cmd *cobra.Command, opts *globalOptions, extra func(*spikenet.Options)) (*spikenet.Client, error) {
	logger, err := newLogger(cmd.ErrOrStderr(), opts.logLevel, opts.logFormat)
	if err != nil {
		return nil, err
	}
	clientOpts := spikenet.Options{
		StoreKind:  opts.storeKind,
		DBPath:     opts.dbPath,
		RunsDir:    opts.runsDir,
		ExportsDir: opts.exportsDir,
		Logger:     logger,
	}
	if extra != nil {
		extra(&clientOpts)
	}
	client, err := spikenet.New(clientOpts)
	if err != nil {
		return nil, err
	}
	if err := client.Init(cmd.Context()); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

func storeLabel(opts *globalOptions) string {
	if opts.storeKind == "" || opts.storeKind == storage.DefaultStoreKind {
		return storage.DefaultStoreKind
	}
	return opts.storeKind + ":" + opts.dbPath
}
