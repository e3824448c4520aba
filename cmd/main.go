package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/MimeLyc/podharvest/internal/apperr"
	"github.com/MimeLyc/podharvest/internal/config"
	"github.com/MimeLyc/podharvest/internal/fetcher"
	"github.com/MimeLyc/podharvest/internal/output"
	"github.com/MimeLyc/podharvest/internal/persistence"
	"github.com/MimeLyc/podharvest/internal/service"
	"github.com/MimeLyc/podharvest/pkg/log"
)

// errUnitsFailed is returned after a report that already lists the failures.
var errUnitsFailed = errors.New("some units failed")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(newApp()).ExecuteContext(ctx); err != nil {
		if !errors.Is(err, errUnitsFailed) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(1)
	}
}

// app holds the global flags and what is built from them before a command
// runs.
type app struct {
	envFile        string
	downloadsDir   string
	channelsFile   string
	summarizerFile string
	noColor        bool
	jsonOut        bool
	verbose        bool

	stdout io.Writer
	stderr io.Writer
	// newFetcher builds the fetch tool driver; tests replace it.
	newFetcher func(cfg config.HarvestConfig) service.Fetcher

	cfg     *config.Config
	printer *output.Printer
}

func newApp() *app {
	return &app{
		stdout: os.Stdout,
		stderr: os.Stderr,
		newFetcher: func(cfg config.HarvestConfig) service.Fetcher {
			return fetcher.New(cfg, nil)
		},
	}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "podharvest",
		Short: "Harvest channel recordings and summarize their transcripts",
		Long: `podharvest keeps a local archive of configured channels in sync.

For every channel it maintains a durable index of published items, fetches
what is missing, keeps a ledger of what is on disk and optionally produces
transcript summaries.

Example usage:
  podharvest run                        # Harvest every channel, then summarize
  podharvest run --channels "Alpha"     # Harvest one channel
  podharvest plan                       # Show what a run would fetch
  podharvest summarize --language en    # Summarize with English transcripts
  podharvest serve                      # Run on a schedule with the HTTP API`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.envFile, "env-file", ".env", "environment file loaded before reading settings")
	flags.StringVar(&a.downloadsDir, "downloads-dir", "", "root of the channel directories (overrides DOWNLOADS_DIR)")
	flags.StringVar(&a.channelsFile, "channels-file", "", "channel list file (overrides CHANNELS_FILE)")
	flags.StringVar(&a.summarizerFile, "summarizer-config", "", "summarization service settings (overrides SUMMARIZER_CONFIG)")
	flags.BoolVar(&a.noColor, "no-color", false, "disable colored output")
	flags.BoolVar(&a.jsonOut, "json", false, "print results as JSON")
	flags.BoolVarP(&a.verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(
		newRunCmd(a),
		newPlanCmd(a),
		newRescanCmd(a),
		newSummarizeCmd(a),
		newMergeIndexesCmd(a),
		newRepairIndexesCmd(a),
		newChannelsCmd(a),
		newFetchURLCmd(a),
		newServeCmd(a),
		newStatusCmd(a),
	)
	return root
}

func (a *app) init() error {
	config.LoadDotEnv(a.envFile)

	cfg, err := config.NewFromEnv(
		config.WithDownloadsDir(a.downloadsDir),
		config.WithChannelsFile(a.channelsFile),
		config.WithSummarizerFile(a.summarizerFile),
	)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	level := cfg.System.LogLevel
	if a.verbose {
		level = log.LevelDebug
	}
	log.SetLogger(log.NewLoggerWithWriter(a.stderr, level))

	a.cfg = cfg
	a.printer = output.NewPrinterWithWriters(a.stdout, a.stderr, output.ResolveColors(a.noColor))
	return nil
}

type staticSettings config.Summarizer

func (s staticSettings) Get() config.Summarizer { return config.Summarizer(s) }

// loadSettings reads the summarization settings. Commands that may not
// summarize still work when the file is missing or invalid; the pipeline
// rejects such settings when it is built.
func (a *app) loadSettings() config.Summarizer {
	settings, err := config.LoadSummarizerFile(a.cfg.Paths.SummarizerFile)
	if err != nil {
		log.Debug("Summarizer settings unavailable: %v", err)
		return config.DefaultSummarizer()
	}
	return settings
}

func (a *app) newService(settings service.SettingsSource, opts ...service.Option) *service.Service {
	return service.New(a.cfg, a.newFetcher(a.cfg.Harvest), settings, opts...)
}

// openStore opens the task database, creating its directory.
func (a *app) openStore() (*persistence.SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(a.cfg.DBPath()), 0o755); err != nil {
		return nil, err
	}
	return persistence.NewSQLiteStore(a.cfg.DBPath())
}

// withRecorder opens the task database for run history. Commands still run
// without it.
func (a *app) withRecorder() ([]service.Option, func()) {
	store, err := a.openStore()
	if err != nil {
		log.Warn("Run history disabled: %v", err)
		return nil, func() {}
	}
	return []service.Option{service.WithRecorder(store)}, func() {
		if err := store.Close(); err != nil {
			log.Warn("Closing task database: %v", err)
		}
	}
}

// finish prints reports and maps unit failures, which the reports already
// show, to errUnitsFailed.
func (a *app) finish(reports []service.BatchReport, err error) error {
	if a.jsonOut {
		if jerr := a.printer.JSON(reports); jerr != nil {
			return jerr
		}
	} else {
		for _, r := range reports {
			if perr := a.printer.Report(r); perr != nil {
				return perr
			}
		}
	}
	if err != nil && onlyUnitFailures(err) {
		return errUnitsFailed
	}
	return err
}

func onlyUnitFailures(err error) bool {
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		for _, e := range joined.Unwrap() {
			if !onlyUnitFailures(e) {
				return false
			}
		}
		return true
	}
	return apperr.Is(err, apperr.ErrPartialBatch)
}
