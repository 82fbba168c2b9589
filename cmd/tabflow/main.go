// TabFlow - adaptive bulk import and export for tabular data.
// Imports CSV and XLSX files into a store, picking the execution plan
// from input size and available memory, and exports them back out.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tabflow/tabflow/pkg/config"
	"github.com/tabflow/tabflow/pkg/export"
	"github.com/tabflow/tabflow/pkg/importer"
	"github.com/tabflow/tabflow/pkg/metrics"
	"github.com/tabflow/tabflow/pkg/persist"
	"github.com/tabflow/tabflow/pkg/record"
	"github.com/tabflow/tabflow/pkg/tui"
	"github.com/tabflow/tabflow/pkg/watch"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

// CLI flags
var (
	configPath string
	schemaPath string
	verbose    bool

	// import flags
	storeKind string

	// export flags
	exportGzip bool
	exportBOM  bool

	// watch flags
	watchDelete bool

	// generate flags
	generateRows int
)

// cfg and appSchema are resolved once in the persistent pre-run.
var (
	cfg       *config.Config
	appSchema *record.Schema
	reporter  metrics.Reporter = metrics.Noop{}
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		tui.PrintError(err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "tabflow",
	Short: "TabFlow - adaptive bulk tabular import/export",
	Long: `TabFlow imports CSV and XLSX files into a store and exports them back.

The execution plan (single-threaded, parallel, streaming) is chosen per
file from its size, the estimated row count and available memory.`,
	Version:       fmt.Sprintf("%s (%s)", version, commit),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		if storeKind != "" {
			cfg.Store.Kind = storeKind
		}
		if verbose {
			cfg.Log.Level = "debug"
		}
		setupLogging(cfg.Log)
		if cfg.Metrics.Enabled {
			reporter = metrics.NewPrometheus(nil)
			startMetricsServer(cfg.Metrics.Addr)
		}
		appSchema, err = loadSchema(schemaPath)
		return err
	},
}

var importCmd = &cobra.Command{
	Use:   "import [file...]",
	Short: "Import tabular files into the store",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runImport,
}

var exportCmd = &cobra.Command{
	Use:   "export [output-file]",
	Short: "Export the store to a CSV or XLSX file",
	Args:  cobra.ExactArgs(1),
	RunE:  runExport,
}

var watchCmd = &cobra.Command{
	Use:   "watch [directory]",
	Short: "Import files as they land in a directory",
	Args:  cobra.ExactArgs(1),
	RunE:  runWatch,
}

var generateCmd = &cobra.Command{
	Use:   "generate [output-file]",
	Short: "Generate a synthetic input file for testing",
	Args:  cobra.ExactArgs(1),
	RunE:  runGenerate,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to YAML config")
	rootCmd.PersistentFlags().StringVarP(&schemaPath, "schema", "s", "", "path to YAML schema (built-in user schema when omitted)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	importCmd.Flags().StringVar(&storeKind, "store", "", "store backend: memory, postgres, redis")
	exportCmd.Flags().StringVar(&storeKind, "store", "", "store backend: memory, postgres, redis")
	exportCmd.Flags().BoolVar(&exportGzip, "gzip", false, "gzip-compress CSV output")
	exportCmd.Flags().BoolVar(&exportBOM, "bom", true, "prepend a UTF-8 BOM to CSV output")
	watchCmd.Flags().BoolVar(&watchDelete, "delete", false, "delete files after a clean import")
	generateCmd.Flags().IntVar(&generateRows, "rows", 100000, "rows to generate")

	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(generateCmd)
}

// signalContext cancels on SIGINT/SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func runImport(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	store, closeStore, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	imp := importer.New(cfg, appSchema, store, importer.WithReporter(reporter))
	for _, path := range args {
		sess, err := imp.ImportFile(ctx, path)
		if err != nil {
			return err
		}
		tui.PrintImportSummary(sess)
	}
	return nil
}

func runExport(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	store, closeStore, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	src, ok := store.(export.Source)
	if !ok {
		return fmt.Errorf("store %q does not support export", cfg.Store.Kind)
	}

	out := args[0]
	w, err := export.OpenWriter(out, export.CSVWriterOptions{
		Delimiter: rune(cfg.DelimiterByte()),
		BOM:       exportBOM && cfg.Export.BOM,
		Gzip:      exportGzip || cfg.Export.Gzip,
	})
	if err != nil {
		return err
	}

	start := time.Now()
	rows, err := export.Run(ctx, src, w, export.Options{
		Schema:          appSchema,
		PageSize:        int64(cfg.Export.PageSize),
		Workers:         cfg.Workers,
		QueueDepth:      cfg.Export.QueueDepth,
		SequentialBelow: cfg.Export.SequentialBelowRows,
	})
	if err != nil {
		return err
	}
	tui.PrintExportSummary(out, rows, time.Since(start))
	return nil
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	store, closeStore, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	imp := importer.New(cfg, appSchema, store, importer.WithReporter(reporter))
	w := watch.New(args[0],
		time.Duration(cfg.Watch.DebounceMS)*time.Millisecond,
		watch.ImportFunc(func(ctx context.Context, path string) error {
			sess, err := imp.ImportFile(ctx, path)
			if err != nil {
				return err
			}
			tui.PrintImportSummary(sess)
			return nil
		}),
		nil,
	)
	w.DeleteAfter = watchDelete || cfg.Watch.DeleteAfter

	if err := w.Run(ctx); err != nil && err != context.Canceled {
		return err
	}
	return nil
}

func runGenerate(cmd *cobra.Command, args []string) error {
	return generateFile(args[0], appSchema, generateRows)
}

// openStore builds the configured persister. The returned func
// releases its resources.
func openStore(ctx context.Context) (persist.Persister, func(), error) {
	switch cfg.Store.Kind {
	case "postgres":
		pg, err := persist.NewPostgres(ctx, cfg.Store.DSN, cfg.Store.Table, appSchema)
		if err != nil {
			return nil, nil, err
		}
		return pg, pg.Close, nil
	case "redis":
		rd, err := persist.NewRedis(ctx, cfg.Store.RedisAddr, cfg.Store.RedisPrefix, appSchema)
		if err != nil {
			return nil, nil, err
		}
		return rd, func() { rd.Close() }, nil
	default:
		return &persist.MemStore{}, func() {}, nil
	}
}
