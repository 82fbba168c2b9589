// Package importer orchestrates one bulk import: strategy selection,
// parsing, validation, batching and persistence.
package importer

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/tabflow/tabflow/pkg/batch"
	"github.com/tabflow/tabflow/pkg/config"
	tferrors "github.com/tabflow/tabflow/pkg/errors"
	"github.com/tabflow/tabflow/pkg/memory"
	"github.com/tabflow/tabflow/pkg/metrics"
	"github.com/tabflow/tabflow/pkg/parser"
	"github.com/tabflow/tabflow/pkg/persist"
	"github.com/tabflow/tabflow/pkg/record"
	"github.com/tabflow/tabflow/pkg/strategy"
	"github.com/tabflow/tabflow/pkg/validate"
)

// Session describes one import operation from selection to completion.
type Session struct {
	ID       string
	Input    parser.Input
	Decision strategy.Decision
	Stats    parser.Stats
	Saved    int64
	Started  time.Time
	Elapsed  time.Duration
}

// Importer runs imports against one schema and one store. Safe for
// concurrent ImportFile calls as long as the persister is.
type Importer struct {
	cfg      *config.Config
	schema   *record.Schema
	selector *strategy.Selector
	mem      *memory.Manager
	store    persist.Persister
	log      *slog.Logger
	reporter metrics.Reporter
}

// Option customizes an Importer.
type Option func(*Importer)

// WithLogger replaces the default logger.
func WithLogger(log *slog.Logger) Option {
	return func(i *Importer) { i.log = log }
}

// WithReporter replaces the default no-op metrics reporter.
func WithReporter(r metrics.Reporter) Option {
	return func(i *Importer) { i.reporter = r }
}

// WithMemoryManager replaces the process-wide memory manager.
func WithMemoryManager(m *memory.Manager) Option {
	return func(i *Importer) { i.mem = m }
}

// New builds an Importer from configuration.
func New(cfg *config.Config, schema *record.Schema, store persist.Persister, opts ...Option) *Importer {
	i := &Importer{
		cfg:    cfg,
		schema: schema,
		selector: strategy.NewSelector(strategy.Selector{
			MemoryThreshold: cfg.MemoryThresholdMB << 20,
			ParallelRows:    cfg.ParallelRowThreshold,
			Workers:         cfg.Workers,
			MaxBatch:        cfg.BatchMax,
		}),
		mem:      memory.Global(),
		store:    store,
		log:      slog.Default(),
		reporter: metrics.Noop{},
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// ImportFile imports one file. The execution plan is chosen before the
// first row is parsed and holds for the whole operation.
func (imp *Importer) ImportFile(ctx context.Context, path string) (*Session, error) {
	in, err := parser.Stat(path)
	if err != nil {
		return nil, err
	}

	// One heap snapshot drives the whole decision; later allocations
	// cannot flip the plan mid-operation.
	snap := imp.mem.Snapshot()
	rowEstimate := strategy.EstimateRows(in.Bytes, 0)
	decision := imp.selector.Choose(in.Bytes, rowEstimate, snap)

	sess := &Session{
		ID:       uuid.NewString(),
		Input:    in,
		Decision: decision,
		Started:  time.Now(),
	}
	log := imp.log.With(
		"session", sess.ID,
		"path", in.Path,
		"strategy", decision.Strategy.String(),
	)
	log.Info("import starting",
		"bytes", in.Bytes,
		"row_estimate", rowEstimate,
		"batch_size", decision.BatchSize,
		"workers", decision.Workers,
	)
	imp.reporter.OperationStarted("import", decision.Strategy.String())

	stats, saved, err := imp.run(ctx, in, decision)
	sess.Stats = stats
	sess.Saved = saved
	sess.Elapsed = time.Since(sess.Started)

	imp.reporter.RowsProcessed(stats.Accepted, stats.Rejected)
	imp.reporter.OperationFinished("import", sess.Elapsed, err)
	if err != nil {
		log.Error("import failed", "error", err, "rows_seen", stats.RowsSeen, "saved", saved)
		return sess, err
	}
	log.Info("import finished",
		"rows_seen", stats.RowsSeen,
		"accepted", stats.Accepted,
		"rejected", stats.Rejected,
		"soft_errors", stats.SoftErrors,
		"saved", saved,
		"elapsed", sess.Elapsed,
	)
	return sess, nil
}

func (imp *Importer) run(ctx context.Context, in parser.Input, decision strategy.Decision) (parser.Stats, int64, error) {
	src, err := parser.OpenSource(in, imp.cfg.DelimiterByte(), imp.cfg.BufferSize())
	if err != nil {
		return parser.Stats{}, 0, err
	}
	defer src.Close()

	cmap := record.Resolve(imp.schema, src.Header())
	if cmap.MappedColumns() == 0 {
		return parser.Stats{}, 0, tferrors.MissingColumn(imp.schema.Field(0).Name, src.Header())
	}

	opts := parser.Options{
		Map:       cmap,
		Validator: validate.IdentityFields{N: imp.cfg.IdentityFields},
		BatchSize: decision.BatchSize,
		Workers:   decision.Workers,
		Timeout:   imp.cfg.JoinTimeout,
		Mem:       imp.mem,
		Progress: func(rows int64) {
			imp.log.Debug("import progress", "path", in.Path, "rows", rows)
		},
	}
	store := &meteredPersister{p: imp.store, reporter: imp.reporter}

	switch decision.Strategy {
	case strategy.Parallel:
		// Parallel parse collects in memory, then the saver re-chunks
		// and fans persistence out.
		var collector batch.Collector
		stats, err := parser.ParseParallel(ctx, src, opts, &collector)
		if err != nil {
			return stats, 0, err
		}
		saver := &persist.Saver{
			P:             store,
			SerialChunk:   imp.cfg.Store.SerialChunkRows,
			ParallelChunk: imp.cfg.Store.ParallelChunkRows,
			Workers:       decision.Workers,
		}
		saved, err := saver.Save(ctx, collector.Records())
		return stats, saved, err

	case strategy.Streaming:
		sink := persist.NewBatchSink(store)
		stats, err := parser.ParseStreaming(ctx, src, opts, sink)
		return stats, sink.Saved(), err

	default:
		sink := persist.NewBatchSink(store)
		stats, err := parser.ParseSequential(ctx, src, opts, sink)
		return stats, sink.Saved(), err
	}
}

// meteredPersister times every store call for the reporter.
type meteredPersister struct {
	p        persist.Persister
	reporter metrics.Reporter
}

func (m *meteredPersister) SaveBatch(ctx context.Context, b *batch.Batch) (int, error) {
	start := time.Now()
	n, err := m.p.SaveBatch(ctx, b)
	if err == nil {
		m.reporter.BatchPersisted(n, time.Since(start))
	}
	return n, err
}
