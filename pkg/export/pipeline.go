// Package export streams stored records back out to tabular files.
package export

import (
	"context"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	tferrors "github.com/tabflow/tabflow/pkg/errors"
	"github.com/tabflow/tabflow/pkg/memory"
	"github.com/tabflow/tabflow/pkg/record"
)

// Source is the paged read side of a store. Fetch returns the records
// in [offset, offset+limit); a short or empty page past the end is not
// an error. Fetch must be safe for concurrent calls.
type Source interface {
	Count(ctx context.Context) (int64, error)
	Fetch(ctx context.Context, offset, limit int64) ([]*record.Record, error)
}

// SliceSource serves a record slice already in memory.
type SliceSource []*record.Record

func (s SliceSource) Count(context.Context) (int64, error) {
	return int64(len(s)), nil
}

func (s SliceSource) Fetch(_ context.Context, offset, limit int64) ([]*record.Record, error) {
	if offset >= int64(len(s)) {
		return nil, nil
	}
	end := offset + limit
	if end > int64(len(s)) {
		end = int64(len(s))
	}
	return s[offset:end], nil
}

// Options tunes one export run.
type Options struct {
	Schema *record.Schema
	// PageSize rows per producer fetch. Zero sizes the page from the
	// heap headroom at the start of the run.
	PageSize int64
	// Workers is the producer fan-out on the pipelined path. Zero
	// means 4.
	Workers int
	// QueueDepth bounds the page queue between producers and the
	// writer. Zero means 8.
	QueueDepth int
	// SequentialBelow skips the pipeline for small exports. Zero
	// means 10000 rows.
	SequentialBelow int64
	// PollTimeout is how long the writer waits for the next page
	// before declaring the producers stalled. Zero means 30 seconds.
	PollTimeout time.Duration
}

func (o *Options) fill() {
	if o.PageSize <= 0 {
		// One heap snapshot per run, same heuristic as import batching.
		snap := memory.Take(0)
		o.PageSize = int64(memory.OptimalBatchSize(snap.Available(), exportRowSize, 1000, 5000))
	}
	if o.Workers <= 0 {
		o.Workers = 4
	}
	if o.QueueDepth <= 0 {
		o.QueueDepth = 8
	}
	if o.SequentialBelow <= 0 {
		o.SequentialBelow = 10000
	}
	if o.PollTimeout <= 0 {
		o.PollTimeout = 30 * time.Second
	}
}

// Run exports every record in src through w and returns the number of
// data rows written.
//
// Exports at or below SequentialBelow rows fetch and write on the
// calling goroutine in store order. Larger exports fan page fetches
// out across Workers producers that claim page indexes through an
// atomic cursor and feed a bounded queue drained by exactly one writer
// goroutine, so rows from different pages never interleave. Page order
// in the output follows queue arrival, not store order.
func Run(ctx context.Context, src Source, w RowWriter, opts Options) (int64, error) {
	opts.fill()
	if opts.Schema == nil {
		return 0, tferrors.New(tferrors.CodeInvalidFormat, "export needs a schema")
	}

	total, err := src.Count(ctx)
	if err != nil {
		return 0, tferrors.Wrap(err, tferrors.CodePersistFailed, "count records")
	}
	if err := w.WriteHeader(opts.Schema.FieldNames()); err != nil {
		return 0, err
	}
	if total == 0 {
		return 0, w.Close()
	}

	var written int64
	if total <= opts.SequentialBelow {
		written, err = runSequential(ctx, src, w, total, opts)
	} else {
		written, err = runPipelined(ctx, src, w, total, opts)
	}
	if err != nil {
		w.Close()
		return written, err
	}
	return written, w.Close()
}

func runSequential(ctx context.Context, src Source, w RowWriter, total int64, opts Options) (int64, error) {
	var written int64
	for offset := int64(0); offset < total; offset += opts.PageSize {
		if err := ctx.Err(); err != nil {
			return written, tferrors.ContextCanceled("export")
		}
		recs, err := src.Fetch(ctx, offset, opts.PageSize)
		if err != nil {
			return written, tferrors.Wrap(err, tferrors.CodePersistFailed, "fetch page").
				WithContext("offset", offset)
		}
		for _, rec := range recs {
			if err := w.WriteRow(record.Render(rec)); err != nil {
				return written, err
			}
			written++
		}
	}
	return written, nil
}

// exportRowSize is the per-row memory estimate used to derive the
// default page size.
const exportRowSize = 512

type page struct {
	index int64
	recs  []*record.Record
}

func runPipelined(ctx context.Context, src Source, w RowWriter, total int64, opts Options) (int64, error) {
	pages := (total + opts.PageSize - 1) / opts.PageSize
	queue := make(chan page, opts.QueueDepth)

	gctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var cursor atomic.Int64
	g, pctx := errgroup.WithContext(gctx)
	for i := 0; i < opts.Workers; i++ {
		g.Go(func() error {
			for {
				if pctx.Err() != nil {
					return nil
				}
				idx := cursor.Add(1) - 1
				if idx >= pages {
					return nil
				}
				recs, err := src.Fetch(pctx, idx*opts.PageSize, opts.PageSize)
				if err != nil {
					return tferrors.Wrap(err, tferrors.CodePersistFailed, "fetch page").
						WithContext("page", idx)
				}
				select {
				case queue <- page{index: idx, recs: recs}:
				case <-pctx.Done():
					return nil
				}
			}
		})
	}

	// Close the queue when the last producer retires so the writer
	// sees end of input.
	producersDone := make(chan error, 1)
	go func() {
		producersDone <- g.Wait()
		close(queue)
	}()

	var written int64
	timer := time.NewTimer(opts.PollTimeout)
	defer timer.Stop()
	for {
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(opts.PollTimeout)

		select {
		case p, ok := <-queue:
			if !ok {
				if err := <-producersDone; err != nil {
					return written, err
				}
				return written, nil
			}
			for _, rec := range p.recs {
				if err := w.WriteRow(record.Render(rec)); err != nil {
					cancel()
					<-producersDone
					return written, err
				}
				written++
			}
		case <-timer.C:
			cancel()
			<-producersDone
			return written, tferrors.Timeout("export writer poll")
		case <-ctx.Done():
			cancel()
			<-producersDone
			return written, tferrors.ContextCanceled("export")
		}
	}
}

// OpenWriter picks a writer from the output path's extension: .xlsx
// gets a workbook, everything else delimited text. A .gz suffix turns
// gzip on regardless of opts.
func OpenWriter(path string, opts CSVWriterOptions) (RowWriter, error) {
	name := strings.ToLower(filepath.Base(path))
	if strings.HasSuffix(name, ".xlsx") {
		return NewXLSXWriter(path)
	}
	return NewCSVWriter(path, opts)
}
