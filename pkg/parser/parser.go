// Package parser turns raw tabular inputs into validated record
// batches under one of three execution plans.
package parser

import (
	"context"
	"io"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tabflow/tabflow/pkg/batch"
	tferrors "github.com/tabflow/tabflow/pkg/errors"
	"github.com/tabflow/tabflow/pkg/memory"
	"github.com/tabflow/tabflow/pkg/record"
	"github.com/tabflow/tabflow/pkg/validate"
)

// Options carries the knobs shared by all parsing plans.
type Options struct {
	Map       *record.ColumnMap
	Validator validate.Validator
	BatchSize int
	// Workers is the parallel fan-out; ignored by the other plans.
	Workers int
	// Timeout bounds the parallel join barrier. Zero means 10 minutes.
	Timeout time.Duration
	// Mem supplies pressure checks on the streaming plan; nil uses the
	// process-wide manager.
	Mem *memory.Manager
	// Progress, when set, is called every progressEvery rows on the
	// serial plans.
	Progress func(rowsSeen int64)
}

const (
	defaultJoinTimeout = 10 * time.Minute
	progressEvery      = 50000
)

func (o *Options) validator() validate.Validator {
	if o.Validator == nil {
		return validate.AcceptAll{}
	}
	return o.Validator
}

func (o *Options) batchSize() int {
	if o.BatchSize <= 0 {
		return 2000
	}
	return o.BatchSize
}

// Stats summarizes one parsing run. Every data row is either accepted
// or rejected: Accepted+Rejected == RowsSeen always holds, including
// after an error.
type Stats struct {
	RowsSeen   int64
	Accepted   int64
	Rejected   int64
	SoftErrors int64
}

// ParseSequential reads, projects, validates and batches rows on the
// calling goroutine. Record order in the flushed batches matches input
// order exactly.
func ParseSequential(ctx context.Context, src RowSource, opts Options, sink batch.Sink) (Stats, error) {
	return parseSerial(ctx, src, opts, sink, nil)
}

// ParseStreaming is the sequential plan with heap pressure checks, for
// inputs too large to hold. Only the current batch is resident; row
// order is preserved like the sequential plan.
func ParseStreaming(ctx context.Context, src RowSource, opts Options, sink batch.Sink) (Stats, error) {
	mem := opts.Mem
	if mem == nil {
		mem = memory.Global()
	}
	return parseSerial(ctx, src, opts, sink, mem)
}

func parseSerial(ctx context.Context, src RowSource, opts Options, sink batch.Sink, mem *memory.Manager) (Stats, error) {
	var stats Stats
	v := opts.validator()
	acc := batch.NewAccumulator(opts.batchSize(), sink)

	for {
		if err := ctx.Err(); err != nil {
			return stats, tferrors.ContextCanceled("parse")
		}
		row, err := src.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return stats, err
		}
		stats.RowsSeen++
		if opts.Progress != nil && stats.RowsSeen%progressEvery == 0 {
			opts.Progress(stats.RowsSeen)
		}

		rec, soft := opts.Map.Project(row)
		stats.SoftErrors += int64(soft)
		if !v.IsAcceptable(rec) {
			stats.Rejected++
			continue
		}
		stats.Accepted++
		if err := acc.Add(ctx, rec, soft); err != nil {
			return stats, err
		}
		if mem != nil {
			mem.CheckPressure(1)
		}
	}
	return stats, acc.Drain(ctx)
}

// ParseParallel materializes the input, then fans projection and
// validation out across opts.Workers goroutines. Workers claim
// contiguous row chunks through an atomic cursor, batch locally, and
// flush to the shared sink, so the only cross-worker contention is one
// flush per batch. sink must be safe for concurrent use.
//
// Batches arrive at the sink in no particular order; the set of
// accepted records equals what the sequential plan would produce. The
// first worker error cancels the rest, and the join barrier gives up
// after opts.Timeout.
func ParseParallel(ctx context.Context, src RowSource, opts Options, sink batch.Sink) (Stats, error) {
	rows, err := materialize(ctx, src)
	if err != nil {
		return Stats{}, err
	}

	workers := opts.Workers
	if workers < 1 {
		workers = 1
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultJoinTimeout
	}
	chunk := int64(opts.batchSize())
	v := opts.validator()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var (
		cursor     atomic.Int64
		accepted   atomic.Int64
		rejected   atomic.Int64
		softErrors atomic.Int64
	)

	g, gctx := errgroup.WithContext(ctx)
	for w := 0; w < workers; w++ {
		worker := w
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = tferrors.New(tferrors.CodePanic, "worker panic").
						WithContext("worker", worker).
						WithContext("panic", r)
				}
			}()

			acc := batch.NewAccumulator(int(chunk), sink)
			for {
				if gctx.Err() != nil {
					// A peer failed or the barrier timed out; stop
					// claiming and let the group report the cause.
					return nil
				}
				start := cursor.Add(chunk) - chunk
				if start >= int64(len(rows)) {
					break
				}
				end := start + chunk
				if end > int64(len(rows)) {
					end = int64(len(rows))
				}
				for _, row := range rows[start:end] {
					rec, soft := opts.Map.Project(row)
					softErrors.Add(int64(soft))
					if !v.IsAcceptable(rec) {
						rejected.Add(1)
						continue
					}
					accepted.Add(1)
					if err := acc.Add(gctx, rec, soft); err != nil {
						return tferrors.WorkerFailed(worker, err)
					}
				}
			}
			if err := acc.Drain(gctx); err != nil {
				return tferrors.WorkerFailed(worker, err)
			}
			return nil
		})
	}

	err = g.Wait()
	stats := Stats{
		RowsSeen:   int64(len(rows)),
		Accepted:   accepted.Load(),
		Rejected:   rejected.Load(),
		SoftErrors: softErrors.Load(),
	}
	// Rows never reached by any worker count as rejected so the
	// accounting identity survives early termination.
	stats.Rejected = stats.RowsSeen - stats.Accepted
	if ctx.Err() == context.DeadlineExceeded {
		return stats, tferrors.Timeout("parallel parse")
	}
	if err == nil && ctx.Err() != nil {
		err = tferrors.ContextCanceled("parallel parse")
	}
	return stats, err
}

// materialize drains the source into memory, copying each row out of
// the source's reused line buffer.
func materialize(ctx context.Context, src RowSource) ([][][]byte, error) {
	var rows [][][]byte
	for {
		if err := ctx.Err(); err != nil {
			return nil, tferrors.ContextCanceled("materialize")
		}
		row, err := src.Next()
		if err == io.EOF {
			return rows, nil
		}
		if err != nil {
			return nil, err
		}
		copied := make([][]byte, len(row))
		for i, cell := range row {
			if len(cell) > 0 {
				copied[i] = append([]byte(nil), cell...)
			}
		}
		rows = append(rows, copied)
	}
}
