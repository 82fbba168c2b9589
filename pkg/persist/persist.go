// Package persist is the storage boundary for accepted records.
package persist

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/tabflow/tabflow/pkg/batch"
	tferrors "github.com/tabflow/tabflow/pkg/errors"
	"github.com/tabflow/tabflow/pkg/record"
)

// Persister writes one batch of accepted records to a backing store
// and reports how many rows it wrote. Implementations must be safe for
// concurrent SaveBatch calls; the parallel save path relies on it.
type Persister interface {
	SaveBatch(ctx context.Context, b *batch.Batch) (int, error)
}

// BatchSink adapts a Persister to the accumulator's Sink interface and
// keeps a running total of saved rows.
type BatchSink struct {
	p     Persister
	saved atomic.Int64
}

// NewBatchSink wraps a persister for use as a flush target.
func NewBatchSink(p Persister) *BatchSink {
	return &BatchSink{p: p}
}

// Flush implements batch.Sink.
func (s *BatchSink) Flush(ctx context.Context, b *batch.Batch) error {
	n, err := s.p.SaveBatch(ctx, b)
	if err != nil {
		return tferrors.Wrap(err, tferrors.CodePersistFailed, "save batch").
			WithContext("batch", b.Index).
			WithContext("rows", b.Len())
	}
	s.saved.Add(int64(n))
	return nil
}

// Saved returns the number of rows persisted through this sink.
func (s *BatchSink) Saved() int64 { return s.saved.Load() }

// Saver persists an already-materialized record set, re-chunking it
// for the store. Small sets go serially in SerialChunk slices; sets
// larger than ParallelChunk are split across a worker group so slow
// stores do not serialize a big import's tail.
type Saver struct {
	P Persister
	// SerialChunk rows per serial SaveBatch call. Zero means 10000.
	SerialChunk int
	// ParallelChunk is both the split threshold and the rows handed to
	// each parallel worker. Zero means 30000.
	ParallelChunk int
	// Workers caps the parallel fan-out. Zero means 4.
	Workers int
}

const (
	defaultSerialChunk   = 10000
	defaultParallelChunk = 30000
	defaultSaveWorkers   = 4
)

// Save writes records and returns how many the store accepted. The
// first failing chunk aborts the remaining ones.
func (s *Saver) Save(ctx context.Context, recs []*record.Record) (int64, error) {
	if len(recs) == 0 {
		return 0, nil
	}
	serial := s.SerialChunk
	if serial <= 0 {
		serial = defaultSerialChunk
	}
	parallel := s.ParallelChunk
	if parallel <= 0 {
		parallel = defaultParallelChunk
	}
	workers := s.Workers
	if workers <= 0 {
		workers = defaultSaveWorkers
	}

	if len(recs) <= parallel || workers == 1 {
		return s.saveSerial(ctx, recs, serial)
	}
	return s.saveParallel(ctx, recs, parallel, workers)
}

func (s *Saver) saveSerial(ctx context.Context, recs []*record.Record, chunk int) (int64, error) {
	var saved int64
	for start, index := 0, 0; start < len(recs); start, index = start+chunk, index+1 {
		end := start + chunk
		if end > len(recs) {
			end = len(recs)
		}
		n, err := s.P.SaveBatch(ctx, &batch.Batch{
			Records:   recs[start:end],
			Index:     index,
			RowOffset: int64(start),
		})
		saved += int64(n)
		if err != nil {
			return saved, tferrors.Wrap(err, tferrors.CodePersistFailed, "serial save").
				WithContext("chunk", index)
		}
	}
	return saved, nil
}

func (s *Saver) saveParallel(ctx context.Context, recs []*record.Record, chunk, workers int) (int64, error) {
	var saved atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for start, index := 0, 0; start < len(recs); start, index = start+chunk, index+1 {
		end := start + chunk
		if end > len(recs) {
			end = len(recs)
		}
		b := &batch.Batch{
			Records:   recs[start:end],
			Index:     index,
			RowOffset: int64(start),
		}
		g.Go(func() error {
			n, err := s.P.SaveBatch(gctx, b)
			saved.Add(int64(n))
			if err != nil {
				return tferrors.Wrap(err, tferrors.CodePersistFailed, "parallel save").
					WithContext("chunk", b.Index)
			}
			return nil
		})
	}
	err := g.Wait()
	return saved.Load(), err
}
