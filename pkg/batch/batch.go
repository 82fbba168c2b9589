// Package batch groups accepted records into bounded units of work.
package batch

import (
	"context"
	"sync"

	"github.com/tabflow/tabflow/pkg/record"
)

// Batch is one bounded unit of persistence work: between 1 and the
// configured maximum records, never empty.
type Batch struct {
	Records []*record.Record

	// Index is the batch's ordinal within the operation, assigned at
	// flush time.
	Index int
	// RowOffset is the operation-wide row number of the first record.
	RowOffset int64
	// SoftErrors counts coercion failures inside this batch's records.
	SoftErrors int
}

// Len returns the number of records in the batch.
func (b *Batch) Len() int { return len(b.Records) }

// Sink receives full batches from an accumulator. The importer's sink
// forwards to the persister; tests substitute their own.
type Sink interface {
	Flush(ctx context.Context, b *Batch) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ctx context.Context, b *Batch) error

// Flush implements Sink.
func (f SinkFunc) Flush(ctx context.Context, b *Batch) error { return f(ctx, b) }

// Accumulator collects records until the maximum batch size is reached,
// then emits the full batch to its sink. It holds at most one batch of
// records and never blocks on Add beyond the synchronous flush.
//
// An Accumulator is not safe for concurrent use; parallel workers each
// own a local one and merge at flush granularity.
type Accumulator struct {
	max  int
	sink Sink

	records    []*record.Record
	softErrors int
	nextIndex  int
	rowOffset  int64
	flushed    int64 // records handed to the sink so far
}

// NewAccumulator creates an accumulator emitting batches of at most max
// records to sink. max must be positive.
func NewAccumulator(max int, sink Sink) *Accumulator {
	if max <= 0 {
		max = 1
	}
	return &Accumulator{
		max:     max,
		sink:    sink,
		records: make([]*record.Record, 0, max),
	}
}

// Add appends one accepted record, flushing first if the batch is full.
// softErrors is the record's coercion failure count, carried through to
// the batch for reporting.
func (a *Accumulator) Add(ctx context.Context, rec *record.Record, softErrors int) error {
	if len(a.records) >= a.max {
		if err := a.flush(ctx); err != nil {
			return err
		}
	}
	a.records = append(a.records, rec)
	a.softErrors += softErrors
	return nil
}

// Drain flushes any partial batch. Call exactly once at end of input;
// a final batch smaller than max is expected, an empty one is not sent.
func (a *Accumulator) Drain(ctx context.Context) error {
	if len(a.records) == 0 {
		return nil
	}
	return a.flush(ctx)
}

// Pending returns how many records are buffered but not yet flushed.
func (a *Accumulator) Pending() int { return len(a.records) }

// Flushed returns how many records have been handed to the sink.
func (a *Accumulator) Flushed() int64 { return a.flushed }

func (a *Accumulator) flush(ctx context.Context) error {
	b := &Batch{
		Records:    a.records,
		Index:      a.nextIndex,
		RowOffset:  a.rowOffset,
		SoftErrors: a.softErrors,
	}
	a.nextIndex++
	a.rowOffset += int64(len(a.records))
	a.flushed += int64(len(a.records))
	a.records = make([]*record.Record, 0, a.max)
	a.softErrors = 0
	return a.sink.Flush(ctx, b)
}

// Collector is a thread-safe Sink that retains every flushed batch.
// The parallel import path uses one Collector shared by all workers;
// the critical section is a single append per batch.
type Collector struct {
	mu      sync.Mutex
	batches []*Batch
}

// Flush implements Sink.
func (c *Collector) Flush(_ context.Context, b *Batch) error {
	c.mu.Lock()
	c.batches = append(c.batches, b)
	c.mu.Unlock()
	return nil
}

// Batches returns the collected batches.
func (c *Collector) Batches() []*Batch {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.batches
}

// Records flattens the collected batches into one record slice.
func (c *Collector) Records() []*record.Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*record.Record
	for _, b := range c.batches {
		out = append(out, b.Records...)
	}
	return out
}
