package batch

import (
	"context"
	"strconv"
	"testing"

	"github.com/tabflow/tabflow/pkg/record"
)

func newTestRecord(t *testing.T, schema *record.Schema, name string) *record.Record {
	t.Helper()
	rec := record.NewRecord(schema)
	rec.Set(0, record.String(name))
	return rec
}

func oneFieldSchema(t *testing.T) *record.Schema {
	t.Helper()
	s, err := record.NewSchema([]record.FieldDescriptor{
		{Name: "Username", Kind: record.KindString},
	})
	if err != nil {
		t.Fatalf("NewSchema: %v", err)
	}
	return s
}

func TestAccumulator_FlushesAtMax(t *testing.T) {
	schema := oneFieldSchema(t)
	var sink Collector
	acc := NewAccumulator(3, &sink)
	ctx := context.Background()

	for i := 0; i < 7; i++ {
		if err := acc.Add(ctx, newTestRecord(t, schema, strconv.Itoa(i)), 0); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}
	if err := acc.Drain(ctx); err != nil {
		t.Fatalf("Drain: %v", err)
	}

	batches := sink.Batches()
	if len(batches) != 3 {
		t.Fatalf("batches = %d, want 3", len(batches))
	}
	wantLens := []int{3, 3, 1}
	for i, b := range batches {
		if b.Len() != wantLens[i] {
			t.Errorf("batch %d len = %d, want %d", i, b.Len(), wantLens[i])
		}
		if b.Len() < 1 || b.Len() > 3 {
			t.Errorf("batch %d violates size bounds", i)
		}
		if b.Index != i {
			t.Errorf("batch %d Index = %d", i, b.Index)
		}
	}
	if batches[2].RowOffset != 6 {
		t.Errorf("final RowOffset = %d, want 6", batches[2].RowOffset)
	}
}

func TestAccumulator_DrainEmptySendsNothing(t *testing.T) {
	var sink Collector
	acc := NewAccumulator(5, &sink)

	if err := acc.Drain(context.Background()); err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if len(sink.Batches()) != 0 {
		t.Error("empty accumulator must not emit a batch")
	}
}

func TestAccumulator_NoRecordLost(t *testing.T) {
	schema := oneFieldSchema(t)
	var sink Collector
	acc := NewAccumulator(4, &sink)
	ctx := context.Background()

	const total = 25
	for i := 0; i < total; i++ {
		if err := acc.Add(ctx, newTestRecord(t, schema, strconv.Itoa(i)), 0); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}
	if err := acc.Drain(ctx); err != nil {
		t.Fatalf("Drain: %v", err)
	}

	if acc.Flushed() != total {
		t.Errorf("Flushed = %d, want %d", acc.Flushed(), total)
	}
	recs := sink.Records()
	if len(recs) != total {
		t.Fatalf("collected %d records, want %d", len(recs), total)
	}
	// Order preserved end to end on the single-threaded path.
	for i, rec := range recs {
		v, _ := rec.Get(0)
		if v.Str() != strconv.Itoa(i) {
			t.Fatalf("record %d = %q, out of order", i, v.Str())
		}
	}
}

func TestAccumulator_CarriesSoftErrors(t *testing.T) {
	schema := oneFieldSchema(t)
	var sink Collector
	acc := NewAccumulator(2, &sink)
	ctx := context.Background()

	_ = acc.Add(ctx, newTestRecord(t, schema, "a"), 1)
	_ = acc.Add(ctx, newTestRecord(t, schema, "b"), 2)
	_ = acc.Add(ctx, newTestRecord(t, schema, "c"), 0)
	if err := acc.Drain(ctx); err != nil {
		t.Fatalf("Drain: %v", err)
	}

	batches := sink.Batches()
	if len(batches) != 2 {
		t.Fatalf("batches = %d, want 2", len(batches))
	}
	if batches[0].SoftErrors != 3 {
		t.Errorf("batch 0 SoftErrors = %d, want 3", batches[0].SoftErrors)
	}
	if batches[1].SoftErrors != 0 {
		t.Errorf("batch 1 SoftErrors = %d, want 0", batches[1].SoftErrors)
	}
}
