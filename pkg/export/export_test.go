package export

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	tferrors "github.com/tabflow/tabflow/pkg/errors"
	"github.com/tabflow/tabflow/pkg/parser"
	"github.com/tabflow/tabflow/pkg/record"
)

func testSchema(t *testing.T) *record.Schema {
	t.Helper()
	s, err := record.NewSchema([]record.FieldDescriptor{
		{Name: "Username", Kind: record.KindString},
		{Name: "Age", Kind: record.KindInt},
	})
	if err != nil {
		t.Fatalf("NewSchema: %v", err)
	}
	return s
}

func makeRecords(t *testing.T, schema *record.Schema, n int) []*record.Record {
	t.Helper()
	recs := make([]*record.Record, n)
	for i := range recs {
		rec := record.NewRecord(schema)
		rec.Set(0, record.String(fmt.Sprintf("user%d", i)))
		if i%7 != 3 {
			// Leave Age absent on some rows; it must export empty.
			rec.Set(1, record.Int(int64(20+i)))
		}
		recs[i] = rec
	}
	return recs
}

func readBack(t *testing.T, path string) []string {
	t.Helper()
	in, err := parser.Stat(path)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	src, err := parser.OpenSource(in, ',', 0)
	if err != nil {
		t.Fatalf("OpenSource: %v", err)
	}
	defer src.Close()

	var names []string
	for {
		row, err := src.Next()
		if err != nil {
			break
		}
		names = append(names, string(row[0]))
	}
	return names
}

func TestRun_SequentialRoundTrip(t *testing.T) {
	schema := testSchema(t)
	recs := makeRecords(t, schema, 25)
	path := filepath.Join(t.TempDir(), "out.csv")

	w, err := NewCSVWriter(path, CSVWriterOptions{BOM: true})
	if err != nil {
		t.Fatalf("NewCSVWriter: %v", err)
	}
	written, err := Run(context.Background(), SliceSource(recs), w, Options{
		Schema:   schema,
		PageSize: 10,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if written != 25 {
		t.Errorf("written = %d, want 25", written)
	}

	// File starts with the byte order mark.
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if len(raw) < 3 || raw[0] != 0xEF || raw[1] != 0xBB || raw[2] != 0xBF {
		t.Error("output missing BOM")
	}

	names := readBack(t, path)
	if len(names) != 25 {
		t.Fatalf("read back %d rows, want 25", len(names))
	}
	// Sequential export preserves store order.
	for i, name := range names {
		if name != fmt.Sprintf("user%d", i) {
			t.Fatalf("row %d = %q, out of order", i, name)
		}
	}
}

func TestRun_PipelinedSameRowSet(t *testing.T) {
	schema := testSchema(t)
	const total = 2000
	recs := makeRecords(t, schema, total)
	path := filepath.Join(t.TempDir(), "out.csv")

	w, err := NewCSVWriter(path, CSVWriterOptions{})
	if err != nil {
		t.Fatalf("NewCSVWriter: %v", err)
	}
	written, err := Run(context.Background(), SliceSource(recs), w, Options{
		Schema:          schema,
		PageSize:        100,
		Workers:         4,
		SequentialBelow: 500,
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if written != total {
		t.Errorf("written = %d, want %d", written, total)
	}

	names := readBack(t, path)
	if len(names) != total {
		t.Fatalf("read back %d rows, want %d", len(names), total)
	}
	sort.Strings(names)
	want := make([]string, total)
	for i := range want {
		want[i] = fmt.Sprintf("user%d", i)
	}
	sort.Strings(want)
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("row set diverges at %d: %q vs %q", i, names[i], want[i])
		}
	}
}

func TestRun_GzipOutput(t *testing.T) {
	schema := testSchema(t)
	recs := makeRecords(t, schema, 30)
	path := filepath.Join(t.TempDir(), "out.csv.gz")

	w, err := OpenWriter(path, CSVWriterOptions{})
	if err != nil {
		t.Fatalf("OpenWriter: %v", err)
	}
	if _, err := Run(context.Background(), SliceSource(recs), w, Options{Schema: schema}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	// The parser's gzip transparency reads it back.
	names := readBack(t, path)
	if len(names) != 30 {
		t.Errorf("read back %d rows, want 30", len(names))
	}
}

func TestRun_XLSXRoundTrip(t *testing.T) {
	schema := testSchema(t)
	recs := makeRecords(t, schema, 12)
	path := filepath.Join(t.TempDir(), "out.xlsx")

	w, err := OpenWriter(path, CSVWriterOptions{})
	if err != nil {
		t.Fatalf("OpenWriter: %v", err)
	}
	written, err := Run(context.Background(), SliceSource(recs), w, Options{Schema: schema})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if written != 12 {
		t.Errorf("written = %d, want 12", written)
	}

	src, err := parser.OpenXLSX(path)
	if err != nil {
		t.Fatalf("OpenXLSX: %v", err)
	}
	defer src.Close()
	if src.Header()[0] != "Username" {
		t.Errorf("header = %v", src.Header())
	}
	rows := 0
	for {
		if _, err := src.Next(); err != nil {
			break
		}
		rows++
	}
	if rows != 12 {
		t.Errorf("workbook rows = %d, want 12", rows)
	}
}

func TestRun_AbsentFieldExportsEmpty(t *testing.T) {
	schema := testSchema(t)
	rec := record.NewRecord(schema)
	rec.Set(0, record.String("solo"))
	path := filepath.Join(t.TempDir(), "out.csv")

	w, err := NewCSVWriter(path, CSVWriterOptions{})
	if err != nil {
		t.Fatalf("NewCSVWriter: %v", err)
	}
	if _, err := Run(context.Background(), SliceSource{rec}, w, Options{Schema: schema}); err != nil {
		t.Fatalf("Run: %v", err)
	}

	raw, _ := os.ReadFile(path)
	want := "Username,Age\nsolo,\n"
	if string(raw) != want {
		t.Errorf("output = %q, want %q", raw, want)
	}
}

type stalledSource struct {
	total int64
}

func (s stalledSource) Count(context.Context) (int64, error) { return s.total, nil }

func (s stalledSource) Fetch(ctx context.Context, _, _ int64) ([]*record.Record, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestRun_WriterPollTimeout(t *testing.T) {
	schema := testSchema(t)
	path := filepath.Join(t.TempDir(), "out.csv")
	w, err := NewCSVWriter(path, CSVWriterOptions{})
	if err != nil {
		t.Fatalf("NewCSVWriter: %v", err)
	}

	_, err = Run(context.Background(), stalledSource{total: 100000}, w, Options{
		Schema:          schema,
		SequentialBelow: 1,
		PollTimeout:     50 * time.Millisecond,
	})
	if !tferrors.IsCode(err, tferrors.CodeTimeout) {
		t.Errorf("err = %v, want timeout", err)
	}
}
