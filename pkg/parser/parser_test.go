package parser

import (
	"compress/gzip"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/tabflow/tabflow/pkg/batch"
	tferrors "github.com/tabflow/tabflow/pkg/errors"
	"github.com/tabflow/tabflow/pkg/record"
	"github.com/tabflow/tabflow/pkg/validate"
)

func userSchema(t *testing.T) *record.Schema {
	t.Helper()
	s, err := record.NewSchema([]record.FieldDescriptor{
		{Name: "Username", Aliases: []string{"username"}, Kind: record.KindString},
		{Name: "Name", Aliases: []string{"name"}, Kind: record.KindString},
		{Name: "Email", Aliases: []string{"email"}, Kind: record.KindString},
		{Name: "Age", Aliases: []string{"age"}, Kind: record.KindInt},
	})
	if err != nil {
		t.Fatalf("NewSchema: %v", err)
	}
	return s
}

func csvSource(t *testing.T, data string) *CSVSource {
	t.Helper()
	src, err := NewCSVSource(strings.NewReader(data), ',', 0)
	if err != nil {
		t.Fatalf("NewCSVSource: %v", err)
	}
	return src
}

func optsFor(t *testing.T, src RowSource, workers int) Options {
	t.Helper()
	return Options{
		Map:       record.Resolve(userSchema(t), src.Header()),
		Validator: validate.IdentityFields{N: 2},
		BatchSize: 3,
		Workers:   workers,
	}
}

// generateCSV produces n data rows; every 10th row has empty identity
// fields and must be rejected.
func generateCSV(n int) string {
	var b strings.Builder
	b.WriteString("username,name,email,age\n")
	for i := 0; i < n; i++ {
		if i%10 == 9 {
			b.WriteString(",,orphan@example.com,1\n")
			continue
		}
		fmt.Fprintf(&b, "user%d,Name %d,u%d@example.com,%d\n", i, i, i, 20+i%50)
	}
	return b.String()
}

func usernames(batches []*batch.Batch) []string {
	var out []string
	for _, b := range batches {
		for _, rec := range b.Records {
			v, _ := rec.GetByName("Username")
			out = append(out, v.Str())
		}
	}
	return out
}

func TestParseSequential_CleanInput(t *testing.T) {
	src := csvSource(t, "username,name,email,age\nalice,Alice,a@x.io,30\nbob,Bob,b@x.io,41\n")
	var sink batch.Collector

	stats, err := ParseSequential(context.Background(), src, optsFor(t, src, 1), &sink)
	if err != nil {
		t.Fatalf("ParseSequential: %v", err)
	}
	if stats.RowsSeen != 2 || stats.Accepted != 2 || stats.Rejected != 0 {
		t.Errorf("stats = %+v", stats)
	}
	got := usernames(sink.Batches())
	if len(got) != 2 || got[0] != "alice" || got[1] != "bob" {
		t.Errorf("records = %v", got)
	}
}

func TestParseSequential_MessyInput(t *testing.T) {
	// Reordered columns, an unknown column, a bad age cell, a blank
	// line, and a row with no identity fields.
	data := "email,unknown,age,username\n" +
		"a@x.io,junk,30,alice\n" +
		"\n" +
		"b@x.io,junk,not-a-number,bob\n" +
		"c@x.io,junk,22,\n"
	src := csvSource(t, data)
	var sink batch.Collector

	stats, err := ParseSequential(context.Background(), src, optsFor(t, src, 1), &sink)
	if err != nil {
		t.Fatalf("ParseSequential: %v", err)
	}
	if stats.RowsSeen != 3 {
		t.Errorf("RowsSeen = %d, want 3 (blank line is not a row)", stats.RowsSeen)
	}
	if stats.Accepted != 2 || stats.Rejected != 1 {
		t.Errorf("accepted/rejected = %d/%d, want 2/1", stats.Accepted, stats.Rejected)
	}
	if stats.SoftErrors != 1 {
		t.Errorf("SoftErrors = %d, want 1", stats.SoftErrors)
	}
	// bob survives his bad age cell with the field absent.
	for _, rec := range sink.Records() {
		if v, _ := rec.GetByName("Username"); v.Str() == "bob" {
			if _, ok := rec.GetByName("Age"); ok {
				t.Error("bad cell should leave Age absent")
			}
		}
	}
}

func TestParseSequential_AccountingIdentity(t *testing.T) {
	src := csvSource(t, generateCSV(137))
	var sink batch.Collector

	stats, err := ParseSequential(context.Background(), src, optsFor(t, src, 1), &sink)
	if err != nil {
		t.Fatalf("ParseSequential: %v", err)
	}
	if stats.Accepted+stats.Rejected != stats.RowsSeen {
		t.Errorf("identity violated: %d + %d != %d", stats.Accepted, stats.Rejected, stats.RowsSeen)
	}
	if int64(len(sink.Records())) != stats.Accepted {
		t.Errorf("sink holds %d records, stats claim %d", len(sink.Records()), stats.Accepted)
	}
	for i, b := range sink.Batches() {
		if b.Len() < 1 || b.Len() > 3 {
			t.Errorf("batch %d size %d out of bounds", i, b.Len())
		}
	}
}

func TestParsePlans_ProduceSameRecordSet(t *testing.T) {
	const rows = 250
	ctx := context.Background()

	var seq batch.Collector
	src := csvSource(t, generateCSV(rows))
	seqStats, err := ParseSequential(ctx, src, optsFor(t, src, 1), &seq)
	if err != nil {
		t.Fatalf("sequential: %v", err)
	}

	var str batch.Collector
	src = csvSource(t, generateCSV(rows))
	strStats, err := ParseStreaming(ctx, src, optsFor(t, src, 1), &str)
	if err != nil {
		t.Fatalf("streaming: %v", err)
	}

	var par batch.Collector
	src = csvSource(t, generateCSV(rows))
	parStats, err := ParseParallel(ctx, src, optsFor(t, src, 4), &par)
	if err != nil {
		t.Fatalf("parallel: %v", err)
	}

	if seqStats != strStats || seqStats != parStats {
		t.Errorf("stats diverge: seq %+v str %+v par %+v", seqStats, strStats, parStats)
	}

	seqNames := usernames(seq.Batches())
	strNames := usernames(str.Batches())
	if len(seqNames) != len(strNames) {
		t.Fatalf("streaming record count differs: %d vs %d", len(strNames), len(seqNames))
	}
	// Streaming preserves input order exactly.
	for i := range seqNames {
		if seqNames[i] != strNames[i] {
			t.Fatalf("streaming order diverges at %d: %q vs %q", i, strNames[i], seqNames[i])
		}
	}
	// Parallel guarantees the same set, not the same order.
	parNames := usernames(par.Batches())
	sortedSeq := append([]string(nil), seqNames...)
	sort.Strings(sortedSeq)
	sort.Strings(parNames)
	if len(parNames) != len(sortedSeq) {
		t.Fatalf("parallel record count differs: %d vs %d", len(parNames), len(sortedSeq))
	}
	for i := range sortedSeq {
		if sortedSeq[i] != parNames[i] {
			t.Fatalf("parallel record set diverges at %d: %q vs %q", i, parNames[i], sortedSeq[i])
		}
	}
}

func TestParseParallel_FirstErrorWins(t *testing.T) {
	src := csvSource(t, generateCSV(500))
	failing := batch.SinkFunc(func(context.Context, *batch.Batch) error {
		return tferrors.New(tferrors.CodePersistFailed, "sink down")
	})

	stats, err := ParseParallel(context.Background(), src, optsFor(t, src, 4), failing)
	if err == nil {
		t.Fatal("expected error from failing sink")
	}
	if !tferrors.IsCode(err, tferrors.CodeWorkerFailed) {
		t.Errorf("error code = %v, want worker failure", tferrors.GetCode(err))
	}
	if stats.Accepted+stats.Rejected != stats.RowsSeen {
		t.Errorf("identity violated after error: %+v", stats)
	}
}

func TestParseSequential_HeaderOnlyInput(t *testing.T) {
	src := csvSource(t, "username,name,email,age\n")
	var sink batch.Collector

	stats, err := ParseSequential(context.Background(), src, optsFor(t, src, 1), &sink)
	if err != nil {
		t.Fatalf("ParseSequential: %v", err)
	}
	if stats.RowsSeen != 0 || stats.Accepted != 0 || stats.Rejected != 0 {
		t.Errorf("stats = %+v, want all zero for header-only input", stats)
	}
	if len(sink.Batches()) != 0 {
		t.Errorf("sink got %d batches, want none", len(sink.Batches()))
	}
}

func TestParseParallel_JoinTimeout(t *testing.T) {
	src := csvSource(t, generateCSV(200))
	blocking := batch.SinkFunc(func(ctx context.Context, _ *batch.Batch) error {
		<-ctx.Done()
		return ctx.Err()
	})

	opts := optsFor(t, src, 4)
	opts.Timeout = 20 * time.Millisecond

	stats, err := ParseParallel(context.Background(), src, opts, blocking)
	if !tferrors.IsCode(err, tferrors.CodeTimeout) {
		t.Fatalf("err = %v, want timeout code", err)
	}
	if stats.Accepted+stats.Rejected != stats.RowsSeen {
		t.Errorf("identity violated after timeout: %+v", stats)
	}
}

func TestParseSequential_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	src := csvSource(t, generateCSV(10))

	_, err := ParseSequential(ctx, src, optsFor(t, src, 1), &batch.Collector{})
	if !tferrors.IsCode(err, tferrors.CodeContextCanceled) {
		t.Errorf("err = %v, want context canceled", err)
	}
}

func TestOpenSource_GzipTransparency(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "users.csv.gz")

	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	gz := gzip.NewWriter(f)
	if _, err := gz.Write([]byte(generateCSV(20))); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := gz.Close(); err != nil {
		t.Fatalf("close gzip: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close file: %v", err)
	}

	in, err := Stat(path)
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if in.Format != FormatCSV {
		t.Fatalf("format = %v, want csv", in.Format)
	}
	src, err := OpenSource(in, ',', 0)
	if err != nil {
		t.Fatalf("OpenSource: %v", err)
	}
	defer src.Close()

	var sink batch.Collector
	stats, err := ParseSequential(context.Background(), src, optsFor(t, src, 1), &sink)
	if err != nil {
		t.Fatalf("parse gzip: %v", err)
	}
	if stats.RowsSeen != 20 {
		t.Errorf("RowsSeen = %d, want 20", stats.RowsSeen)
	}
}

func TestNewCSVSource_StripsBOMFromHeader(t *testing.T) {
	data := string([]byte{0xEF, 0xBB, 0xBF}) + "username,name\nalice,Alice\n"
	src := csvSource(t, data)
	if src.Header()[0] != "username" {
		t.Errorf("header[0] = %q, BOM not stripped", src.Header()[0])
	}
}

func TestNewCSVSource_EmptyInput(t *testing.T) {
	if _, err := NewCSVSource(strings.NewReader(""), ',', 0); err == nil {
		t.Error("expected error for empty input")
	}
}

func TestStat_MissingFile(t *testing.T) {
	_, err := Stat(filepath.Join(t.TempDir(), "absent.csv"))
	if !tferrors.IsCode(err, tferrors.CodeFileNotFound) {
		t.Errorf("err = %v, want file-not-found", err)
	}
}
