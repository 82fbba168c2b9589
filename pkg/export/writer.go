package export

import (
	"compress/gzip"
	"encoding/csv"
	"io"
	"os"
	"strings"

	"github.com/xuri/excelize/v2"

	tferrors "github.com/tabflow/tabflow/pkg/errors"
)

// RowWriter writes one exported row at a time. Implementations are not
// safe for concurrent use; the pipeline guarantees a single writer.
type RowWriter interface {
	WriteHeader(cols []string) error
	WriteRow(cells []string) error
	Close() error
}

// CSVWriterOptions tunes the delimited writer.
type CSVWriterOptions struct {
	Delimiter rune
	// BOM prepends a UTF-8 byte order mark so spreadsheet tools pick
	// the right encoding.
	BOM bool
	// Gzip compresses the stream.
	Gzip bool
}

// CSVWriter writes delimited text, optionally gzipped.
type CSVWriter struct {
	w       *csv.Writer
	closers []io.Closer
}

// NewCSVWriter creates the writer chain over an output file.
func NewCSVWriter(path string, opts CSVWriterOptions) (*CSVWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, tferrors.Wrap(err, tferrors.CodeWriteFailed, "create output").
			WithContext("path", path)
	}
	var out io.Writer = f
	closers := []io.Closer{f}

	if opts.Gzip || strings.HasSuffix(strings.ToLower(path), ".gz") {
		gz := gzip.NewWriter(out)
		out = gz
		closers = append([]io.Closer{gz}, closers...)
	}
	if opts.BOM {
		if _, err := out.Write([]byte{0xEF, 0xBB, 0xBF}); err != nil {
			closeAll(closers)
			return nil, tferrors.Wrap(err, tferrors.CodeWriteFailed, "write byte order mark")
		}
	}

	w := csv.NewWriter(out)
	if opts.Delimiter != 0 {
		w.Comma = opts.Delimiter
	}
	return &CSVWriter{w: w, closers: closers}, nil
}

// WriteHeader implements RowWriter.
func (c *CSVWriter) WriteHeader(cols []string) error {
	return c.WriteRow(cols)
}

// WriteRow implements RowWriter.
func (c *CSVWriter) WriteRow(cells []string) error {
	if err := c.w.Write(cells); err != nil {
		return tferrors.Wrap(err, tferrors.CodeWriteFailed, "write row")
	}
	return nil
}

// Close flushes buffered rows and closes the chain.
func (c *CSVWriter) Close() error {
	c.w.Flush()
	if err := c.w.Error(); err != nil {
		closeAll(c.closers)
		return tferrors.Wrap(err, tferrors.CodeWriteFailed, "flush output")
	}
	if err := closeAll(c.closers); err != nil {
		return tferrors.Wrap(err, tferrors.CodeWriteFailed, "close output")
	}
	return nil
}

func closeAll(closers []io.Closer) error {
	var first error
	for _, c := range closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// XLSXWriter streams rows into a workbook without holding the sheet in
// memory, using the excelize stream writer.
type XLSXWriter struct {
	path   string
	file   *excelize.File
	stream *excelize.StreamWriter
	row    int
}

// NewXLSXWriter creates a workbook with one sheet at path.
func NewXLSXWriter(path string) (*XLSXWriter, error) {
	f := excelize.NewFile()
	sw, err := f.NewStreamWriter(f.GetSheetName(0))
	if err != nil {
		f.Close()
		return nil, tferrors.Wrap(err, tferrors.CodeWriteFailed, "stream writer")
	}
	return &XLSXWriter{path: path, file: f, stream: sw}, nil
}

// WriteHeader implements RowWriter.
func (x *XLSXWriter) WriteHeader(cols []string) error {
	return x.WriteRow(cols)
}

// WriteRow implements RowWriter.
func (x *XLSXWriter) WriteRow(cells []string) error {
	x.row++
	cell, err := excelize.CoordinatesToCellName(1, x.row)
	if err != nil {
		return tferrors.Wrap(err, tferrors.CodeWriteFailed, "cell name")
	}
	row := make([]interface{}, len(cells))
	for i, c := range cells {
		row[i] = c
	}
	if err := x.stream.SetRow(cell, row); err != nil {
		return tferrors.Wrap(err, tferrors.CodeWriteFailed, "write row").
			WithContext("row", x.row)
	}
	return nil
}

// Close flushes the stream and saves the workbook.
func (x *XLSXWriter) Close() error {
	defer x.file.Close()
	if err := x.stream.Flush(); err != nil {
		return tferrors.Wrap(err, tferrors.CodeWriteFailed, "flush workbook")
	}
	if err := x.file.SaveAs(x.path); err != nil {
		return tferrors.Wrap(err, tferrors.CodeWriteFailed, "save workbook").
			WithContext("path", x.path)
	}
	return nil
}
