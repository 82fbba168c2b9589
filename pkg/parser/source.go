package parser

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"io"
	"os"
	"path/filepath"
	"strings"

	tferrors "github.com/tabflow/tabflow/pkg/errors"
)

// Format identifies the external file format of an input.
type Format int

const (
	FormatUnknown Format = iota
	FormatCSV
	FormatXLSX
)

func (f Format) String() string {
	switch f {
	case FormatCSV:
		return "csv"
	case FormatXLSX:
		return "xlsx"
	default:
		return "unknown"
	}
}

// DetectFormat infers the format from the file name. A .gz suffix is
// transparent: data.csv.gz is CSV.
func DetectFormat(path string) Format {
	name := strings.ToLower(filepath.Base(path))
	name = strings.TrimSuffix(name, ".gz")
	switch filepath.Ext(name) {
	case ".csv", ".tsv", ".txt":
		return FormatCSV
	case ".xlsx":
		return FormatXLSX
	default:
		return FormatUnknown
	}
}

// RowSource yields the raw rows of one tabular input. Header is
// available immediately after construction; Next returns io.EOF after
// the last data row. Sources are single-consumer: only the parser
// goroutine that owns one may call Next.
type RowSource interface {
	Header() []string
	Next() ([][]byte, error)
	Close() error
}

// Input is an opened file ready for parsing, with the size information
// the strategy selector needs.
type Input struct {
	Path   string
	Format Format
	// Bytes is the on-disk size. For gzip inputs this is the
	// compressed size, which understates the parse cost; the selector
	// compensates nothing and simply sees a smaller input.
	Bytes int64
}

// Stat inspects a path without opening a source.
func Stat(path string) (Input, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return Input{}, tferrors.FileNotFound(path)
	}
	format := DetectFormat(path)
	if format == FormatUnknown {
		return Input{}, tferrors.New(tferrors.CodeInvalidFormat, "unsupported file format").
			WithContext("path", path)
	}
	return Input{Path: path, Format: format, Bytes: fi.Size()}, nil
}

// OpenSource opens a RowSource for the input, decompressing .gz
// transparently.
func OpenSource(in Input, delimiter byte, bufferSize int) (RowSource, error) {
	if in.Format == FormatXLSX {
		return OpenXLSX(in.Path)
	}

	f, err := os.Open(in.Path)
	if err != nil {
		return nil, tferrors.Wrap(err, tferrors.CodeFileNotFound, "open input").
			WithContext("path", in.Path)
	}
	var r io.Reader = f
	closers := []io.Closer{f}
	if strings.HasSuffix(strings.ToLower(in.Path), ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			f.Close()
			return nil, tferrors.Wrap(err, tferrors.CodeInvalidFormat, "gzip input").
				WithContext("path", in.Path)
		}
		r = gz
		closers = append([]io.Closer{gz}, closers...)
	}
	return NewCSVSource(r, delimiter, bufferSize, closers...)
}

// CSVSource reads delimited text line by line through the FSM scanner.
type CSVSource struct {
	reader  *bufio.Reader
	scanner *Scanner
	header  []string
	closers []io.Closer
	done    bool
}

const defaultBufferSize = 256 << 10

// NewCSVSource wraps a reader. The first non-empty line is consumed as
// the header; a UTF-8 BOM before it is stripped.
func NewCSVSource(r io.Reader, delimiter byte, bufferSize int, closers ...io.Closer) (*CSVSource, error) {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	if delimiter == 0 {
		delimiter = ','
	}
	s := &CSVSource{
		reader:  bufio.NewReaderSize(r, bufferSize),
		scanner: NewScanner(delimiter),
		closers: closers,
	}

	line, err := s.readLine()
	if err != nil {
		s.Close()
		if err == io.EOF {
			return nil, tferrors.New(tferrors.CodeInvalidFormat, "input has no header row")
		}
		return nil, err
	}
	line = stripBOM(line)
	for _, f := range s.scanner.ScanLine(line) {
		s.header = append(s.header, string(bytes.TrimSpace(f)))
	}
	return s, nil
}

// Header returns the column names from the first line.
func (s *CSVSource) Header() []string { return s.header }

// Next returns the fields of the next non-empty line. The returned
// slices alias the line buffer and are valid until the next call.
func (s *CSVSource) Next() ([][]byte, error) {
	for {
		if s.done {
			return nil, io.EOF
		}
		line, err := s.readLine()
		if err != nil {
			return nil, err
		}
		if len(line) == 0 {
			continue
		}
		return s.scanner.ScanLine(line), nil
	}
}

// readLine reads one line without its ending. At EOF a trailing
// unterminated line is still returned once.
func (s *CSVSource) readLine() ([]byte, error) {
	line, err := s.reader.ReadBytes('\n')
	if err != nil && err != io.EOF {
		return nil, tferrors.Wrap(err, tferrors.CodeEncoding, "read line")
	}
	if err == io.EOF {
		s.done = true
		if len(line) == 0 {
			return nil, io.EOF
		}
	}
	return trimLineEnding(line), nil
}

// Close releases the underlying file handles.
func (s *CSVSource) Close() error {
	var first error
	for _, c := range s.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
