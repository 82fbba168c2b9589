package parser

import (
	"io"
	"strings"

	"github.com/xuri/excelize/v2"

	tferrors "github.com/tabflow/tabflow/pkg/errors"
)

// XLSXSource streams rows from the first sheet of a workbook using the
// excelize row iterator, so the whole sheet is never resident at once.
type XLSXSource struct {
	file   *excelize.File
	rows   *excelize.Rows
	header []string
}

// OpenXLSX opens a workbook and positions the iterator past the header
// row of the first sheet.
func OpenXLSX(path string) (*XLSXSource, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, tferrors.Wrap(err, tferrors.CodeFileNotFound, "open workbook").
			WithContext("path", path)
	}

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		f.Close()
		return nil, tferrors.New(tferrors.CodeInvalidFormat, "workbook has no sheets").
			WithContext("path", path)
	}
	rows, err := f.Rows(sheets[0])
	if err != nil {
		f.Close()
		return nil, tferrors.Wrap(err, tferrors.CodeInvalidFormat, "iterate sheet").
			WithContext("sheet", sheets[0])
	}

	s := &XLSXSource{file: f, rows: rows}
	if !rows.Next() {
		s.Close()
		return nil, tferrors.New(tferrors.CodeInvalidFormat, "sheet has no header row").
			WithContext("sheet", sheets[0])
	}
	cols, err := rows.Columns()
	if err != nil {
		s.Close()
		return nil, tferrors.Wrap(err, tferrors.CodeParseFailed, "read header row")
	}
	for _, c := range cols {
		s.header = append(s.header, strings.TrimSpace(c))
	}
	return s, nil
}

// Header returns the first row of the sheet.
func (s *XLSXSource) Header() []string { return s.header }

// Next returns the next row's cells as bytes.
func (s *XLSXSource) Next() ([][]byte, error) {
	if !s.rows.Next() {
		if err := s.rows.Error(); err != nil {
			return nil, tferrors.Wrap(err, tferrors.CodeParseFailed, "read row")
		}
		return nil, io.EOF
	}
	cols, err := s.rows.Columns()
	if err != nil {
		return nil, tferrors.Wrap(err, tferrors.CodeParseFailed, "read row")
	}
	row := make([][]byte, len(cols))
	for i, c := range cols {
		row[i] = []byte(c)
	}
	return row, nil
}

// Close releases the iterator and the workbook.
func (s *XLSXSource) Close() error {
	var first error
	if s.rows != nil {
		if err := s.rows.Close(); err != nil {
			first = err
		}
	}
	if err := s.file.Close(); err != nil && first == nil {
		first = err
	}
	return first
}
