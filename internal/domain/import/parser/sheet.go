package parser

import (
	"fmt"
	"io"
	"os"

	"github.com/extrame/xls"
	"github.com/xuri/excelize/v2"
)

// SheetReader iterates the first worksheet of a workbook.
type SheetReader struct {
	next    func() ([]string, bool, error)
	closers []func() error
	record  []string
	line    int
	err     error
}

func (r *SheetReader) Next() bool {
	if r.err != nil {
		return false
	}
	for {
		row, ok, err := r.next()
		if err != nil {
			r.err = err
			return false
		}
		if !ok {
			return false
		}
		r.line++
		if isBlank(row) {
			continue
		}
		r.record = row
		return true
	}
}

func (r *SheetReader) Record() []string { return r.record }
func (r *SheetReader) Line() int        { return r.line }
func (r *SheetReader) RowErr() error    { return nil }
func (r *SheetReader) Err() error       { return r.err }

// Close releases the workbook and the underlying stream in reverse order of
// acquisition.
func (r *SheetReader) Close() error {
	var first error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	r.closers = nil
	return first
}

// NewXLSXReader streams the rows of the first sheet of an .xlsx workbook.
func NewXLSXReader(rc io.ReadCloser) (*SheetReader, error) {
	f, err := excelize.OpenReader(rc)
	if err != nil {
		rc.Close()
		return nil, fmt.Errorf("failed to open Excel file: %w", err)
	}

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		f.Close()
		rc.Close()
		return nil, fmt.Errorf("no sheets found")
	}

	rows, err := f.Rows(sheets[0])
	if err != nil {
		f.Close()
		rc.Close()
		return nil, fmt.Errorf("failed to read sheet %s: %w", sheets[0], err)
	}

	return &SheetReader{
		next: func() ([]string, bool, error) {
			if !rows.Next() {
				return nil, false, rows.Error()
			}
			cols, err := rows.Columns()
			if err != nil {
				return nil, false, fmt.Errorf("failed to read row: %w", err)
			}
			return cols, true, nil
		},
		closers: []func() error{rc.Close, f.Close, rows.Close},
	}, nil
}

// NewXLSReader reads the first sheet of a legacy .xls workbook. The BIFF
// parser needs random access, so non-seekable input is spooled to a temp file.
func NewXLSReader(rc io.ReadCloser) (*SheetReader, error) {
	closers := []func() error{rc.Close}
	fail := func(err error) (*SheetReader, error) {
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i]()
		}
		return nil, err
	}

	src, ok := rc.(io.ReadSeeker)
	if !ok {
		tmp, err := os.CreateTemp("", "import-*.xls")
		if err != nil {
			return fail(fmt.Errorf("failed to spool xls: %w", err))
		}
		closers = append(closers, func() error { return os.Remove(tmp.Name()) }, tmp.Close)
		if _, err := io.Copy(tmp, rc); err != nil {
			return fail(fmt.Errorf("failed to spool xls: %w", err))
		}
		if _, err := tmp.Seek(0, io.SeekStart); err != nil {
			return fail(fmt.Errorf("failed to spool xls: %w", err))
		}
		src = tmp
	}

	wb, err := xls.OpenReader(src, "utf-8")
	if err != nil {
		return fail(fmt.Errorf("failed to open xls file: %w", err))
	}
	sheet := wb.GetSheet(0)
	if sheet == nil {
		return fail(fmt.Errorf("no sheets found"))
	}

	i, last := 0, int(sheet.MaxRow)
	return &SheetReader{
		next: func() ([]string, bool, error) {
			if i > last {
				return nil, false, nil
			}
			row := sheet.Row(i)
			i++
			if row == nil {
				return nil, true, nil
			}
			width := max(row.LastCol(), 0)
			cells := make([]string, width)
			for j := max(row.FirstCol(), 0); j < width; j++ {
				cells[j] = row.Col(j)
			}
			return cells, true, nil
		},
		closers: closers,
	}, nil
}
