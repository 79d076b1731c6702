// Package runner drives cube build jobs: it fans input splits across a
// bounded worker pool, runs the per-split statistics task over each one,
// publishes the finished shuffle segments to object storage, and records
// the split statistics in the catalog.
package runner

import (
	"encoding/csv"
	"io"
	"os"

	"github.com/cubeforge/cubeforge/pkg/types"
)

// RowSource yields the flattened fact-table rows of one input split.
type RowSource interface {
	// Next returns the next row, or io.EOF after the last one.
	Next() (types.FlatRow, error)

	// Close releases the source.
	Close() error
}

// Split is one unit of input for a build job.
type Split struct {
	// ID names the split. Empty IDs get a generated one.
	ID string

	// Open creates the split's row source. It is called once, on the
	// worker goroutine that processes the split.
	Open func() (RowSource, error)
}

// CSVRowSource reads rows from CSV data. Rows may have varying field
// counts; short rows surface later as per-row extraction faults rather
// than failing the split here.
type CSVRowSource struct {
	reader *csv.Reader
	closer io.Closer
}

// NewCSVRowSource wraps a reader in a CSV row source.
func NewCSVRowSource(r io.Reader) *CSVRowSource {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = false

	src := &CSVRowSource{reader: cr}
	if c, ok := r.(io.Closer); ok {
		src.closer = c
	}
	return src
}

// Next returns the next row, or io.EOF after the last one.
func (s *CSVRowSource) Next() (types.FlatRow, error) {
	record, err := s.reader.Read()
	if err != nil {
		return nil, err
	}
	return types.FlatRow(record), nil
}

// Close closes the underlying reader when it is closable.
func (s *CSVRowSource) Close() error {
	if s.closer != nil {
		return s.closer.Close()
	}
	return nil
}

// CSVFileSplit builds a Split that reads one CSV file.
func CSVFileSplit(id, path string) Split {
	return Split{
		ID: id,
		Open: func() (RowSource, error) {
			f, err := os.Open(path)
			if err != nil {
				return nil, err
			}
			return NewCSVRowSource(f), nil
		},
	}
}
