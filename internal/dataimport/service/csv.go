package service

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	importdomain "github.com/smallbiznis/tokenlens/internal/dataimport/domain"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// row is one data line addressed by header name.
type row struct {
	line   int
	header map[string]int
	cells  []string
}

// get returns the trimmed cell under column, or "" when the column is absent.
func (r row) get(column string) string {
	idx, ok := r.header[column]
	if !ok || idx >= len(r.cells) {
		return ""
	}
	return strings.TrimSpace(r.cells[idx])
}

func (r row) blank() bool {
	for _, cell := range r.cells {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

type rowReader struct {
	csv    *csv.Reader
	header map[string]int
}

// newRowReader consumes the header line. An empty input yields a reader
// with no rows.
func newRowReader(r io.Reader) (*rowReader, error) {
	if r == nil {
		return nil, importdomain.ErrMissingSource
	}

	reader := csv.NewReader(&bomReader{r: r})
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true
	reader.ReuseRecord = false

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return &rowReader{csv: reader}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: header: %v", importdomain.ErrMalformedSource, err)
	}

	index := make(map[string]int, len(header))
	for i, name := range header {
		name = strings.TrimSpace(name)
		if _, dup := index[name]; !dup {
			index[name] = i
		}
	}
	return &rowReader{csv: reader, header: index}, nil
}

// next returns io.EOF once the input is exhausted. Lines with only empty
// cells are skipped.
func (r *rowReader) next() (row, error) {
	if r.header == nil {
		return row{}, io.EOF
	}
	for {
		cells, err := r.csv.Read()
		if errors.Is(err, io.EOF) {
			return row{}, io.EOF
		}
		if err != nil {
			return row{}, fmt.Errorf("%w: %v", importdomain.ErrMalformedSource, err)
		}

		line, _ := r.csv.FieldPos(0)
		rec := row{line: line, header: r.header, cells: cells}
		if rec.blank() {
			continue
		}
		return rec, nil
	}
}

// bomReader drops a leading UTF-8 byte order mark.
type bomReader struct {
	r       io.Reader
	checked bool
	pending []byte
}

func (b *bomReader) Read(p []byte) (int, error) {
	if !b.checked {
		b.checked = true
		head := make([]byte, len(utf8BOM))
		n, err := io.ReadFull(b.r, head)
		head = head[:n]
		if !bytes.HasPrefix(head, utf8BOM) {
			b.pending = head
		}
		if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
			return 0, err
		}
	}
	if len(b.pending) > 0 {
		n := copy(p, b.pending)
		b.pending = b.pending[n:]
		return n, nil
	}
	return b.r.Read(p)
}
