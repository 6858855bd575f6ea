// Package tabular validates CSV payloads and splits them into bounded chunks.
package tabular

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// ErrMalformedInput marks structurally invalid tabular input.
var ErrMalformedInput = errors.New("malformed input")

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrMalformedInput}, args...)...)
}

// Dataset is a rectangular table: every row has len(Header) cells.
type Dataset struct {
	Header []string
	Rows   [][]string
}

// Width returns the number of columns.
func (d *Dataset) Width() int { return len(d.Header) }

// Len returns the number of data rows (header excluded).
func (d *Dataset) Len() int { return len(d.Rows) }

// Column returns the index of the named column, or -1.
func (d *Dataset) Column(name string) int {
	for i, h := range d.Header {
		if h == name {
			return i
		}
	}
	return -1
}

// HasColumns reports whether every name is present in the header.
func (d *Dataset) HasColumns(names ...string) bool {
	for _, n := range names {
		if d.Column(n) < 0 {
			return false
		}
	}
	return true
}

// ValidateFile reads and validates the CSV file at path.
func ValidateFile(path string) (*Dataset, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, malformed("file not found: %s", path)
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return Validate(b)
}

// Validate parses CSV bytes and checks the table is rectangular.
func Validate(data []byte) (*Dataset, error) {
	br := stripUTF8BOM(bufio.NewReader(bytes.NewReader(data)))

	r := csv.NewReader(br)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = false

	header, err := r.Read()
	if err != nil {
		if err == io.EOF {
			return nil, malformed("csv is empty")
		}
		return nil, malformed("read header: %v", err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}

	ds := &Dataset{Header: header}
	line := 1
	for {
		line++
		rec, err := r.Read()
		if err != nil {
			if err == io.EOF {
				break
			}
			return nil, malformed("line %d: %v", line, err)
		}
		if len(rec) != len(header) {
			return nil, malformed("line %d: expected %d columns, got %d", line, len(header), len(rec))
		}
		ds.Rows = append(ds.Rows, rec)
	}
	return ds, nil
}

func stripUTF8BOM(r *bufio.Reader) *bufio.Reader {
	b, err := r.Peek(3)
	if err == nil && len(b) == 3 && b[0] == 0xEF && b[1] == 0xBB && b[2] == 0xBF {
		_, _ = r.Discard(3)
	}
	return r
}

// Encode renders a header and rows as CSV text without an index column.
func Encode(header []string, rows [][]string) (string, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(header); err != nil {
		return "", err
	}
	if err := w.WriteAll(rows); err != nil {
		return "", err
	}
	return buf.String(), nil
}
