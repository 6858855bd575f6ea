package tabular

import (
	"fmt"
	"os"
	"path/filepath"
)

// Chunk is a contiguous slice of a dataset's rows with the header attached.
type Chunk struct {
	Index  int
	Header []string
	Rows   [][]string
}

// Split cuts the data rows into chunks of at most maxRows rows. Chunk i
// holds rows [i*maxRows, (i+1)*maxRows). An empty dataset yields no chunks.
func Split(ds *Dataset, maxRows int) ([]Chunk, error) {
	if maxRows < 1 {
		return nil, fmt.Errorf("rows per chunk must be positive, got %d", maxRows)
	}
	n := ds.Len()
	chunks := make([]Chunk, 0, (n+maxRows-1)/maxRows)
	for start := 0; start < n; start += maxRows {
		end := min(start+maxRows, n)
		header := append([]string(nil), ds.Header...)
		chunks = append(chunks, Chunk{
			Index:  len(chunks),
			Header: header,
			Rows:   ds.Rows[start:end:end],
		})
	}
	return chunks, nil
}

// FileName is the standalone file name of chunk c for a source named base.
func (c Chunk) FileName(base string) string {
	return fmt.Sprintf("%s_chunk_%d.csv", base, c.Index)
}

// WriteChunks writes every chunk under dir and returns the paths in order.
func WriteChunks(dir, base string, chunks []Chunk) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir %s: %w", dir, err)
	}
	paths := make([]string, 0, len(chunks))
	for _, c := range chunks {
		text, err := Encode(c.Header, c.Rows)
		if err != nil {
			return paths, fmt.Errorf("encode chunk %d: %w", c.Index, err)
		}
		p := filepath.Join(dir, c.FileName(base))
		if err := os.WriteFile(p, []byte(text), 0o644); err != nil {
			return paths, fmt.Errorf("write %s: %w", p, err)
		}
		paths = append(paths, p)
	}
	return paths, nil
}
