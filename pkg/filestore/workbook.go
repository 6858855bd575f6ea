package filestore

import (
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/xuri/excelize/v2"

	"github.com/iota-uz/etx-ingest/pkg/tabular"
)

const mimeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

func isWorkbook(p, detected string) bool {
	return strings.EqualFold(filepath.Ext(p), ".xlsx") || detected == mimeXLSX
}

// workbookCSV renders the first sheet as CSV. Trailing empty cells that
// the workbook omits are padded up to the header width.
func workbookCSV(p string) ([]byte, error) {
	f, err := excelize.OpenFile(p)
	if err != nil {
		return nil, errors.Wrapf(err, "open workbook %s", filepath.Base(p))
	}
	defer func() { _ = f.Close() }()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, errors.Wrapf(tabular.ErrMalformedInput, "workbook %s has no sheets", filepath.Base(p))
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, errors.Wrapf(err, "read sheet %q", sheets[0])
	}
	if len(rows) == 0 {
		return nil, errors.Wrapf(tabular.ErrMalformedInput, "sheet %q is empty", sheets[0])
	}
	width := len(rows[0])
	for i, r := range rows[1:] {
		for len(r) < width {
			r = append(r, "")
		}
		rows[i+1] = r
	}
	text, err := tabular.Encode(rows[0], rows[1:])
	if err != nil {
		return nil, errors.Wrap(err, "encode sheet")
	}
	return []byte(text), nil
}
