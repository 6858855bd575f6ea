package services

import (
	"strings"

	"github.com/go-faster/errors"

	"github.com/iota-uz/etx-ingest/pkg/tabular"
)

// DerivedKeyColumn is the column holding the group key when a dataset
// already carries it. It is never transmitted.
const DerivedKeyColumn = "EsFullName"

// Columns names the organization and entity-name columns.
type Columns struct {
	Org    string
	Entity string
}

func DefaultColumns() Columns {
	return Columns{Org: "orgFullName", Entity: "emissionSourceName"}
}

// GroupKey joins an organization and an entity name.
func GroupKey(org, entity string) string {
	return org + " : " + entity
}

// RowGroup holds the rows of one (organization, entity) pair with the
// grouping columns removed.
type RowGroup struct {
	Key    string
	Org    string
	Entity string
	Header []string
	Rows   [][]string
}

// blankName reports whether the organization or entity cell is blank.
// Such a group is kept so its rows are counted, but it never resolves.
func (g RowGroup) blankName() bool {
	return strings.TrimSpace(g.Org) == "" || strings.TrimSpace(g.Entity) == ""
}

// Grouping is the result of GroupRows.
type Grouping struct {
	Groups []RowGroup
}

// Rows returns the number of rows across all groups.
func (g Grouping) Rows() int {
	n := 0
	for _, rg := range g.Groups {
		n += len(rg.Rows)
	}
	return n
}

// GroupRows partitions ds by GroupKey. Every row lands in exactly one
// group, blank cells included. Groups appear in the order their key first
// occurs, and rows keep their relative order.
func GroupRows(ds *tabular.Dataset, cols Columns) (Grouping, error) {
	orgIdx, entIdx := ds.Column(cols.Org), ds.Column(cols.Entity)
	if orgIdx < 0 || entIdx < 0 {
		var missing []string
		if orgIdx < 0 {
			missing = append(missing, cols.Org)
		}
		if entIdx < 0 {
			missing = append(missing, cols.Entity)
		}
		return Grouping{}, errors.Wrapf(ErrMissingColumns, "%s", strings.Join(missing, ", "))
	}

	drop := map[int]bool{orgIdx: true, entIdx: true}
	if i := ds.Column(DerivedKeyColumn); i >= 0 {
		drop[i] = true
	}
	keep := make([]int, 0, ds.Width()-len(drop))
	for i := range ds.Header {
		if !drop[i] {
			keep = append(keep, i)
		}
	}
	header := project(ds.Header, keep)

	var out Grouping
	index := make(map[string]int)
	for _, row := range ds.Rows {
		org, entity := row[orgIdx], row[entIdx]
		key := GroupKey(org, entity)
		gi, ok := index[key]
		if !ok {
			gi = len(out.Groups)
			index[key] = gi
			out.Groups = append(out.Groups, RowGroup{
				Key:    key,
				Org:    org,
				Entity: entity,
				Header: header,
			})
		}
		out.Groups[gi].Rows = append(out.Groups[gi].Rows, project(row, keep))
	}
	return out, nil
}

func project(row []string, keep []int) []string {
	out := make([]string, len(keep))
	for i, k := range keep {
		out[i] = row[k]
	}
	return out
}

// CSV renders the group's payload.
func (g RowGroup) CSV() (string, error) {
	return tabular.Encode(g.Header, g.Rows)
}
