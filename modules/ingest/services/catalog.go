package services

import (
	"context"
	"sort"
	"strings"

	"github.com/go-faster/errors"
	"github.com/lithammer/fuzzysearch/fuzzy"

	"github.com/iota-uz/etx-ingest/pkg/etx"
)

// Entity is a remote entity and its qualified name ("Org / Sub / Name").
type Entity struct {
	ID            string
	QualifiedName string
}

// Catalog is a read-only snapshot of remote entities, fetched once per
// workflow invocation.
type Catalog struct {
	entities []Entity
	names    []string
}

func NewCatalog(entities []Entity) *Catalog {
	c := &Catalog{
		entities: append([]Entity(nil), entities...),
		names:    make([]string, len(entities)),
	}
	for i, e := range entities {
		c.names[i] = e.QualifiedName
	}
	return c
}

// FetchCatalog loads the catalog through the data API.
func FetchCatalog(ctx context.Context, api etx.Exchanger) (*Catalog, error) {
	r, err := api.Exchange(ctx, etx.GetAllESs{})
	if err != nil {
		return nil, errors.Wrap(err, "fetch catalog")
	}
	list, err := etx.DecodeEntities(r)
	if err != nil {
		return nil, errors.Wrap(err, "decode catalog")
	}
	entities := make([]Entity, 0, len(list.Results.EmissionSources))
	for _, rec := range list.Results.EmissionSources {
		entities = append(entities, Entity{ID: rec.ID, QualifiedName: rec.FullName})
	}
	return NewCatalog(entities), nil
}

func (c *Catalog) Len() int { return len(c.entities) }

// searchTerm turns a group key ("Org : Name") into the form used by
// qualified names ("Org / Name").
func searchTerm(key string) string {
	return strings.ReplaceAll(key, ":", "/")
}

// Resolve returns the first entity, in catalog order, whose qualified name
// contains the search term for key. The first match decides: if it has no
// id the key is unresolved, even when a later entry would match.
func (c *Catalog) Resolve(key string) (Entity, error) {
	term := searchTerm(key)
	for _, e := range c.entities {
		if strings.Contains(e.QualifiedName, term) {
			if e.ID == "" {
				break
			}
			return e, nil
		}
	}
	return Entity{}, errors.Wrapf(ErrResolutionMiss, "%q", key)
}

// Suggest lists up to n qualified names close to key, best first. It is
// only used to make resolution misses easier to diagnose.
func (c *Catalog) Suggest(key string, n int) []string {
	if n <= 0 || len(c.names) == 0 {
		return nil
	}
	term := searchTerm(key)
	ranks := fuzzy.RankFindNormalizedFold(term, c.names)
	if len(ranks) == 0 {
		if i := strings.LastIndex(term, "/"); i >= 0 {
			ranks = fuzzy.RankFindNormalizedFold(strings.TrimSpace(term[i+1:]), c.names)
		}
	}
	sort.Sort(ranks)
	out := make([]string, 0, min(n, len(ranks)))
	for _, r := range ranks {
		if len(out) == n {
			break
		}
		out = append(out, r.Target)
	}
	return out
}
