package services

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"github.com/iota-uz/etx-ingest/pkg/etx"
	"github.com/iota-uz/etx-ingest/pkg/tabular"
)

// Columns read by CreateEntitiesUsingIBot.
const (
	ibotOrgColumn     = "orgFullName"
	ibotNameColumn    = "iBotName"
	ibotCatalogColumn = "ibotCatalogName"
	ibotSITColumn     = "SIT"
	ibotEntityColumn  = "emissionSource"

	// ibotSIT is the sampling interval sent for every group.
	ibotSIT = "Month"
)

type ibotKey struct {
	org, bot, catalog, sit string
}

type ibotGroup struct {
	key      ibotKey
	entities []etx.EntityName
}

// CreateEntitiesUsingIBot creates entities in bulk from a CSV file, one
// request per (organization, iBot, iBot catalog, SIT) group. Counters
// advance by the number of entities in each group; Unresolved stays zero.
func (s *Service) CreateEntitiesUsingIBot(ctx context.Context, userRef, fileID string) (c Counters, err error) {
	const workflow = "ingest_ibot"
	start := time.Now()
	ctx, span := s.startSpan(ctx, workflow, attribute.String("etx.file", fileID))
	defer func() { s.finish(span, workflow, start, c, err) }()

	p, err := s.principal(ctx, userRef)
	if err != nil {
		return c, err
	}
	_, content, err := s.csvFile(ctx, p.ID, fileID)
	if err != nil {
		return c, err
	}
	ds, err := tabular.Validate(content)
	if err != nil {
		return c, errors.Wrapf(err, "validate %s", fileID)
	}
	groups, err := groupIBot(ds)
	if err != nil {
		return c, err
	}
	if err := s.requireDataAPI(); err != nil {
		return c, err
	}

	log := s.log.WithFields(logrus.Fields{"workflow": workflow, "file": fileID})
	for _, g := range groups {
		if err := ctx.Err(); err != nil {
			return c, err
		}
		cmd := etx.CreateESUsingIBot{
			IBotCatalogName: g.key.catalog,
			IBotName:        g.key.bot,
			SIT:             ibotSIT,
			OrgName:         g.key.org,
			EmissionSources: g.entities,
		}
		entry := log.WithFields(logrus.Fields{"org": g.key.org, "ibot": g.key.bot, "entities": len(g.entities)})
		r, err := s.dataAPI.Exchange(ctx, cmd)
		if err == nil {
			err = etx.RequireStatusOK(r, cmd.Name())
		}
		if err != nil {
			c.Error += len(g.entities)
			entry.WithError(err).Warn("cannot create entities")
			continue
		}
		c.Success += len(g.entities)
		entry.Info("entities created")
	}
	return c, nil
}

func groupIBot(ds *tabular.Dataset) ([]ibotGroup, error) {
	required := []string{ibotOrgColumn, ibotNameColumn, ibotCatalogColumn, ibotSITColumn, ibotEntityColumn}
	if !ds.HasColumns(required...) {
		return nil, errors.Wrapf(ErrMissingColumns, "need %s", strings.Join(required, ", "))
	}
	org, bot, cat, sit, ent := ds.Column(ibotOrgColumn), ds.Column(ibotNameColumn),
		ds.Column(ibotCatalogColumn), ds.Column(ibotSITColumn), ds.Column(ibotEntityColumn)

	var groups []ibotGroup
	index := make(map[ibotKey]int)
	for _, row := range ds.Rows {
		k := ibotKey{
			org:     strings.TrimSpace(row[org]),
			bot:     strings.TrimSpace(row[bot]),
			catalog: strings.TrimSpace(row[cat]),
			sit:     strings.TrimSpace(row[sit]),
		}
		i, ok := index[k]
		if !ok {
			i = len(groups)
			index[k] = i
			groups = append(groups, ibotGroup{key: k})
		}
		groups[i].entities = append(groups[i].entities, etx.EntityName{Name: strings.TrimSpace(row[ent])})
	}
	return groups, nil
}
