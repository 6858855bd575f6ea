package services

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/sirupsen/logrus"

	"github.com/iota-uz/etx-ingest/pkg/etx"
	"github.com/iota-uz/etx-ingest/pkg/eventbus"
	"github.com/iota-uz/etx-ingest/pkg/retry"
	"github.com/iota-uz/etx-ingest/pkg/tabular"
)

const suggestionCount = 3

// Publisher pushes resolved row groups through the data API, one request
// per group. A failed group never stops the ones after it.
type Publisher struct {
	api    etx.Exchanger
	bus    eventbus.Bus
	log    *logrus.Entry
	policy retry.Policy
}

func NewPublisher(api etx.Exchanger, bus eventbus.Bus, log *logrus.Logger, policy retry.Policy) *Publisher {
	return &Publisher{
		api:    api,
		bus:    bus,
		log:    log.WithField("component", "publisher"),
		policy: policy,
	}
}

// PublishDataset groups ds, resolves every group against catalog and
// publishes the resolved ones under barName. Only structural problems with
// ds are returned as errors; per-group outcomes are counted.
func (p *Publisher) PublishDataset(ctx context.Context, file, barName string, ds *tabular.Dataset, catalog *Catalog, cols Columns) (Counters, error) {
	grouping, err := GroupRows(ds, cols)
	if err != nil {
		return Counters{}, err
	}
	var c Counters
	for _, g := range grouping.Groups {
		if err := ctx.Err(); err != nil {
			return c, err
		}
		c = c.Add(p.publishGroup(ctx, file, barName, g, catalog))
	}
	return c, nil
}

func (p *Publisher) publishGroup(ctx context.Context, file, barName string, g RowGroup, catalog *Catalog) Counters {
	payload, err := g.CSV()
	if err != nil {
		p.bus.Publish(&GroupFailed{File: file, Key: g.Key, Rows: len(g.Rows), Err: err})
		return Counters{Error: 1}
	}

	var entity Entity
	if g.blankName() {
		err = errors.Wrapf(ErrResolutionMiss, "%q: blank organization or entity name", g.Key)
	} else {
		entity, err = catalog.Resolve(g.Key)
	}
	if err != nil {
		p.bus.Publish(&GroupUnresolved{
			File:        file,
			Key:         g.Key,
			Rows:        len(g.Rows),
			Suggestions: catalog.Suggest(g.Key, suggestionCount),
			CSV:         payload,
		})
		return Counters{Unresolved: 1}
	}

	cmd := etx.PublishBARData{EntityID: entity.ID, BarName: barName, Data: etx.PublishData{CSV: payload}}
	attempts := 0
	err = retry.Do(ctx, p.policy, func(ctx context.Context, attempt int) error {
		attempts = attempt
		r, err := p.api.Exchange(ctx, cmd)
		if err != nil {
			return err
		}
		return etx.RequireStatusOK(r, cmd.Name())
	})
	if err != nil {
		p.bus.Publish(&GroupFailed{
			File:     file,
			Key:      g.Key,
			EntityID: entity.ID,
			Rows:     len(g.Rows),
			Attempts: attempts,
			Err:      errors.Wrapf(err, "publish %q", g.Key),
			CSV:      payload,
		})
		return Counters{Error: 1}
	}
	p.bus.Publish(&GroupPublished{File: file, Key: g.Key, EntityID: entity.ID, Rows: len(g.Rows), Attempts: attempts})
	return Counters{Success: 1}
}
