package services

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iota-uz/etx-ingest/pkg/etx"
	"github.com/iota-uz/etx-ingest/pkg/eventbus"
	"github.com/iota-uz/etx-ingest/pkg/logging"
	"github.com/iota-uz/etx-ingest/pkg/retry"
	"github.com/iota-uz/etx-ingest/pkg/tabular"
)

// scriptedAPI answers publishes from a per-entity script of raw replies.
// An empty script entry means a transport failure.
type scriptedAPI struct {
	mu      sync.Mutex
	scripts map[string][]string
	sent    []etx.PublishBARData
}

func (a *scriptedAPI) Exchange(_ context.Context, cmd etx.Command) (etx.Reply, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	pub, ok := cmd.(etx.PublishBARData)
	if !ok {
		return etx.Reply{}, errors.New("unexpected command " + cmd.Name())
	}
	a.sent = append(a.sent, pub)
	raw := `{"PublishBARData":{"statusCode":200}}`
	if script := a.scripts[pub.EntityID]; len(script) > 0 {
		raw, a.scripts[pub.EntityID] = script[0], script[1:]
	}
	if raw == "" {
		return etx.Reply{Kind: etx.ReplyConnectionClosed}, etx.ErrConnectionClosed
	}
	return etx.ParseReply([]byte(raw))
}

func newTestPublisher(api etx.Exchanger, policy retry.Policy) (*Publisher, eventbus.Bus) {
	bus := eventbus.New(logging.Nop())
	return NewPublisher(api, bus, logging.Nop(), policy), bus
}

func TestPublishDataset_AcmeAgainstUnrelatedCatalog(t *testing.T) {
	api := &scriptedAPI{}
	pub, bus := newTestPublisher(api, retry.Policy{})
	var unresolved []string
	bus.Subscribe(func(e *GroupUnresolved) { unresolved = append(unresolved, e.Key) })

	catalog := NewCatalog([]Entity{{ID: "9", QualifiedName: "Globex / Chiller"}})
	c, err := pub.PublishDataset(context.Background(), "acme.csv", "acme", acmeDataset(), catalog, DefaultColumns())
	require.NoError(t, err)

	assert.Equal(t, Counters{Success: 0, Error: 0, Unresolved: 2}, c)
	assert.Equal(t, []string{"Acme : Boiler1", "Acme : Boiler2"}, unresolved)
	assert.Empty(t, api.sent)
}

func TestPublishDataset_BlankNamesAreCountedUnresolved(t *testing.T) {
	ds := &tabular.Dataset{
		Header: []string{"orgFullName", "emissionSourceName", "v"},
		Rows: [][]string{
			{"Acme", "Boiler1", "1"},
			{"Acme", "", "2"},
			{"", "Boiler1", "3"},
		},
	}
	catalog := NewCatalog([]Entity{{ID: "b1", QualifiedName: "Acme / Boiler1"}})
	api := &scriptedAPI{}
	pub, bus := newTestPublisher(api, retry.Policy{})
	var unresolved []*GroupUnresolved
	bus.Subscribe(func(e *GroupUnresolved) { unresolved = append(unresolved, e) })

	c, err := pub.PublishDataset(context.Background(), "f.csv", "f", ds, catalog, DefaultColumns())
	require.NoError(t, err)

	assert.Equal(t, Counters{Success: 1, Unresolved: 2}, c)
	require.Len(t, unresolved, 2)
	assert.Equal(t, "Acme : ", unresolved[0].Key)
	assert.Equal(t, "v\n2\n", unresolved[0].CSV)
	assert.Equal(t, " : Boiler1", unresolved[1].Key)
	require.Len(t, api.sent, 1)
	assert.Equal(t, "v\n1\n", api.sent[0].Data.CSV)
}

func TestPublishDataset_CountsEveryOutcome(t *testing.T) {
	ds := &tabular.Dataset{
		Header: []string{"orgFullName", "emissionSourceName", "v"},
		Rows: [][]string{
			{"Acme", "Boiler1", "1"},
			{"Acme", "Boiler2", "2"},
			{"Acme", "Boiler3", "3"},
			{"Acme", "Boiler4", "4"},
			{"Acme", "Boiler5", "5"},
		},
	}
	catalog := NewCatalog([]Entity{
		{ID: "b1", QualifiedName: "Acme / Boiler1"},
		{ID: "b2", QualifiedName: "Acme / Boiler2"},
		{ID: "b3", QualifiedName: "Acme / Boiler3"},
		{ID: "b4", QualifiedName: "Acme / Boiler4"},
	})
	api := &scriptedAPI{scripts: map[string][]string{
		"b2": {`{"PublishBARData":{"statusCode":500,"status":"boom"}}`},
		"b3": {`not json`},
		"b4": {`{"PublishBARData":{}}`},
	}}
	pub, _ := newTestPublisher(api, retry.Policy{})

	c, err := pub.PublishDataset(context.Background(), "f.csv", "f", ds, catalog, DefaultColumns())
	require.NoError(t, err)
	assert.Equal(t, Counters{Success: 1, Error: 3, Unresolved: 1}, c)
	assert.Equal(t, 5, c.Total())

	require.Len(t, api.sent, 4)
	assert.Equal(t, "b1", api.sent[0].EntityID)
	assert.Equal(t, "f", api.sent[0].BarName)
	assert.Equal(t, "v\n1\n", api.sent[0].Data.CSV)
}

func TestPublishDataset_RetriesFailedPublish(t *testing.T) {
	catalog := NewCatalog([]Entity{
		{ID: "b1", QualifiedName: "Acme / Boiler1"},
		{ID: "b2", QualifiedName: "Acme / Boiler2"},
	})
	api := &scriptedAPI{scripts: map[string][]string{
		"b1": {"", `{"PublishBARData":{"statusCode":200}}`},
		"b2": {`{"PublishBARData":{"statusCode":500}}`, `{"PublishBARData":{"statusCode":500}}`, `{"PublishBARData":{"statusCode":500}}`},
	}}
	pub, bus := newTestPublisher(api, retry.Policy{Attempts: 3, BaseDelay: time.Millisecond, MaxBackoff: 2 * time.Millisecond})
	var published []*GroupPublished
	var failed []*GroupFailed
	bus.Subscribe(func(e *GroupPublished) { published = append(published, e) })
	bus.Subscribe(func(e *GroupFailed) { failed = append(failed, e) })

	c, err := pub.PublishDataset(context.Background(), "f.csv", "f", acmeDataset(), catalog, DefaultColumns())
	require.NoError(t, err)
	assert.Equal(t, Counters{Success: 1, Error: 1}, c)

	require.Len(t, published, 1)
	assert.Equal(t, 2, published[0].Attempts)
	require.Len(t, failed, 1)
	assert.Equal(t, 3, failed[0].Attempts)
	require.ErrorIs(t, failed[0].Err, etx.ErrRemoteOperation)
	assert.Len(t, api.sent, 5)
}

func TestPublishDataset_StopsOnCancel(t *testing.T) {
	api := &scriptedAPI{}
	pub, _ := newTestPublisher(api, retry.Policy{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	catalog := NewCatalog([]Entity{{ID: "b1", QualifiedName: "Acme / Boiler1"}})
	_, err := pub.PublishDataset(ctx, "f.csv", "f", acmeDataset(), catalog, DefaultColumns())
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, api.sent)
}

func TestPublishDataset_InvocationsAreIndependent(t *testing.T) {
	api := &scriptedAPI{}
	pub, _ := newTestPublisher(api, retry.Policy{})
	catalog := NewCatalog([]Entity{{ID: "b1", QualifiedName: "Acme / Boiler1"}})

	first, err := pub.PublishDataset(context.Background(), "f.csv", "f", acmeDataset(), catalog, DefaultColumns())
	require.NoError(t, err)
	second, err := pub.PublishDataset(context.Background(), "f.csv", "f", acmeDataset(), catalog, DefaultColumns())
	require.NoError(t, err)

	assert.Equal(t, Counters{Success: 1, Unresolved: 1}, first)
	assert.Equal(t, first, second)
}

func TestDeadLetterSink_RecordsFailedAndUnresolved(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dl", "dead.jsonl")
	sink, err := OpenDeadLetterSink(path)
	require.NoError(t, err)

	catalog := NewCatalog([]Entity{{ID: "b1", QualifiedName: "Acme / Boiler1"}})
	api := &scriptedAPI{scripts: map[string][]string{"b1": {`{"PublishBARData":{"statusCode":403}}`}}}
	pub, bus := newTestPublisher(api, retry.Policy{})
	unsubscribe := sink.Subscribe(bus)

	_, err = pub.PublishDataset(context.Background(), "f.csv", "f", acmeDataset(), catalog, DefaultColumns())
	require.NoError(t, err)
	unsubscribe()
	require.NoError(t, sink.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var letters []DeadLetter
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var d DeadLetter
		require.NoError(t, json.Unmarshal(sc.Bytes(), &d))
		letters = append(letters, d)
	}
	require.NoError(t, sc.Err())
	require.Len(t, letters, 2)

	assert.Equal(t, DeadLetterFailed, letters[0].Kind)
	assert.Equal(t, "Acme : Boiler1", letters[0].Key)
	assert.Equal(t, "b1", letters[0].EntityID)
	assert.Equal(t, "v\n10\n5\n", letters[0].CSV)
	assert.NotEmpty(t, letters[0].Error)
	assert.False(t, letters[0].Time.IsZero())

	assert.Equal(t, DeadLetterUnresolved, letters[1].Kind)
	assert.Equal(t, "Acme : Boiler2", letters[1].Key)
	assert.Equal(t, "v\n20\n", letters[1].CSV)
}
