package etx

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetOrgDirective_Script(t *testing.T) {
	first := SetOrgDirective{CorrelationID: "m1", TimeZone: "Asia/Bangkok"}.Script()
	assert.Equal(t, "#\n"+
		"$org = GetOrgs().Orgs.getFirst()\n"+
		"$args.mid = 'm1'\n"+
		"$args.id = useof $org.owner defto $org.id\n"+
		"$args.timeZone = 'Asia/Bangkok'\n"+
		"SetOrg($args)\n", first)

	tenant := SetOrgDirective{CorrelationID: "m1", OrgID: "org-7", TimeZone: "UTC"}.Script()
	assert.Contains(t, tenant, "$args.id = 'org-7'\n")
	assert.NotContains(t, tenant, "useof")
}

func TestImportEmissionDirective_Script(t *testing.T) {
	d := ImportEmissionDirective{CorrelationID: "m9", FileNames: []string{"a_chunk_0.csv", `b"x.csv`}}
	s := d.Script()
	assert.Equal(t, 2, strings.Count(s, "Async => ImportEmissionFromCsv("))
	assert.Contains(t, s, `ImportEmissionFromCsv(mid: "m9", fileName: "a_chunk_0.csv");`)
	assert.Contains(t, s, `fileName: "b_x.csv"`)
}

func TestFrame_JSONCommandsAreKeyedByName(t *testing.T) {
	b, err := Frame(PyRequest{App: AppBatch, Value: PyValue{Input: DataImportInput{
		Action:       ActionDataImporter,
		DataFilePath: "/srv/files/imports/x.csv",
		Offset:       0,
		NRows:        100000,
		Tracking:     true,
	}}})
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(b, &got))
	assert.Equal(t, map[string]any{"PyRequest": map[string]any{
		"app": "etx_batch",
		"value": map[string]any{"Input": map[string]any{
			"action":         "es_data_importer",
			"data_file_path": "/srv/files/imports/x.csv",
			"offset":         float64(0),
			"nrows":          float64(100000),
			"tracking":       true,
		}},
	}}, got)

	b, err = Frame(CreateTenantAccount{TenantName: "Tenant A", AutoCreateDatabase: true})
	require.NoError(t, err)
	assert.JSONEq(t, `{"CreateTenantAccount":{"Name":"Tenant A","AutoCreateDatabase":true}}`, string(b))
}

func TestPyRequest_MID(t *testing.T) {
	assert.Equal(t, "m1", PyRequest{App: AppSchemeCoordinator, Value: PyValue{Input: SchemeInput{CorrelationID: "m1", Action: ActionSchemeUpOrg}}}.MID())
	assert.Equal(t, "", PyRequest{App: AppBatch, Value: PyValue{Input: DataImportInput{}}}.MID())
}
