package etx

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// Command is one outbound unit. Replies are keyed by Name.
type Command interface {
	Name() string
	// MID is the correlation token carried by the command, or "".
	MID() string
}

// Directive is a command sent as a scripting block instead of a JSON object.
type Directive interface {
	Command
	Script() string
}

// Frame renders cmd for the websocket channel.
func Frame(cmd Command) ([]byte, error) {
	if d, ok := cmd.(Directive); ok {
		return []byte(d.Script()), nil
	}
	b, err := json.Marshal(map[string]Command{cmd.Name(): cmd})
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", cmd.Name(), err)
	}
	return b, nil
}

func methodOf(cmd Command) string {
	if m, ok := cmd.(interface{ Method() string }); ok {
		return m.Method()
	}
	return http.MethodPost
}

var scriptQuote = strings.NewReplacer(`'`, `_`, `"`, `_`, "\n", " ", "\r", " ")

// SetOrgDirective selects the organization context. An empty OrgID selects
// the first organization visible to the account (or its owner).
type SetOrgDirective struct {
	CorrelationID string
	OrgID         string
	TimeZone      string
}

func (SetOrgDirective) Name() string  { return "SetOrg" }
func (d SetOrgDirective) MID() string { return d.CorrelationID }

func (d SetOrgDirective) Script() string {
	var b strings.Builder
	b.WriteString("#\n")
	b.WriteString("$org = GetOrgs().Orgs.getFirst()\n")
	fmt.Fprintf(&b, "$args.mid = '%s'\n", scriptQuote.Replace(d.CorrelationID))
	if d.OrgID == "" {
		b.WriteString("$args.id = useof $org.owner defto $org.id\n")
	} else {
		fmt.Fprintf(&b, "$args.id = '%s'\n", scriptQuote.Replace(d.OrgID))
	}
	fmt.Fprintf(&b, "$args.timeZone = '%s'\n", scriptQuote.Replace(d.TimeZone))
	b.WriteString("SetOrg($args)\n")
	return b.String()
}

// SetOrg re-targets an established session to a known organization id.
type SetOrg struct {
	CorrelationID string `json:"mid"`
	ID            string `json:"id"`
}

func (SetOrg) Name() string  { return "SetOrg" }
func (c SetOrg) MID() string { return c.CorrelationID }

// ImportEmissionDirective asks the remote to import already uploaded files.
// The remote answers once per file.
type ImportEmissionDirective struct {
	CorrelationID string
	FileNames     []string
}

func (ImportEmissionDirective) Name() string  { return "ImportEmissionFromCsv" }
func (d ImportEmissionDirective) MID() string { return d.CorrelationID }

func (d ImportEmissionDirective) Script() string {
	var b strings.Builder
	for _, name := range d.FileNames {
		b.WriteString("#\n")
		fmt.Fprintf(&b, "Async => ImportEmissionFromCsv(mid: \"%s\", fileName: \"%s\");\n",
			scriptQuote.Replace(d.CorrelationID), scriptQuote.Replace(name))
	}
	return b.String()
}

type UploadBase64Imp struct {
	CorrelationID string `json:"mid"`
	FileName      string `json:"fileName"`
	Content       string `json:"content"`
}

func (UploadBase64Imp) Name() string  { return "UploadBase64Imp" }
func (c UploadBase64Imp) MID() string { return c.CorrelationID }

// PyRequest runs a server-side application. Input is one of DataImportInput
// or SchemeInput.
type PyRequest struct {
	App   string  `json:"app"`
	Value PyValue `json:"value"`
}

type PyValue struct {
	Input any `json:"Input"`
}

type DataImportInput struct {
	Action       string `json:"action"`
	DataFilePath string `json:"data_file_path"`
	Offset       int    `json:"offset"`
	NRows        int    `json:"nrows"`
	Tracking     bool   `json:"tracking"`
}

type SchemeInput struct {
	CorrelationID string `json:"mid"`
	Action        string `json:"action"`
}

const (
	AppBatch             = "etx_batch"
	AppSchemeCoordinator = "genie_scheme_coordinator_app"

	ActionDataImporter = "es_data_importer"
	ActionSchemeUpOrg  = "scheme_up_organization"
)

func (PyRequest) Name() string { return "PyRequest" }

func (c PyRequest) MID() string {
	if in, ok := c.Value.Input.(SchemeInput); ok {
		return in.CorrelationID
	}
	return ""
}

type GetOrgs struct {
	CorrelationID string `json:"mid"`
}

func (GetOrgs) Name() string  { return "GetOrgs" }
func (c GetOrgs) MID() string { return c.CorrelationID }

type CreateOrgStructureFromCsv struct {
	CorrelationID string `json:"mid"`
	Data          string `json:"data"`
}

func (CreateOrgStructureFromCsv) Name() string  { return "CreateOrgStructureFromCsv" }
func (c CreateOrgStructureFromCsv) MID() string { return c.CorrelationID }

type CreateTenantAccount struct {
	TenantName         string `json:"Name"`
	AutoCreateDatabase bool   `json:"AutoCreateDatabase"`
}

func (CreateTenantAccount) Name() string { return "CreateTenantAccount" }
func (CreateTenantAccount) MID() string  { return "" }

type SetVersion struct {
	CorrelationID string `json:"mid"`
	ETXVersion    string `json:"etxVersion"`
	ReleaseDate   string `json:"releaseDate"`
	Description   string `json:"description"`
}

func (SetVersion) Name() string  { return "SetVersion" }
func (c SetVersion) MID() string { return c.CorrelationID }

// ReleaseDateLayout is the DD-MM-YYYY layout SetVersion expects.
const ReleaseDateLayout = "02-01-2006"

// PublishBARData pushes one entity's rows through the data API.
type PublishBARData struct {
	EntityID string      `json:"esId"`
	BarName  string      `json:"bartName"`
	Data     PublishData `json:"data"`
}

type PublishData struct {
	CSV string `json:"csv"`
}

func (PublishBARData) Name() string { return "PublishBARData" }
func (PublishBARData) MID() string  { return "" }

// GetAllESs fetches the entity catalog through the data API.
type GetAllESs struct{}

func (GetAllESs) Name() string   { return "GetAllESs" }
func (GetAllESs) MID() string    { return "" }
func (GetAllESs) Method() string { return http.MethodGet }

type CreateESUsingIBot struct {
	IBotCatalogName string       `json:"iBotCatalogName"`
	IBotName        string       `json:"iBotName"`
	SIT             string       `json:"SIT"`
	OrgName         string       `json:"orgName"`
	EmissionSources []EntityName `json:"EmissionSources"`
}

type EntityName struct {
	Name string `json:"name"`
}

func (CreateESUsingIBot) Name() string { return "CreateESUsingIBot" }
func (CreateESUsingIBot) MID() string  { return "" }
