package etx

import (
	"bytes"
	"encoding/json"
	"sort"

	"github.com/go-faster/errors"
)

// ReplyKind tags the outcome of a receive.
type ReplyKind int

const (
	ReplyOK ReplyKind = iota
	ReplyParseFailed
	ReplyConnectionClosed
)

func (k ReplyKind) String() string {
	switch k {
	case ReplyOK:
		return "ok"
	case ReplyParseFailed:
		return "parse_failed"
	case ReplyConnectionClosed:
		return "connection_closed"
	default:
		return "unknown"
	}
}

// Reply is one inbound message. Nodes are only populated for ReplyOK.
type Reply struct {
	Kind  ReplyKind
	Raw   []byte
	nodes map[string]json.RawMessage
}

// ParseReply decodes a raw frame. A frame that is not a JSON object yields
// a ReplyParseFailed reply and a *ProtocolError.
func ParseReply(raw []byte) (Reply, error) {
	var nodes map[string]json.RawMessage
	if err := json.Unmarshal(raw, &nodes); err != nil {
		return Reply{Kind: ReplyParseFailed, Raw: raw}, &ProtocolError{Raw: raw, Err: err}
	}
	if nodes == nil {
		return Reply{Kind: ReplyParseFailed, Raw: raw}, &ProtocolError{Raw: raw, Err: errors.New("reply is null")}
	}
	return Reply{Kind: ReplyOK, Raw: raw, nodes: nodes}, nil
}

// Keys lists the top-level keys in sorted order.
func (r Reply) Keys() []string {
	keys := make([]string, 0, len(r.nodes))
	for k := range r.nodes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (r Reply) Has(name string) bool {
	_, ok := r.nodes[name]
	return ok
}

func (r Reply) Node(name string) (json.RawMessage, bool) {
	n, ok := r.nodes[name]
	return n, ok
}

// Decode unmarshals the node keyed by name into v.
func (r Reply) Decode(name string, v any) error {
	n, ok := r.nodes[name]
	if !ok || isNull(n) {
		return &ProtocolError{Command: name, Raw: r.Raw, Err: errors.Errorf("reply has no %q node", name)}
	}
	if err := json.Unmarshal(n, v); err != nil {
		return &ProtocolError{Command: name, Raw: r.Raw, Err: err}
	}
	return nil
}

// TopStatus is the optional top-level "status" string.
func (r Reply) TopStatus() string {
	n, ok := r.nodes["status"]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(n, &s); err != nil {
		return ""
	}
	return s
}

// mid returns the correlation token echoed in the named node, if any.
func (r Reply) mid(name string) string {
	n, ok := r.nodes[name]
	if !ok {
		return ""
	}
	var probe struct {
		MID string `json:"mid"`
	}
	if err := json.Unmarshal(n, &probe); err != nil {
		return ""
	}
	return probe.MID
}

func isNull(b json.RawMessage) bool {
	return len(bytes.TrimSpace(b)) == 0 || bytes.Equal(bytes.TrimSpace(b), []byte("null"))
}

// Status is the status fields a command node may carry.
type Status struct {
	StatusCode *int   `json:"statusCode"`
	Status     string `json:"status"`
}

func (s Status) code() int {
	if s.StatusCode == nil {
		return 0
	}
	return *s.StatusCode
}

// explicitFailure reports a status that names a failure.
func (s Status) explicitFailure() bool {
	if s.StatusCode != nil && *s.StatusCode != 200 {
		return true
	}
	return s.Status == "error" || s.Status == "failed"
}

// CheckStatus fails with a *RemoteError when the reply explicitly reports a
// failure for name. The reply must carry a node for name or a top-level
// status; anything else answers some other command and is a protocol error.
// Used for single-shot commands.
func CheckStatus(r Reply, name string) error {
	var st Status
	n, ok := r.nodes[name]
	if ok && !isNull(n) {
		_ = json.Unmarshal(n, &st)
	}
	if st.Status == "" {
		st.Status = r.TopStatus()
	}
	if !ok && r.TopStatus() == "" {
		return &ProtocolError{Command: name, Raw: r.Raw, Err: errors.Errorf("reply has no %q node", name)}
	}
	if st.explicitFailure() {
		return &RemoteError{Command: name, StatusCode: st.code(), Status: st.Status}
	}
	return nil
}

// RequireStatusOK succeeds only when the node carries statusCode 200. A
// missing status is a failure.
func RequireStatusOK(r Reply, name string) error {
	var st Status
	if err := r.Decode(name, &st); err != nil {
		return err
	}
	if st.StatusCode == nil || *st.StatusCode != 200 {
		return &RemoteError{Command: name, StatusCode: st.code(), Status: st.Status}
	}
	return nil
}

// UploadResult is the UploadBase64Imp reply.
type UploadResult struct {
	MID     string `json:"mid"`
	Message struct {
		FilePath string `json:"FilePath"`
	} `json:"Message"`
}

func DecodeUpload(r Reply) (UploadResult, error) {
	var out UploadResult
	if err := r.Decode("UploadBase64Imp", &out); err != nil {
		return out, err
	}
	if out.Message.FilePath == "" {
		return out, &ProtocolError{Command: "UploadBase64Imp", Raw: r.Raw, Err: errors.New("reply has no Message.FilePath")}
	}
	return out, nil
}

// Org is one GetOrgs entry.
type Org struct {
	ID   string
	Name string
}

// OrgList is the GetOrgs reply. Orgs keeps the order the server sent.
type OrgList struct {
	Orgs []Org
}

// UnmarshalJSON walks the Orgs object token by token so that entry order
// survives decoding.
func (l *OrgList) UnmarshalJSON(b []byte) error {
	var raw struct {
		Orgs json.RawMessage `json:"Orgs"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	l.Orgs = nil
	if isNull(raw.Orgs) {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw.Orgs))
	if tok, err := dec.Token(); err != nil || tok != json.Delim('{') {
		return errors.New("Orgs: expected an object")
	}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return errors.Wrap(err, "Orgs")
		}
		id, _ := tok.(string)
		var rec struct {
			Name string `json:"name"`
		}
		if err := dec.Decode(&rec); err != nil {
			return errors.Wrapf(err, "Orgs[%q]", id)
		}
		l.Orgs = append(l.Orgs, Org{ID: id, Name: rec.Name})
	}
	return nil
}

func DecodeOrgs(r Reply) (OrgList, error) {
	var out OrgList
	err := r.Decode("GetOrgs", &out)
	return out, err
}

// FindByName returns the id of the first organization, in reply order,
// named exactly name.
func (l OrgList) FindByName(name string) (string, bool) {
	for _, org := range l.Orgs {
		if org.Name == name {
			return org.ID, true
		}
	}
	return "", false
}

// ImportResult is one ImportEmissionFromCsv reply.
type ImportResult struct {
	MID      string `json:"mid"`
	FileName string `json:"fileName"`
	Message  struct {
		RowsCount        int `json:"RowsCount"`
		SuccessRowsCount int `json:"SuccessRowsCount"`
	} `json:"Message"`
}

func DecodeImport(r Reply) (ImportResult, error) {
	var out ImportResult
	err := r.Decode("ImportEmissionFromCsv", &out)
	return out, err
}

// EntityRecord is one catalog entry.
type EntityRecord struct {
	ID       string `json:"EsSID"`
	FullName string `json:"EsFullName"`
}

// UnmarshalJSON accepts EsSID as either a string or a number.
func (e *EntityRecord) UnmarshalJSON(b []byte) error {
	var raw struct {
		ID       json.RawMessage `json:"EsSID"`
		FullName string          `json:"EsFullName"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	e.FullName = raw.FullName
	e.ID = ""
	if isNull(raw.ID) {
		return nil
	}
	var s string
	if err := json.Unmarshal(raw.ID, &s); err == nil {
		e.ID = s
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(raw.ID, &n); err != nil {
		return errors.Wrap(err, "EsSID")
	}
	e.ID = n.String()
	return nil
}

// EntityList is the GetAllESs reply.
type EntityList struct {
	Results struct {
		EmissionSources []EntityRecord `json:"EmissionSources"`
	} `json:"Results"`
}

func DecodeEntities(r Reply) (EntityList, error) {
	var out EntityList
	err := r.Decode("GetAllESs", &out)
	return out, err
}
