// Package etxtest provides an in-process fake of the ETX remote for tests.
package etxtest

import (
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path"
	"regexp"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/websocket"
)

const APIVersion = "ctx/v1"

// FrameHandler answers one inbound websocket frame with zero or more
// replies. A reply that is a string or []byte is written verbatim; anything
// else is JSON-encoded.
type FrameHandler func(s *Server, frame string) []any

type disconnect struct{}

// Disconnect, returned as a reply, makes the server drop the connection.
var Disconnect any = disconnect{}

// DataHandler answers one data API request. The returned value is encoded
// like a FrameHandler reply.
type DataHandler func(s *Server, name string, header http.Header, body []byte) (int, any)

// Entity is one catalog entry served by GetAllESs.
type Entity struct {
	ID       string `json:"EsSID"`
	FullName string `json:"EsFullName"`
}

type DataRequest struct {
	Name   string
	Method string
	Key    string
	Body   []byte
}

type Server struct {
	srv *httptest.Server

	FID      string
	Email    string
	Password string

	mu          sync.Mutex
	frames      []string
	data        []DataRequest
	logins      int
	conns       int
	disconnects int
	uploads     map[string][]byte
	orgs        map[string]string
	catalog     []Entity
	onFrame     FrameHandler
	onData      DataHandler
}

var upgrader = websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

// New starts a fake remote that accepts any credentials and answers every
// command with a success status.
func New(t testing.TB) *Server {
	t.Helper()
	s := &Server{
		FID:     "test-fid",
		uploads: make(map[string][]byte),
		orgs:    map[string]string{"org-root": "Root"},
		onFrame: DefaultFrameHandler,
		onData:  DefaultDataHandler,
	}
	s.srv = httptest.NewServer(http.HandlerFunc(s.route))
	t.Cleanup(s.srv.Close)
	return s
}

func (s *Server) HTTPURI() string { return s.srv.URL }

func (s *Server) WSURI() string { return "ws" + strings.TrimPrefix(s.srv.URL, "http") }

func (s *Server) OnFrame(h FrameHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onFrame = h
}

func (s *Server) OnData(h DataHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onData = h
}

func (s *Server) SetOrgs(orgs map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orgs = orgs
}

func (s *Server) SetCatalog(entities ...Entity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.catalog = entities
}

// Frames returns every websocket frame received so far.
func (s *Server) Frames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.frames...)
}

// FramesFor returns the JSON command payloads received under name.
func (s *Server) FramesFor(name string) []json.RawMessage {
	var out []json.RawMessage
	for _, f := range s.Frames() {
		var m map[string]json.RawMessage
		if json.Unmarshal([]byte(f), &m) != nil {
			continue
		}
		if n, ok := m[name]; ok {
			out = append(out, n)
		}
	}
	return out
}

func (s *Server) DataRequests() []DataRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]DataRequest(nil), s.data...)
}

func (s *Server) Logins() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.logins
}

// Connections returns how many websocket connections were opened and how
// many of them have ended.
func (s *Server) Connections() (opened, ended int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conns, s.disconnects
}

// Upload returns the decoded content stored under fileName.
func (s *Server) Upload(fileName string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.uploads[fileName]
	return b, ok
}

func (s *Server) route(w http.ResponseWriter, r *http.Request) {
	switch p := r.URL.Path; {
	case p == "/fid-auth":
		s.handleLogin(w, r)
	case strings.HasPrefix(p, "/fid-"):
		s.handleWS(w, r)
	case strings.HasPrefix(p, "/"+APIVersion+"/"):
		s.handleData(w, r)
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Login struct {
			Email    string `json:"email"`
			Password string `json:"password"`
		} `json:"login"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	s.logins++
	ok := (s.Email == "" || s.Email == req.Login.Email) && (s.Password == "" || s.Password == req.Login.Password)
	fid := s.FID
	s.mu.Unlock()
	if !ok {
		http.Error(w, `{"error":"invalid credentials"}`, http.StatusUnauthorized)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"login": map[string]string{"fid": fid}})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if strings.TrimPrefix(r.URL.Path, "/fid-") != s.FID {
		http.NotFound(w, r)
		return
	}
	c, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.mu.Lock()
	s.conns++
	s.mu.Unlock()
	defer func() {
		_ = c.Close()
		s.mu.Lock()
		s.disconnects++
		s.mu.Unlock()
	}()

	for {
		_, data, err := c.ReadMessage()
		if err != nil {
			return
		}
		frame := string(data)
		s.mu.Lock()
		s.frames = append(s.frames, frame)
		h := s.onFrame
		s.mu.Unlock()

		for _, reply := range h(s, frame) {
			if _, drop := reply.(disconnect); drop {
				return
			}
			if err := c.WriteMessage(websocket.TextMessage, encode(reply)); err != nil {
				return
			}
		}
	}
}

func (s *Server) handleData(w http.ResponseWriter, r *http.Request) {
	name := path.Base(r.URL.Path)
	body, _ := io.ReadAll(r.Body)
	s.mu.Lock()
	s.data = append(s.data, DataRequest{Name: name, Method: r.Method, Key: r.Header.Get("DTX-DS-KEY"), Body: body})
	h := s.onData
	s.mu.Unlock()

	status, reply := h(s, name, r.Header, body)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(encode(reply))
}

var (
	directiveMID  = regexp.MustCompile(`\$args\.mid = '([^']*)'`)
	importCommand = regexp.MustCompile(`ImportEmissionFromCsv\(mid: "([^"]*)", fileName: "([^"]*)"\)`)
)

// DefaultFrameHandler acknowledges SetOrg directives, answers one reply per
// imported file, stores uploads and echoes every JSON command with
// statusCode 200.
func DefaultFrameHandler(s *Server, frame string) []any {
	if strings.HasPrefix(strings.TrimSpace(frame), "#") {
		var out []any
		if strings.Contains(frame, "SetOrg($args)") {
			mid := ""
			if m := directiveMID.FindStringSubmatch(frame); m != nil {
				mid = m[1]
			}
			out = append(out, map[string]any{"SetOrg": map[string]any{"mid": mid, "statusCode": 200}})
		}
		for _, m := range importCommand.FindAllStringSubmatch(frame, -1) {
			rows := 0
			if b, ok := s.Upload(m[2]); ok {
				rows = max(strings.Count(strings.TrimRight(string(b), "\n"), "\n"), 0)
			}
			out = append(out, map[string]any{"ImportEmissionFromCsv": map[string]any{
				"mid":      m[1],
				"fileName": m[2],
				"Message":  map[string]int{"RowsCount": rows, "SuccessRowsCount": rows},
			}})
		}
		return out
	}

	var cmd map[string]map[string]any
	if err := json.Unmarshal([]byte(frame), &cmd); err != nil {
		return []any{"not json"}
	}
	for name, payload := range cmd {
		node := map[string]any{"statusCode": 200}
		if mid, ok := payload["mid"]; ok {
			node["mid"] = mid
		}
		switch name {
		case "UploadBase64Imp":
			fileName, _ := payload["fileName"].(string)
			content, _ := payload["content"].(string)
			b, err := base64.StdEncoding.DecodeString(content)
			if err != nil {
				node["statusCode"] = 400
				break
			}
			s.mu.Lock()
			s.uploads[fileName] = b
			s.mu.Unlock()
			node["Message"] = map[string]string{"FilePath": "imports/" + fileName}
		case "GetOrgs":
			s.mu.Lock()
			orgs := make(map[string]any, len(s.orgs))
			for id, n := range s.orgs {
				orgs[id] = map[string]string{"name": n}
			}
			s.mu.Unlock()
			node["Orgs"] = orgs
		}
		return []any{map[string]any{name: node}}
	}
	return []any{map[string]any{}}
}

// DefaultDataHandler serves the catalog and accepts every publish.
func DefaultDataHandler(s *Server, name string, _ http.Header, _ []byte) (int, any) {
	switch name {
	case "GetAllESs":
		s.mu.Lock()
		catalog := append([]Entity{}, s.catalog...)
		s.mu.Unlock()
		return http.StatusOK, map[string]any{"GetAllESs": map[string]any{
			"Results": map[string]any{"EmissionSources": catalog},
		}}
	default:
		return http.StatusOK, map[string]any{name: map[string]any{"statusCode": 200}}
	}
}

func encode(v any) []byte {
	switch tv := v.(type) {
	case string:
		return []byte(tv)
	case []byte:
		return tv
	}
	b, err := json.Marshal(v)
	if err != nil {
		return []byte(`{"error":"encode"}`)
	}
	return b
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(encode(v))
}
