package services

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-faster/errors"

	"github.com/iota-uz/etx-ingest/pkg/eventbus"
)

// DeadLetter is one group that could not be published, kept for replay.
type DeadLetter struct {
	Time     time.Time `json:"time"`
	Kind     string    `json:"kind"`
	File     string    `json:"file"`
	Key      string    `json:"key"`
	EntityID string    `json:"es_id,omitempty"`
	Attempts int       `json:"attempts,omitempty"`
	Error    string    `json:"error,omitempty"`
	CSV      string    `json:"csv"`
}

const (
	DeadLetterUnresolved = "unresolved"
	DeadLetterFailed     = "failed"
)

// DeadLetterSink appends dead letters to a JSON-lines file.
type DeadLetterSink struct {
	mu  sync.Mutex
	f   *os.File
	enc *json.Encoder
	now func() time.Time
}

func OpenDeadLetterSink(path string) (*DeadLetterSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrap(err, "create dead letter dir")
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, errors.Wrap(err, "open dead letter file")
	}
	enc := json.NewEncoder(f)
	enc.SetEscapeHTML(false)
	return &DeadLetterSink{f: f, enc: enc, now: time.Now}, nil
}

func (s *DeadLetterSink) Write(d DeadLetter) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d.Time.IsZero() {
		d.Time = s.now().UTC()
	}
	return s.enc.Encode(d)
}

// Subscribe records failed and unresolved groups published on bus.
func (s *DeadLetterSink) Subscribe(bus eventbus.Bus) func() {
	u1 := bus.Subscribe(func(e *GroupFailed) error {
		msg := ""
		if e.Err != nil {
			msg = e.Err.Error()
		}
		return s.Write(DeadLetter{Kind: DeadLetterFailed, File: e.File, Key: e.Key, EntityID: e.EntityID, Attempts: e.Attempts, Error: msg, CSV: e.CSV})
	})
	u2 := bus.Subscribe(func(e *GroupUnresolved) error {
		return s.Write(DeadLetter{Kind: DeadLetterUnresolved, File: e.File, Key: e.Key, Error: ErrResolutionMiss.Error(), CSV: e.CSV})
	})
	return func() { u1(); u2() }
}

func (s *DeadLetterSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.f.Close()
}
