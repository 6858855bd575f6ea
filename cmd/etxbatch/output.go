package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/iota-uz/etx-ingest/modules/ingest/services"
)

var stdout io.Writer = os.Stdout

func writeJSONLine(v any) error {
	enc := json.NewEncoder(stdout)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return withCode(exitFailure, fmt.Errorf("json encode: %w", err))
	}
	return nil
}

const (
	statusOK      = "ok"
	statusPartial = "partial"
	statusError   = "error"
)

type summary struct {
	Command   string             `json:"command"`
	Status    string             `json:"status"`
	Counters  *services.Counters `json:"counters,omitempty"`
	Result    any                `json:"result,omitempty"`
	Error     string             `json:"error,omitempty"`
	ElapsedMS int64              `json:"elapsed_ms"`
}

// report writes the summary line of a command and returns its outcome.
// A batch with failed or unresolved groups is an error only in strict mode.
func report(g *globalOptions, command string, start time.Time, counters *services.Counters, result any, err error) error {
	s := summary{
		Command:   command,
		Status:    statusOK,
		Counters:  counters,
		Result:    result,
		ElapsedMS: time.Since(start).Milliseconds(),
	}
	var partial error
	switch {
	case err != nil:
		s.Status = statusError
		s.Error = err.Error()
	case counters != nil && counters.Error+counters.Unresolved > 0:
		s.Status = statusPartial
		if g.strict {
			partial = withCode(exitPartial, fmt.Errorf("%s: %d failed, %d unresolved", command, counters.Error, counters.Unresolved))
		}
	}
	if werr := writeJSONLine(s); werr != nil && err == nil {
		return werr
	}
	if err != nil {
		return err
	}
	return partial
}
