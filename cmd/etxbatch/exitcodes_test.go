package main

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/iota-uz/etx-ingest/modules/ingest/services"
	"github.com/iota-uz/etx-ingest/pkg/etx"
	"github.com/iota-uz/etx-ingest/pkg/tabular"
)

func TestExitCode(t *testing.T) {
	for _, tc := range []struct {
		name string
		err  error
		want int
	}{
		{name: "nil", err: nil, want: exitOK},
		{name: "explicit", err: withCode(exitUsage, errors.New("bad flag")), want: exitUsage},
		{name: "auth", err: fmt.Errorf("login: %w", etx.ErrAuthentication), want: exitAuth},
		{name: "malformed", err: fmt.Errorf("validate: %w", tabular.ErrMalformedInput), want: exitValidation},
		{name: "missing columns", err: services.ErrMissingColumns, want: exitValidation},
		{name: "invalid input", err: services.ErrInvalidInput, want: exitValidation},
		{name: "remote", err: &etx.RemoteError{Command: "SetVersion", StatusCode: 500}, want: exitRemote},
		{name: "tenant", err: services.ErrTenantNotFound, want: exitRemote},
		{name: "protocol", err: &etx.ProtocolError{Command: "GetOrgs", Err: errors.New("eof")}, want: exitTransport},
		{name: "closed", err: etx.ErrConnectionClosed, want: exitTransport},
		{name: "timeout", err: context.DeadlineExceeded, want: exitTransport},
		{name: "other", err: errors.New("boom"), want: exitFailure},
	} {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, exitCode(tc.err))
		})
	}
}
