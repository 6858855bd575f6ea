package main

import (
	"context"
	"errors"

	"github.com/iota-uz/etx-ingest/modules/ingest/services"
	"github.com/iota-uz/etx-ingest/pkg/etx"
	"github.com/iota-uz/etx-ingest/pkg/tabular"
)

type cliError struct {
	code int
	err  error
}

func (e *cliError) Error() string {
	return e.err.Error()
}

func (e *cliError) Unwrap() error {
	return e.err
}

const (
	exitOK         = 0
	exitFailure    = 1
	exitValidation = 2
	exitUsage      = 3
	exitAuth       = 4
	exitRemote     = 5
	exitTransport  = 6
	exitPartial    = 7
)

func withCode(code int, err error) error {
	if err == nil {
		return nil
	}
	return &cliError{code: code, err: err}
}

func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	var ce *cliError
	if errors.As(err, &ce) {
		return ce.code
	}
	return classify(err)
}

// classify maps workflow errors to exit codes.
func classify(err error) int {
	switch {
	case errors.Is(err, etx.ErrAuthentication):
		return exitAuth
	case errors.Is(err, tabular.ErrMalformedInput), errors.Is(err, services.ErrInvalidInput):
		return exitValidation
	case errors.Is(err, etx.ErrRemoteOperation), errors.Is(err, services.ErrTenantNotFound):
		return exitRemote
	case errors.Is(err, etx.ErrProtocol),
		errors.Is(err, etx.ErrCorrelationMismatch),
		errors.Is(err, etx.ErrConnectionClosed),
		errors.Is(err, etx.ErrContextNotEstablished),
		errors.Is(err, etx.ErrSessionClosed),
		errors.Is(err, context.DeadlineExceeded):
		return exitTransport
	}
	return exitFailure
}
