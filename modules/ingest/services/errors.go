package services

import (
	"github.com/go-faster/errors"

	"github.com/iota-uz/etx-ingest/pkg/tabular"
)

var (
	// ErrInvalidInput reports a missing or unusable workflow argument.
	ErrInvalidInput = errors.New("invalid input")
	// ErrMissingColumns is a malformed dataset lacking the grouping columns.
	ErrMissingColumns = errors.Wrap(tabular.ErrMalformedInput, "missing required columns")
	// ErrResolutionMiss marks a group with no matching catalog entity.
	ErrResolutionMiss = errors.New("no catalog entity matches group")
	ErrTenantNotFound = errors.New("tenant not found")
)
