package domain

import "errors"

var (
	// ErrDuplicateKey is returned by a MetadataStore when an insert would
	// violate the composite unique index.
	ErrDuplicateKey = errors.New("duplicate key")

	ErrRetriesExhausted    = errors.New("unique persist retries exhausted")
	ErrMissingConferenceID = errors.New("conference id is required")
	ErrMissingClientID     = errors.New("client id is required")
	ErrMalformedSample     = errors.New("malformed sample")
	ErrArchiveFailed       = errors.New("dump archive failed")
)
