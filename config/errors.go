package config

import "errors"

var (
	// ErrUnsupportedFormat reports an unknown document format or extension.
	ErrUnsupportedFormat = errors.New("unsupported format")
	// ErrInvalidShape reports a document that is neither a list of fields
	// nor an object with columns.
	ErrInvalidShape = errors.New("invalid document shape")
	// ErrMissingKey reports a field without a key.
	ErrMissingKey = errors.New("field key is required")
	// ErrDuplicateKey reports two fields sharing a key.
	ErrDuplicateKey = errors.New("duplicate field key")
	// ErrUnknownProducer reports a producer name missing from the registry.
	ErrUnknownProducer = errors.New("unknown producer")
)
