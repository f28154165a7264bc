package catalog

import "errors"

// Sentinel errors for store and payload failures.
var (
	ErrOutOfRange     = errors.New("position out of range")
	ErrUnparseable    = errors.New("unparseable payload")
	ErrNoPromptColumn = errors.New("csv has no prompt column")
)
