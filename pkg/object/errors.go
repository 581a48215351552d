package object

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when an object or one of its dependencies is not
// present in the store.
var ErrNotFound = errors.New("object not found")

// FormatError reports malformed or incompatible input: a bad pack signature
// or version, an unknown object type, a truncated varint or a corrupt
// envelope.
type FormatError struct {
	Msg string
}

func (e *FormatError) Error() string {
	return "format error: " + e.Msg
}

func formatErrorf(format string, args ...any) error {
	return &FormatError{Msg: fmt.Sprintf(format, args...)}
}

// ConsistencyError signals an invariant violation while reconstructing data,
// such as a delta whose declared base or result size does not match. It
// indicates a corrupt or misidentified base object.
type ConsistencyError struct {
	What     string
	Expected uint64
	Actual   uint64
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("consistency error: %s: expected %d, got %d", e.What, e.Expected, e.Actual)
}
