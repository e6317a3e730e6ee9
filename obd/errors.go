package obd

import (
	"errors"
	"fmt"
)

// ErrFormat matches every FormatError and ErrLookup every LookupError.
var (
	ErrFormat = errors.New("malformed payload")
	ErrLookup = errors.New("lookup table miss")
)

// FormatError describes a payload group that could not be decoded.
type FormatError struct {
	Offset int
	Group  string
	Reason string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("malformed payload at offset %d (%q): %s", e.Offset, e.Group, e.Reason)
}

func (e *FormatError) Is(target error) bool {
	return target == ErrFormat
}

// LookupError is returned when a required table key is missing.
type LookupError struct {
	Table string
	Key   string
}

func (e *LookupError) Error() string {
	return fmt.Sprintf("%s table has no entry for %q", e.Table, e.Key)
}

func (e *LookupError) Is(target error) bool {
	return target == ErrLookup
}
