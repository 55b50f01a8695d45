package cdfg

import (
	"errors"
	"fmt"
)

// ErrMalformed is the sentinel matched by every MalformedError.
var ErrMalformed = errors.New("malformed method body")

// MalformedError reports input that cannot be turned into a graph.
type MalformedError struct {
	Method string
	Offset uint32
	Reason string
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("%s: IL_%04x: %s", e.Method, e.Offset, e.Reason)
}

func (e *MalformedError) Unwrap() error {
	return ErrMalformed
}

func (g *Graph) malformed(offset uint32, format string, args ...any) error {
	return &MalformedError{
		Method: g.Method.FullName(),
		Offset: offset,
		Reason: fmt.Sprintf(format, args...),
	}
}
