package llm

import (
	"errors"
	"fmt"
)

// ErrUnsupportedProvider is returned by providers that are declared but not
// implemented.
var ErrUnsupportedProvider = errors.New("llm: provider not supported")

// StatusError reports a non-200 response from an inference server.
type StatusError struct {
	Code    int
	Status  string
	Message string // server supplied error text, if any
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("llm: unexpected status %s: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("llm: unexpected status %s", e.Status)
}
