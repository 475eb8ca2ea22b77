// Package billing wraps the billing backend's single-endpoint RPC API.
package billing

import (
	"errors"
	"fmt"
	"strings"
)

// TransientError indicates a network-level or malformed-response failure.
// Callers may retry these with backoff.
type TransientError struct {
	Call string
	Err  error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("billing call %q failed: %v", e.Call, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// RemoteRejection indicates the billing backend explicitly refused the
// operation. These require a different follow-up call, not a blind retry.
type RemoteRejection struct {
	Call    string
	Message string
}

func (e *RemoteRejection) Error() string {
	return fmt.Sprintf("billing call %q rejected: %s", e.Call, e.Message)
}

// IsTransient reports whether err is a transient billing failure.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// IsRemoteRejection reports whether err is an explicit refusal from the backend.
func IsRemoteRejection(err error) bool {
	var rr *RemoteRejection
	return errors.As(err, &rr)
}

// IsAlreadyExists reports whether a rejection means the record already exists
// on the backend. The backend signals this through its error message rather
// than a structured code, so the heuristic lives here and nowhere else.
func IsAlreadyExists(err error) bool {
	var rr *RemoteRejection
	if !errors.As(err, &rr) {
		return false
	}
	msg := strings.ToLower(rr.Message)
	return strings.Contains(msg, "already exists") || strings.Contains(msg, "duplicate")
}
