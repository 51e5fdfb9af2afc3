package invoker

import (
	"fmt"
)

// RemotePhaseError reports that a single phase call failed: a transport error,
// a non-2xx status or a body that could not be decoded.
type RemotePhaseError struct {
	Phase      string
	StatusCode int
	Message    string
	Err        error
}

func (e *RemotePhaseError) Error() string {
	return e.Message
}

func (e *RemotePhaseError) Unwrap() error {
	return e.Err
}

// MalformedResponseError reports a 2xx response that carried no category list.
// It is attached to an Outcome rather than returned.
type MalformedResponseError struct {
	Phase string
	Body  string
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("phase %s: response has no categories list", e.Phase)
}
