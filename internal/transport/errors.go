package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
)

// ErrAuthenticationFailed indicates the backend rejected our credentials.
// The application reacts by clearing credentials; this package only
// classifies.
var ErrAuthenticationFailed = errors.New("authentication failed")

// ErrAmbiguousTimeout indicates the request timed out in a way that leaves
// the outcome unknown: the backend may have completed and persisted its
// side of the work even though no response arrived in time. Callers must
// not treat this as a hard failure; see the reconciliation flow.
var ErrAmbiguousTimeout = errors.New("request timed out with unknown outcome")

// ErrConnectivity indicates the request never reached the server at all
// (refused connection, DNS failure). Safe to retry; distinct user guidance.
var ErrConnectivity = errors.New("could not reach server")

// BackendError is a hard failure the backend reported with structured
// detail. Shown to the user in context, never retried blindly.
type BackendError struct {
	StatusCode int    `json:"-"`
	Code       string `json:"code"`
	Detail     string `json:"detail"`
}

func (e *BackendError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("backend error %s: %s", e.Code, e.Detail)
	}
	return fmt.Sprintf("backend error (status %d): %s", e.StatusCode, e.Detail)
}

// classifyTransportErr maps a round-trip failure onto the error taxonomy.
// Timeouts are ambiguous (the backend's budget is larger than ours);
// everything that never left the machine is a connectivity failure.
func classifyTransportErr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrAmbiguousTimeout, err)
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		if urlErr.Timeout() {
			return fmt.Errorf("%w: %v", ErrAmbiguousTimeout, err)
		}
		var netErr net.Error
		if errors.As(urlErr.Err, &netErr) && netErr.Timeout() {
			return fmt.Errorf("%w: %v", ErrAmbiguousTimeout, err)
		}
		return fmt.Errorf("%w: %v", ErrConnectivity, err)
	}

	return fmt.Errorf("%w: %v", ErrConnectivity, err)
}
