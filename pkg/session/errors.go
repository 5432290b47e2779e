package session

import (
	"errors"
	"fmt"
)

// Sentinel errors for the session package.
var (
	// ErrMissingAPIKey indicates no endpoint credential is configured.
	// Start fails with it before any resource is touched.
	ErrMissingAPIKey = errors.New("session: API key is required")

	// ErrOffline indicates the reachability oracle reports no network.
	// Start fails with it before any resource is touched.
	ErrOffline = errors.New("session: network is unreachable")

	// ErrNoSession indicates a control operation was invoked with no
	// active session.
	ErrNoSession = errors.New("session: no active session")
)

// NegotiationError reports a handshake step failure. Every resource acquired
// by prior steps has been released by the time it is returned; there is no
// automatic retry.
type NegotiationError struct {
	// Step names the handshake step that failed
	// (capture, transport, track, channel, offer, signaling, answer).
	Step string

	// Status and Body are populated for signaling failures.
	Status int
	Body   string

	// Cause is the underlying error, if any.
	Cause error
}

func (e *NegotiationError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("session: negotiation failed at %s: HTTP %d: %s", e.Step, e.Status, e.Body)
	}
	return fmt.Sprintf("session: negotiation failed at %s: %v", e.Step, e.Cause)
}

func (e *NegotiationError) Unwrap() error {
	return e.Cause
}
