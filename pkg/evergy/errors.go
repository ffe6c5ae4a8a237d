package evergy

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidRange is returned before any request is issued when a usage
	// query's start date is after its end date.
	ErrInvalidRange = errors.New("start date cannot be after end date")

	// ErrInvalidCount is returned when an interval count is below 1.
	ErrInvalidCount = errors.New("interval count must be at least 1")

	// ErrNoAccounts is returned when a login succeeds but the portal has no
	// account linked to the credentials.
	ErrNoAccounts = errors.New("no accounts linked to this login")
)

// MissingWidgetDataError means the login page markup no longer carries the
// widget descriptor this client understands. The portal changed shape; no
// amount of retrying helps.
type MissingWidgetDataError struct {
	// Attr is the data attribute that was absent or empty. It is empty when
	// the whole wrapper element is missing.
	Attr string
}

func (e *MissingWidgetDataError) Error() string {
	if e.Attr == "" {
		return "login page has no davinci widget wrapper"
	}
	return fmt.Sprintf("davinci widget wrapper is missing %s", e.Attr)
}

// HandshakeHTTPError reports a login step that broke at the transport or
// protocol level: an unexpected status, an undecodable body, or a response
// missing a wire field. Rejected credentials are InvalidAuthError instead.
type HandshakeHTTPError struct {
	Step       string
	URL        string
	StatusCode int
	Err        error
}

func (e *HandshakeHTTPError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("handshake step %s (%s): %v", e.Step, e.URL, e.Err)
	}
	return fmt.Sprintf("handshake step %s (%s): unexpected status %d", e.Step, e.URL, e.StatusCode)
}

func (e *HandshakeHTTPError) Unwrap() error {
	return e.Err
}

// AuthFailureReason distinguishes the two ways the widget rejects
// credentials.
type AuthFailureReason int

const (
	// AuthFailureUnknownUsername means the flow restarted under a new flow
	// id, which the widget does when the username does not exist.
	AuthFailureUnknownUsername AuthFailureReason = iota + 1

	// AuthFailureWrongPassword means the flow refused to advance past the
	// credential form.
	AuthFailureWrongPassword
)

// InvalidAuthError means the portal rejected the supplied credentials. It
// only comes out of the credential submission step and never reflects a
// transport problem.
type InvalidAuthError struct {
	Reason AuthFailureReason
}

func (e *InvalidAuthError) Error() string {
	switch e.Reason {
	case AuthFailureUnknownUsername:
		return "login failed: no such username"
	case AuthFailureWrongPassword:
		return "login failed: wrong password"
	}
	return "login failed"
}
