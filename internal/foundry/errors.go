package foundry

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration is returned when neither a static token nor a
	// credential provider is configured.
	ErrConfiguration = errors.New("foundry: no token source provided")
	// ErrValidation is returned for caller input the endpoint would reject,
	// such as an empty message list.
	ErrValidation = errors.New("foundry: invalid request")
	// ErrEmptyToken is returned when the static token or the credential
	// provider resolves to a blank string.
	ErrEmptyToken = errors.New("foundry: bearer token is empty")
	// ErrAuthentication wraps a credential provider failure.
	ErrAuthentication = errors.New("foundry: token acquisition failed")
	// ErrClientClosed is returned by calls made after Close.
	ErrClientClosed = errors.New("foundry: client is closed")
)

// StatusError is returned when the endpoint answers with a non-2xx status.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("foundry: HTTP %d: %s", e.StatusCode, e.Body)
}

// TransportError wraps connection, network and body read failures.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("foundry: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// UnexpectedError wraps anything that is neither a status nor a transport
// failure, such as an undecodable response body.
type UnexpectedError struct {
	Err error
}

func (e *UnexpectedError) Error() string {
	return fmt.Sprintf("foundry: unexpected error: %v", e.Err)
}

func (e *UnexpectedError) Unwrap() error { return e.Err }
