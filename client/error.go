package client

import (
	"errors"
	"fmt"
)

// maxErrBodySize caps the amount of response body collected by LoadData
// when building an error for an unexpected status code.
const maxErrBodySize = 4 << 10 // 4KB

var (
	// ErrClientClosed is returned for requests made after [Client.Close].
	ErrClientClosed = errors.New("client closed")
	// ErrDuplicateTask is returned when a task id is already in use.
	ErrDuplicateTask = errors.New("duplicate task id")
	// ErrAlreadySubscribed is returned by a second [Stream.Subscribe].
	ErrAlreadySubscribed = errors.New("stream already subscribed")
	// ErrUnexpectedStatusCode is the sentinel error wrapped by [UnexpectedStatusError].
	ErrUnexpectedStatusCode = errors.New("unexpected status code")
	// ErrAuthFailure is joined with [ErrUnexpectedStatusCode] when the server
	// responds with 401 Unauthorized or 403 Forbidden.
	ErrAuthFailure = errors.New("auth failure")
)

// UnexpectedStatusError is returned by LoadData when the response status
// does not match the one given to [WithExpectedStatus].
type UnexpectedStatusError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *UnexpectedStatusError) Error() string {
	return fmt.Sprintf("%v: %d, body: %s", e.Err, e.StatusCode, e.Body)
}

func (e *UnexpectedStatusError) Unwrap() error {
	return e.Err
}
