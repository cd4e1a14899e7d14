package feed

import (
	"errors"
	"fmt"
)

type ErrorKind string

const (
	ErrorKindTransport   ErrorKind = "transport"
	ErrorKindHTTPStatus  ErrorKind = "http_status"
	ErrorKindMalformed   ErrorKind = "malformed"
	ErrorKindPersistence ErrorKind = "persistence"
)

// Error classifies a failed synchronisation step of a feed.
type Error struct {
	Kind       ErrorKind
	URL        string
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	switch e.Kind {
	case ErrorKindHTTPStatus:
		return fmt.Sprintf("%s: HTTP error: %d fetching %s", e.Kind, e.StatusCode, e.URL)
	case ErrorKindPersistence:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.URL, e.Err)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

func NewTransportError(url string, err error) *Error {
	return &Error{Kind: ErrorKindTransport, URL: url, Err: err}
}

func NewHTTPStatusError(url string, statusCode int) *Error {
	return &Error{Kind: ErrorKindHTTPStatus, URL: url, StatusCode: statusCode}
}

func NewMalformedError(url string, err error) *Error {
	return &Error{Kind: ErrorKindMalformed, URL: url, Err: err}
}

func NewPersistenceError(err error) *Error {
	return &Error{Kind: ErrorKindPersistence, Err: err}
}

// KindOf returns the kind of a classified error, or "" for anything else.
func KindOf(err error) ErrorKind {
	var feedErr *Error
	if errors.As(err, &feedErr) {
		return feedErr.Kind
	}
	return ""
}
