package domain

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind classifies a failure in the translation flow. The kind is set
// where the failure happens and drives both the user-facing reply and the
// HTTP status of the direct endpoint.
type ErrorKind string

const (
	ErrConfiguration     ErrorKind = "configuration"
	ErrFileResolution    ErrorKind = "file_resolution"
	ErrDownload          ErrorKind = "download"
	ErrImageTooLarge     ErrorKind = "image_too_large"
	ErrCompletionAPI     ErrorKind = "completion_api"
	ErrMalformedResponse ErrorKind = "malformed_response"
	ErrRateLimited       ErrorKind = "rate_limited"
	ErrTimeout           ErrorKind = "timeout"
	ErrInternal          ErrorKind = "internal"
)

// Error is the tagged error returned by every stage of the flow.
type Error struct {
	Kind    ErrorKind
	Status  int    // upstream HTTP status, when there was one
	Message string // upstream or local description
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Status != 0 {
		return fmt.Sprintf("%s (%d): %s", e.Kind, e.Status, msg)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Errorf builds an *Error of the given kind with a formatted message.
func Errorf(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap tags err with kind. A nil err yields nil.
func Wrap(kind ErrorKind, err error, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Message: msg + ": " + err.Error(), Err: err}
}

// KindOf returns the kind carried by err. Deadline errors map to
// ErrTimeout and anything untagged is ErrInternal.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout
	}
	return ErrInternal
}

// StatusOf returns the upstream status carried by err, or 0.
func StatusOf(err error) int {
	var de *Error
	if errors.As(err, &de) {
		return de.Status
	}
	return 0
}
