// Package faults classifies errors crossing component boundaries so callers can
// decide between retrying, surfacing a user-visible failure, or recording a
// terminal processing error.
package faults

import (
	"context"
	"errors"
	"net"
	"strings"
)

// Kind is the coarse failure category an error belongs to.
type Kind string

const (
	KindUnknown   Kind = ""
	KindTransient Kind = "transient"
	KindAuth      Kind = "auth"
	KindNotFound  Kind = "not_found"
	KindFatal     Kind = "fatal_processing"
	KindDelivery  Kind = "delivery"
	KindInvalid   Kind = "invalid"
)

// Sentinels usable with errors.Is against any classified error.
var (
	ErrTransient = &Error{Kind: KindTransient}
	ErrAuth      = &Error{Kind: KindAuth}
	ErrNotFound  = &Error{Kind: KindNotFound}
	ErrFatal     = &Error{Kind: KindFatal}
	ErrDelivery  = &Error{Kind: KindDelivery}
	ErrInvalid   = &Error{Kind: KindInvalid}
)

// Error carries a Kind and the operation that failed.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	if e.Err != nil {
		b.WriteString(e.Err.Error())
	} else {
		b.WriteString(string(e.Kind))
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error with the same Kind, so errors.Is(err, faults.ErrAuth) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Err == nil && t.Kind == e.Kind
}

// New wraps err with the given kind and operation. A nil err stays nil.
func New(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Transient marks err as a retryable I/O failure.
func Transient(op string, err error) error { return New(KindTransient, op, err) }

// Fatal marks err as a terminal processing failure.
func Fatal(op string, err error) error { return New(KindFatal, op, err) }

// Auth marks err as a credential failure.
func Auth(op string, err error) error { return New(KindAuth, op, err) }

// NotFound marks err as a missing record.
func NotFound(op string, err error) error { return New(KindNotFound, op, err) }

// Invalid marks err as bad caller input.
func Invalid(op string, err error) error { return New(KindInvalid, op, err) }

// Delivery marks err as a failure to reach a realtime connection.
func Delivery(op string, err error) error { return New(KindDelivery, op, err) }

// KindOf returns the outermost classification of err. Unclassified errors that
// look like network hiccups are reported as transient.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var fe *Error
	if errors.As(err, &fe) && fe.Kind != KindUnknown {
		return fe.Kind
	}
	if looksTransient(err) {
		return KindTransient
	}
	return KindUnknown
}

// IsRetryable reports whether err is worth another attempt.
func IsRetryable(err error) bool {
	return KindOf(err) == KindTransient
}

func looksTransient(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "http status 5") || strings.Contains(msg, "server_error") ||
		strings.Contains(msg, "status code: 5") || strings.Contains(msg, "503") || strings.Contains(msg, "502") {
		return true
	}
	if strings.Contains(msg, "rate limit") || strings.Contains(msg, "429") {
		return true
	}
	return strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connection closed") ||
		strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "tls handshake timeout") ||
		strings.Contains(msg, "unexpected eof")
}
