// Package errkind is the closed set of failure kinds the watch loop reacts to.
package errkind

import (
	"context"
	"errors"
	"fmt"
)

type Kind int

const (
	// Unknown is any error that was not produced through this package.
	Unknown Kind = iota
	// Timeout means a bounded wait expired. The bounded operation is retried.
	Timeout
	// Auth means the provider rejected the login.
	Auth
	// Fetch is any other provider failure, typically an expired session.
	Fetch
	// Delivery means a notification or board update failed. Never retried.
	Delivery
	// MalformedSnapshot means the stored baseline could not be decoded.
	MalformedSnapshot
)

func (k Kind) String() string {
	switch k {
	case Timeout:
		return "timeout"
	case Auth:
		return "auth"
	case Fetch:
		return "fetch"
	case Delivery:
		return "delivery"
	case MalformedSnapshot:
		return "malformed snapshot"
	default:
		return "unknown"
	}
}

// Error tags a cause with its kind and the operation that failed.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// E builds a tagged error. A nil cause is allowed.
func E(kind Kind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of the outermost tagged error in the chain. Bare
// context deadline errors count as timeouts.
func KindOf(err error) Kind {
	if err == nil {
		return Unknown
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Timeout
	}
	return Unknown
}

// Is reports whether err is of kind k.
func Is(err error, k Kind) bool {
	return KindOf(err) == k
}
