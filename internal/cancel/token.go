// Package cancel ties long-running pipeline work to a client connection.
package cancel

import (
	"errors"
	"sync"
)

// ErrCancelled is returned when the user explicitly stopped an operation.
var ErrCancelled = errors.New("operation cancelled by user")

// Reason tags why an operation was cancelled.
type Reason int

const (
	ReasonNone Reason = iota
	// ReasonUser is an explicit stop request. Work must unwind promptly.
	ReasonUser
	// ReasonDisconnect fires after the grace period. Work continues but stops reporting progress.
	ReasonDisconnect
)

func (r Reason) String() string {
	switch r {
	case ReasonUser:
		return "user"
	case ReasonDisconnect:
		return "disconnect"
	default:
		return "none"
	}
}

// Checker is polled at every page-level suspension point.
type Checker interface {
	Check() error
}

// CheckFunc adapts a function to Checker.
type CheckFunc func() error

func (f CheckFunc) Check() error { return f() }

// Never is a Checker that never cancels.
var Never Checker = CheckFunc(func() error { return nil })

// Token is the cancellation state of one operation.
type Token struct {
	mu       sync.Mutex
	reason   Reason
	onChange []func(Reason)
}

// NewToken returns a token that has not been cancelled.
func NewToken() *Token {
	return &Token{}
}

// Cancel records reason. A user cancellation overrides a disconnect; the
// reverse is ignored.
func (t *Token) Cancel(reason Reason) {
	t.mu.Lock()
	if reason == ReasonNone || t.reason == ReasonUser || t.reason == reason {
		t.mu.Unlock()
		return
	}
	t.reason = reason
	hooks := append([]func(Reason){}, t.onChange...)
	t.mu.Unlock()

	for _, fn := range hooks {
		fn(reason)
	}
}

// Reason returns the current cancellation reason.
func (t *Token) Reason() Reason {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.reason
}

// Cancelled reports whether any cancellation was recorded.
func (t *Token) Cancelled() bool {
	return t.Reason() != ReasonNone
}

// Check returns ErrCancelled only for user cancellation.
func (t *Token) Check() error {
	if t.Reason() == ReasonUser {
		return ErrCancelled
	}
	return nil
}

// OnCancel registers fn to run when the reason changes.
func (t *Token) OnCancel(fn func(Reason)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onChange = append(t.onChange, fn)
}
