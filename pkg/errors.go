// Package pkg holds the utilities shared across the project.
// This file defines the domain-level errors.
//
// Errors are compared by identity, not by string:
//
//	if errors.Is(err, pkg.ErrNotFound) { ... }
//
// Services wrap them with context (fmt.Errorf("%w: ...", pkg.ErrNotFound)) and the
// gateway maps the chain onto a Rejection code before anything reaches a client.
package pkg

import (
	"errors"
	"fmt"
	"time"
)

// Domain-level errors.
var (
	ErrNotFound      = errors.New("not found")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrForbidden     = errors.New("forbidden")
	ErrAlreadyExists = errors.New("already exists")
	ErrBadRequest    = errors.New("bad request")
	ErrRateLimited   = errors.New("rate limited")
	ErrInternal      = errors.New("internal error")
)

// RateLimitError is returned when an event exceeded its per-connection budget.
type RateLimitError struct {
	Op      string
	ResetAt time.Time
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s, retry after %s", e.Op, e.ResetAt.UTC().Format(time.RFC3339))
}

func (e *RateLimitError) Unwrap() error { return ErrRateLimited }

// RetryableError marks a durable write that gave up after its bounded retries.
// Token echoes the client's idempotency token so the client can resubmit safely.
type RetryableError struct {
	Token string
	Err   error
}

func (e *RetryableError) Error() string {
	if e.Err == nil {
		return "persistence failed"
	}
	return "persistence failed: " + e.Err.Error()
}

func (e *RetryableError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrInternal}
	}
	return []error{ErrInternal, e.Err}
}
