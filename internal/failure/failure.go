// Package failure classifies everything that can go wrong while a hunter runs
// and maps it to the outcome the dispatcher should see.
//
// # Kinds
//
//   - RetryableTransport: the source answered with a non-permanent error
//   - PermanentTransport: the source answered with a permanent error
//   - LocalIO: reading or decoding local bytes failed
//   - ResourceExhaustion: the image would not fit the memory budget
//   - ContractViolation: a caller-supplied transformation broke the
//     bitmap ownership rules
//   - Unclassified: anything else, including recovered panics
//
// RetryableTransport and LocalIO produce a retry signal; every other kind is
// terminal. Nothing in this package retries; it only answers the question.
package failure

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
)

// Kind is the failure taxonomy.
type Kind int

const (
	Unclassified Kind = iota
	RetryableTransport
	PermanentTransport
	LocalIO
	ResourceExhaustion
	ContractViolation
)

func (k Kind) String() string {
	switch k {
	case RetryableTransport:
		return "retryable_transport"
	case PermanentTransport:
		return "permanent_transport"
	case LocalIO:
		return "local_io"
	case ResourceExhaustion:
		return "resource_exhaustion"
	case ContractViolation:
		return "contract_violation"
	default:
		return "unclassified"
	}
}

// Retryable reports whether the dispatcher should be asked to retry.
func (k Kind) Retryable() bool {
	return k == RetryableTransport || k == LocalIO
}

// Sentinel errors.
var (
	// ErrResourceExhausted is returned when decoding or transforming would
	// exceed the configured memory budget.
	ErrResourceExhausted = errors.New("resource exhausted")

	// ErrNoResult is the cause reported when a hunt finished without a
	// bitmap and without a more specific error.
	ErrNoResult = errors.New("no bitmap produced")
)

// Error is a classified failure.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("[%s] %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("[%s] %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New classifies err explicitly.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Exhausted wraps err as a resource exhaustion failure carrying a diagnostic
// dump, typically a statistics snapshot.
func Exhausted(err error, diagnostics string) *Error {
	return &Error{
		Kind: ResourceExhaustion,
		Op:   "hunt",
		Err:  fmt.Errorf("%w\n%s", err, diagnostics),
	}
}

// ResponseError is returned by network sources for unsuccessful responses.
type ResponseError struct {
	StatusCode int
	Permanent  bool
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("unexpected response status %d", e.StatusCode)
}

// ResponseFor builds the ResponseError for an HTTP status code. Server errors,
// timeouts and throttling are retryable; other client errors are permanent.
func ResponseFor(status int) *ResponseError {
	permanent := true
	switch {
	case status >= 500, status == 408, status == 429:
		permanent = false
	}
	return &ResponseError{StatusCode: status, Permanent: permanent}
}

// Classify returns the Kind of err. Explicit kinds win; otherwise the error
// chain is inspected for transport responses, exhaustion and I/O causes.
func Classify(err error) Kind {
	if err == nil {
		return Unclassified
	}

	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}

	var re *ResponseError
	if errors.As(err, &re) {
		if re.Permanent {
			return PermanentTransport
		}
		return RetryableTransport
	}

	if errors.Is(err, ErrResourceExhausted) {
		return ResourceExhaustion
	}

	var pathErr *fs.PathError
	var netErr net.Error
	switch {
	case errors.As(err, &pathErr),
		errors.As(err, &netErr),
		errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, context.DeadlineExceeded):
		return LocalIO
	}

	return Unclassified
}
