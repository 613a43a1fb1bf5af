// Package cogerr classifies the error kinds the cognition pipeline must
// distinguish (spec.md §7): transient I/O, validation, contract, policy and
// authority-violation errors each propagate differently, but none may cross
// a worker boundary unhandled.
package cogerr

import "fmt"

// Kind classifies an error for propagation and retry policy purposes.
type Kind string

const (
	// Transient covers store timeouts, LLM 5xx responses, network resets.
	// Nothing in this module retries them with backoff or caps the number
	// of attempts: the error is returned to the caller, and a queue-driven
	// stage nacks its item so the queue redelivers it.
	Transient Kind = "transient"

	// Validation covers malformed LLM JSON and schema violations. Callers
	// log, record a negative outcome metric, and fall through to the
	// safest default instead of crashing.
	Validation Kind = "validation"

	// Contract covers unknown action types, unknown modes, and missing
	// required fields. Fatal for the current cycle only.
	Contract Kind = "contract"

	// Policy covers budget exhaustion, fatigue exhaustion, and ACT
	// repetition. Not a failure — callers surface it as a status event.
	Policy Kind = "policy"

	// Authority covers an attempt to mutate a single-writer resource
	// (router_weights, topic_boundary_base_params) from outside its
	// owner. Always a hard error.
	Authority Kind = "authority"
)

// Error wraps an underlying cause with a Kind so callers can branch on
// propagation policy without string-matching messages.
type Error struct {
	Kind    Kind
	Op      string // the operation that failed, e.g. "router.Score"
	Err     error
	Recoverable bool
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// New constructs a classified error.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err, Recoverable: kind == Transient || kind == Policy}
}

// Transientf builds a Transient error.
func Transientf(op, format string, args ...any) *Error {
	return New(Transient, op, fmt.Errorf(format, args...))
}

// Validationf builds a Validation error.
func Validationf(op, format string, args ...any) *Error {
	return New(Validation, op, fmt.Errorf(format, args...))
}

// Contractf builds a Contract error (fatal for the current cycle only).
func Contractf(op, format string, args ...any) *Error {
	e := New(Contract, op, fmt.Errorf(format, args...))
	e.Recoverable = false
	return e
}

// Policyf builds a Policy "error" used purely for control flow / status
// reporting — never surfaced as recoverable=false.
func Policyf(op, format string, args ...any) *Error {
	return New(Policy, op, fmt.Errorf(format, args...))
}

// Authorityf builds a hard Authority-violation error.
func Authorityf(op, format string, args ...any) *Error {
	e := New(Authority, op, fmt.Errorf(format, args...))
	e.Recoverable = false
	return e
}

// Is reports whether err (or any error it wraps) is classified as kind.
func Is(err error, kind Kind) bool {
	var ce *Error
	for err != nil {
		if e, ok := err.(*Error); ok {
			ce = e
			break
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return ce != nil && ce.Kind == kind
}
