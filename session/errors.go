package session

import (
	"fmt"

	"github.com/pkg/errors"
)

// ProtocolViolationError marks an inbound condition that must terminate the
// session with TerminationProtocolViolation (spec.md §7 kind 1). It wraps
// the underlying cause with a stack trace via github.com/pkg/errors so a
// SessionManager or external observer can recover the original cause with
// errors.Cause across the manager-to-session boundary.
type ProtocolViolationError struct {
	cause error
}

func newProtocolViolation(format string, args ...any) *ProtocolViolationError {
	return &ProtocolViolationError{cause: errors.WithStack(fmt.Errorf(format, args...))}
}

func (e *ProtocolViolationError) Error() string {
	return "protocol violation: " + e.cause.Error()
}

func (e *ProtocolViolationError) Unwrap() error { return e.cause }

// Cause implements the github.com/pkg/errors causer interface so
// errors.Cause(sess.Err()) unwraps straight through to the fmt.Errorf
// underneath the stack trace.
func (e *ProtocolViolationError) Cause() error { return e.cause }
