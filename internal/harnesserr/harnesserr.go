// Package harnesserr defines the error taxonomy that scenarios report:
// infrastructure setup failures, command failures, assertion mismatches,
// and polling timeouts.
package harnesserr

import (
	"context"
	"fmt"
	"time"

	"github.com/10gen/replset-harness/internal/reportutils"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"github.com/samber/mo"
)

// Kind categorizes a harness error.
type Kind string

const (
	KindSetup     Kind = "setup"
	KindCommand   Kind = "command"
	KindDelivery  Kind = "delivery"
	KindAssertion Kind = "assertion"
	KindTimeout   Kind = "timeout"
	KindCanceled  Kind = "canceled"
	KindUnknown   Kind = "unknown"
)

// SetupError means that the deployment under test could not be formed
// (e.g., a mongod failed to start, or no primary was elected).
type SetupError struct {
	Op  string
	Err error
}

func (se SetupError) Error() string {
	return fmt.Sprintf("setup failed (%s): %v", se.Op, se.Err)
}

func (se SetupError) Unwrap() error {
	return se.Err
}

// NewSetupError wraps err as a SetupError for the described operation.
func NewSetupError(err error, op string, args ...any) error {
	return errors.WithStack(SetupError{
		Op:  fmt.Sprintf(op, args...),
		Err: err,
	})
}

// CommandError means that a command either reached the server and was
// refused (Delivered is true), or never got a reply (Delivered is false).
type CommandError struct {
	Command   string
	Node      string
	Database  string
	Delivered bool
	Code      int
	CodeName  string
	Err       error
}

func (ce CommandError) Error() string {
	if !ce.Delivered {
		return fmt.Sprintf(
			"%#q on %s (db %#q) was not delivered: %v",
			ce.Command,
			ce.Node,
			ce.Database,
			ce.Err,
		)
	}

	return fmt.Sprintf(
		"%#q on %s (db %#q) failed with %s (%d): %v",
		ce.Command,
		ce.Node,
		ce.Database,
		ce.CodeName,
		ce.Code,
		ce.Err,
	)
}

func (ce CommandError) Unwrap() error {
	return ce.Err
}

// Cause lets errors.Cause reach the driver error, so that code-based
// predicates (e.g., util.GetErrorCode) see through a CommandError.
func (ce CommandError) Cause() error {
	return ce.Err
}

// AssertionMismatch means that an observed value differed from the
// expected one.
type AssertionMismatch struct {
	Message  string
	Actual   any
	Expected any
}

func (am AssertionMismatch) Error() string {
	return fmt.Sprintf(
		"%s: expected %s but got %s",
		am.Message,
		describe(am.Expected),
		describe(am.Actual),
	)
}

// NewAssertionMismatch returns an AssertionMismatch with a stack trace.
func NewAssertionMismatch(actual, expected any, msg string, args ...any) error {
	return errors.WithStack(AssertionMismatch{
		Message:  fmt.Sprintf(msg, args...),
		Actual:   actual,
		Expected: expected,
	})
}

// TimeoutError means that a polled condition never became true.
type TimeoutError struct {
	Description  string
	Attempts     int
	Elapsed      time.Duration
	LastObserved mo.Option[any]
	LastErr      error
}

func (te TimeoutError) Error() string {
	msg := fmt.Sprintf(
		"%s: condition not met after %d attempt(s) over %s",
		te.Description,
		te.Attempts,
		reportutils.DurationToHMS(te.Elapsed),
	)

	if observed, ok := te.LastObserved.Get(); ok {
		msg += "; last observed " + describe(observed)
	}

	if te.LastErr != nil {
		msg += fmt.Sprintf("; last error: %v", te.LastErr)
	}

	return msg
}

func (te TimeoutError) Unwrap() error {
	return te.LastErr
}

// KindOf returns the Kind of the given error. Errors outside the
// taxonomy are KindUnknown.
func KindOf(err error) Kind {
	var (
		setupErr   SetupError
		cmdErr     CommandError
		mismatch   AssertionMismatch
		timeoutErr TimeoutError
	)

	switch {
	case err == nil:
		return ""
	case errors.As(err, &setupErr):
		return KindSetup
	case errors.As(err, &timeoutErr):
		return KindTimeout
	case errors.As(err, &mismatch):
		return KindAssertion
	case errors.As(err, &cmdErr):
		return lo.Ternary(cmdErr.Delivered, KindCommand, KindDelivery)
	case isCanceled(err):
		return KindCanceled
	default:
		return KindUnknown
	}
}

func isCanceled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func describe(v any) string {
	if s, ok := v.(string); ok {
		return fmt.Sprintf("%q", s)
	}

	return fmt.Sprintf("%v", v)
}
