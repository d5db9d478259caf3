package command

import (
	"fmt"
	"time"

	"github.com/10gen/replset-harness/internal/harnesserr"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
)

// Outcome tags a Result.
type Outcome int

const (
	// unset is the zero Outcome. A Result that no command produced
	// carries it, and it counts as neither worked nor delivered.
	unset Outcome = iota

	// Worked means the server replied with ok:1 and no write errors.
	Worked

	// Failed means the server replied but refused the command (ok:0,
	// write errors, or a write concern error).
	Failed

	// Undelivered means that no reply arrived: network failure, timeout,
	// server selection failure, cancellation, or a command that the
	// driver could not send at all.
	Undelivered
)

func (o Outcome) String() string {
	switch o {
	case Worked:
		return "worked"
	case Failed:
		return "failed"
	case Undelivered:
		return "undelivered"
	case unset:
		return "unset"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// Result is the tagged outcome of one command.
type Result struct {
	Outcome  Outcome
	Command  string
	Node     string
	Database string

	// Request is a copy of the command document as sent.
	Request bson.D

	// Response is the server’s reply. It is nil unless the command worked
	// or failed with write errors.
	Response bson.Raw

	Code     int
	CodeName string
	Err      error
	Duration time.Duration
}

// Worked returns true if the command worked.
func (r Result) Worked() bool {
	return r.Outcome == Worked
}

// Delivered returns true if the server replied, whether or not it accepted
// the command.
func (r Result) Delivered() bool {
	return r.Outcome == Worked || r.Outcome == Failed
}

// AsError returns nil if the command worked; otherwise it returns a
// harnesserr.CommandError that describes the failure.
func (r Result) AsError() error {
	if r.Worked() {
		return nil
	}

	err := r.Err
	if err == nil && r.Outcome == unset {
		err = errors.New("no command was run")
	}

	return errors.WithStack(harnesserr.CommandError{
		Command:   r.Command,
		Node:      r.Node,
		Database:  r.Database,
		Delivered: r.Delivered(),
		Code:      r.Code,
		CodeName:  r.CodeName,
		Err:       err,
	})
}

func (r Result) String() string {
	if r.Worked() {
		return fmt.Sprintf("%#q on %s: %s", r.Command, r.Node, r.Outcome)
	}

	return fmt.Sprintf("%#q on %s: %s (%v)", r.Command, r.Node, r.Outcome, r.Err)
}
