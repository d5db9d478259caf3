package harnesserr

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/samber/mo"
	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	cmdFailure := CommandError{
		Command:   "collMod",
		Node:      "localhost:27017",
		Database:  "test",
		Delivered: true,
		Code:      27,
		CodeName:  "IndexNotFound",
		Err:       errors.New("cannot find index"),
	}

	cases := []struct {
		err  error
		kind Kind
	}{
		{nil, ""},
		{NewSetupError(errors.New("no primary"), "initiate %s", "rs0"), KindSetup},
		{errors.Wrap(cmdFailure, "hiding index"), KindCommand},
		{CommandError{Command: "explain", Err: context.DeadlineExceeded}, KindDelivery},
		{NewAssertionMismatch("COLLSCAN", "IXSCAN", "winning plan"), KindAssertion},
		{TimeoutError{Description: "secondary plan", LastErr: cmdFailure}, KindTimeout},
		{errors.Wrap(context.Canceled, "running step"), KindCanceled},
		{errors.New("mystery"), KindUnknown},
	}

	for _, c := range cases {
		assert.Equal(t, c.kind, KindOf(c.err), "%v", c.err)
	}
}

func TestSetupErrorWrapsTimeout(t *testing.T) {
	err := NewSetupError(
		TimeoutError{Description: "primary election", Attempts: 3},
		"initiate",
	)

	assert.Equal(t, KindSetup, KindOf(err), "setup takes precedence over what it wraps")

	var te TimeoutError
	assert.ErrorAs(t, err, &te)
	assert.Equal(t, 3, te.Attempts)
}

func TestAssertionMismatchMessage(t *testing.T) {
	err := NewAssertionMismatch("COLLSCAN", "a_1", "Optimizer doesn't choose a right index")

	assert.ErrorContains(t, err, "Optimizer doesn't choose a right index")
	assert.ErrorContains(t, err, `expected "a_1"`)
	assert.ErrorContains(t, err, `got "COLLSCAN"`)
}

func TestTimeoutErrorMessage(t *testing.T) {
	err := TimeoutError{
		Description:  "secondary sees i_1",
		Attempts:     7,
		Elapsed:      3 * time.Second,
		LastObserved: mo.Some[any]("COLLSCAN"),
		LastErr:      errors.New("boom"),
	}

	assert.ErrorContains(t, err, "7 attempt(s) over 3s")
	assert.ErrorContains(t, err, `last observed "COLLSCAN"`)
	assert.ErrorContains(t, err, "last error: boom")
}

func TestCommandErrorMessage(t *testing.T) {
	undelivered := CommandError{Command: "hello", Node: "localhost:1", Database: "admin", Err: errors.New("EOF")}
	assert.ErrorContains(t, undelivered, "was not delivered")

	refused := CommandError{Command: "createIndexes", Delivered: true, Code: 67, CodeName: "CannotCreateIndex", Err: errors.New("nope")}
	assert.ErrorContains(t, refused, "CannotCreateIndex (67)")
}
