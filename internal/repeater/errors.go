package repeater

import (
	"errors"
	"fmt"
)

// ErrInvalidArgument is returned by constructors given a nil callback or config.
var ErrInvalidArgument = errors.New("invalid argument")

// CallbackError reports a failed run. Err is the error the callback returned,
// or an error describing the recovered panic when Panic is set.
type CallbackError struct {
	Name  string
	Count int
	Err   error
	Panic interface{}
}

func (e *CallbackError) Error() string {
	return fmt.Sprintf("repeater %s: tick %d: %v", e.Name, e.Count, e.Err)
}

func (e *CallbackError) Unwrap() error {
	return e.Err
}
