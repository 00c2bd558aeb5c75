package script

import (
	"errors"
	"fmt"
)

// ErrorKind classifies why a script produced no series.
type ErrorKind string

const (
	// KindCompilation: the text does not parse or references unknown names.
	KindCompilation ErrorKind = "compilation"
	// KindRuntime: evaluation raised an error.
	KindRuntime ErrorKind = "runtime"
	// KindShape: the script returned something that is not a point sequence.
	KindShape ErrorKind = "shape"
	// KindBudget: the step cap or the wall-clock deadline was hit.
	KindBudget ErrorKind = "budget"
)

// ExecutionError is the typed failure of one script evaluation.
type ExecutionError struct {
	Kind   ErrorKind
	Script string
	Err    error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("%s error in script %q: %v", e.Kind, e.Script, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// KindOf extracts the error kind from an error chain.
func KindOf(err error) (ErrorKind, bool) {
	var ee *ExecutionError
	if errors.As(err, &ee) {
		return ee.Kind, true
	}
	return "", false
}
