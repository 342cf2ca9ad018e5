package solver

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrInfeasible signals that a registered bound made some variable's lower
// bound exceed its upper bound. It is expected control flow: the search loop
// catches it at the decision boundary and pops to the next alternative split.
var ErrInfeasible = errors.New("solver: infeasible query")

// A DebuggingError reports a skew between the decision stack and a stored
// reference solution. It is fatal: the search must not continue.
type DebuggingError struct {
	Msg string
}

func (e *DebuggingError) Error() string {
	return fmt.Sprintf("solver: debugging error: %s", e.Msg)
}

func debuggingErrorf(format string, args ...interface{}) *DebuggingError {
	return &DebuggingError{Msg: fmt.Sprintf(format, args...)}
}
