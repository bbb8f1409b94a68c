package control

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
)

var (
	ErrPreconditionFailed  = errors.New("precondition failed")
	ErrOperationUnverified = errors.New("state changed but operation counter did not increase")
	ErrOperationTimeout    = errors.New("operation did not reach its target state in time")
	ErrOperationCancelled  = errors.New("operation cancelled")
	ErrOperationActive     = errors.New("another operation is running")
	ErrPlanActive          = errors.New("a sequential plan is running")
	ErrPlanAborted         = errors.New("plan aborted")
	ErrUnknownPlan         = errors.New("unknown plan")
)

type PreconditionError struct {
	Action Action
	Reason string
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("%s rejected: %s", e.Action, e.Reason)
}

func (e *PreconditionError) Unwrap() error {
	return ErrPreconditionFailed
}

// PlanAbortedError reports where a plan stopped.
type PlanAbortedError struct {
	Plan    string
	Step    string
	Index   int
	Elapsed time.Duration
	Err     error
}

func (e *PlanAbortedError) Error() string {
	return fmt.Sprintf("plan %s aborted at step %d (%s) after %s: %v", e.Plan, e.Index, e.Step, e.Elapsed.Round(time.Millisecond), e.Err)
}

func (e *PlanAbortedError) Unwrap() []error {
	return []error{ErrPlanAborted, e.Err}
}
