package service

import (
	"errors"
	"fmt"
)

// ErrAlreadyInProgress is returned by Enqueue when the ticket already has
// a task in {queued, processing, retrying}. The guard is a plain store
// check, not a lock: a race between check and create can still produce a
// duplicate task, which downstream consumers tolerate by keying off the
// most recent task.
var ErrAlreadyInProgress = errors.New("an analysis task is already in progress for this ticket")

// ErrTaskNotFound is returned by administrative operations on unknown tasks.
var ErrTaskNotFound = errors.New("task not found")

// ErrNotRetryable is returned when Retry is called on a task that is not
// in the failed state.
var ErrNotRetryable = errors.New("only failed tasks can be retried")

// PermanentAnalysisError marks an error that must not be retried: the
// task is failed immediately regardless of its retry budget.
type PermanentAnalysisError struct {
	Reason string
}

func (e *PermanentAnalysisError) Error() string {
	return fmt.Sprintf("permanent analysis error: %s", e.Reason)
}
