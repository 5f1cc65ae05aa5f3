package lifecycle

import (
	"errors"
	"fmt"
	"strings"

	"engagement-engine/internal/models"
)

// ErrConflictAlreadyAssigned is returned to the loser of a claim race. It is
// user-facing: the caller must see that someone else took the job, never a
// silent retry.
var ErrConflictAlreadyAssigned = errors.New("job already assigned to another contractor")

// InvalidTransitionError rejects a status change the transition table does
// not list.
type InvalidTransitionError struct {
	From models.JobStatus
	To   models.JobStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition %s -> %s", e.From, e.To)
}

// UnauthorizedError rejects a listed transition attempted by the wrong actor.
type UnauthorizedError struct {
	Role Role
	From models.JobStatus
	To   models.JobStatus
}

func (e *UnauthorizedError) Error() string {
	return fmt.Sprintf("role %s may not transition %s -> %s", e.Role, e.From, e.To)
}

// EligibilityDeniedError carries every failing compliance reason so callers
// can report all deficiencies at once.
type EligibilityDeniedError struct {
	Reasons []string
}

func (e *EligibilityDeniedError) Error() string {
	return "not eligible: " + strings.Join(e.Reasons, "; ")
}
