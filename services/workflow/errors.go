package workflow

import (
	"errors"
	"fmt"
)

// ErrDuplicateSupervisor is returned when the same lecturer is put in both supervisor slots.
var ErrDuplicateSupervisor = errors.New("primary and secondary supervisor must be different lecturers")

// InvalidTransitionError means the requested action does not exist from the current state.
type InvalidTransitionError struct {
	Kind   EntityKind
	From   string
	Action Action
	Reason string
}

func (e *InvalidTransitionError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("cannot %s %s in state %q: %s", e.Action, e.Kind.Label(), e.From, e.Reason)
	}
	return fmt.Sprintf("cannot %s %s in state %q", e.Action, e.Kind.Label(), e.From)
}

// UnauthorizedRoleError means the actor holds no capability for the action.
type UnauthorizedRoleError struct {
	Kind   EntityKind
	Action Action
	Role   Role
}

func (e *UnauthorizedRoleError) Error() string {
	switch e.Action {
	case ActionResubmit, ActionUpload, ActionSubmit:
		return fmt.Sprintf("only the student may %s this %s", e.Action, e.Kind.Label())
	case ActionGenerate:
		return fmt.Sprintf("only parties to the submission may %s the %s", e.Action, e.Kind.Label())
	default:
		return fmt.Sprintf("only the primary supervisor may %s this %s", e.Action, e.Kind.Label())
	}
}

// AmbiguousRoleError flags a submission whose supervisor slots hold the same lecturer.
// It indicates corrupt assignment data, never a user mistake.
type AmbiguousRoleError struct {
	SubmissionID uint
	UserID       uint
}

func (e *AmbiguousRoleError) Error() string {
	return fmt.Sprintf("submission %d assigns user %d as both primary and secondary supervisor", e.SubmissionID, e.UserID)
}

// ImmutableStateError is returned for any attempt to change an accepted entity.
type ImmutableStateError struct {
	Kind  EntityKind
	ID    uint
	State string
}

func (e *ImmutableStateError) Error() string {
	return fmt.Sprintf("%s %d is %s and can no longer be changed", e.Kind.Label(), e.ID, e.State)
}

// IsRuleViolation reports whether err is one of the typed workflow errors that
// must abort an operation before anything is written.
func IsRuleViolation(err error) bool {
	var (
		invalid   *InvalidTransitionError
		denied    *UnauthorizedRoleError
		ambiguous *AmbiguousRoleError
		immutable *ImmutableStateError
	)
	return errors.As(err, &invalid) || errors.As(err, &denied) ||
		errors.As(err, &ambiguous) || errors.As(err, &immutable)
}
