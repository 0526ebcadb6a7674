// Package workflow holds the review state machines for submissions, chapters and
// final reports, and the rules deciding who may drive them.
package workflow

import "bimbingan_go/models"

// EntityKind names the entity a transition applies to.
type EntityKind string

const (
	KindSubmission   EntityKind = "submission"
	KindChapter      EntityKind = "chapter"
	KindFinalReport  EntityKind = "final_report"
	KindGuidanceCard EntityKind = "guidance_card"
	KindMessage      EntityKind = "message"
)

// Label is the human readable name used in error messages.
func (k EntityKind) Label() string {
	switch k {
	case KindFinalReport:
		return "final report"
	case KindGuidanceCard:
		return "guidance card"
	default:
		return string(k)
	}
}

// ParseEntityKind maps a route segment to an EntityKind.
func ParseEntityKind(s string) (EntityKind, bool) {
	switch EntityKind(s) {
	case KindSubmission, KindChapter, KindFinalReport:
		return EntityKind(s), true
	}
	return "", false
}

// Action is a requested state change.
type Action string

const (
	ActionAccept   Action = "accept"
	ActionRevise   Action = "revise"
	ActionReject   Action = "reject"
	ActionResubmit Action = "resubmit"
	ActionSubmit   Action = "submit"
	ActionUpload   Action = "upload"
	ActionGenerate Action = "generate"
	ActionPost     Action = "post"
)

// IsReview reports whether the action is a supervisor decision.
func (a Action) IsReview() bool {
	return a == ActionAccept || a == ActionRevise || a == ActionReject
}

// Role is the capability an account holds on one submission.
type Role string

const (
	RoleNone                Role = "none"
	RoleStudent             Role = "student"
	RolePrimarySupervisor   Role = "primary_supervisor"
	RoleSecondarySupervisor Role = "secondary_supervisor"
)

// IsParty reports whether the role belongs to somebody attached to the submission.
func (r Role) IsParty() bool {
	return r != RoleNone && r != ""
}

// ResolveRole determines what userID may do on sub.
func ResolveRole(sub *models.Submission, userID uint) (Role, error) {
	if sub == nil || userID == 0 {
		return RoleNone, nil
	}
	isPrimary := sub.PrimarySupervisorID != nil && *sub.PrimarySupervisorID == userID
	isSecondary := sub.SecondarySupervisorID != nil && *sub.SecondarySupervisorID == userID
	switch {
	case isPrimary && isSecondary:
		return RoleNone, &AmbiguousRoleError{SubmissionID: sub.ID, UserID: userID}
	case isPrimary:
		return RolePrimarySupervisor, nil
	case isSecondary:
		return RoleSecondarySupervisor, nil
	case sub.StudentID == userID:
		return RoleStudent, nil
	}
	return RoleNone, nil
}

// CanTransition reports whether role may perform action on an entity of kind.
// The secondary supervisor is read-only: every state change belongs to the
// primary supervisor or, for (re)submissions, to the student.
func CanTransition(role Role, kind EntityKind, action Action) bool {
	switch action {
	case ActionAccept, ActionRevise, ActionReject:
		switch kind {
		case KindSubmission, KindChapter, KindFinalReport:
			return role == RolePrimarySupervisor
		}
		return false
	case ActionResubmit, ActionSubmit, ActionUpload:
		return role == RoleStudent
	case ActionGenerate, ActionPost:
		return role.IsParty()
	}
	return false
}

// Authorize is CanTransition returning the typed error the caller surfaces.
func Authorize(role Role, kind EntityKind, action Action) error {
	if CanTransition(role, kind, action) {
		return nil
	}
	return &UnauthorizedRoleError{Kind: kind, Action: action, Role: role}
}

// ValidateAssignment enforces that both supervisor slots never hold the same lecturer.
func ValidateAssignment(primary, secondary *uint) error {
	if primary != nil && secondary != nil && *primary == *secondary {
		return ErrDuplicateSupervisor
	}
	return nil
}

// Parties returns the student and every assigned supervisor of sub.
func Parties(sub *models.Submission) []uint {
	ids := []uint{sub.StudentID}
	if sub.PrimarySupervisorID != nil {
		ids = append(ids, *sub.PrimarySupervisorID)
	}
	if sub.SecondarySupervisorID != nil && (sub.PrimarySupervisorID == nil || *sub.SecondarySupervisorID != *sub.PrimarySupervisorID) {
		ids = append(ids, *sub.SecondarySupervisorID)
	}
	return ids
}
