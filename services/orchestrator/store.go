package orchestrator

import (
	"context"
	"errors"
	"time"

	"bimbingan_go/models"
	"bimbingan_go/services/workflow"
)

var (
	// ErrNotFound is returned by a Store when the requested row does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrConflict is returned by a Store when a uniqueness constraint rejects a write.
	ErrConflict = errors.New("record already exists")
	// ErrNotParty means the user holds no role on the submission.
	ErrNotParty = errors.New("you are not a party to this submission")
	// ErrEmptyMessage rejects a chat message without text and attachment.
	ErrEmptyMessage = errors.New("a message needs text or an attachment")
	// ErrInvalidSupervisor rejects a proposal naming somebody who is not an active lecturer.
	ErrInvalidSupervisor = errors.New("supervisor must be an active lecturer")
)

// Change is a validated transition handed to the Store for persistence.
type Change struct {
	EntityID     uint
	SubmissionID uint
	ActorID      uint
	Outcome      workflow.Outcome
	At           time.Time
}

// Saved is what the Store wrote. Submission is always the parent after the
// change; when a rejected proposal starts a new cycle it is the new row.
type Saved struct {
	TransitionID uint
	Submission   *models.Submission
	Chapter      *models.ChapterSubmission
	FinalReport  *models.FinalReport
}

// Store is the persistence collaborator. Implementations translate storage
// errors into ErrNotFound, ErrConflict and, for a lost compare-and-set in
// SaveTransition, *workflow.InvalidTransitionError.
type Store interface {
	LoadSubmission(ctx context.Context, id uint) (*models.Submission, error)
	LoadChapter(ctx context.Context, id uint) (*models.ChapterSubmission, error)
	LoadFinalReport(ctx context.Context, id uint) (*models.FinalReport, error)
	LoadUser(ctx context.Context, id uint) (*models.User, error)
	// ActiveSubmissionFor returns the student's newest submission that has not
	// been cancelled, or ErrNotFound.
	ActiveSubmissionFor(ctx context.Context, studentID uint) (*models.Submission, error)

	ChapterByNumber(ctx context.Context, submissionID uint, number int) (*models.ChapterSubmission, error)
	ListChapters(ctx context.Context, submissionID uint) ([]models.ChapterSubmission, error)
	FinalReportFor(ctx context.Context, submissionID uint) (*models.FinalReport, error)
	GuidanceCardFor(ctx context.Context, finalReportID uint) (*models.GuidanceCard, error)
	CountMessages(ctx context.Context, submissionID uint) (int64, error)
	// MessagesAfter pages the chat oldest first, starting after afterID.
	MessagesAfter(ctx context.Context, submissionID, afterID uint, limit int) ([]models.Message, error)

	// SaveTransition locks the entity row, checks its status still equals
	// Outcome.From and applies the outcome in one transaction.
	SaveTransition(ctx context.Context, change Change) (*Saved, error)

	CreateSubmission(ctx context.Context, sub *models.Submission) error
	CreateChapter(ctx context.Context, ch *models.ChapterSubmission) error
	CreateFinalReport(ctx context.Context, r *models.FinalReport) error
	CreateMessage(ctx context.Context, m *models.Message) error
	// CreateGuidanceCard inserts card unless one exists for its final report,
	// in which case the existing card is returned with created=false.
	CreateGuidanceCard(ctx context.Context, card *models.GuidanceCard) (stored *models.GuidanceCard, created bool, err error)
}
