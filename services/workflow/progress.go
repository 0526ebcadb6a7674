package workflow

import (
	"fmt"

	"bimbingan_go/models"
)

// CurrentProgress is the highest chapter number that has been accepted.
// Chapters may be accepted out of order; the maximum wins, not the
// contiguous prefix.
func CurrentProgress(chapters []models.ChapterSubmission) int {
	progress := 0
	for _, ch := range chapters {
		if ch.Status == models.ChapterAccepted && ch.ChapterNumber > progress {
			progress = ch.ChapterNumber
		}
	}
	return progress
}

// AcceptedCount counts accepted chapters.
func AcceptedCount(chapters []models.ChapterSubmission) int64 {
	var n int64
	for _, ch := range chapters {
		if ch.Status == models.ChapterAccepted {
			n++
		}
	}
	return n
}

// ValidateChapterNumber checks n against the configured chapter count.
func ValidateChapterNumber(n, max int) error {
	if n < 1 || n > max {
		return &InvalidTransitionError{
			Kind:   KindChapter,
			From:   "none",
			Action: ActionSubmit,
			Reason: fmt.Sprintf("chapter number must be between 1 and %d", max),
		}
	}
	return nil
}

// RequireAcceptedSubmission gates chapter and final report work on an accepted title.
func RequireAcceptedSubmission(sub *models.Submission, kind EntityKind) error {
	if sub.Status != models.SubmissionAccepted {
		return &InvalidTransitionError{
			Kind:   kind,
			From:   "none",
			Action: ActionSubmit,
			Reason: fmt.Sprintf("the thesis title is %s, not accepted", sub.Status),
		}
	}
	return nil
}
