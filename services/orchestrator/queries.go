package orchestrator

import (
	"context"

	"bimbingan_go/models"
)

const (
	historyPage     = 50
	historyMaxPage  = 200
	cardMaxMessages = 2000
)

// CardDetails is everything printed on an exported guidance card.
type CardDetails struct {
	Card       *models.GuidanceCard
	Submission *models.Submission
	Student    *models.User
	Primary    *models.User
	Secondary  *models.User
	Chapters   []models.ChapterSubmission
	Messages   []models.Message
}

// History returns chat messages after afterID, oldest first. A client that
// reconnects passes the last id it saw to fetch what it missed.
func (o *Orchestrator) History(ctx context.Context, submissionID, userID, afterID uint, limit int) ([]models.Message, error) {
	if _, _, err := o.Access(ctx, submissionID, userID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = historyPage
	}
	if limit > historyMaxPage {
		limit = historyMaxPage
	}

	pctx, cancel := o.persistCtx(ctx)
	defer cancel()
	return o.store.MessagesAfter(pctx, submissionID, afterID, limit)
}

// CardDetails loads a generated guidance card with its submission, people,
// chapters and chat log. ErrNotFound means no card has been generated yet.
func (o *Orchestrator) CardDetails(ctx context.Context, submissionID, userID uint) (*CardDetails, error) {
	sub, _, err := o.Access(ctx, submissionID, userID)
	if err != nil {
		return nil, err
	}

	pctx, cancel := o.persistCtx(ctx)
	defer cancel()

	report, err := o.store.FinalReportFor(pctx, submissionID)
	if err != nil {
		return nil, err
	}
	card, err := o.store.GuidanceCardFor(pctx, report.ID)
	if err != nil {
		return nil, err
	}

	d := &CardDetails{Card: card, Submission: sub}
	if d.Student, err = o.store.LoadUser(pctx, sub.StudentID); err != nil {
		return nil, err
	}
	if d.Primary, err = o.optionalUser(pctx, sub.PrimarySupervisorID); err != nil {
		return nil, err
	}
	if d.Secondary, err = o.optionalUser(pctx, sub.SecondarySupervisorID); err != nil {
		return nil, err
	}
	if d.Chapters, err = o.store.ListChapters(pctx, submissionID); err != nil {
		return nil, err
	}

	var after uint
	for len(d.Messages) < cardMaxMessages {
		page, err := o.store.MessagesAfter(pctx, submissionID, after, historyMaxPage)
		if err != nil {
			return nil, err
		}
		d.Messages = append(d.Messages, page...)
		if len(page) < historyMaxPage {
			break
		}
		after = page[len(page)-1].ID
	}
	return d, nil
}

func (o *Orchestrator) optionalUser(ctx context.Context, id *uint) (*models.User, error) {
	if id == nil {
		return nil, nil
	}
	return o.store.LoadUser(ctx, *id)
}

// FinalReport returns the final report of a submission to any of its parties.
func (o *Orchestrator) FinalReport(ctx context.Context, submissionID, userID uint) (*models.FinalReport, error) {
	if _, _, err := o.Access(ctx, submissionID, userID); err != nil {
		return nil, err
	}
	pctx, cancel := o.persistCtx(ctx)
	defer cancel()
	return o.store.FinalReportFor(pctx, submissionID)
}
