package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"bimbingan_go/models"
	"bimbingan_go/services/notifications"
	"bimbingan_go/services/realtime"
	"bimbingan_go/services/workflow"
	"bimbingan_go/utils"

	"github.com/sirupsen/logrus"
)

// ProposalInput is a new thesis title proposal.
type ProposalInput struct {
	Title                 string `json:"title" form:"title" validate:"required,min=5,max=255"`
	Description           string `json:"description" form:"description"`
	TopicArea             string `json:"topic_area" form:"topic_area" validate:"max=150"`
	Keywords              string `json:"keywords" form:"keywords" validate:"max=255"`
	ProposalRef           string `json:"proposal_ref" form:"proposal_ref"`
	PrimarySupervisorID   *uint  `json:"primary_supervisor_id" form:"primary_supervisor_id" validate:"required"`
	SecondarySupervisorID *uint  `json:"secondary_supervisor_id" form:"secondary_supervisor_id"`
}

// ProgressReport is the chapter progress of one submission.
type ProgressReport struct {
	SubmissionID     uint                       `json:"submission_id"`
	CurrentChapter   int                        `json:"current_chapter"`
	AcceptedChapters int64                      `json:"accepted_chapters"`
	ChapterCount     int                        `json:"chapter_count"`
	Chapters         []models.ChapterSubmission `json:"chapters"`
}

// Access loads a submission and the role userID holds on it. Users without a
// role get ErrNotParty.
func (o *Orchestrator) Access(ctx context.Context, submissionID, userID uint) (*models.Submission, workflow.Role, error) {
	pctx, cancel := o.persistCtx(ctx)
	defer cancel()

	sub, err := o.store.LoadSubmission(pctx, submissionID)
	if err != nil {
		return nil, workflow.RoleNone, err
	}
	role, err := workflow.ResolveRole(sub, userID)
	if err != nil {
		return nil, workflow.RoleNone, err
	}
	if !role.IsParty() {
		return nil, workflow.RoleNone, ErrNotParty
	}
	return sub, role, nil
}

// AuthorizeRoom lets only parties to a submission watch its room.
func (o *Orchestrator) AuthorizeRoom(ctx context.Context, userID, submissionID uint) error {
	_, _, err := o.Access(ctx, submissionID, userID)
	return err
}

// SubmitProposal creates a thesis title proposal for studentID and notifies
// the chosen supervisors.
func (o *Orchestrator) SubmitProposal(ctx context.Context, studentID uint, in ProposalInput) (*models.Submission, error) {
	if err := workflow.ValidateAssignment(in.PrimarySupervisorID, in.SecondarySupervisorID); err != nil {
		return nil, err
	}

	unlock := o.locks.Lock(proposalKey(studentID))
	defer unlock()

	pctx, cancel := o.persistCtx(ctx)
	defer cancel()

	active, err := o.store.ActiveSubmissionFor(pctx, studentID)
	switch {
	case err == nil:
		return nil, openCycleError(active)
	case !errors.Is(err, ErrNotFound):
		return nil, err
	}

	for _, id := range []*uint{in.PrimarySupervisorID, in.SecondarySupervisorID} {
		if id == nil {
			continue
		}
		if *id == studentID {
			return nil, ErrInvalidSupervisor
		}
		u, err := o.store.LoadUser(pctx, *id)
		if errors.Is(err, ErrNotFound) {
			return nil, ErrInvalidSupervisor
		}
		if err != nil {
			return nil, err
		}
		if u.Role != models.RoleLecturer || u.Status != models.StatusActive {
			return nil, ErrInvalidSupervisor
		}
	}

	sub := &models.Submission{
		StudentID:             studentID,
		Title:                 strings.TrimSpace(in.Title),
		Description:           in.Description,
		TopicArea:             in.TopicArea,
		Keywords:              in.Keywords,
		ProposalRef:           in.ProposalRef,
		Status:                models.SubmissionSubmitted,
		PrimarySupervisorID:   in.PrimarySupervisorID,
		SecondarySupervisorID: in.SecondarySupervisorID,
	}
	if err := o.store.CreateSubmission(pctx, sub); err != nil {
		return nil, err
	}

	o.notifyCreated(ctx, sub, studentID, notifications.Reference{
		EventType: "submission_submit",
		Token:     fmt.Sprintf("submission:%d", sub.ID),
	}, fmt.Sprintf("New thesis title proposal: %q", sub.Title))
	return sub, nil
}

// openCycleError refuses a second proposal while one is still open. Revised
// and rejected cycles continue through a resubmit of the existing row.
func openCycleError(active *models.Submission) error {
	reason := fmt.Sprintf("submission %d is still open", active.ID)
	switch active.Status {
	case models.SubmissionNeedsRevision, models.SubmissionRejected:
		reason = fmt.Sprintf("resubmit submission %d instead", active.ID)
	case models.SubmissionAccepted:
		reason = fmt.Sprintf("submission %d is already accepted", active.ID)
	}
	return &workflow.InvalidTransitionError{
		Kind:   workflow.KindSubmission,
		From:   string(active.Status),
		Action: workflow.ActionSubmit,
		Reason: reason,
	}
}

// SubmitChapter uploads chapter number for the student. A chapter that was sent
// back for revision is resubmitted through the state machine; a pending or
// accepted chapter cannot be replaced.
func (o *Orchestrator) SubmitChapter(ctx context.Context, submissionID, studentID uint, number int, documentRef string) (*Result, error) {
	unlock := o.locks.Lock(chapterSlotKey(submissionID, number))
	defer unlock()

	sub, role, err := o.Access(ctx, submissionID, studentID)
	if err != nil {
		return nil, err
	}
	if err := workflow.Authorize(role, workflow.KindChapter, workflow.ActionSubmit); err != nil {
		return nil, err
	}
	if err := workflow.RequireAcceptedSubmission(sub, workflow.KindChapter); err != nil {
		return nil, err
	}
	if err := workflow.ValidateChapterNumber(number, o.cfg.ChapterCount); err != nil {
		return nil, err
	}
	documentRef = strings.TrimSpace(documentRef)
	if documentRef == "" {
		return nil, &workflow.InvalidTransitionError{Kind: workflow.KindChapter, From: "none", Action: workflow.ActionSubmit, Reason: "a document is required"}
	}

	pctx, cancel := o.persistCtx(ctx)
	existing, err := o.store.ChapterByNumber(pctx, submissionID, number)
	cancel()
	switch {
	case err == nil:
		return o.ApplyTransition(ctx, workflow.KindChapter, existing.ID, studentID, workflow.Intent{
			Action:      workflow.ActionResubmit,
			DocumentRef: documentRef,
		})
	case !errors.Is(err, ErrNotFound):
		return nil, err
	}

	ch := &models.ChapterSubmission{
		SubmissionID:  submissionID,
		ChapterNumber: number,
		DocumentRef:   documentRef,
		Status:        models.ChapterPending,
		SubmittedAt:   o.now(),
	}
	pctx, cancel = o.persistCtx(ctx)
	err = o.store.CreateChapter(pctx, ch)
	cancel()
	if err != nil {
		return nil, err
	}

	res := &Result{
		Kind:         workflow.KindChapter,
		EntityID:     ch.ID,
		SubmissionID: submissionID,
		Action:       workflow.ActionSubmit,
		From:         "none",
		To:           string(ch.Status),
		Submission:   sub,
		Chapter:      ch,
	}
	o.publishCreated(ctx, res, studentID, fmt.Sprintf("chapter:%d", ch.ID))
	return res, nil
}

// UploadFinalReportSlot stores one final report document. The first upload
// creates the report; later uploads replace the slot while the report is
// pending, or resubmit it when it was sent back for revision.
func (o *Orchestrator) UploadFinalReportSlot(ctx context.Context, submissionID, studentID uint, slot workflow.FinalReportSlot, documentRef string) (*Result, error) {
	if _, err := workflow.ParseSlot(string(slot)); err != nil {
		return nil, &workflow.InvalidTransitionError{Kind: workflow.KindFinalReport, From: "none", Action: workflow.ActionUpload, Reason: err.Error()}
	}

	unlock := o.locks.Lock(fmt.Sprintf("final-report-of:%d", submissionID))
	defer unlock()

	sub, role, err := o.Access(ctx, submissionID, studentID)
	if err != nil {
		return nil, err
	}
	if err := workflow.Authorize(role, workflow.KindFinalReport, workflow.ActionUpload); err != nil {
		return nil, err
	}
	if err := workflow.RequireAcceptedSubmission(sub, workflow.KindFinalReport); err != nil {
		return nil, err
	}
	documentRef = strings.TrimSpace(documentRef)
	if documentRef == "" {
		return nil, &workflow.InvalidTransitionError{Kind: workflow.KindFinalReport, From: "none", Action: workflow.ActionUpload, Reason: "a document is required"}
	}

	pctx, cancel := o.persistCtx(ctx)
	report, err := o.store.FinalReportFor(pctx, submissionID)
	cancel()
	switch {
	case err == nil:
		action := workflow.ActionUpload
		if report.Status == models.FinalReportNeedsRevision {
			action = workflow.ActionResubmit
		}
		return o.ApplyTransition(ctx, workflow.KindFinalReport, report.ID, studentID, workflow.Intent{
			Action:      action,
			DocumentRef: documentRef,
			Slot:        slot,
		})
	case !errors.Is(err, ErrNotFound):
		return nil, err
	}

	report = &models.FinalReport{SubmissionID: submissionID, Status: models.FinalReportPending}
	*workflow.SlotField(report, slot) = documentRef
	pctx, cancel = o.persistCtx(ctx)
	err = o.store.CreateFinalReport(pctx, report)
	cancel()
	if err != nil {
		return nil, err
	}

	res := &Result{
		Kind:         workflow.KindFinalReport,
		EntityID:     report.ID,
		SubmissionID: submissionID,
		Action:       workflow.ActionSubmit,
		From:         "none",
		To:           string(report.Status),
		Submission:   sub,
		FinalReport:  report,
	}
	o.publishCreated(ctx, res, studentID, fmt.Sprintf("final-report:%d", report.ID))
	return res, nil
}

// SendMessage appends a chat message, broadcasts it to the room and notifies
// every other party on their personal channel.
func (o *Orchestrator) SendMessage(ctx context.Context, submissionID, senderID uint, content, attachmentRef string) (*models.Message, error) {
	content = strings.TrimSpace(content)
	attachmentRef = strings.TrimSpace(attachmentRef)
	if content == "" && attachmentRef == "" {
		return nil, ErrEmptyMessage
	}

	sub, role, err := o.Access(ctx, submissionID, senderID)
	if err != nil {
		return nil, err
	}
	if err := workflow.Authorize(role, workflow.KindMessage, workflow.ActionPost); err != nil {
		return nil, err
	}
	if sub.Status == models.SubmissionCancelled {
		return nil, &workflow.InvalidTransitionError{
			Kind:   workflow.KindMessage,
			From:   string(sub.Status),
			Action: workflow.ActionPost,
			Reason: "the submission was superseded by a newer one",
		}
	}

	msg := &models.Message{SubmissionID: submissionID, SenderID: senderID, Content: content, AttachmentRef: attachmentRef}
	pctx, cancel := o.persistCtx(ctx)
	err = o.store.CreateMessage(pctx, msg)
	cancel()
	if err != nil {
		return nil, err
	}

	fctx, cancel := o.fanoutCtx(ctx)
	defer cancel()
	if o.rooms != nil {
		o.rooms.BroadcastToRoom(submissionID, realtime.Event{Type: realtime.EventChatMessage, Data: utils.ToMessageDTO(*msg)})
	}
	if o.notifier != nil {
		msgID := msg.ID
		ref := notifications.Reference{
			SubmissionID: &submissionID,
			MessageID:    &msgID,
			EventType:    notifications.EventChatMessage,
			Token:        fmt.Sprintf("message:%d", msg.ID),
		}
		if _, err := o.notifier.Notify(fctx, notifications.RecipientsForMessage(sub, senderID), messagePreview(msg), ref); err != nil {
			logrus.WithError(err).WithField("message_id", msg.ID).Warn("chat notification incomplete")
		}
	}
	return msg, nil
}

// GenerateGuidanceCard creates the guidance card once the final report is
// accepted. Later calls return the card created first.
func (o *Orchestrator) GenerateGuidanceCard(ctx context.Context, submissionID, actorID uint) (*models.GuidanceCard, bool, error) {
	unlock := o.locks.Lock(entityKey(workflow.KindGuidanceCard, submissionID))
	defer unlock()

	sub, role, err := o.Access(ctx, submissionID, actorID)
	if err != nil {
		return nil, false, err
	}
	if err := workflow.Authorize(role, workflow.KindGuidanceCard, workflow.ActionGenerate); err != nil {
		return nil, false, err
	}

	pctx, cancel := o.persistCtx(ctx)
	defer cancel()

	report, err := o.store.FinalReportFor(pctx, submissionID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, false, err
	}
	if err := workflow.CanGenerateCard(report); err != nil {
		return nil, false, err
	}

	card, err := o.store.GuidanceCardFor(pctx, report.ID)
	if err == nil {
		return card, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, false, err
	}

	chapters, err := o.store.ListChapters(pctx, submissionID)
	if err != nil {
		return nil, false, err
	}
	messages, err := o.store.CountMessages(pctx, submissionID)
	if err != nil {
		return nil, false, err
	}

	card, created, err := o.store.CreateGuidanceCard(pctx, &models.GuidanceCard{
		SubmissionID:     submissionID,
		FinalReportID:    report.ID,
		StudentID:        sub.StudentID,
		MessageCount:     messages,
		AcceptedChapters: workflow.AcceptedCount(chapters),
		ProgressChapter:  workflow.CurrentProgress(chapters),
		GeneratedAt:      o.now(),
	})
	if err != nil {
		return nil, false, err
	}
	if created {
		o.notifyCreated(ctx, sub, actorID, notifications.Reference{
			EventType: "guidance_card_generate",
			Token:     fmt.Sprintf("guidance-card:%d", card.ID),
		}, "The guidance card is ready")
	}
	return card, created, nil
}

// Progress reports chapter progress to any party of the submission.
func (o *Orchestrator) Progress(ctx context.Context, submissionID, userID uint) (*ProgressReport, error) {
	if _, _, err := o.Access(ctx, submissionID, userID); err != nil {
		return nil, err
	}
	pctx, cancel := o.persistCtx(ctx)
	defer cancel()

	chapters, err := o.store.ListChapters(pctx, submissionID)
	if err != nil {
		return nil, err
	}
	return &ProgressReport{
		SubmissionID:     submissionID,
		CurrentChapter:   workflow.CurrentProgress(chapters),
		AcceptedChapters: workflow.AcceptedCount(chapters),
		ChapterCount:     o.cfg.ChapterCount,
		Chapters:         chapters,
	}, nil
}

// publishCreated announces a first upload the way publishTransition announces a change.
func (o *Orchestrator) publishCreated(ctx context.Context, res *Result, actorID uint, token string) {
	fctx, cancel := o.fanoutCtx(ctx)
	defer cancel()

	if o.rooms != nil {
		report := o.rooms.BroadcastToRoom(res.SubmissionID, realtime.Event{Type: realtime.EventStatusChanged, Data: utils.StatusChangeDTO{
			SubmissionID: res.SubmissionID,
			EntityKind:   string(res.Kind),
			EntityID:     res.EntityID,
			Action:       string(res.Action),
			From:         res.From,
			To:           res.To,
			ActorID:      actorID,
			At:           o.now(),
		}})
		res.Delivered = report.Delivered
	}
	if o.notifier == nil {
		return
	}
	subID := res.SubmissionID
	n, err := o.notifier.Notify(fctx, notifications.RecipientsForStatusChange(res.Submission, actorID), describe(res), notifications.Reference{
		SubmissionID: &subID,
		EventType:    fmt.Sprintf("%s_%s", res.Kind, res.Action),
		Token:        token,
	})
	if err != nil {
		logrus.WithError(err).WithField("entity_id", res.EntityID).Warn("submit notification incomplete")
	}
	res.Notified = n
}

func (o *Orchestrator) notifyCreated(ctx context.Context, sub *models.Submission, actorID uint, ref notifications.Reference, text string) {
	if o.notifier == nil {
		return
	}
	fctx, cancel := o.fanoutCtx(ctx)
	defer cancel()
	subID := sub.ID
	ref.SubmissionID = &subID
	if _, err := o.notifier.Notify(fctx, notifications.RecipientsForStatusChange(sub, actorID), text, ref); err != nil {
		logrus.WithError(err).WithField("submission_id", sub.ID).Warn("notification incomplete")
	}
}

const previewLen = 80

func messagePreview(m *models.Message) string {
	if m.Content == "" {
		return "New attachment in the guidance chat"
	}
	text := m.Content
	if utf8.RuneCountInString(text) > previewLen {
		text = string([]rune(text)[:previewLen]) + "..."
	}
	return "New message: " + text
}
