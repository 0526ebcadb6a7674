package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"bimbingan_go/models"
	"bimbingan_go/services/realtime"
	"bimbingan_go/services/workflow"
)

const (
	lecturerOne uint = 1
	lecturerTwo uint = 2
	student     uint = 10
	outsider    uint = 11
)

func ptr(v uint) *uint { return &v }

type fixture struct {
	store *memStore
	rec   *recorder
	orch  *Orchestrator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := newMemStore()
	for _, u := range []models.User{
		{BaseModel: models.BaseModel{ID: lecturerOne}, Role: models.RoleLecturer, Status: models.StatusActive},
		{BaseModel: models.BaseModel{ID: lecturerTwo}, Role: models.RoleLecturer, Status: models.StatusActive},
		{BaseModel: models.BaseModel{ID: 3}, Role: models.RoleLecturer, Status: models.StatusBlocked},
		{BaseModel: models.BaseModel{ID: student}, Role: models.RoleStudent, Status: models.StatusActive},
		{BaseModel: models.BaseModel{ID: outsider}, Role: models.RoleStudent, Status: models.StatusActive},
	} {
		u := u
		store.users[u.ID] = &u
	}
	rec := newRecorder()
	return &fixture{store: store, rec: rec, orch: New(store, rec, rec, Config{ChapterCount: 5})}
}

func (f *fixture) submission(t *testing.T, status models.SubmissionStatus) *models.Submission {
	t.Helper()
	sub := &models.Submission{
		StudentID:             student,
		Title:                 "Realtime supervision",
		ProposalRef:           "docs/proposal-v1.pdf",
		Status:                status,
		PrimarySupervisorID:   ptr(lecturerOne),
		SecondarySupervisorID: ptr(lecturerTwo),
	}
	if err := f.store.CreateSubmission(context.Background(), sub); err != nil {
		t.Fatalf("create submission: %v", err)
	}
	return sub
}

func (f *fixture) chapter(t *testing.T, subID uint, number int, status models.ChapterStatus) *models.ChapterSubmission {
	t.Helper()
	ch := &models.ChapterSubmission{SubmissionID: subID, ChapterNumber: number, DocumentRef: "docs/ch-old.pdf", Status: status}
	if err := f.store.CreateChapter(context.Background(), ch); err != nil {
		t.Fatalf("create chapter: %v", err)
	}
	return ch
}

func (f *fixture) report(t *testing.T, subID uint, status models.FinalReportStatus) *models.FinalReport {
	t.Helper()
	r := &models.FinalReport{SubmissionID: subID, FinalTextRef: "docs/final-v1.pdf", Status: status}
	if err := f.store.CreateFinalReport(context.Background(), r); err != nil {
		t.Fatalf("create report: %v", err)
	}
	return r
}

func TestSecondarySupervisorCannotAcceptThenPrimaryCan(t *testing.T) {
	f := newFixture(t)
	sub := f.submission(t, models.SubmissionSubmitted)
	ctx := context.Background()

	_, err := f.orch.ApplyTransition(ctx, workflow.KindSubmission, sub.ID, lecturerTwo, workflow.Intent{Action: workflow.ActionAccept})
	var denied *workflow.UnauthorizedRoleError
	if !errors.As(err, &denied) {
		t.Fatalf("expected UnauthorizedRoleError, got %v", err)
	}
	if got, _ := f.store.LoadSubmission(ctx, sub.ID); got.Status != models.SubmissionSubmitted {
		t.Fatalf("status changed to %s", got.Status)
	}
	if f.store.saves != 0 {
		t.Fatalf("nothing should be persisted on a denied transition")
	}

	res, err := f.orch.ApplyTransition(ctx, workflow.KindSubmission, sub.ID, lecturerOne, workflow.Intent{Action: workflow.ActionAccept})
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if res.To != string(models.SubmissionAccepted) {
		t.Fatalf("expected accepted, got %s", res.To)
	}
	if n := len(f.rec.notificationsFor(student)); n != 1 {
		t.Fatalf("student expected one notification, got %d", n)
	}
	if n := len(f.rec.notificationsFor(lecturerTwo)); n != 1 {
		t.Fatalf("secondary supervisor expected one notification, got %d", n)
	}
	if n := len(f.rec.notificationsFor(lecturerOne)); n != 0 {
		t.Fatalf("actor must not be notified, got %d", n)
	}
	events := f.rec.roomEvents(sub.ID)
	if len(events) != 1 || events[0].Type != realtime.EventStatusChanged {
		t.Fatalf("expected one status-changed event, got %+v", events)
	}
}

func TestAcceptedChapterIsImmutable(t *testing.T) {
	f := newFixture(t)
	sub := f.submission(t, models.SubmissionAccepted)
	ch := f.chapter(t, sub.ID, 1, models.ChapterAccepted)

	intents := []struct {
		actor uint
		in    workflow.Intent
	}{
		{lecturerOne, workflow.Intent{Action: workflow.ActionAccept}},
		{lecturerOne, workflow.Intent{Action: workflow.ActionRevise, Notes: "again"}},
		{student, workflow.Intent{Action: workflow.ActionResubmit, DocumentRef: "docs/ch-new.pdf"}},
	}
	for _, tc := range intents {
		_, err := f.orch.ApplyTransition(context.Background(), workflow.KindChapter, ch.ID, tc.actor, tc.in)
		var immutable *workflow.ImmutableStateError
		if !errors.As(err, &immutable) {
			t.Fatalf("%s: expected ImmutableStateError, got %v", tc.in.Action, err)
		}
	}
	got, _ := f.store.LoadChapter(context.Background(), ch.ID)
	if got.Status != models.ChapterAccepted || got.DocumentRef != "docs/ch-old.pdf" {
		t.Fatalf("chapter mutated: %+v", got)
	}
}

func TestChapterResubmitSupersedesDocument(t *testing.T) {
	f := newFixture(t)
	sub := f.submission(t, models.SubmissionAccepted)
	ch := f.chapter(t, sub.ID, 2, models.ChapterNeedsRevision)

	res, err := f.orch.SubmitChapter(context.Background(), sub.ID, student, 2, "docs/ch-new.pdf")
	if err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	if res.EntityID != ch.ID || res.To != string(models.ChapterPending) {
		t.Fatalf("unexpected result %+v", res)
	}
	got, _ := f.store.LoadChapter(context.Background(), ch.ID)
	if got.ChapterNumber != 2 || got.DocumentRef != "docs/ch-new.pdf" || got.Status != models.ChapterPending {
		t.Fatalf("unexpected chapter %+v", got)
	}
	if len(f.store.history) != 1 || f.store.history[0].DocumentRef != "docs/ch-old.pdf" {
		t.Fatalf("expected the old document in history, got %+v", f.store.history)
	}
	for _, uid := range []uint{lecturerOne, lecturerTwo} {
		if n := len(f.rec.notificationsFor(uid)); n != 1 {
			t.Fatalf("supervisor %d expected one notification, got %d", uid, n)
		}
	}
}

func TestSubmitChapterRules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pending := f.submission(t, models.SubmissionSubmitted)
	sub := f.submission(t, models.SubmissionAccepted)
	f.chapter(t, sub.ID, 1, models.ChapterPending)

	tests := []struct {
		name   string
		subID  uint
		actor  uint
		number int
		doc    string
		check  func(error) bool
	}{
		{"supervisor cannot upload", sub.ID, lecturerOne, 2, "d", isUnauthorized},
		{"outsider is not a party", sub.ID, outsider, 2, "d", func(err error) bool { return errors.Is(err, ErrNotParty) }},
		{"title not accepted", pending.ID, student, 1, "d", isInvalid},
		{"chapter out of range", sub.ID, student, 6, "d", isInvalid},
		{"document required", sub.ID, student, 2, "  ", isInvalid},
		{"pending chapter cannot be replaced", sub.ID, student, 1, "d", isInvalid},
	}
	for _, tc := range tests {
		_, err := f.orch.SubmitChapter(ctx, tc.subID, tc.actor, tc.number, tc.doc)
		if !tc.check(err) {
			t.Fatalf("%s: unexpected error %v", tc.name, err)
		}
	}

	res, err := f.orch.SubmitChapter(ctx, sub.ID, student, 3, "docs/ch3.pdf")
	if err != nil {
		t.Fatalf("submit chapter 3: %v", err)
	}
	if res.From != "none" || res.To != string(models.ChapterPending) || res.Chapter.ChapterNumber != 3 {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestProgressUsesHighestAcceptedChapter(t *testing.T) {
	f := newFixture(t)
	sub := f.submission(t, models.SubmissionAccepted)
	ch1 := f.chapter(t, sub.ID, 1, models.ChapterPending)
	ch2 := f.chapter(t, sub.ID, 2, models.ChapterPending)
	ch3 := f.chapter(t, sub.ID, 3, models.ChapterPending)
	ctx := context.Background()

	steps := []struct {
		id   uint
		want int
	}{
		{ch3.ID, 3},
		{ch1.ID, 3},
		{ch2.ID, 3},
	}
	for _, s := range steps {
		if _, err := f.orch.ApplyTransition(ctx, workflow.KindChapter, s.id, lecturerOne, workflow.Intent{Action: workflow.ActionAccept}); err != nil {
			t.Fatalf("accept %d: %v", s.id, err)
		}
		p, err := f.orch.Progress(ctx, sub.ID, student)
		if err != nil {
			t.Fatalf("progress: %v", err)
		}
		if p.CurrentChapter != s.want {
			t.Fatalf("expected progress %d, got %d", s.want, p.CurrentChapter)
		}
	}
}

func TestRejectedSubmissionStartsNewCycle(t *testing.T) {
	f := newFixture(t)
	sub := f.submission(t, models.SubmissionRejected)
	ctx := context.Background()

	res, err := f.orch.ApplyTransition(ctx, workflow.KindSubmission, sub.ID, student, workflow.Intent{Action: workflow.ActionResubmit, DocumentRef: "docs/proposal-v2.pdf"})
	if err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	if res.SubmissionID == sub.ID {
		t.Fatalf("expected a new submission row")
	}
	prior, _ := f.store.LoadSubmission(ctx, sub.ID)
	if prior.Status != models.SubmissionCancelled {
		t.Fatalf("prior cycle should be cancelled, got %s", prior.Status)
	}
	next, _ := f.store.LoadSubmission(ctx, res.SubmissionID)
	if next.Status != models.SubmissionSubmitted || next.PreviousID == nil || *next.PreviousID != sub.ID {
		t.Fatalf("unexpected new cycle %+v", next)
	}

	_, err = f.orch.ApplyTransition(ctx, workflow.KindSubmission, sub.ID, lecturerOne, workflow.Intent{Action: workflow.ActionAccept})
	if !isInvalid(err) {
		t.Fatalf("cancelled submission must reject every action, got %v", err)
	}
}

func TestConcurrentReviewersOnlyOneWins(t *testing.T) {
	f := newFixture(t)
	f.store.saveDelay = 5 * time.Millisecond
	sub := f.submission(t, models.SubmissionAccepted)
	ch := f.chapter(t, sub.ID, 1, models.ChapterPending)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		wins     int
		failures []error
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			in := workflow.Intent{Action: workflow.ActionAccept}
			if i%2 == 1 {
				in = workflow.Intent{Action: workflow.ActionRevise, Notes: "fix references"}
			}
			_, err := f.orch.ApplyTransition(context.Background(), workflow.KindChapter, ch.ID, lecturerOne, in)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				wins++
				return
			}
			failures = append(failures, err)
		}(i)
	}
	wg.Wait()

	if wins != 1 {
		t.Fatalf("expected exactly one transition to succeed, got %d", wins)
	}
	for _, err := range failures {
		if !workflow.IsRuleViolation(err) {
			t.Fatalf("unexpected failure %v", err)
		}
	}
	if f.orch.locks.size() != 0 {
		t.Fatalf("expected lock table to be empty")
	}
}

func TestTransitionSurvivesCallerCancellation(t *testing.T) {
	f := newFixture(t)
	sub := f.submission(t, models.SubmissionSubmitted)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := f.orch.ApplyTransition(ctx, workflow.KindSubmission, sub.ID, lecturerOne, workflow.Intent{Action: workflow.ActionRevise, Notes: "narrow the scope"}); err != nil {
		t.Fatalf("transition should not observe caller cancellation: %v", err)
	}
	got, _ := f.store.LoadSubmission(context.Background(), sub.ID)
	if got.Status != models.SubmissionNeedsRevision || got.Reason != "narrow the scope" {
		t.Fatalf("unexpected submission %+v", got)
	}
	texts := f.rec.notificationsFor(student)
	if len(texts) != 1 || !strings.Contains(texts[0], "needs revision: narrow the scope") {
		t.Fatalf("unexpected notification %v", texts)
	}
}

func TestSendMessageFansOut(t *testing.T) {
	f := newFixture(t)
	sub := f.submission(t, models.SubmissionAccepted)
	ctx := context.Background()

	if _, err := f.orch.SendMessage(ctx, sub.ID, student, "  ", ""); !errors.Is(err, ErrEmptyMessage) {
		t.Fatalf("expected ErrEmptyMessage, got %v", err)
	}
	if _, err := f.orch.SendMessage(ctx, sub.ID, outsider, "hi", ""); !errors.Is(err, ErrNotParty) {
		t.Fatalf("expected ErrNotParty, got %v", err)
	}

	msg, err := f.orch.SendMessage(ctx, sub.ID, lecturerTwo, "Please see my comments", "")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	events := f.rec.roomEvents(sub.ID)
	if len(events) != 1 || events[0].Type != realtime.EventChatMessage {
		t.Fatalf("expected chat-message in room, got %+v", events)
	}
	for _, uid := range []uint{student, lecturerOne} {
		if n := len(f.rec.notificationsFor(uid)); n != 1 {
			t.Fatalf("user %d expected one notification, got %d", uid, n)
		}
	}
	if n := len(f.rec.notificationsFor(lecturerTwo)); n != 0 {
		t.Fatalf("sender must not be notified")
	}
	if msg.ID == 0 {
		t.Fatalf("expected message id")
	}
}

func TestGuidanceCardIsIdempotent(t *testing.T) {
	f := newFixture(t)
	sub := f.submission(t, models.SubmissionAccepted)
	ctx := context.Background()

	if _, _, err := f.orch.GenerateGuidanceCard(ctx, sub.ID, student); !isInvalid(err) {
		t.Fatalf("expected InvalidTransitionError without a report, got %v", err)
	}
	r := f.report(t, sub.ID, models.FinalReportPending)
	if _, _, err := f.orch.GenerateGuidanceCard(ctx, sub.ID, student); !isInvalid(err) {
		t.Fatalf("expected InvalidTransitionError for a pending report, got %v", err)
	}

	f.chapter(t, sub.ID, 1, models.ChapterAccepted)
	f.chapter(t, sub.ID, 4, models.ChapterAccepted)
	f.orch.SendMessage(ctx, sub.ID, student, "hello", "")
	if _, err := f.orch.ApplyTransition(ctx, workflow.KindFinalReport, r.ID, lecturerOne, workflow.Intent{Action: workflow.ActionAccept}); err != nil {
		t.Fatalf("accept report: %v", err)
	}

	first, created, err := f.orch.GenerateGuidanceCard(ctx, sub.ID, student)
	if err != nil || !created {
		t.Fatalf("first generation: created=%v err=%v", created, err)
	}
	second, created, err := f.orch.GenerateGuidanceCard(ctx, sub.ID, lecturerOne)
	if err != nil || created {
		t.Fatalf("second generation: created=%v err=%v", created, err)
	}
	if first.ID != second.ID {
		t.Fatalf("expected the same card, got %d and %d", first.ID, second.ID)
	}
	if first.AcceptedChapters != 2 || first.ProgressChapter != 4 || first.MessageCount != 1 {
		t.Fatalf("unexpected card %+v", first)
	}
}

func TestFinalReportUploadFlow(t *testing.T) {
	f := newFixture(t)
	sub := f.submission(t, models.SubmissionAccepted)
	ctx := context.Background()

	res, err := f.orch.UploadFinalReportSlot(ctx, sub.ID, student, workflow.SlotAbstract, "docs/abstract.pdf")
	if err != nil {
		t.Fatalf("first upload: %v", err)
	}
	reportID := res.EntityID
	if _, err := f.orch.UploadFinalReportSlot(ctx, sub.ID, student, workflow.SlotAbstract, "docs/abstract-v2.pdf"); err != nil {
		t.Fatalf("replace while pending: %v", err)
	}
	if _, err := f.orch.UploadFinalReportSlot(ctx, sub.ID, student, "cover", "x"); !isInvalid(err) {
		t.Fatalf("expected InvalidTransitionError for unknown slot, got %v", err)
	}

	if _, err := f.orch.ApplyTransition(ctx, workflow.KindFinalReport, reportID, lecturerOne, workflow.Intent{Action: workflow.ActionRevise, Notes: "sign the approval sheet"}); err != nil {
		t.Fatalf("revise: %v", err)
	}
	res, err = f.orch.UploadFinalReportSlot(ctx, sub.ID, student, workflow.SlotApprovalSheet, "docs/approval.pdf")
	if err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	if res.Action != workflow.ActionResubmit || res.To != string(models.FinalReportPending) {
		t.Fatalf("unexpected resubmit result %+v", res)
	}

	if _, err := f.orch.ApplyTransition(ctx, workflow.KindFinalReport, reportID, lecturerOne, workflow.Intent{Action: workflow.ActionAccept}); err != nil {
		t.Fatalf("accept: %v", err)
	}
	_, err = f.orch.UploadFinalReportSlot(ctx, sub.ID, student, workflow.SlotAbstract, "docs/abstract-v3.pdf")
	var immutable *workflow.ImmutableStateError
	if !errors.As(err, &immutable) {
		t.Fatalf("expected ImmutableStateError after acceptance, got %v", err)
	}
	got, _ := f.store.LoadFinalReport(ctx, reportID)
	if got.AbstractRef != "docs/abstract-v2.pdf" || got.ApprovalSheetRef != "docs/approval.pdf" {
		t.Fatalf("unexpected slots %+v", got)
	}
}

func TestSubmitProposalValidatesSupervisors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name      string
		primary   *uint
		secondary *uint
		want      error
	}{
		{"same lecturer twice", ptr(lecturerOne), ptr(lecturerOne), workflow.ErrDuplicateSupervisor},
		{"inactive lecturer", ptr(3), nil, ErrInvalidSupervisor},
		{"student as supervisor", ptr(outsider), nil, ErrInvalidSupervisor},
		{"unknown user", ptr(99), nil, ErrInvalidSupervisor},
	}
	for _, tc := range tests {
		_, err := f.orch.SubmitProposal(ctx, student, ProposalInput{Title: "A thesis", PrimarySupervisorID: tc.primary, SecondarySupervisorID: tc.secondary})
		if !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
	}

	sub, err := f.orch.SubmitProposal(ctx, student, ProposalInput{Title: "A thesis", PrimarySupervisorID: ptr(lecturerOne), SecondarySupervisorID: ptr(lecturerTwo)})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if sub.Status != models.SubmissionSubmitted {
		t.Fatalf("unexpected status %s", sub.Status)
	}
	for _, uid := range []uint{lecturerOne, lecturerTwo} {
		if n := len(f.rec.notificationsFor(uid)); n != 1 {
			t.Fatalf("supervisor %d expected a notification, got %d", uid, n)
		}
	}
}

func TestSubmitProposalKeepsOneOpenCycle(t *testing.T) {
	ctx := context.Background()
	in := ProposalInput{Title: "A second thesis", PrimarySupervisorID: ptr(lecturerOne)}

	for _, status := range []models.SubmissionStatus{
		models.SubmissionSubmitted,
		models.SubmissionNeedsRevision,
		models.SubmissionAccepted,
		models.SubmissionRejected,
	} {
		f := newFixture(t)
		open := f.submission(t, status)
		_, err := f.orch.SubmitProposal(ctx, student, in)
		var invalid *workflow.InvalidTransitionError
		if !errors.As(err, &invalid) {
			t.Fatalf("%s: expected InvalidTransitionError, got %v", status, err)
		}
		if invalid.From != string(status) || !strings.Contains(invalid.Reason, "submission") {
			t.Fatalf("%s: unexpected error %v", status, invalid)
		}
		if n := len(f.store.submissions); n != 1 {
			t.Fatalf("%s: expected only submission %d, have %d rows", status, open.ID, n)
		}
	}

	// a cancelled cycle does not block, and neither does another student's
	f := newFixture(t)
	f.submission(t, models.SubmissionCancelled)
	if _, err := f.orch.SubmitProposal(ctx, student, in); err != nil {
		t.Fatalf("proposal after cancelled cycle: %v", err)
	}
	if _, err := f.orch.SubmitProposal(ctx, outsider, in); err != nil {
		t.Fatalf("proposal by another student: %v", err)
	}
}

func TestSubmitProposalAcceptedThenAgain(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	in := ProposalInput{Title: "A thesis", PrimarySupervisorID: ptr(lecturerOne)}

	sub, err := f.orch.SubmitProposal(ctx, student, in)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := f.orch.ApplyTransition(ctx, workflow.KindSubmission, sub.ID, lecturerOne, workflow.Intent{Action: workflow.ActionAccept}); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if _, err := f.orch.SubmitProposal(ctx, student, in); !isInvalid(err) {
		t.Fatalf("second proposal after acceptance should fail, got %v", err)
	}
	if f.orch.locks.size() != 0 {
		t.Fatalf("proposal lock leaked")
	}
}

func TestSendMessageRejectsCancelledSubmission(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	sub := f.submission(t, models.SubmissionRejected)

	res, err := f.orch.ApplyTransition(ctx, workflow.KindSubmission, sub.ID, student, workflow.Intent{Action: workflow.ActionResubmit, DocumentRef: "docs/proposal-v2.pdf"})
	if err != nil {
		t.Fatalf("resubmit: %v", err)
	}

	if _, err := f.orch.SendMessage(ctx, sub.ID, student, "still there?", ""); !isInvalid(err) {
		t.Fatalf("chat on a cancelled submission should fail, got %v", err)
	}
	if len(f.store.messages) != 0 {
		t.Fatalf("no message should be stored, have %d", len(f.store.messages))
	}
	if _, err := f.orch.SendMessage(ctx, res.SubmissionID, student, "new cycle", ""); err != nil {
		t.Fatalf("chat on the live cycle: %v", err)
	}
}

func TestAuthorizeRoom(t *testing.T) {
	f := newFixture(t)
	sub := f.submission(t, models.SubmissionSubmitted)
	broken := &models.Submission{StudentID: student, Status: models.SubmissionSubmitted, PrimarySupervisorID: ptr(lecturerOne), SecondarySupervisorID: ptr(lecturerOne)}
	f.store.CreateSubmission(context.Background(), broken)

	tests := []struct {
		user  uint
		subID uint
		check func(error) bool
	}{
		{student, sub.ID, func(err error) bool { return err == nil }},
		{lecturerTwo, sub.ID, func(err error) bool { return err == nil }},
		{outsider, sub.ID, func(err error) bool { return errors.Is(err, ErrNotParty) }},
		{student, 9999, func(err error) bool { return errors.Is(err, ErrNotFound) }},
		{lecturerOne, broken.ID, func(err error) bool {
			var ambiguous *workflow.AmbiguousRoleError
			return errors.As(err, &ambiguous)
		}},
	}
	for _, tc := range tests {
		if err := f.orch.AuthorizeRoom(context.Background(), tc.user, tc.subID); !tc.check(err) {
			t.Fatalf("user %d submission %d: unexpected %v", tc.user, tc.subID, err)
		}
	}
}

func isInvalid(err error) bool {
	var invalid *workflow.InvalidTransitionError
	return errors.As(err, &invalid)
}

func isUnauthorized(err error) bool {
	var denied *workflow.UnauthorizedRoleError
	return errors.As(err, &denied)
}

func TestHistoryResyncsAfterCursor(t *testing.T) {
	f := newFixture(t)
	sub := f.submission(t, models.SubmissionAccepted)
	other := f.submission(t, models.SubmissionAccepted)
	ctx := context.Background()

	var ids []uint
	for _, text := range []string{"one", "two", "three"} {
		msg, err := f.orch.SendMessage(ctx, sub.ID, student, text, "")
		if err != nil {
			t.Fatalf("send: %v", err)
		}
		ids = append(ids, msg.ID)
	}
	f.orch.SendMessage(ctx, other.ID, student, "elsewhere", "")

	missed, err := f.orch.History(ctx, sub.ID, lecturerOne, ids[0], 0)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(missed) != 2 || missed[0].Content != "two" || missed[1].Content != "three" {
		t.Fatalf("unexpected history %+v", missed)
	}
	if _, err := f.orch.History(ctx, sub.ID, outsider, 0, 0); !errors.Is(err, ErrNotParty) {
		t.Fatalf("expected ErrNotParty, got %v", err)
	}
}

func TestCardDetails(t *testing.T) {
	f := newFixture(t)
	sub := f.submission(t, models.SubmissionAccepted)
	ctx := context.Background()

	r := f.report(t, sub.ID, models.FinalReportAccepted)
	if _, err := f.orch.CardDetails(ctx, sub.ID, student); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound before generation, got %v", err)
	}
	f.chapter(t, sub.ID, 1, models.ChapterAccepted)
	f.orch.SendMessage(ctx, sub.ID, lecturerOne, "approved", "")
	if _, _, err := f.orch.GenerateGuidanceCard(ctx, sub.ID, student); err != nil {
		t.Fatalf("generate: %v", err)
	}

	d, err := f.orch.CardDetails(ctx, sub.ID, lecturerTwo)
	if err != nil {
		t.Fatalf("details: %v", err)
	}
	if d.Card.FinalReportID != r.ID || d.Student.ID != student || d.Primary.ID != lecturerOne || d.Secondary.ID != lecturerTwo {
		t.Fatalf("unexpected details %+v", d)
	}
	if len(d.Chapters) != 1 || len(d.Messages) != 1 {
		t.Fatalf("expected one chapter and one message, got %d and %d", len(d.Chapters), len(d.Messages))
	}
}
