package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"bimbingan_go/models"
	"bimbingan_go/services/orchestrator"
	"bimbingan_go/services/workflow"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func ptr(v uint) *uint { return &v }

func newTestStore(t *testing.T) (*GormStore, *gorm.DB) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "store.db")), &gorm.Config{
		Logger:                                   logger.Default.LogMode(logger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
		TranslateError:                           true,
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql handle: %v", err)
	}
	t.Cleanup(func() { sqlDB.Close() })

	// users carry a MySQL enum column; none of these tables need the row
	for _, m := range []interface{}{
		&models.Submission{},
		&models.ChapterSubmission{},
		&models.FinalReport{},
		&models.GuidanceCard{},
		&models.DocumentHistory{},
		&models.ActivityLog{},
	} {
		if err := db.Migrator().CreateTable(m); err != nil {
			t.Fatalf("create table %T: %v", m, err)
		}
	}
	return New(db), db
}

func seedSubmission(t *testing.T, db *gorm.DB, status models.SubmissionStatus) *models.Submission {
	t.Helper()
	sub := &models.Submission{
		StudentID:           10,
		Title:               "Realtime supervision",
		ProposalRef:         "docs/proposal-v1.pdf",
		Status:              status,
		PrimarySupervisorID: ptr(1),
	}
	if err := db.Create(sub).Error; err != nil {
		t.Fatalf("seed submission: %v", err)
	}
	return sub
}

func transition(t *testing.T, kind workflow.EntityKind, id uint, from string, in workflow.Intent) workflow.Outcome {
	t.Helper()
	out, err := workflow.Transition(kind, id, from, in)
	if err != nil {
		t.Fatalf("transition %s from %s: %v", in.Action, from, err)
	}
	return out
}

func countRows(t *testing.T, db *gorm.DB, model interface{}) int64 {
	t.Helper()
	var n int64
	if err := db.Model(model).Count(&n).Error; err != nil {
		t.Fatalf("count %T: %v", model, err)
	}
	return n
}

func TestSaveTransitionDetectsStaleState(t *testing.T) {
	s, db := newTestStore(t)
	ctx := context.Background()
	sub := seedSubmission(t, db, models.SubmissionSubmitted)

	// two reviewers validated against "submitted"; the first commit wins
	accept := transition(t, workflow.KindSubmission, sub.ID, "submitted", workflow.Intent{Action: workflow.ActionAccept})
	reject := transition(t, workflow.KindSubmission, sub.ID, "submitted", workflow.Intent{Action: workflow.ActionReject, Notes: "out of scope"})

	saved, err := s.SaveTransition(ctx, orchestrator.Change{EntityID: sub.ID, SubmissionID: sub.ID, ActorID: 1, Outcome: accept, At: time.Now()})
	if err != nil {
		t.Fatalf("first save: %v", err)
	}
	if saved.Submission.Status != models.SubmissionAccepted || saved.TransitionID == 0 {
		t.Fatalf("unexpected first save %+v", saved)
	}

	_, err = s.SaveTransition(ctx, orchestrator.Change{EntityID: sub.ID, SubmissionID: sub.ID, ActorID: 1, Outcome: reject, At: time.Now()})
	var invalid *workflow.InvalidTransitionError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidTransitionError, got %v", err)
	}
	if invalid.From != string(models.SubmissionAccepted) {
		t.Fatalf("error should name the current state, got %q", invalid.From)
	}

	got, err := s.LoadSubmission(ctx, sub.ID)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Status != models.SubmissionAccepted || got.Reason != "" {
		t.Fatalf("lost update: %+v", got)
	}
	if n := countRows(t, db, &models.ActivityLog{}); n != 1 {
		t.Fatalf("expected one audit entry, got %d", n)
	}
}

func TestSaveTransitionRejectedResubmitStartsNewCycle(t *testing.T) {
	s, db := newTestStore(t)
	ctx := context.Background()
	sub := seedSubmission(t, db, models.SubmissionRejected)

	out := transition(t, workflow.KindSubmission, sub.ID, "rejected", workflow.Intent{Action: workflow.ActionResubmit, DocumentRef: "docs/proposal-v2.pdf"})
	saved, err := s.SaveTransition(ctx, orchestrator.Change{EntityID: sub.ID, SubmissionID: sub.ID, ActorID: 10, Outcome: out, At: time.Now()})
	if err != nil {
		t.Fatalf("save: %v", err)
	}

	next := saved.Submission
	if next.ID == sub.ID {
		t.Fatalf("expected a new submission row")
	}
	if next.PreviousID == nil || *next.PreviousID != sub.ID {
		t.Fatalf("new cycle should point at %d, got %v", sub.ID, next.PreviousID)
	}
	if next.Status != models.SubmissionSubmitted || next.ProposalRef != "docs/proposal-v2.pdf" || next.StudentID != sub.StudentID {
		t.Fatalf("unexpected new cycle %+v", next)
	}

	prior, err := s.LoadSubmission(ctx, sub.ID)
	if err != nil {
		t.Fatalf("load prior: %v", err)
	}
	if prior.Status != models.SubmissionCancelled {
		t.Fatalf("prior cycle should be cancelled, got %s", prior.Status)
	}

	active, err := s.ActiveSubmissionFor(ctx, sub.StudentID)
	if err != nil {
		t.Fatalf("active submission: %v", err)
	}
	if active.ID != next.ID {
		t.Fatalf("active submission should be %d, got %d", next.ID, active.ID)
	}

	var entry models.ActivityLog
	if err := db.First(&entry, saved.TransitionID).Error; err != nil {
		t.Fatalf("audit entry: %v", err)
	}
	if entry.ResourceID != next.ID || entry.Action != "RESUBMIT" {
		t.Fatalf("unexpected audit entry %+v", entry)
	}
}

func TestActiveSubmissionForIgnoresCancelled(t *testing.T) {
	s, db := newTestStore(t)
	ctx := context.Background()

	if _, err := s.ActiveSubmissionFor(ctx, 10); !errors.Is(err, orchestrator.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	seedSubmission(t, db, models.SubmissionCancelled)
	if _, err := s.ActiveSubmissionFor(ctx, 10); !errors.Is(err, orchestrator.ErrNotFound) {
		t.Fatalf("cancelled cycle must not count, got %v", err)
	}
}

func TestSaveTransitionFinalReportSlotUpload(t *testing.T) {
	s, db := newTestStore(t)
	ctx := context.Background()
	sub := seedSubmission(t, db, models.SubmissionAccepted)
	report := &models.FinalReport{
		SubmissionID: sub.ID,
		FinalTextRef: "docs/final-v1.pdf",
		AbstractRef:  "docs/abstract-v1.pdf",
		Status:       models.FinalReportPending,
	}
	if err := s.CreateFinalReport(ctx, report); err != nil {
		t.Fatalf("create report: %v", err)
	}

	tests := []struct {
		slot    workflow.FinalReportSlot
		ref     string
		history int
	}{
		{workflow.SlotAbstract, "docs/abstract-v2.pdf", 1},
		// an empty slot has nothing to supersede
		{workflow.SlotDeclaration, "docs/declaration-v1.pdf", 1},
		{workflow.SlotAbstract, "docs/abstract-v3.pdf", 2},
	}
	for _, tc := range tests {
		out := transition(t, workflow.KindFinalReport, report.ID, "pending", workflow.Intent{Action: workflow.ActionUpload, DocumentRef: tc.ref, Slot: tc.slot})
		saved, err := s.SaveTransition(ctx, orchestrator.Change{EntityID: report.ID, SubmissionID: sub.ID, ActorID: 10, Outcome: out, At: time.Now()})
		if err != nil {
			t.Fatalf("upload %s: %v", tc.slot, err)
		}
		if got := *workflow.SlotField(saved.FinalReport, tc.slot); got != tc.ref {
			t.Fatalf("%s: expected %s, got %s", tc.slot, tc.ref, got)
		}
		if saved.FinalReport.FinalTextRef != "docs/final-v1.pdf" {
			t.Fatalf("%s upload touched the final text slot: %s", tc.slot, saved.FinalReport.FinalTextRef)
		}
		history, err := s.DocumentHistoryFor(ctx, workflow.KindFinalReport, report.ID)
		if err != nil {
			t.Fatalf("history: %v", err)
		}
		if len(history) != tc.history {
			t.Fatalf("%s: expected %d history rows, got %d", tc.slot, tc.history, len(history))
		}
	}

	history, _ := s.DocumentHistoryFor(ctx, workflow.KindFinalReport, report.ID)
	refs := map[string]bool{}
	for _, h := range history {
		if h.Slot != string(workflow.SlotAbstract) {
			t.Fatalf("unexpected history slot %q", h.Slot)
		}
		refs[h.DocumentRef] = true
	}
	if !refs["docs/abstract-v1.pdf"] || !refs["docs/abstract-v2.pdf"] {
		t.Fatalf("superseded abstracts missing from history: %v", refs)
	}
}

func TestCreateGuidanceCardReturnsExisting(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	first := &models.GuidanceCard{SubmissionID: 1, FinalReportID: 4, StudentID: 10, MessageCount: 12, GeneratedAt: time.Now()}
	stored, created, err := s.CreateGuidanceCard(ctx, first)
	if err != nil || !created {
		t.Fatalf("first card: created=%v err=%v", created, err)
	}

	second := &models.GuidanceCard{SubmissionID: 1, FinalReportID: 4, StudentID: 10, MessageCount: 99, GeneratedAt: time.Now()}
	again, created, err := s.CreateGuidanceCard(ctx, second)
	if err != nil {
		t.Fatalf("second card: %v", err)
	}
	if created {
		t.Fatalf("second call must not create a card")
	}
	if again.ID != stored.ID || again.MessageCount != 12 {
		t.Fatalf("expected the first card back, got %+v", again)
	}
}
