// Package store is the gorm implementation of the workflow persistence
// collaborator.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"bimbingan_go/models"
	"bimbingan_go/services/notifications"
	"bimbingan_go/services/orchestrator"
	"bimbingan_go/services/workflow"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormStore persists workflow state in MySQL.
type GormStore struct {
	db *gorm.DB
}

var (
	_ orchestrator.Store  = (*GormStore)(nil)
	_ notifications.Store = (*GormStore)(nil)
)

// New returns a store backed by db.
func New(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// translate maps gorm errors onto the orchestrator's error vocabulary.
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return orchestrator.ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey), strings.Contains(err.Error(), "Duplicate entry"):
		return fmt.Errorf("%w: %v", orchestrator.ErrConflict, err)
	}
	return err
}

func (s *GormStore) LoadSubmission(ctx context.Context, id uint) (*models.Submission, error) {
	var sub models.Submission
	if err := s.db.WithContext(ctx).First(&sub, id).Error; err != nil {
		return nil, translate(err)
	}
	return &sub, nil
}

func (s *GormStore) LoadChapter(ctx context.Context, id uint) (*models.ChapterSubmission, error) {
	var ch models.ChapterSubmission
	if err := s.db.WithContext(ctx).First(&ch, id).Error; err != nil {
		return nil, translate(err)
	}
	return &ch, nil
}

func (s *GormStore) LoadFinalReport(ctx context.Context, id uint) (*models.FinalReport, error) {
	var r models.FinalReport
	if err := s.db.WithContext(ctx).First(&r, id).Error; err != nil {
		return nil, translate(err)
	}
	return &r, nil
}

func (s *GormStore) LoadUser(ctx context.Context, id uint) (*models.User, error) {
	var u models.User
	if err := s.db.WithContext(ctx).First(&u, id).Error; err != nil {
		return nil, translate(err)
	}
	return &u, nil
}

func (s *GormStore) ActiveSubmissionFor(ctx context.Context, studentID uint) (*models.Submission, error) {
	var sub models.Submission
	err := s.db.WithContext(ctx).
		Where("student_id = ? AND status <> ?", studentID, models.SubmissionCancelled).
		Order("id DESC").
		First(&sub).Error
	if err != nil {
		return nil, translate(err)
	}
	return &sub, nil
}

func (s *GormStore) ChapterByNumber(ctx context.Context, submissionID uint, number int) (*models.ChapterSubmission, error) {
	var ch models.ChapterSubmission
	err := s.db.WithContext(ctx).
		Where("submission_id = ? AND chapter_number = ?", submissionID, number).
		First(&ch).Error
	if err != nil {
		return nil, translate(err)
	}
	return &ch, nil
}

func (s *GormStore) ListChapters(ctx context.Context, submissionID uint) ([]models.ChapterSubmission, error) {
	var chapters []models.ChapterSubmission
	err := s.db.WithContext(ctx).
		Where("submission_id = ?", submissionID).
		Order("chapter_number ASC").
		Find(&chapters).Error
	return chapters, translate(err)
}

func (s *GormStore) FinalReportFor(ctx context.Context, submissionID uint) (*models.FinalReport, error) {
	var r models.FinalReport
	if err := s.db.WithContext(ctx).Where("submission_id = ?", submissionID).First(&r).Error; err != nil {
		return nil, translate(err)
	}
	return &r, nil
}

func (s *GormStore) GuidanceCardFor(ctx context.Context, finalReportID uint) (*models.GuidanceCard, error) {
	var card models.GuidanceCard
	if err := s.db.WithContext(ctx).Where("final_report_id = ?", finalReportID).First(&card).Error; err != nil {
		return nil, translate(err)
	}
	return &card, nil
}

func (s *GormStore) CountMessages(ctx context.Context, submissionID uint) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.Message{}).Where("submission_id = ?", submissionID).Count(&n).Error
	return n, translate(err)
}

// SaveTransition applies a validated outcome under a row lock. A status that no
// longer matches Outcome.From means another writer got there first.
func (s *GormStore) SaveTransition(ctx context.Context, c orchestrator.Change) (*orchestrator.Saved, error) {
	saved := &orchestrator.Saved{}
	out := c.Outcome

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		switch out.Kind {
		case workflow.KindSubmission:
			saved.Submission, err = saveSubmission(tx, c)
		case workflow.KindChapter:
			saved.Chapter, err = saveChapter(tx, c)
		case workflow.KindFinalReport:
			saved.FinalReport, err = saveFinalReport(tx, c)
		default:
			err = fmt.Errorf("unsupported entity kind %q", out.Kind)
		}
		if err != nil {
			return err
		}

		resourceID := c.EntityID
		if saved.Submission != nil && out.Kind == workflow.KindSubmission {
			resourceID = saved.Submission.ID
		}
		entry, err := auditEntry(c, resourceID)
		if err != nil {
			return err
		}
		if err := tx.Create(entry).Error; err != nil {
			return err
		}
		saved.TransitionID = entry.ID
		return nil
	})
	if err != nil {
		return nil, translate(err)
	}
	return saved, nil
}

func staleState(out workflow.Outcome, current string) error {
	return &workflow.InvalidTransitionError{
		Kind:   out.Kind,
		From:   current,
		Action: out.Action,
		Reason: fmt.Sprintf("the state changed to %q while the request was processed", current),
	}
}

func saveSubmission(tx *gorm.DB, c orchestrator.Change) (*models.Submission, error) {
	out := c.Outcome
	var sub models.Submission
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&sub, c.EntityID).Error; err != nil {
		return nil, err
	}
	if string(sub.Status) != out.From {
		return nil, staleState(out, string(sub.Status))
	}

	if out.SupersedePrior {
		if err := tx.Model(&sub).Update("status", models.SubmissionCancelled).Error; err != nil {
			return nil, err
		}
		prev := sub.ID
		next := models.Submission{
			StudentID:             sub.StudentID,
			Title:                 sub.Title,
			Description:           sub.Description,
			TopicArea:             sub.TopicArea,
			Keywords:              sub.Keywords,
			ProposalRef:           out.DocumentRef,
			Status:                models.SubmissionStatus(out.To),
			PrimarySupervisorID:   sub.PrimarySupervisorID,
			SecondarySupervisorID: sub.SecondarySupervisorID,
			PreviousID:            &prev,
		}
		if err := tx.Create(&next).Error; err != nil {
			return nil, err
		}
		return &next, nil
	}

	updates := map[string]interface{}{"status": out.To}
	if out.ReplacesDocument {
		if err := recordHistory(tx, out.Kind, sub.ID, "", sub.ProposalRef, c); err != nil {
			return nil, err
		}
		updates["proposal_ref"] = out.DocumentRef
	}
	if out.Action.IsReview() {
		updates["reason"] = out.Notes
		updates["reviewed_at"] = c.At
	}
	if err := tx.Model(&sub).Updates(updates).Error; err != nil {
		return nil, err
	}
	return &sub, tx.First(&sub, sub.ID).Error
}

func saveChapter(tx *gorm.DB, c orchestrator.Change) (*models.ChapterSubmission, error) {
	out := c.Outcome
	var ch models.ChapterSubmission
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&ch, c.EntityID).Error; err != nil {
		return nil, err
	}
	if string(ch.Status) != out.From {
		return nil, staleState(out, string(ch.Status))
	}

	updates := map[string]interface{}{"status": out.To, "notes": out.Notes}
	if out.ReplacesDocument {
		if err := recordHistory(tx, out.Kind, ch.ID, "", ch.DocumentRef, c); err != nil {
			return nil, err
		}
		updates["document_ref"] = out.DocumentRef
		updates["submitted_at"] = c.At
		updates["reviewed_at"] = nil
	}
	if out.Action.IsReview() {
		updates["reviewed_at"] = c.At
	}
	if err := tx.Model(&ch).Updates(updates).Error; err != nil {
		return nil, err
	}
	return &ch, tx.First(&ch, ch.ID).Error
}

func saveFinalReport(tx *gorm.DB, c orchestrator.Change) (*models.FinalReport, error) {
	out := c.Outcome
	var r models.FinalReport
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&r, c.EntityID).Error; err != nil {
		return nil, err
	}
	if string(r.Status) != out.From {
		return nil, staleState(out, string(r.Status))
	}

	updates := map[string]interface{}{"status": out.To, "notes": out.Notes}
	if out.ReplacesDocument {
		field := workflow.SlotField(&r, out.Slot)
		if field == nil {
			return nil, &workflow.InvalidTransitionError{Kind: out.Kind, From: out.From, Action: out.Action, Reason: "unknown slot"}
		}
		if *field != "" {
			if err := recordHistory(tx, out.Kind, r.ID, string(out.Slot), *field, c); err != nil {
				return nil, err
			}
		}
		updates[string(out.Slot)+"_ref"] = out.DocumentRef
	}
	if out.Action.IsReview() {
		updates["reviewed_at"] = c.At
	}
	if err := tx.Model(&r).Updates(updates).Error; err != nil {
		return nil, err
	}
	return &r, tx.First(&r, r.ID).Error
}

func recordHistory(tx *gorm.DB, kind workflow.EntityKind, id uint, slot, ref string, c orchestrator.Change) error {
	if ref == "" {
		return nil
	}
	return tx.Create(&models.DocumentHistory{
		EntityKind:   string(kind),
		EntityID:     id,
		Slot:         slot,
		DocumentRef:  ref,
		SupersededAt: c.At,
	}).Error
}

func auditEntry(c orchestrator.Change, resourceID uint) (*models.ActivityLog, error) {
	details, err := json.Marshal(map[string]interface{}{
		"submission_id": c.SubmissionID,
		"from":          c.Outcome.From,
		"to":            c.Outcome.To,
		"notes":         c.Outcome.Notes,
		"document_ref":  c.Outcome.DocumentRef,
		"slot":          c.Outcome.Slot,
	})
	if err != nil {
		return nil, err
	}
	return &models.ActivityLog{
		UserID:     c.ActorID,
		Action:     strings.ToUpper(string(c.Outcome.Action)),
		Resource:   string(c.Outcome.Kind),
		ResourceID: resourceID,
		Details:    details,
	}, nil
}

func (s *GormStore) CreateSubmission(ctx context.Context, sub *models.Submission) error {
	return translate(s.db.WithContext(ctx).Create(sub).Error)
}

func (s *GormStore) CreateChapter(ctx context.Context, ch *models.ChapterSubmission) error {
	return translate(s.db.WithContext(ctx).Create(ch).Error)
}

func (s *GormStore) CreateFinalReport(ctx context.Context, r *models.FinalReport) error {
	return translate(s.db.WithContext(ctx).Create(r).Error)
}

// CreateMessage appends a message and loads its sender for the realtime payload.
func (s *GormStore) CreateMessage(ctx context.Context, m *models.Message) error {
	db := s.db.WithContext(ctx)
	if err := db.Omit("Sender").Create(m).Error; err != nil {
		return translate(err)
	}
	if err := db.First(&m.Sender, m.SenderID).Error; err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return translate(err)
	}
	return nil
}

// CreateGuidanceCard relies on the unique final_report_id index: a losing
// concurrent insert reads back the winner.
func (s *GormStore) CreateGuidanceCard(ctx context.Context, card *models.GuidanceCard) (*models.GuidanceCard, bool, error) {
	db := s.db.WithContext(ctx)
	res := db.Clauses(clause.OnConflict{DoNothing: true}).Create(card)
	if res.Error != nil {
		return nil, false, translate(res.Error)
	}
	if res.RowsAffected == 1 {
		return card, true, nil
	}
	existing, err := s.GuidanceCardFor(ctx, card.FinalReportID)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

// CreateNotification inserts n unless its idempotency key is already stored.
func (s *GormStore) CreateNotification(ctx context.Context, n *models.Notification) (bool, error) {
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(n)
	if res.Error != nil {
		return false, translate(res.Error)
	}
	return res.RowsAffected == 1, nil
}

// MessagesAfter returns up to limit messages of a submission with id > afterID,
// oldest first. It backs the reconnect re-sync.
func (s *GormStore) MessagesAfter(ctx context.Context, submissionID, afterID uint, limit int) ([]models.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}
	var msgs []models.Message
	err := s.db.WithContext(ctx).
		Preload("Sender").
		Where("submission_id = ? AND id > ?", submissionID, afterID).
		Order("id ASC").
		Limit(limit).
		Find(&msgs).Error
	return msgs, translate(err)
}

// DocumentHistoryFor lists superseded documents of one entity, newest first.
func (s *GormStore) DocumentHistoryFor(ctx context.Context, kind workflow.EntityKind, entityID uint) ([]models.DocumentHistory, error) {
	var rows []models.DocumentHistory
	err := s.db.WithContext(ctx).
		Where("entity_kind = ? AND entity_id = ?", string(kind), entityID).
		Order("superseded_at DESC").
		Find(&rows).Error
	return rows, translate(err)
}
