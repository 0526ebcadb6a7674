// Package orchestrator drives workflow transitions end to end: it resolves the
// actor's role, runs the state machine, persists the result and fans the change
// out to the submission room and to every party's personal channel.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"bimbingan_go/models"
	"bimbingan_go/services/notifications"
	"bimbingan_go/services/realtime"
	"bimbingan_go/services/workflow"
	"bimbingan_go/utils"

	"github.com/sirupsen/logrus"
)

// RoomBroadcaster pushes events to everybody watching a submission.
type RoomBroadcaster interface {
	BroadcastToRoom(submissionID uint, events ...realtime.Event) realtime.Report
}

// Notifier persists and delivers personal notifications.
type Notifier interface {
	Notify(ctx context.Context, recipients []uint, text string, ref notifications.Reference) (int, error)
}

// Config tunes an Orchestrator.
type Config struct {
	ChapterCount   int
	PersistTimeout time.Duration
	FanoutTimeout  time.Duration
}

// Orchestrator is safe for concurrent use.
type Orchestrator struct {
	store    Store
	rooms    RoomBroadcaster
	notifier Notifier
	locks    *keyedMutex
	cfg      Config
	now      func() time.Time
}

// Result describes a committed transition and how far it was delivered.
type Result struct {
	Kind         workflow.EntityKind `json:"kind"`
	EntityID     uint                `json:"entity_id"`
	SubmissionID uint                `json:"submission_id"`
	Action       workflow.Action     `json:"action"`
	From         string              `json:"from"`
	To           string              `json:"to"`
	TransitionID uint                `json:"transition_id"`

	Submission  *models.Submission        `json:"submission,omitempty"`
	Chapter     *models.ChapterSubmission `json:"chapter,omitempty"`
	FinalReport *models.FinalReport       `json:"final_report,omitempty"`

	Delivered int `json:"delivered"`
	Notified  int `json:"notified"`
}

// New wires an orchestrator. Zero config values fall back to defaults.
func New(store Store, rooms RoomBroadcaster, notifier Notifier, cfg Config) *Orchestrator {
	if cfg.ChapterCount <= 0 {
		cfg.ChapterCount = 5
	}
	if cfg.PersistTimeout <= 0 {
		cfg.PersistTimeout = 5 * time.Second
	}
	if cfg.FanoutTimeout <= 0 {
		cfg.FanoutTimeout = 10 * time.Second
	}
	return &Orchestrator{
		store:    store,
		rooms:    rooms,
		notifier: notifier,
		locks:    newKeyedMutex(),
		cfg:      cfg,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// ChapterCount is the configured number of chapters per thesis.
func (o *Orchestrator) ChapterCount() int {
	return o.cfg.ChapterCount
}

// persistCtx bounds storage work. It ignores cancellation of the caller so a
// client hanging up never aborts a transition half way.
func (o *Orchestrator) persistCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), o.cfg.PersistTimeout)
}

func (o *Orchestrator) fanoutCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), o.cfg.FanoutTimeout)
}

// ApplyTransition performs a review or resubmission on one entity.
// Authorization and state validity are checked before anything is written.
func (o *Orchestrator) ApplyTransition(ctx context.Context, kind workflow.EntityKind, entityID, actorID uint, in workflow.Intent) (*Result, error) {
	unlock := o.locks.Lock(entityKey(kind, entityID))
	res, parent, err := o.transitionLocked(ctx, kind, entityID, actorID, in)
	unlock()
	if err != nil {
		return nil, err
	}

	o.publishTransition(ctx, res, parent, actorID)
	return res, nil
}

func (o *Orchestrator) transitionLocked(ctx context.Context, kind workflow.EntityKind, entityID, actorID uint, in workflow.Intent) (*Result, *models.Submission, error) {
	pctx, cancel := o.persistCtx(ctx)
	defer cancel()

	from, sub, err := o.loadState(pctx, kind, entityID)
	if err != nil {
		return nil, nil, err
	}

	role, err := workflow.ResolveRole(sub, actorID)
	if err != nil {
		return nil, nil, err
	}
	if err := workflow.Authorize(role, kind, in.Action); err != nil {
		return nil, nil, err
	}

	outcome, err := workflow.Transition(kind, entityID, from, in)
	if err != nil {
		return nil, nil, err
	}

	saved, err := o.store.SaveTransition(pctx, Change{
		EntityID:     entityID,
		SubmissionID: sub.ID,
		ActorID:      actorID,
		Outcome:      outcome,
		At:           o.now(),
	})
	if err != nil {
		return nil, nil, err
	}

	res := &Result{
		Kind:         kind,
		EntityID:     entityID,
		SubmissionID: sub.ID,
		Action:       outcome.Action,
		From:         outcome.From,
		To:           outcome.To,
		TransitionID: saved.TransitionID,
		Submission:   saved.Submission,
		Chapter:      saved.Chapter,
		FinalReport:  saved.FinalReport,
	}
	if res.Submission == nil {
		res.Submission = sub
	}
	if kind == workflow.KindSubmission && res.Submission.ID != entityID {
		// a rejected proposal was resubmitted as a new cycle
		res.EntityID = res.Submission.ID
		res.SubmissionID = res.Submission.ID
	}

	logrus.WithFields(logrus.Fields{
		"kind":          kind,
		"entity_id":     entityID,
		"actor_id":      actorID,
		"action":        outcome.Action,
		"from":          outcome.From,
		"to":            outcome.To,
		"transition_id": saved.TransitionID,
	}).Info("workflow transition committed")

	return res, sub, nil
}

// loadState returns the current status of the entity and its parent submission.
func (o *Orchestrator) loadState(ctx context.Context, kind workflow.EntityKind, id uint) (string, *models.Submission, error) {
	switch kind {
	case workflow.KindSubmission:
		sub, err := o.store.LoadSubmission(ctx, id)
		if err != nil {
			return "", nil, err
		}
		return string(sub.Status), sub, nil

	case workflow.KindChapter:
		ch, err := o.store.LoadChapter(ctx, id)
		if err != nil {
			return "", nil, err
		}
		sub, err := o.store.LoadSubmission(ctx, ch.SubmissionID)
		if err != nil {
			return "", nil, err
		}
		return string(ch.Status), sub, nil

	case workflow.KindFinalReport:
		r, err := o.store.LoadFinalReport(ctx, id)
		if err != nil {
			return "", nil, err
		}
		sub, err := o.store.LoadSubmission(ctx, r.SubmissionID)
		if err != nil {
			return "", nil, err
		}
		return string(r.Status), sub, nil
	}
	return "", nil, fmt.Errorf("unsupported entity kind %q", kind)
}

// publishTransition emits status-changed to the room and notifies the other
// parties. It runs after commit on a detached context; failures are logged only.
func (o *Orchestrator) publishTransition(ctx context.Context, res *Result, parent *models.Submission, actorID uint) {
	fctx, cancel := o.fanoutCtx(ctx)
	defer cancel()

	event := realtime.Event{Type: realtime.EventStatusChanged, Data: utils.StatusChangeDTO{
		SubmissionID: res.SubmissionID,
		EntityKind:   string(res.Kind),
		EntityID:     res.EntityID,
		Action:       string(res.Action),
		From:         res.From,
		To:           res.To,
		Notes:        notesOf(res),
		ActorID:      actorID,
		At:           o.now(),
	}}

	if o.rooms != nil {
		report := o.rooms.BroadcastToRoom(parent.ID, event)
		if res.SubmissionID != parent.ID {
			// watchers of the superseded cycle and of the new one
			next := o.rooms.BroadcastToRoom(res.SubmissionID, event)
			report.Delivered += next.Delivered
			report.Failed = append(report.Failed, next.Failed...)
		}
		res.Delivered = report.Delivered
	}

	if o.notifier == nil {
		return
	}
	subID := res.SubmissionID
	ref := notifications.Reference{
		SubmissionID: &subID,
		EventType:    fmt.Sprintf("%s_%s", res.Kind, res.Action),
		Token:        fmt.Sprintf("transition:%d", res.TransitionID),
	}
	n, err := o.notifier.Notify(fctx, notifications.RecipientsForStatusChange(res.Submission, actorID), describe(res), ref)
	if err != nil {
		logrus.WithError(err).WithField("transition_id", res.TransitionID).Warn("status change notification incomplete")
	}
	res.Notified = n
}

func notesOf(res *Result) string {
	switch {
	case res.Chapter != nil:
		return res.Chapter.Notes
	case res.FinalReport != nil:
		return res.FinalReport.Notes
	case res.Submission != nil && res.Kind == workflow.KindSubmission:
		return res.Submission.Reason
	}
	return ""
}

// describe renders the notification text for a committed transition.
func describe(res *Result) string {
	subject := "Your thesis title"
	if res.Submission != nil && res.Submission.Title != "" {
		subject = fmt.Sprintf("Thesis title %q", res.Submission.Title)
	}
	switch res.Kind {
	case workflow.KindChapter:
		if res.Chapter != nil {
			subject = fmt.Sprintf("Chapter %d", res.Chapter.ChapterNumber)
		} else {
			subject = "A chapter"
		}
	case workflow.KindFinalReport:
		subject = "The final report"
	}

	notes := notesOf(res)
	switch res.Action {
	case workflow.ActionAccept:
		return subject + " was accepted"
	case workflow.ActionRevise:
		return fmt.Sprintf("%s needs revision: %s", subject, notes)
	case workflow.ActionReject:
		return fmt.Sprintf("%s was rejected: %s", subject, notes)
	case workflow.ActionResubmit:
		return subject + " was resubmitted for review"
	case workflow.ActionUpload:
		return subject + " has a new document"
	case workflow.ActionSubmit:
		return subject + " was submitted for review"
	}
	return fmt.Sprintf("%s changed from %s to %s", subject, res.From, res.To)
}
