package orchestrator

import (
	"context"
	"sync"
	"time"

	"bimbingan_go/models"
	"bimbingan_go/services/notifications"
	"bimbingan_go/services/realtime"
	"bimbingan_go/services/workflow"
)

// memStore is an in-memory Store with the same compare-and-set contract as
// the gorm implementation.
type memStore struct {
	mu          sync.Mutex
	nextID      uint
	users       map[uint]*models.User
	submissions map[uint]*models.Submission
	chapters    map[uint]*models.ChapterSubmission
	reports     map[uint]*models.FinalReport
	cards       map[uint]*models.GuidanceCard
	messages    []models.Message
	history     []models.DocumentHistory
	saves       int
	saveDelay   time.Duration
}

func newMemStore() *memStore {
	return &memStore{
		nextID:      100,
		users:       map[uint]*models.User{},
		submissions: map[uint]*models.Submission{},
		chapters:    map[uint]*models.ChapterSubmission{},
		reports:     map[uint]*models.FinalReport{},
		cards:       map[uint]*models.GuidanceCard{},
	}
}

func (m *memStore) id() uint {
	m.nextID++
	return m.nextID
}

func (m *memStore) LoadSubmission(_ context.Context, id uint) (*models.Submission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.submissions[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *memStore) LoadChapter(_ context.Context, id uint) (*models.ChapterSubmission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.chapters[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *memStore) LoadFinalReport(_ context.Context, id uint) (*models.FinalReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.reports[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *memStore) LoadUser(_ context.Context, id uint) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *memStore) ActiveSubmissionFor(_ context.Context, studentID uint) (*models.Submission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var newest *models.Submission
	for _, s := range m.submissions {
		if s.StudentID != studentID || s.Status == models.SubmissionCancelled {
			continue
		}
		if newest == nil || s.ID > newest.ID {
			newest = s
		}
	}
	if newest == nil {
		return nil, ErrNotFound
	}
	cp := *newest
	return &cp, nil
}

func (m *memStore) ChapterByNumber(_ context.Context, submissionID uint, number int) (*models.ChapterSubmission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.chapters {
		if c.SubmissionID == submissionID && c.ChapterNumber == number {
			cp := *c
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memStore) ListChapters(_ context.Context, submissionID uint) ([]models.ChapterSubmission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.ChapterSubmission
	for _, c := range m.chapters {
		if c.SubmissionID == submissionID {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (m *memStore) FinalReportFor(_ context.Context, submissionID uint) (*models.FinalReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.reports {
		if r.SubmissionID == submissionID {
			cp := *r
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memStore) GuidanceCardFor(_ context.Context, finalReportID uint) (*models.GuidanceCard, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.cards[finalReportID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *memStore) CountMessages(_ context.Context, submissionID uint) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, msg := range m.messages {
		if msg.SubmissionID == submissionID {
			n++
		}
	}
	return n, nil
}

func (m *memStore) MessagesAfter(_ context.Context, submissionID, afterID uint, limit int) ([]models.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Message
	for _, msg := range m.messages {
		if msg.SubmissionID == submissionID && msg.ID > afterID && len(out) < limit {
			out = append(out, msg)
		}
	}
	return out, nil
}

func (m *memStore) SaveTransition(_ context.Context, c Change) (*Saved, error) {
	if m.saveDelay > 0 {
		time.Sleep(m.saveDelay)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	out := c.Outcome
	conflict := &workflow.InvalidTransitionError{Kind: out.Kind, From: out.From, Action: out.Action, Reason: "the state changed concurrently"}
	saved := &Saved{TransitionID: m.id()}

	switch out.Kind {
	case workflow.KindSubmission:
		s := m.submissions[c.EntityID]
		if string(s.Status) != out.From {
			return nil, conflict
		}
		if out.SupersedePrior {
			s.Status = models.SubmissionCancelled
			next := *s
			next.ID = m.id()
			prev := s.ID
			next.PreviousID = &prev
			next.Status = models.SubmissionStatus(out.To)
			next.ProposalRef = out.DocumentRef
			next.Reason = ""
			m.submissions[next.ID] = &next
			cp := next
			saved.Submission = &cp
			return saved, nil
		}
		if out.ReplacesDocument {
			m.history = append(m.history, models.DocumentHistory{EntityKind: string(out.Kind), EntityID: s.ID, DocumentRef: s.ProposalRef})
			s.ProposalRef = out.DocumentRef
		}
		s.Status = models.SubmissionStatus(out.To)
		if out.Action.IsReview() {
			s.Reason = out.Notes
		}
		cp := *s
		saved.Submission = &cp

	case workflow.KindChapter:
		ch := m.chapters[c.EntityID]
		if string(ch.Status) != out.From {
			return nil, conflict
		}
		if out.ReplacesDocument {
			m.history = append(m.history, models.DocumentHistory{EntityKind: string(out.Kind), EntityID: ch.ID, DocumentRef: ch.DocumentRef})
			ch.DocumentRef = out.DocumentRef
		}
		ch.Status = models.ChapterStatus(out.To)
		ch.Notes = out.Notes
		cp := *ch
		saved.Chapter = &cp

	case workflow.KindFinalReport:
		r := m.reports[c.EntityID]
		if string(r.Status) != out.From {
			return nil, conflict
		}
		if out.ReplacesDocument {
			field := workflow.SlotField(r, out.Slot)
			if *field != "" {
				m.history = append(m.history, models.DocumentHistory{EntityKind: string(out.Kind), EntityID: r.ID, Slot: string(out.Slot), DocumentRef: *field})
			}
			*field = out.DocumentRef
		}
		r.Status = models.FinalReportStatus(out.To)
		r.Notes = out.Notes
		cp := *r
		saved.FinalReport = &cp
	}
	return saved, nil
}

func (m *memStore) CreateSubmission(_ context.Context, s *models.Submission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s.ID = m.id()
	cp := *s
	m.submissions[s.ID] = &cp
	return nil
}

func (m *memStore) CreateChapter(_ context.Context, ch *models.ChapterSubmission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.chapters {
		if c.SubmissionID == ch.SubmissionID && c.ChapterNumber == ch.ChapterNumber {
			return ErrConflict
		}
	}
	ch.ID = m.id()
	cp := *ch
	m.chapters[ch.ID] = &cp
	return nil
}

func (m *memStore) CreateFinalReport(_ context.Context, r *models.FinalReport) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.reports {
		if existing.SubmissionID == r.SubmissionID {
			return ErrConflict
		}
	}
	r.ID = m.id()
	cp := *r
	m.reports[r.ID] = &cp
	return nil
}

func (m *memStore) CreateMessage(_ context.Context, msg *models.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg.ID = m.id()
	m.messages = append(m.messages, *msg)
	return nil
}

func (m *memStore) CreateGuidanceCard(_ context.Context, card *models.GuidanceCard) (*models.GuidanceCard, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.cards[card.FinalReportID]; ok {
		cp := *existing
		return &cp, false, nil
	}
	card.ID = m.id()
	cp := *card
	m.cards[card.FinalReportID] = &cp
	return card, true, nil
}

// recorder captures room broadcasts and notifications.
type recorder struct {
	mu     sync.Mutex
	rooms  map[uint][]realtime.Event
	notify map[uint][]string
	refs   map[string]bool
}

func newRecorder() *recorder {
	return &recorder{rooms: map[uint][]realtime.Event{}, notify: map[uint][]string{}, refs: map[string]bool{}}
}

func (r *recorder) BroadcastToRoom(submissionID uint, events ...realtime.Event) realtime.Report {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rooms[submissionID] = append(r.rooms[submissionID], events...)
	return realtime.Report{Delivered: len(events)}
}

func (r *recorder) Notify(_ context.Context, recipients []uint, text string, ref notifications.Reference) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, uid := range recipients {
		key := notifications.IdempotencyKey(uid, ref)
		if r.refs[key] {
			continue
		}
		r.refs[key] = true
		r.notify[uid] = append(r.notify[uid], text)
		n++
	}
	return n, nil
}

func (r *recorder) notificationsFor(uid uint) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.notify[uid]...)
}

func (r *recorder) roomEvents(submissionID uint) []realtime.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]realtime.Event(nil), r.rooms[submissionID]...)
}
