package workflow

import (
	"fmt"
	"strings"
)

// Intent is what an actor asks for: an action plus the data it carries.
type Intent struct {
	Action      Action          `json:"action"`
	Notes       string          `json:"notes"`
	DocumentRef string          `json:"document_ref"`
	Slot        FinalReportSlot `json:"slot"`
}

// Outcome is a successful transition: the new state plus the side effects the
// orchestrator must carry out once it is persisted.
type Outcome struct {
	Kind        EntityKind
	Action      Action
	From        string
	To          string
	Notes       string
	DocumentRef string
	Slot        FinalReportSlot

	// SupersedePrior asks the store to mark the current row cancelled and
	// create a fresh one in state To (a rejected proposal starting a new cycle).
	SupersedePrior bool
	// ReplacesDocument is set when the active document moves to history.
	ReplacesDocument bool
}

// Changed reports whether the status moved.
func (o Outcome) Changed() bool {
	return o.From != o.To
}

type rule struct {
	to          string
	needsNotes  bool
	needsDoc    bool
	needsSlot   bool
	supersede   bool
	replacesDoc bool
}

type machine struct {
	kind     EntityKind
	terminal map[string]bool   // accepted states, immutable
	dead     map[string]string // states no action may leave
	table    map[string]map[Action]rule
}

func (m machine) apply(from string, id uint, in Intent) (Outcome, error) {
	if m.terminal[from] {
		return Outcome{}, &ImmutableStateError{Kind: m.kind, ID: id, State: from}
	}
	if reason, ok := m.dead[from]; ok {
		return Outcome{}, &InvalidTransitionError{Kind: m.kind, From: from, Action: in.Action, Reason: reason}
	}
	r, ok := m.table[from][in.Action]
	if !ok {
		return Outcome{}, &InvalidTransitionError{Kind: m.kind, From: from, Action: in.Action}
	}
	notes := strings.TrimSpace(in.Notes)
	if r.needsNotes && notes == "" {
		return Outcome{}, &InvalidTransitionError{Kind: m.kind, From: from, Action: in.Action, Reason: "notes are required"}
	}
	doc := strings.TrimSpace(in.DocumentRef)
	if r.needsDoc && doc == "" {
		return Outcome{}, &InvalidTransitionError{Kind: m.kind, From: from, Action: in.Action, Reason: "a new document is required"}
	}
	if r.needsSlot {
		if _, err := ParseSlot(string(in.Slot)); err != nil {
			return Outcome{}, &InvalidTransitionError{Kind: m.kind, From: from, Action: in.Action, Reason: err.Error()}
		}
	}
	return Outcome{
		Kind:             m.kind,
		Action:           in.Action,
		From:             from,
		To:               r.to,
		Notes:            notes,
		DocumentRef:      doc,
		Slot:             in.Slot,
		SupersedePrior:   r.supersede,
		ReplacesDocument: r.replacesDoc,
	}, nil
}

var submissionMachine = machine{
	kind:     KindSubmission,
	terminal: map[string]bool{"accepted": true},
	dead:     map[string]string{"cancelled": "superseded by a newer submission"},
	table: map[string]map[Action]rule{
		"submitted": {
			ActionAccept: {to: "accepted"},
			ActionRevise: {to: "needs_revision", needsNotes: true},
			ActionReject: {to: "rejected", needsNotes: true},
		},
		"needs_revision": {
			ActionResubmit: {to: "submitted", needsDoc: true, replacesDoc: true},
		},
		"rejected": {
			ActionResubmit: {to: "submitted", needsDoc: true, supersede: true},
		},
	},
}

var chapterMachine = machine{
	kind:     KindChapter,
	terminal: map[string]bool{"accepted": true},
	table: map[string]map[Action]rule{
		"pending": {
			ActionAccept: {to: "accepted"},
			ActionRevise: {to: "needs_revision", needsNotes: true},
		},
		"needs_revision": {
			ActionResubmit: {to: "pending", needsDoc: true, replacesDoc: true},
		},
	},
}

var finalReportMachine = machine{
	kind:     KindFinalReport,
	terminal: map[string]bool{"accepted": true},
	table: map[string]map[Action]rule{
		"pending": {
			ActionAccept: {to: "accepted"},
			ActionRevise: {to: "needs_revision", needsNotes: true},
			ActionReject: {to: "rejected", needsNotes: true},
			ActionUpload: {to: "pending", needsDoc: true, needsSlot: true, replacesDoc: true},
		},
		"needs_revision": {
			ActionResubmit: {to: "pending", needsDoc: true, needsSlot: true, replacesDoc: true},
			ActionUpload:   {to: "pending", needsDoc: true, needsSlot: true, replacesDoc: true},
		},
	},
}

// Transition runs the state machine of kind from the current status.
func Transition(kind EntityKind, id uint, from string, in Intent) (Outcome, error) {
	switch kind {
	case KindSubmission:
		return submissionMachine.apply(from, id, in)
	case KindChapter:
		return chapterMachine.apply(from, id, in)
	case KindFinalReport:
		return finalReportMachine.apply(from, id, in)
	}
	return Outcome{}, fmt.Errorf("unknown entity kind %q", kind)
}
