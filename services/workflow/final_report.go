package workflow

import (
	"fmt"

	"bimbingan_go/models"
)

// FinalReportSlot names one of the independently tracked final report documents.
type FinalReportSlot string

const (
	SlotFinalText     FinalReportSlot = "final_text"
	SlotAbstract      FinalReportSlot = "abstract"
	SlotApprovalSheet FinalReportSlot = "approval_sheet"
	SlotDeclaration   FinalReportSlot = "declaration"
	SlotPresentation  FinalReportSlot = "presentation"
)

// Slots lists every final report slot in display order.
var Slots = []FinalReportSlot{SlotFinalText, SlotAbstract, SlotApprovalSheet, SlotDeclaration, SlotPresentation}

// ParseSlot validates a slot name.
func ParseSlot(s string) (FinalReportSlot, error) {
	for _, slot := range Slots {
		if string(slot) == s {
			return slot, nil
		}
	}
	return "", fmt.Errorf("unknown final report slot %q", s)
}

// SlotField returns a pointer to the document reference held in slot.
func SlotField(r *models.FinalReport, slot FinalReportSlot) *string {
	switch slot {
	case SlotFinalText:
		return &r.FinalTextRef
	case SlotAbstract:
		return &r.AbstractRef
	case SlotApprovalSheet:
		return &r.ApprovalSheetRef
	case SlotDeclaration:
		return &r.DeclarationRef
	case SlotPresentation:
		return &r.PresentationRef
	}
	return nil
}

// CanGenerateCard gates guidance card creation on an accepted final report.
func CanGenerateCard(r *models.FinalReport) error {
	if r == nil {
		return &InvalidTransitionError{Kind: KindGuidanceCard, From: "none", Action: ActionGenerate, Reason: "no final report has been submitted"}
	}
	if r.Status != models.FinalReportAccepted {
		return &InvalidTransitionError{Kind: KindGuidanceCard, From: string(r.Status), Action: ActionGenerate, Reason: "the final report must be accepted first"}
	}
	return nil
}
