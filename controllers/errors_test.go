package controllers

import (
	"errors"
	"fmt"
	"testing"

	"bimbingan_go/services/orchestrator"
	"bimbingan_go/services/workflow"
	"bimbingan_go/storage"

	"github.com/gofiber/fiber/v2"
)

func TestErrorStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"fiber error", fiber.NewError(fiber.StatusServiceUnavailable, "down"), fiber.StatusServiceUnavailable},
		{"invalid transition", &workflow.InvalidTransitionError{Kind: workflow.KindChapter, From: "accepted", Action: workflow.ActionAccept}, fiber.StatusConflict},
		{"wrong role", &workflow.UnauthorizedRoleError{Kind: workflow.KindChapter, Action: workflow.ActionAccept}, fiber.StatusForbidden},
		{"ambiguous", &workflow.AmbiguousRoleError{SubmissionID: 1, UserID: 2}, fiber.StatusInternalServerError},
		{"immutable", &workflow.ImmutableStateError{Kind: workflow.KindSubmission, ID: 1, State: "rejected"}, fiber.StatusConflict},
		{"wrapped not found", fmt.Errorf("load: %w", orchestrator.ErrNotFound), fiber.StatusNotFound},
		{"not party", orchestrator.ErrNotParty, fiber.StatusForbidden},
		{"conflict", orchestrator.ErrConflict, fiber.StatusConflict},
		{"empty message", orchestrator.ErrEmptyMessage, fiber.StatusBadRequest},
		{"duplicate supervisor", workflow.ErrDuplicateSupervisor, fiber.StatusBadRequest},
		{"bad extension", storage.ErrExtensionNotAllowed, fiber.StatusBadRequest},
		{"too large", fmt.Errorf("upload: %w", storage.ErrFileTooLarge), fiber.StatusRequestEntityTooLarge},
		{"unknown", errors.New("boom"), fiber.StatusInternalServerError},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, msg := ErrorStatus(tc.err)
			if got != tc.want {
				t.Fatalf("status = %d, want %d", got, tc.want)
			}
			if msg == "" {
				t.Fatal("empty message")
			}
		})
	}
}

func TestErrorStatusHidesInternalDetail(t *testing.T) {
	_, msg := ErrorStatus(errors.New("dial tcp 10.0.0.5:3306: connection refused"))
	if msg != "Internal Server Error" {
		t.Fatalf("message = %q", msg)
	}
	_, msg = ErrorStatus(&workflow.AmbiguousRoleError{SubmissionID: 9, UserID: 3})
	if msg == (&workflow.AmbiguousRoleError{SubmissionID: 9, UserID: 3}).Error() {
		t.Fatal("ambiguous role detail leaked to client")
	}
}
