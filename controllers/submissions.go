package controllers

import (
	"context"
	"mime/multipart"
	"strconv"

	"bimbingan_go/database"
	"bimbingan_go/middleware"
	"bimbingan_go/models"
	"bimbingan_go/services/orchestrator"
	"bimbingan_go/services/workflow"
	"bimbingan_go/utils"

	"github.com/gofiber/fiber/v2"
)

// DocumentUploader stores an uploaded file and returns its document reference.
type DocumentUploader interface {
	UploadDocument(ctx context.Context, file *multipart.FileHeader, folder string, ownerID uint) (string, error)
}

// SubmissionController handles thesis title proposals.
type SubmissionController struct {
	orch     *orchestrator.Orchestrator
	uploader DocumentUploader
}

func NewSubmissionController(orch *orchestrator.Orchestrator, uploader DocumentUploader) *SubmissionController {
	return &SubmissionController{orch: orch, uploader: uploader}
}

// ReviewRequest is a supervisor decision.
type ReviewRequest struct {
	Action string `json:"action" form:"action" validate:"required,oneof=accept revise reject"`
	Reason string `json:"reason" form:"reason" validate:"max=5000"`
}

// documentFrom uploads the "file" form field if present, otherwise returns fallback.
func documentFrom(c *fiber.Ctx, uploader DocumentUploader, folder string, ownerID uint, fallback string) (string, error) {
	file, err := c.FormFile("file")
	if err != nil || file == nil {
		return fallback, nil
	}
	if uploader == nil {
		return "", fiber.NewError(fiber.StatusServiceUnavailable, "File storage is not configured")
	}
	return uploader.UploadDocument(c.UserContext(), file, folder, ownerID)
}

// GetSubmissions lists submissions the current user takes part in
func (sc *SubmissionController) GetSubmissions(c *fiber.Ctx) error {
	user, err := middleware.GetCurrentUser(c)
	if err != nil {
		return err
	}

	page, _ := strconv.Atoi(c.Query("page", "1"))
	limit, _ := strconv.Atoi(c.Query("limit", "20"))
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}

	query := database.DB.Model(&models.Submission{})
	switch user.Role {
	case models.RoleStudent:
		query = query.Where("student_id = ?", user.ID)
	case models.RoleLecturer:
		query = query.Where("primary_supervisor_id = ? OR secondary_supervisor_id = ?", user.ID, user.ID)
	}
	if status := c.Query("status"); status != "" {
		query = query.Where("status = ?", status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to count submissions"})
	}

	var submissions []models.Submission
	if err := query.Preload("Student").Order("created_at DESC").
		Offset((page - 1) * limit).Limit(limit).Find(&submissions).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to fetch submissions"})
	}

	return c.JSON(fiber.Map{
		"submissions": submissions,
		"pagination": fiber.Map{
			"page":  page,
			"limit": limit,
			"total": total,
		},
	})
}

// CreateSubmission creates a thesis title proposal (students only)
func (sc *SubmissionController) CreateSubmission(c *fiber.Ctx) error {
	user, err := middleware.GetCurrentUser(c)
	if err != nil {
		return err
	}

	var req orchestrator.ProposalInput
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	if err := utils.ValidateStruct(req); err != nil {
		return badRequest(c, utils.FormatValidationErrors(err))
	}

	supplied := req.ProposalRef
	req.ProposalRef, err = documentFrom(c, sc.uploader, "proposals", user.ID, supplied)
	if err != nil {
		return writeWorkflowError(c, err)
	}

	sub, err := sc.orch.SubmitProposal(c.UserContext(), user.ID, req)
	if err != nil {
		discardUpload(c, sc.uploader, req.ProposalRef, supplied)
		return writeWorkflowError(c, err)
	}

	middleware.LogActivity(c, "CREATE", "submissions", sub.ID, fiber.Map{"title": sub.Title})
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message":    "Submission created successfully",
		"submission": sub,
	})
}

// GetSubmission returns one submission with the caller's role on it
func (sc *SubmissionController) GetSubmission(c *fiber.Ctx) error {
	user, err := middleware.GetCurrentUser(c)
	if err != nil {
		return err
	}
	id, ok := idParam(c, "id")
	if !ok {
		return badRequest(c, "Invalid submission ID")
	}

	sub, role, err := sc.orch.Access(c.UserContext(), id, user.ID)
	if err != nil {
		return writeWorkflowError(c, err)
	}
	return c.JSON(fiber.Map{
		"submission": sub,
		"role":       role,
	})
}

// ResubmitSubmission sends a revised or rejected proposal back for review
func (sc *SubmissionController) ResubmitSubmission(c *fiber.Ctx) error {
	user, err := middleware.GetCurrentUser(c)
	if err != nil {
		return err
	}
	id, ok := idParam(c, "id")
	if !ok {
		return badRequest(c, "Invalid submission ID")
	}

	var req struct {
		ProposalRef string `json:"proposal_ref" form:"proposal_ref"`
	}
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	ref, err := documentFrom(c, sc.uploader, "proposals", user.ID, req.ProposalRef)
	if err != nil {
		return writeWorkflowError(c, err)
	}

	res, err := sc.orch.ApplyTransition(c.UserContext(), workflow.KindSubmission, id, user.ID, workflow.Intent{
		Action:      workflow.ActionResubmit,
		DocumentRef: ref,
	})
	if err != nil {
		discardUpload(c, sc.uploader, ref, req.ProposalRef)
		return writeWorkflowError(c, err)
	}
	return c.JSON(fiber.Map{
		"message": "Submission resubmitted",
		"result":  res,
	})
}

// ReviewSubmission records a supervisor decision on a proposal
func (sc *SubmissionController) ReviewSubmission(c *fiber.Ctx) error {
	return review(c, sc.orch, workflow.KindSubmission)
}

// review is shared by every supervisor decision endpoint.
func review(c *fiber.Ctx, orch *orchestrator.Orchestrator, kind workflow.EntityKind) error {
	user, err := middleware.GetCurrentUser(c)
	if err != nil {
		return err
	}
	id, ok := idParam(c, "id")
	if !ok {
		return badRequest(c, "Invalid "+kind.Label()+" ID")
	}

	var req ReviewRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	if err := utils.ValidateStruct(req); err != nil {
		return badRequest(c, utils.FormatValidationErrors(err))
	}

	res, err := orch.ApplyTransition(c.UserContext(), kind, id, user.ID, workflow.Intent{
		Action: workflow.Action(req.Action),
		Notes:  req.Reason,
	})
	if err != nil {
		return writeWorkflowError(c, err)
	}
	return c.JSON(fiber.Map{
		"message": "Review recorded",
		"result":  res,
	})
}
