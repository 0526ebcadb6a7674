package controllers

import (
	"bytes"
	"errors"
	"fmt"

	"bimbingan_go/middleware"
	"bimbingan_go/services/cardexport"
	"bimbingan_go/services/orchestrator"
	"bimbingan_go/services/workflow"

	"github.com/gofiber/fiber/v2"
)

// FinalReportController handles the final report bundle and the guidance card.
type FinalReportController struct {
	orch     *orchestrator.Orchestrator
	uploader DocumentUploader
	history  HistoryStore
}

func NewFinalReportController(orch *orchestrator.Orchestrator, uploader DocumentUploader, history HistoryStore) *FinalReportController {
	return &FinalReportController{orch: orch, uploader: uploader, history: history}
}

// GetFinalReport returns the final report of a submission
func (fc *FinalReportController) GetFinalReport(c *fiber.Ctx) error {
	user, err := middleware.GetCurrentUser(c)
	if err != nil {
		return err
	}
	subID, ok := idParam(c, "id")
	if !ok {
		return badRequest(c, "Invalid submission ID")
	}

	report, err := fc.orch.FinalReport(c.UserContext(), subID, user.ID)
	if err != nil {
		return writeWorkflowError(c, err)
	}
	resp := fiber.Map{"final_report": report}
	if fc.history != nil {
		rows, err := fc.history.DocumentHistoryFor(c.UserContext(), workflow.KindFinalReport, report.ID)
		if err != nil {
			return writeWorkflowError(c, err)
		}
		resp["history"] = rows
	}
	return c.JSON(resp)
}

// UploadSlot stores one final report document (students only)
func (fc *FinalReportController) UploadSlot(c *fiber.Ctx) error {
	user, err := middleware.GetCurrentUser(c)
	if err != nil {
		return err
	}
	subID, ok := idParam(c, "id")
	if !ok {
		return badRequest(c, "Invalid submission ID")
	}
	slot, err := workflow.ParseSlot(c.Params("slot"))
	if err != nil {
		return badRequest(c, err.Error())
	}

	var req struct {
		DocumentRef string `json:"document_ref" form:"document_ref"`
	}
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	ref, err := documentFrom(c, fc.uploader, fmt.Sprintf("final-reports/%d/%s", subID, slot), user.ID, req.DocumentRef)
	if err != nil {
		return writeWorkflowError(c, err)
	}

	res, err := fc.orch.UploadFinalReportSlot(c.UserContext(), subID, user.ID, slot, ref)
	if err != nil {
		discardUpload(c, fc.uploader, ref, req.DocumentRef)
		return writeWorkflowError(c, err)
	}

	middleware.LogActivity(c, string(res.Action), "final-reports", res.EntityID, fiber.Map{
		"submission_id": subID,
		"slot":          slot,
	})
	return c.JSON(fiber.Map{
		"message": "Final report document uploaded",
		"result":  res,
	})
}

// ReviewFinalReport records a supervisor decision on the final report
func (fc *FinalReportController) ReviewFinalReport(c *fiber.Ctx) error {
	return review(c, fc.orch, workflow.KindFinalReport)
}

// GenerateGuidanceCard creates the guidance card once the report is accepted
func (fc *FinalReportController) GenerateGuidanceCard(c *fiber.Ctx) error {
	user, err := middleware.GetCurrentUser(c)
	if err != nil {
		return err
	}
	subID, ok := idParam(c, "id")
	if !ok {
		return badRequest(c, "Invalid submission ID")
	}

	card, created, err := fc.orch.GenerateGuidanceCard(c.UserContext(), subID, user.ID)
	if err != nil {
		return writeWorkflowError(c, err)
	}

	status := fiber.StatusOK
	if created {
		status = fiber.StatusCreated
		middleware.LogActivity(c, "CREATE", "guidance-cards", card.ID, fiber.Map{"submission_id": subID})
	}
	return c.Status(status).JSON(fiber.Map{
		"guidance_card": card,
		"created":       created,
	})
}

// ExportGuidanceCard downloads the guidance card as an xlsx workbook
func (fc *FinalReportController) ExportGuidanceCard(c *fiber.Ctx) error {
	user, err := middleware.GetCurrentUser(c)
	if err != nil {
		return err
	}
	subID, ok := idParam(c, "id")
	if !ok {
		return badRequest(c, "Invalid submission ID")
	}

	details, err := fc.orch.CardDetails(c.UserContext(), subID, user.ID)
	if errors.Is(err, orchestrator.ErrNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Guidance card has not been generated"})
	}
	if err != nil {
		return writeWorkflowError(c, err)
	}

	var buf bytes.Buffer
	if err := cardexport.Write(&buf, details); err != nil {
		return writeWorkflowError(c, fmt.Errorf("render guidance card: %w", err))
	}

	c.Set(fiber.HeaderContentType, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	c.Set(fiber.HeaderContentDisposition, fmt.Sprintf(`attachment; filename="%s"`, cardexport.FileName(subID)))
	return c.Send(buf.Bytes())
}
