package controllers

import (
	"context"
	"fmt"
	"strconv"

	"bimbingan_go/middleware"
	"bimbingan_go/models"
	"bimbingan_go/services/orchestrator"
	"bimbingan_go/services/workflow"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

// HistoryStore lists documents replaced by resubmissions.
type HistoryStore interface {
	DocumentHistoryFor(ctx context.Context, kind workflow.EntityKind, entityID uint) ([]models.DocumentHistory, error)
}

// documentRemover is implemented by uploaders that can take a file back.
type documentRemover interface {
	DeleteFile(ctx context.Context, ref string) error
}

// ChapterController handles chapter uploads and reviews.
type ChapterController struct {
	orch     *orchestrator.Orchestrator
	uploader DocumentUploader
	history  HistoryStore
}

func NewChapterController(orch *orchestrator.Orchestrator, uploader DocumentUploader, history HistoryStore) *ChapterController {
	return &ChapterController{orch: orch, uploader: uploader, history: history}
}

// UploadChapter submits or resubmits one chapter document (students only)
func (cc *ChapterController) UploadChapter(c *fiber.Ctx) error {
	user, err := middleware.GetCurrentUser(c)
	if err != nil {
		return err
	}
	subID, ok := idParam(c, "id")
	if !ok {
		return badRequest(c, "Invalid submission ID")
	}

	var req struct {
		ChapterNumber int    `json:"chapter_number" form:"chapter_number"`
		DocumentRef   string `json:"document_ref" form:"document_ref"`
	}
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	if err := workflow.ValidateChapterNumber(req.ChapterNumber, cc.orch.ChapterCount()); err != nil {
		return badRequest(c, fmt.Sprintf("chapter_number must be between 1 and %d", cc.orch.ChapterCount()))
	}

	ref, err := documentFrom(c, cc.uploader, fmt.Sprintf("chapters/%d", subID), user.ID, req.DocumentRef)
	if err != nil {
		return writeWorkflowError(c, err)
	}

	res, err := cc.orch.SubmitChapter(c.UserContext(), subID, user.ID, req.ChapterNumber, ref)
	if err != nil {
		discardUpload(c, cc.uploader, ref, req.DocumentRef)
		return writeWorkflowError(c, err)
	}

	middleware.LogActivity(c, string(res.Action), "chapters", res.EntityID, fiber.Map{
		"submission_id":  subID,
		"chapter_number": req.ChapterNumber,
	})
	status := fiber.StatusOK
	if res.Action == workflow.ActionSubmit {
		status = fiber.StatusCreated
	}
	return c.Status(status).JSON(fiber.Map{
		"message": "Chapter uploaded",
		"result":  res,
	})
}

// GetChapters lists the chapters of a submission
func (cc *ChapterController) GetChapters(c *fiber.Ctx) error {
	report, err := cc.progress(c)
	if err != nil {
		return writeWorkflowError(c, err)
	}
	return c.JSON(fiber.Map{"chapters": report.Chapters})
}

// GetProgress reports the highest accepted chapter
func (cc *ChapterController) GetProgress(c *fiber.Ctx) error {
	report, err := cc.progress(c)
	if err != nil {
		return writeWorkflowError(c, err)
	}
	return c.JSON(report)
}

// GetChapterHistory lists the superseded documents of one chapter
func (cc *ChapterController) GetChapterHistory(c *fiber.Ctx) error {
	number, err := strconv.Atoi(c.Params("number"))
	if err != nil {
		return badRequest(c, "Invalid chapter number")
	}
	report, err := cc.progress(c)
	if err != nil {
		return writeWorkflowError(c, err)
	}

	for _, ch := range report.Chapters {
		if ch.ChapterNumber != number {
			continue
		}
		rows, err := cc.history.DocumentHistoryFor(c.UserContext(), workflow.KindChapter, ch.ID)
		if err != nil {
			return writeWorkflowError(c, err)
		}
		return c.JSON(fiber.Map{
			"chapter": ch,
			"history": rows,
		})
	}
	return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Chapter not found"})
}

// ReviewChapter records a supervisor decision on a chapter
func (cc *ChapterController) ReviewChapter(c *fiber.Ctx) error {
	return review(c, cc.orch, workflow.KindChapter)
}

func (cc *ChapterController) progress(c *fiber.Ctx) (*orchestrator.ProgressReport, error) {
	user, err := middleware.GetCurrentUser(c)
	if err != nil {
		return nil, err
	}
	subID, ok := idParam(c, "id")
	if !ok {
		return nil, orchestrator.ErrNotFound
	}
	return cc.orch.Progress(c.UserContext(), subID, user.ID)
}

// discardUpload removes a file uploaded for a request that was then refused.
// A reference supplied by the client is never deleted.
func discardUpload(c *fiber.Ctx, uploader DocumentUploader, ref, supplied string) {
	if ref == "" || ref == supplied {
		return
	}
	remover, ok := uploader.(documentRemover)
	if !ok {
		return
	}
	if err := remover.DeleteFile(context.WithoutCancel(c.UserContext()), ref); err != nil {
		logrus.WithError(err).WithField("ref", ref).Warn("failed to remove refused upload")
	}
}
