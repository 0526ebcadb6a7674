package controllers

import (
	"fmt"
	"strconv"

	"bimbingan_go/middleware"
	"bimbingan_go/services/orchestrator"
	"bimbingan_go/utils"

	"github.com/gofiber/fiber/v2"
)

// MessageController handles the guidance chat.
type MessageController struct {
	orch     *orchestrator.Orchestrator
	uploader DocumentUploader
}

func NewMessageController(orch *orchestrator.Orchestrator, uploader DocumentUploader) *MessageController {
	return &MessageController{orch: orch, uploader: uploader}
}

// SendMessage posts text and/or an attachment to a submission's chat
func (mc *MessageController) SendMessage(c *fiber.Ctx) error {
	user, err := middleware.GetCurrentUser(c)
	if err != nil {
		return err
	}
	subID, ok := idParam(c, "id")
	if !ok {
		return badRequest(c, "Invalid submission ID")
	}

	var req struct {
		Content string `json:"content" form:"content"`
	}
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
	}
	// non-parties must not be able to store files
	if _, _, err := mc.orch.Access(c.UserContext(), subID, user.ID); err != nil {
		return writeWorkflowError(c, err)
	}

	attachment, err := documentFrom(c, mc.uploader, fmt.Sprintf("messages/%d", subID), user.ID, "")
	if err != nil {
		return writeWorkflowError(c, err)
	}

	msg, err := mc.orch.SendMessage(c.UserContext(), subID, user.ID, utils.SanitizeString(req.Content), attachment)
	if err != nil {
		discardUpload(c, mc.uploader, attachment, "")
		return writeWorkflowError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message": utils.ToMessageDTO(*msg),
	})
}

// GetMessages returns chat history after an optional after_id cursor
func (mc *MessageController) GetMessages(c *fiber.Ctx) error {
	user, err := middleware.GetCurrentUser(c)
	if err != nil {
		return err
	}
	subID, ok := idParam(c, "id")
	if !ok {
		return badRequest(c, "Invalid submission ID")
	}

	var afterID uint
	if raw := c.Query("after_id"); raw != "" {
		n, err := strconv.ParseUint(raw, 10, 32)
		if err != nil {
			return badRequest(c, "Invalid after_id")
		}
		afterID = uint(n)
	}
	limit, _ := strconv.Atoi(c.Query("limit", "50"))

	msgs, err := mc.orch.History(c.UserContext(), subID, user.ID, afterID, limit)
	if err != nil {
		return writeWorkflowError(c, err)
	}

	out := make([]utils.MessageDTO, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, utils.ToMessageDTO(m))
	}
	resp := fiber.Map{"messages": out}
	if len(out) > 0 {
		resp["last_id"] = out[len(out)-1].ID
	}
	return c.JSON(resp)
}
