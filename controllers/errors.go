package controllers

import (
	"errors"

	"bimbingan_go/services/orchestrator"
	"bimbingan_go/services/workflow"
	"bimbingan_go/storage"
	"bimbingan_go/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

// ErrorStatus maps domain errors to an HTTP status and the message shown to
// the client.
func ErrorStatus(err error) (int, string) {
	var (
		invalid   *workflow.InvalidTransitionError
		denied    *workflow.UnauthorizedRoleError
		ambiguous *workflow.AmbiguousRoleError
		immutable *workflow.ImmutableStateError
		fe        *fiber.Error
	)
	switch {
	case errors.As(err, &fe):
		return fe.Code, fe.Message
	case errors.As(err, &invalid):
		return fiber.StatusConflict, err.Error()
	case errors.As(err, &denied):
		return fiber.StatusForbidden, err.Error()
	case errors.As(err, &ambiguous):
		return fiber.StatusInternalServerError, "supervisor assignment is inconsistent, contact an administrator"
	case errors.As(err, &immutable):
		return fiber.StatusConflict, err.Error()
	case errors.Is(err, orchestrator.ErrNotFound):
		return fiber.StatusNotFound, "Not found"
	case errors.Is(err, orchestrator.ErrNotParty):
		return fiber.StatusForbidden, err.Error()
	case errors.Is(err, orchestrator.ErrConflict):
		return fiber.StatusConflict, err.Error()
	case errors.Is(err, orchestrator.ErrEmptyMessage),
		errors.Is(err, orchestrator.ErrInvalidSupervisor),
		errors.Is(err, workflow.ErrDuplicateSupervisor),
		errors.Is(err, storage.ErrExtensionNotAllowed),
		errors.Is(err, storage.ErrEmptyFile):
		return fiber.StatusBadRequest, err.Error()
	case errors.Is(err, storage.ErrFileTooLarge):
		return fiber.StatusRequestEntityTooLarge, err.Error()
	}
	return fiber.StatusInternalServerError, "Internal Server Error"
}

// writeWorkflowError renders err as a JSON error response.
func writeWorkflowError(c *fiber.Ctx, err error) error {
	status, msg := ErrorStatus(err)
	if status >= fiber.StatusInternalServerError {
		logrus.WithError(err).WithFields(logrus.Fields{
			"path":   c.Path(),
			"method": c.Method(),
		}).Error("request failed")
	}
	return c.Status(status).JSON(fiber.Map{"error": msg})
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": msg})
}

// idParam reads a positive numeric route parameter.
func idParam(c *fiber.Ctx, name string) (uint, bool) {
	return utils.ParseID(c.Params(name))
}
