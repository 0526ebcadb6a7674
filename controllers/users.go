package controllers

import (
	"errors"
	"strconv"
	"strings"

	"bimbingan_go/database"
	"bimbingan_go/middleware"
	"bimbingan_go/models"
	"bimbingan_go/utils"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

// UserController is the administrator's account management. Roles are fixed
// at creation because supervisor assignments depend on them.
type UserController struct{}

// GetUsers returns users with pagination
func (uc *UserController) GetUsers(c *fiber.Ctx) error {
	page, _ := strconv.Atoi(c.Query("page", "1"))
	limit, _ := strconv.Atoi(c.Query("limit", "10"))
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 10
	}
	offset := (page - 1) * limit

	var users []models.User
	var total int64

	query := database.DB.Model(&models.User{})

	// Filter by role if specified
	if role := c.Query("role"); role != "" {
		query = query.Where("role = ?", role)
	}

	// Filter by status
	if status := c.Query("status", models.StatusActive); status != "all" {
		query = query.Where("status = ?", status)
	}

	if q := strings.TrimSpace(c.Query("q")); q != "" {
		like := "%" + q + "%"
		query = query.Where("username LIKE ? OR full_name LIKE ? OR nim = ? OR nidn = ?", like, like, q, q)
	}

	if err := query.Count(&total).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to count users",
		})
	}

	if err := query.Order("full_name ASC").Offset(offset).Limit(limit).Find(&users).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch users",
		})
	}

	out := make([]fiber.Map, 0, len(users))
	for i := range users {
		out = append(out, profileOf(&users[i]))
	}

	return c.JSON(fiber.Map{
		"users": out,
		"pagination": fiber.Map{
			"page":  page,
			"limit": limit,
			"total": total,
		},
	})
}

// GetUser returns a specific user by ID
func (uc *UserController) GetUser(c *fiber.Ctx) error {
	id, ok := idParam(c, "id")
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid user ID",
		})
	}

	var user models.User
	if err := database.DB.First(&user, id).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "User not found",
		})
	}

	return c.JSON(fiber.Map{
		"user": profileOf(&user),
	})
}

// UpdateUser updates an existing user's details or status
func (uc *UserController) UpdateUser(c *fiber.Ctx) error {
	id, ok := idParam(c, "id")
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid user ID",
		})
	}

	var user models.User
	if err := database.DB.First(&user, id).Error; err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "User not found",
		})
	}

	var req struct {
		FullName *string `json:"full_name" validate:"omitempty,max=255"`
		Email    *string `json:"email" validate:"omitempty,email"`
		NIM      *string `json:"nim" validate:"omitempty,max=30"`
		NIDN     *string `json:"nidn" validate:"omitempty,max=30"`
		Status   *string `json:"status" validate:"omitempty,oneof=active inactive"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if err := utils.ValidateStruct(req); err != nil {
		return badRequest(c, utils.FormatValidationErrors(err))
	}

	updates := map[string]interface{}{}
	if req.FullName != nil {
		updates["full_name"] = strings.TrimSpace(*req.FullName)
	}
	if req.Email != nil {
		updates["email"] = strings.TrimSpace(*req.Email)
	}
	if req.NIM != nil {
		updates["nim"] = strings.TrimSpace(*req.NIM)
	}
	if req.NIDN != nil {
		updates["nidn"] = strings.TrimSpace(*req.NIDN)
	}
	if req.Status != nil {
		if current, _ := middleware.GetCurrentUser(c); current != nil && current.ID == user.ID && *req.Status != models.StatusActive {
			return badRequest(c, "You cannot deactivate your own account")
		}
		updates["status"] = *req.Status
	}
	if len(updates) == 0 {
		return badRequest(c, "Nothing to update")
	}

	if err := database.DB.Model(&user).Updates(updates).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "Email already exists"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to update user",
		})
	}
	if err := database.DB.First(&user, user.ID).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to reload user"})
	}

	middleware.LogActivity(c, "UPDATE", "users", user.ID, updates)

	return c.JSON(fiber.Map{
		"message": "User updated successfully",
		"user":    profileOf(&user),
	})
}
