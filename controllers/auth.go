package controllers

import (
	"context"
	"errors"
	"strings"
	"time"

	"bimbingan_go/database"
	"bimbingan_go/middleware"
	"bimbingan_go/models"
	"bimbingan_go/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// LineLinkIssuer hands out codes that pair an account with a LINE chat.
type LineLinkIssuer interface {
	Issue(ctx context.Context, userID uint) (string, time.Time, error)
}

type AuthController struct {
	lineLinks LineLinkIssuer
}

func NewAuthController(lineLinks LineLinkIssuer) *AuthController {
	return &AuthController{lineLinks: lineLinks}
}

// LoginRequest represents the login request body
type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// RegisterRequest represents an account created by an administrator
type RegisterRequest struct {
	Username string `json:"username" validate:"required,min=3,max=50"`
	Password string `json:"password" validate:"required,min=6"`
	FullName string `json:"full_name" validate:"required,max=255"`
	Email    string `json:"email" validate:"omitempty,email"`
	NIM      string `json:"nim" validate:"max=30"`
	NIDN     string `json:"nidn" validate:"max=30"`
	LineID   string `json:"line_id" validate:"max=100"`
	Role     string `json:"role" validate:"required,oneof=admin dosen mahasiswa"`
}

// Login authenticates a user and returns a JWT token
func (ac *AuthController) Login(c *fiber.Ctx) error {
	var req LoginRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if err := utils.ValidateStruct(req); err != nil {
		return badRequest(c, utils.FormatValidationErrors(err))
	}

	// Find user by username
	var user models.User
	if err := database.DB.Where("username = ? AND status = ?", req.Username, models.StatusActive).First(&user).Error; err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Invalid credentials",
		})
	}

	// Check password
	if err := utils.CheckPassword(req.Password, user.Password); err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "Invalid credentials",
		})
	}

	token, err := middleware.GenerateToken(&user)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to generate token",
		})
	}

	c.Locals("user", &user)
	middleware.LogActivity(c, "LOGIN", "auth", user.ID, fiber.Map{
		"username": user.Username,
		"role":     user.Role,
	})

	return c.JSON(fiber.Map{
		"message": "Login successful",
		"token":   token,
		"user":    profileOf(&user),
	})
}

// Logout invalidates the current JWT by storing it in the Redis blacklist
// until it would have expired anyway
func (ac *AuthController) Logout(c *fiber.Ctx) error {
	claims, err := middleware.GetCurrentClaims(c)
	if err != nil {
		return err
	}
	tokenString := strings.TrimPrefix(c.Get("Authorization"), "Bearer ")

	if rc := database.GetRedisClient(); rc != nil && claims.ExpiresAt != nil {
		ttl := time.Until(claims.ExpiresAt.Time)
		if ttl > 0 {
			ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
			defer cancel()
			if err := rc.Set(ctx, middleware.BlacklistKey(tokenString), "1", ttl).Err(); err != nil {
				middleware.LogActivity(c, "LOGOUT", "auth", claims.UserID, fiber.Map{"error": err.Error()})
				return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
					"error": "Could not revoke token, try again",
				})
			}
		}
	}

	middleware.LogActivity(c, "LOGOUT", "auth", claims.UserID, fiber.Map{"username": claims.Username})
	return c.JSON(fiber.Map{"message": "Logged out successfully"})
}

// Register creates a new user account (admin only)
func (ac *AuthController) Register(c *fiber.Ctx) error {
	var req RegisterRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if err := utils.ValidateStruct(req); err != nil {
		return badRequest(c, utils.FormatValidationErrors(err))
	}
	if !utils.IsValidRole(req.Role) {
		return badRequest(c, "Invalid role")
	}

	hashedPassword, err := utils.HashPassword(req.Password)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to hash password",
		})
	}

	user := models.User{
		Username: strings.TrimSpace(req.Username),
		Password: hashedPassword,
		FullName: strings.TrimSpace(req.FullName),
		Email:    req.Email,
		NIM:      req.NIM,
		NIDN:     req.NIDN,
		LineID:   req.LineID,
		Role:     req.Role,
		Status:   models.StatusActive,
	}

	if err := database.DB.Create(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{
				"error": "Username or email already exists",
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to create user",
		})
	}

	middleware.LogActivity(c, "CREATE", "users", user.ID, fiber.Map{
		"username": user.Username,
		"role":     user.Role,
	})

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message": "User created successfully",
		"user":    profileOf(&user),
	})
}

// GetProfile returns the current user's profile
func (ac *AuthController) GetProfile(c *fiber.Ctx) error {
	user, err := middleware.GetCurrentUser(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "User not found",
		})
	}
	return c.JSON(fiber.Map{"user": profileOf(user)})
}

// UpdateProfile lets users change their display name, email and LINE id
func (ac *AuthController) UpdateProfile(c *fiber.Ctx) error {
	user, err := middleware.GetCurrentUser(c)
	if err != nil {
		return err
	}

	var req struct {
		FullName *string `json:"full_name" validate:"omitempty,max=255"`
		Email    *string `json:"email" validate:"omitempty,email"`
		LineID   *string `json:"line_id" validate:"omitempty,max=100"`
	}
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid request body")
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
	if req.LineID != nil {
		updates["line_id"] = strings.TrimSpace(*req.LineID)
	}
	if len(updates) == 0 {
		return badRequest(c, "Nothing to update")
	}

	if err := database.DB.Model(user).Updates(updates).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "Email already exists"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to update profile"})
	}
	if err := database.DB.First(user, user.ID).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to reload profile"})
	}

	middleware.LogActivity(c, "UPDATE", "users", user.ID, fiber.Map{"action": "profile_update"})
	return c.JSON(fiber.Map{"user": profileOf(user)})
}

// ChangePassword allows users to change their password
func (ac *AuthController) ChangePassword(c *fiber.Ctx) error {
	user, err := middleware.GetCurrentUser(c)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error": "User not found",
		})
	}

	var req struct {
		CurrentPassword string `json:"current_password" validate:"required"`
		NewPassword     string `json:"new_password" validate:"required,min=6"`
	}

	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}
	if err := utils.ValidateStruct(req); err != nil {
		return badRequest(c, utils.FormatValidationErrors(err))
	}

	// Check current password
	if err := utils.CheckPassword(req.CurrentPassword, user.Password); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Current password is incorrect",
		})
	}

	hashedPassword, err := utils.HashPassword(req.NewPassword)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to hash password",
		})
	}

	if err := database.DB.Model(user).Update("password", hashedPassword).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to update password",
		})
	}

	middleware.LogActivity(c, "UPDATE", "users", user.ID, fiber.Map{
		"action": "password_change",
	})

	return c.JSON(fiber.Map{
		"message": "Password changed successfully",
	})
}

// IssueLineLinkCode returns a single-use code the user sends to the LINE bot
func (ac *AuthController) IssueLineLinkCode(c *fiber.Ctx) error {
	user, err := middleware.GetCurrentUser(c)
	if err != nil {
		return err
	}
	if ac.lineLinks == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "LINE linking is not enabled"})
	}
	code, expires, err := ac.lineLinks.Issue(c.UserContext(), user.ID)
	if err != nil {
		logrus.WithError(err).WithField("user_id", user.ID).Error("Failed to issue LINE link code")
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "Could not issue link code"})
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"code":       code,
		"expires_at": expires,
	})
}

// GetLecturers lists active lecturers a student can pick as supervisors
func (ac *AuthController) GetLecturers(c *fiber.Ctx) error {
	var lecturers []models.User
	if err := database.DB.Where("role = ? AND status = ?", models.RoleLecturer, models.StatusActive).
		Order("full_name ASC").Find(&lecturers).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to fetch lecturers"})
	}
	out := make([]utils.UserShort, 0, len(lecturers))
	for _, l := range lecturers {
		out = append(out, utils.UserShort{ID: l.ID, FullName: l.FullName, Role: l.Role})
	}
	return c.JSON(fiber.Map{"lecturers": out})
}

func profileOf(user *models.User) fiber.Map {
	return fiber.Map{
		"id":        user.ID,
		"username":  user.Username,
		"full_name": user.FullName,
		"email":     user.Email,
		"nim":       user.NIM,
		"nidn":      user.NIDN,
		"line_id":   user.LineID,
		"role":      user.Role,
		"status":    user.Status,
	}
}
