package middleware

import (
	"bimbingan_go/config"
	"bimbingan_go/database"
	"bimbingan_go/models"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v4"
)

type Claims struct {
	UserID   uint   `json:"user_id"`
	Username string `json:"username"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// GenerateToken creates a new JWT token for a user
func GenerateToken(user *models.User) (string, error) {
	claims := &Claims{
		UserID:   user.ID,
		Username: user.Username,
		Role:     user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(config.AppConfig.JWTExpiresIn)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			NotBefore: jwt.NewNumericDate(time.Now()),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(config.AppConfig.JWTSecret))
}

// ParseToken validates a signed token and returns its claims.
func ParseToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(config.AppConfig.JWTSecret), nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, jwt.ErrInvalidKey
	}
	return claims, nil
}

var (
	// ErrTokenRevoked is returned for tokens that were logged out.
	ErrTokenRevoked = errors.New("token revoked")
	ErrUserInactive = errors.New("user not found or inactive")
)

// BlacklistKey is the Redis key marking a logged-out token.
func BlacklistKey(tokenString string) string {
	return "blacklist:jwt:" + tokenString
}

// Authenticate parses tokenString, rejects revoked tokens and loads the
// active account behind it.
func Authenticate(ctx context.Context, tokenString string) (*Claims, *models.User, error) {
	claims, err := ParseToken(tokenString)
	if err != nil {
		return nil, nil, err
	}
	if rc := database.GetRedisClient(); rc != nil {
		// fail open while Redis is unreachable
		if n, err := rc.Exists(ctx, BlacklistKey(tokenString)).Result(); err == nil && n > 0 {
			return nil, nil, ErrTokenRevoked
		}
	}
	user, err := ActiveUser(claims)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrUserInactive, err)
	}
	return claims, user, nil
}

// ActiveUser loads the account behind claims, rejecting blocked users.
func ActiveUser(claims *Claims) (*models.User, error) {
	var user models.User
	if err := database.DB.Where("id = ? AND status = ?", claims.UserID, models.StatusActive).First(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// JWTMiddleware validates JWT tokens
func JWTMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		// Get token from Authorization header
		authHeader := c.Get("Authorization")
		if authHeader == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Missing authorization header",
			})
		}

		// Extract token from "Bearer <token>"
		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		if tokenString == authHeader {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Invalid authorization header format",
			})
		}

		claims, user, err := Authenticate(c.UserContext(), tokenString)
		if err != nil {
			msg := "Invalid token"
			switch {
			case errors.Is(err, ErrTokenRevoked):
				msg = "Token has been revoked"
			case errors.Is(err, ErrUserInactive):
				msg = "User not found or inactive"
			}
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": msg,
			})
		}

		// Store user info in context
		c.Locals("user", user)
		c.Locals("claims", claims)

		return c.Next()
	}
}

// RequireRole middleware checks if user has required role
func RequireRole(roles ...string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		claims, ok := c.Locals("claims").(*Claims)
		if !ok {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Missing user claims",
			})
		}

		// Check if user role is in allowed roles
		for _, role := range roles {
			if claims.Role == role {
				return c.Next()
			}
		}

		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"error": "Insufficient permissions",
		})
	}
}

// RequireAdmin allows only administrators
func RequireAdmin() fiber.Handler {
	return RequireRole(models.RoleAdmin)
}

// RequireStudent allows only students (mahasiswa)
func RequireStudent() fiber.Handler {
	return RequireRole(models.RoleStudent)
}

// RequireLecturer allows only lecturers (dosen)
func RequireLecturer() fiber.Handler {
	return RequireRole(models.RoleLecturer)
}

// GetCurrentUser returns the current authenticated user
func GetCurrentUser(c *fiber.Ctx) (*models.User, error) {
	user, ok := c.Locals("user").(*models.User)
	if !ok {
		return nil, fiber.NewError(fiber.StatusUnauthorized, "User not found in context")
	}
	return user, nil
}

// GetCurrentClaims returns the current JWT claims
func GetCurrentClaims(c *fiber.Ctx) (*Claims, error) {
	claims, ok := c.Locals("claims").(*Claims)
	if !ok {
		return nil, fiber.NewError(fiber.StatusUnauthorized, "Claims not found in context")
	}
	return claims, nil
}
