package middleware

import (
	"net/http/httptest"
	"testing"
	"time"

	"bimbingan_go/config"
	"bimbingan_go/models"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v4"
)

func withConfig(t *testing.T) {
	t.Helper()
	prev := config.AppConfig
	config.AppConfig = &config.Config{JWTSecret: "test-secret", JWTExpiresIn: time.Hour}
	t.Cleanup(func() { config.AppConfig = prev })
}

func TestGenerateAndParseToken(t *testing.T) {
	withConfig(t)
	user := &models.User{Username: "dosen_budi", Role: models.RoleLecturer}
	user.ID = 42

	token, err := GenerateToken(user)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	claims, err := ParseToken(token)
	if err != nil {
		t.Fatalf("ParseToken: %v", err)
	}
	if claims.UserID != 42 || claims.Role != models.RoleLecturer || claims.Username != "dosen_budi" {
		t.Fatalf("claims = %+v", claims)
	}
}

func TestParseTokenRejects(t *testing.T) {
	withConfig(t)
	valid, err := GenerateToken(&models.User{Username: "u", Role: models.RoleStudent})
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	expired := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		UserID: 1,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	})
	expiredStr, _ := expired.SignedString([]byte("test-secret"))

	otherKey := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{UserID: 1})
	otherKeyStr, _ := otherKey.SignedString([]byte("another-secret"))

	unsigned := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{UserID: 1})
	unsignedStr, _ := unsigned.SignedString(jwt.UnsafeAllowNoneSignatureType)

	tests := []struct {
		name  string
		token string
	}{
		{"tampered", valid + "x"},
		{"expired", expiredStr},
		{"wrong key", otherKeyStr},
		{"alg none", unsignedStr},
		{"garbage", "not-a-token"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ParseToken(tc.token); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestRequireRole(t *testing.T) {
	tests := []struct {
		name   string
		claims *Claims
		want   int
	}{
		{"missing claims", nil, fiber.StatusUnauthorized},
		{"student on lecturer route", &Claims{Role: models.RoleStudent}, fiber.StatusForbidden},
		{"lecturer", &Claims{Role: models.RoleLecturer}, fiber.StatusOK},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			app := fiber.New()
			app.Get("/", func(c *fiber.Ctx) error {
				if tc.claims != nil {
					c.Locals("claims", tc.claims)
				}
				return c.Next()
			}, RequireLecturer(), func(c *fiber.Ctx) error {
				return c.SendStatus(fiber.StatusOK)
			})

			resp, err := app.Test(httptest.NewRequest("GET", "/", nil))
			if err != nil {
				t.Fatalf("request: %v", err)
			}
			if resp.StatusCode != tc.want {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tc.want)
			}
		})
	}
}

func TestBlacklistKey(t *testing.T) {
	if got := BlacklistKey("abc"); got != "blacklist:jwt:abc" {
		t.Fatalf("BlacklistKey = %q", got)
	}
}
