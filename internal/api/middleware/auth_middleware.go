package middleware

import (
	"log/slog"
	"strings"

	"github.com/gofiber/fiber/v2"
	config "github.com/maheshrc27/postscheduler/configs"
	"github.com/maheshrc27/postscheduler/internal/transfer"
	"github.com/maheshrc27/postscheduler/pkg/utils"
)

type AuthMiddleware struct {
	cfg    config.Config
	logger *slog.Logger
}

func NewAuthMiddleware(cfg config.Config, logger *slog.Logger) *AuthMiddleware {
	if cfg.SecretKey == "" {
		logger.Warn("SECRET_KEY is empty, api authentication is disabled")
	}
	return &AuthMiddleware{cfg: cfg, logger: logger}
}

// AuthMiddleware accepts a JWT from the session cookie or an Authorization
// bearer header and stores the user id in c.Locals("user_id").
func (m *AuthMiddleware) AuthMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if m.cfg.SecretKey == "" {
			return c.Next()
		}

		tokenString := c.Cookies(m.cfg.CookieName)
		fromCookie := tokenString != ""
		if !fromCookie {
			if h := c.Get(fiber.HeaderAuthorization); strings.HasPrefix(h, "Bearer ") {
				tokenString = strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
			}
		}

		if tokenString == "" {
			return unauthorized(c, "missing token")
		}

		claims, err := utils.ValidateToken(m.cfg.SecretKey, tokenString)
		if err != nil {
			if fromCookie {
				c.Cookie(&fiber.Cookie{
					Name:   m.cfg.CookieName,
					Value:  "",
					Path:   "/",
					MaxAge: -1,
				})
			}
			m.logger.Info("token validation failed", "error", err)
			return unauthorized(c, "invalid or expired token")
		}

		c.Locals("user_id", claims.UserID)
		return c.Next()
	}
}

func unauthorized(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusUnauthorized).JSON(transfer.ErrorResponse{
		Error: transfer.ErrorBody{Kind: "UNAUTHORIZED", Message: msg},
	})
}
