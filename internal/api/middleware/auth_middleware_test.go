package middleware

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	config "github.com/maheshrc27/postscheduler/configs"
	"github.com/maheshrc27/postscheduler/pkg/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestApp(secret string) *fiber.App {
	cfg := config.Config{SecretKey: secret, CookieName: "token"}
	m := NewAuthMiddleware(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))

	app := fiber.New()
	app.Get("/private", m.AuthMiddleware(), func(c *fiber.Ctx) error {
		id, _ := c.Locals("user_id").(string)
		return c.SendString(id)
	})
	return app
}

func body(t *testing.T, resp *http.Response) string {
	t.Helper()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(b)
}

func TestAuthMiddleware_BearerToken(t *testing.T) {
	app := newTestApp("s3cret")
	token, err := utils.GenerateToken("s3cret", "17", time.Hour)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/private", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "17", body(t, resp))
}

func TestAuthMiddleware_Cookie(t *testing.T) {
	app := newTestApp("s3cret")
	token, err := utils.GenerateToken("s3cret", "5", time.Hour)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/private", nil)
	req.AddCookie(&http.Cookie{Name: "token", Value: token})
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, "5", body(t, resp))
}

func TestAuthMiddleware_Rejects(t *testing.T) {
	app := newTestApp("s3cret")

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/private", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req := httptest.NewRequest(http.MethodGet, "/private", nil)
	req.AddCookie(&http.Cookie{Name: "token", Value: "garbage"})
	resp, err = app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Set-Cookie"), "token=")
}

func TestAuthMiddleware_DisabledWithoutSecret(t *testing.T) {
	app := newTestApp("")

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/private", nil), -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, body(t, resp))
}
