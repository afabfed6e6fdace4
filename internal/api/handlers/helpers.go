package handlers

import (
	"errors"
	"log/slog"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/maheshrc27/postscheduler/internal/apperr"
	"github.com/maheshrc27/postscheduler/internal/transfer"
)

// GetUserID returns the authenticated user id, or nil when the request is anonymous.
func GetUserID(c *fiber.Ctx) *int64 {
	raw, ok := c.Locals("user_id").(string)
	if !ok || raw == "" {
		return nil
	}
	userID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil
	}
	return &userID
}

func statusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.NotFound:
		return fiber.StatusNotFound
	case apperr.PreconditionFailed:
		return fiber.StatusPreconditionFailed
	case apperr.InvalidSchedule:
		return fiber.StatusUnprocessableEntity
	case apperr.InvalidState:
		return fiber.StatusConflict
	case apperr.UnsupportedPlatform, apperr.InvalidRequest:
		return fiber.StatusBadRequest
	case apperr.PlatformAPI:
		return fiber.StatusBadGateway
	default:
		return fiber.StatusInternalServerError
	}
}

func errorBody(err error) *transfer.ErrorBody {
	kind := apperr.KindOf(err)
	msg := err.Error()

	var e *apperr.Error
	if errors.As(err, &e) && kind != apperr.Internal {
		msg = e.Message
	}
	if kind == apperr.Internal {
		msg = "internal server error"
	}
	return &transfer.ErrorBody{Kind: string(kind), Message: msg}
}

func writeError(c *fiber.Ctx, err error) error {
	body := errorBody(err)
	status := statusFor(apperr.Kind(body.Kind))
	if status >= fiber.StatusInternalServerError {
		slog.Error("request failed", "method", c.Method(), "path", c.Path(), "error", err)
	}
	return c.Status(status).JSON(transfer.ErrorResponse{Error: *body})
}

func badRequest(c *fiber.Ctx, format string, args ...any) error {
	return writeError(c, apperr.New(apperr.InvalidRequest, format, args...))
}

func paramID(c *fiber.Ctx) (int64, error) {
	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, apperr.New(apperr.InvalidRequest, "invalid id %q", c.Params("id"))
	}
	return id, nil
}
