package v1

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/roomviz/render-engine/internal/controller/restapi/v1/response"
)

func errorResponse(ctx *fiber.Ctx, code int, msg string) error {
	return ctx.Status(code).JSON(response.Error{Error: msg})
}

// quotaExceededResponse answers 429 with a Retry-After pointing at the next
// UTC day, when daily counters reset.
func quotaExceededResponse(ctx *fiber.Ctx, msg string) error {
	now := time.Now().UTC()
	reset := now.Truncate(24 * time.Hour).Add(24 * time.Hour)
	ctx.Set(fiber.HeaderRetryAfter, strconv.Itoa(int(reset.Sub(now).Seconds())))

	return errorResponse(ctx, http.StatusTooManyRequests, msg)
}
