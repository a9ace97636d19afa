package v1

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/roomviz/render-engine/internal/controller/restapi/v1/response"
	"github.com/roomviz/render-engine/internal/dto"
	"github.com/roomviz/render-engine/pkg/types/errs"
)

// @Summary  	Submit render
// @Description Queues a composite render of a product placed on a room photo. The job is executed asynchronously; poll /v1/jobs/{id}.
// @Tags 		renders
// @Accept 		json
// @Produce 	json
// @Param 		request body dto.SubmitRender true "Render request"
// @Success 	202 {object} response.SubmitRender
// @Failure 	400 {object} response.Error "Invalid placement or product reference"
// @Failure 	404 {object} response.Error "Session or asset not found"
// @Failure 	429 {object} response.Error "Daily render quota exceeded"
// @Failure 	500 {object} response.Error "Internal"
// @Router 		/v1/renders [post]
func (r *V1) submitRender(ctx *fiber.Ctx) error {
	var body dto.SubmitRender
	if err := ctx.BodyParser(&body); err != nil {
		return errorResponse(ctx, http.StatusBadRequest, "invalid request body")
	}

	job, err := r.render.SubmitRender(ctx.UserContext(), body)
	if err != nil {
		switch {
		case errors.Is(err, errs.ErrRecordNotFound):
			return errorResponse(ctx, http.StatusNotFound, "session or asset not found")
		case errors.Is(err, errs.ErrQuotaExceeded):
			return quotaExceededResponse(ctx, "daily render quota exceeded")
		case errs.ClassOf(err) == errs.ClassInvalidInput:
			return errorResponse(ctx, http.StatusBadRequest, err.Error())
		}
		r.logger.Error(err, "restapi - v1 - submitRender")

		return errorResponse(ctx, http.StatusInternalServerError, "submission problems")
	}

	resp := response.SubmitRender{
		JobID:     job.ID.String(),
		Status:    string(job.Status),
		CreatedAt: job.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}

	return ctx.Status(http.StatusAccepted).JSON(resp)
}
