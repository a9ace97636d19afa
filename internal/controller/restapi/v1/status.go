package v1

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/roomviz/render-engine/internal/controller/restapi/v1/response"
	"github.com/roomviz/render-engine/pkg/types/errs"
)

// @Summary 	Get render job
// @Description Polling endpoint for render progress. The output URL is short-lived and re-signed per read.
// @Tags 		renders
// @Produce 	json
// @Param 		id path string true "Job ID(uuid)"
// @Success 	200 {object} dto.JobView
// @Failure 	400 {object} response.Error "Invalid ID"
// @Failure 	404 {object} response.Error "Job not found"
// @Failure 	500 {object} response.Error "Internal"
// @Router 		/v1/jobs/{id} [get]
func (r *V1) getJob(ctx *fiber.Ctx) error {
	id, err := uuid.Parse(ctx.Params("id"))
	if err != nil {
		return errorResponse(ctx, http.StatusBadRequest, "invalid id")
	}

	view, err := r.status.GetJob(ctx.UserContext(), id)
	if err != nil {
		if errors.Is(err, errs.ErrRecordNotFound) {
			return errorResponse(ctx, http.StatusNotFound, "job not found")
		}
		r.logger.Error(err, "restapi - v1 - getJob")

		return errorResponse(ctx, http.StatusInternalServerError, "storage problems")
	}

	return ctx.Status(http.StatusOK).JSON(view)
}

// @Summary 	Storefront visibility
// @Description Answers whether a product's visualization button should show. Served from a short-TTL cache.
// @Tags 		storefront
// @Produce 	json
// @Param 		tenantID  path string true "Tenant ID"
// @Param 		productID path string true "Product ID"
// @Success 	200 {object} response.Live
// @Failure 	500 {object} response.Error "Internal"
// @Router 		/v1/storefront/{tenantID}/products/{productID}/live [get]
func (r *V1) isLive(ctx *fiber.Ctx) error {
	tenantID := ctx.Params("tenantID")
	productID := ctx.Params("productID")
	if tenantID == "" || productID == "" {
		return errorResponse(ctx, http.StatusBadRequest, "invalid path")
	}

	live, err := r.status.IsLive(ctx.UserContext(), tenantID, productID)
	if err != nil {
		r.logger.Error(err, "restapi - v1 - isLive")

		return errorResponse(ctx, http.StatusInternalServerError, "storage problems")
	}

	return ctx.Status(http.StatusOK).JSON(response.Live{Live: live})
}

// @Summary 	Tenant quota usage
// @Description Reports today's consumption against the daily limits, per category.
// @Tags 		tenants
// @Produce 	json
// @Param 		tenantID path string true "Tenant ID"
// @Success 	200 {object} dto.QuotaView
// @Failure 	400 {object} response.Error "Invalid path"
// @Failure 	500 {object} response.Error "Internal"
// @Router 		/v1/tenants/{tenantID}/quota [get]
func (r *V1) getQuota(ctx *fiber.Ctx) error {
	tenantID := ctx.Params("tenantID")
	if tenantID == "" {
		return errorResponse(ctx, http.StatusBadRequest, "invalid path")
	}

	view, err := r.status.GetQuota(ctx.UserContext(), tenantID)
	if err != nil {
		r.logger.Error(err, "restapi - v1 - getQuota")

		return errorResponse(ctx, http.StatusInternalServerError, "storage problems")
	}

	return ctx.Status(http.StatusOK).JSON(view)
}
