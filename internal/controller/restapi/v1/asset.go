package v1

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/roomviz/render-engine/internal/controller/restapi/v1/response"
	"github.com/roomviz/render-engine/internal/controller/restapi/v1/validate"
	"github.com/roomviz/render-engine/internal/dto"
	"github.com/roomviz/render-engine/pkg/types/errs"
)

// @Summary  	Submit product for preparation
// @Description Registers a product photo for background removal. Idempotent per (tenant, product); a failed asset is re-entered into the pipeline.
// @Tags 		assets
// @Accept 		json
// @Produce 	json
// @Param 		request body dto.SubmitAsset true "Submission"
// @Success 	202 {object} response.SubmitAsset
// @Failure 	400 {object} response.Error "Missing or invalid fields"
// @Failure 	429 {object} response.Error "Daily preparation quota exceeded"
// @Failure 	500 {object} response.Error "Internal"
// @Router 		/v1/assets [post]
func (r *V1) submitAsset(ctx *fiber.Ctx) error {
	var body dto.SubmitAsset
	if err := ctx.BodyParser(&body); err != nil {
		return errorResponse(ctx, http.StatusBadRequest, "invalid request body")
	}

	if err := validateSubmitAsset(body); err != nil {
		return errorResponse(ctx, http.StatusBadRequest, err.Error())
	}

	asset, err := r.prep.Submit(ctx.UserContext(), body)
	if err != nil {
		switch {
		case errors.Is(err, errs.ErrQuotaExceeded):
			return quotaExceededResponse(ctx, "daily preparation quota exceeded")
		case errors.Is(err, errs.ErrInvalidInput):
			return errorResponse(ctx, http.StatusBadRequest, "invalid submission")
		}
		r.logger.Error(err, "restapi - v1 - submitAsset")

		return errorResponse(ctx, http.StatusInternalServerError, "submission problems")
	}

	resp := response.SubmitAsset{
		AssetID:   asset.ID.String(),
		TenantID:  asset.TenantID,
		ProductID: asset.ProductID,
		Status:    string(asset.Status),
		CreatedAt: asset.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}

	return ctx.Status(http.StatusAccepted).JSON(resp)
}

func validateSubmitAsset(body dto.SubmitAsset) error {
	if l := len(body.TenantID); l < validate.MinIDLen || l > validate.MaxIDLen {
		return fmt.Errorf("tenant_id length must be between %d and %d", validate.MinIDLen, validate.MaxIDLen)
	}
	if l := len(body.ProductID); l < validate.MinIDLen || l > validate.MaxIDLen {
		return fmt.Errorf("product_id length must be between %d and %d", validate.MinIDLen, validate.MaxIDLen)
	}
	if body.SourceImageRef == "" {
		return errors.New("source_image_ref is required")
	}
	if len(body.SourceImageRef) > validate.MaxSourceRefLen {
		return fmt.Errorf("source_image_ref cant be longer than %d", validate.MaxSourceRefLen)
	}
	return nil
}

// @Summary 	Get asset
// @Description Returns the asset's pipeline status; the cutout URL is re-signed on every read.
// @Tags 		assets
// @Produce 	json
// @Param 		id path string true "Asset ID(uuid)"
// @Success 	200 {object} dto.AssetView
// @Failure 	400 {object} response.Error "Invalid ID"
// @Failure 	404 {object} response.Error "Asset not found"
// @Failure 	500 {object} response.Error "Internal"
// @Router 		/v1/assets/{id} [get]
func (r *V1) getAsset(ctx *fiber.Ctx) error {
	id, err := uuid.Parse(ctx.Params("id"))
	if err != nil {
		return errorResponse(ctx, http.StatusBadRequest, "invalid id")
	}

	view, err := r.prep.GetAsset(ctx.UserContext(), id)
	if err != nil {
		if errors.Is(err, errs.ErrRecordNotFound) {
			return errorResponse(ctx, http.StatusNotFound, "asset not found")
		}
		r.logger.Error(err, "restapi - v1 - getAsset")

		return errorResponse(ctx, http.StatusInternalServerError, "storage problems")
	}

	return ctx.Status(http.StatusOK).JSON(view)
}

// @Summary 	Enable asset
// @Description Makes a ready asset live on the storefront.
// @Tags 		assets
// @Param		id 	path	 string true "Asset ID(uuid)"
// @Success		204 "Enabled"
// @Failure 	400 {object} response.Error "Invalid ID or asset not ready"
// @Failure 	404 {object} response.Error "Asset not found"
// @Failure 	500 {object} response.Error "Internal"
// @Router 		/v1/assets/{id}/enable [post]
func (r *V1) enableAsset(ctx *fiber.Ctx) error {
	return r.toggleAsset(ctx, "enableAsset", r.prep.Enable)
}

// @Summary 	Disable asset
// @Description Takes a live asset off the storefront.
// @Tags 		assets
// @Param		id 	path	 string true "Asset ID(uuid)"
// @Success		204 "Disabled"
// @Failure 	400 {object} response.Error "Invalid ID or asset not live"
// @Failure 	404 {object} response.Error "Asset not found"
// @Failure 	500 {object} response.Error "Internal"
// @Router 		/v1/assets/{id}/disable [post]
func (r *V1) disableAsset(ctx *fiber.Ctx) error {
	return r.toggleAsset(ctx, "disableAsset", r.prep.Disable)
}

func (r *V1) toggleAsset(ctx *fiber.Ctx, method string, toggle func(ctx context.Context, id uuid.UUID) error) error {
	id, err := uuid.Parse(ctx.Params("id"))
	if err != nil {
		return errorResponse(ctx, http.StatusBadRequest, "invalid id")
	}

	if err := toggle(ctx.UserContext(), id); err != nil {
		switch {
		case errors.Is(err, errs.ErrRecordNotFound):
			return errorResponse(ctx, http.StatusNotFound, "asset not found")
		case errs.ClassOf(err) == errs.ClassInvalidInput:
			return errorResponse(ctx, http.StatusBadRequest, "asset is not in a toggleable state")
		}
		r.logger.Error(err, "restapi - v1 - "+method)

		return errorResponse(ctx, http.StatusInternalServerError, "storage problems")
	}

	return ctx.SendStatus(http.StatusNoContent)
}
