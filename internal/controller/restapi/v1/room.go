package v1

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/roomviz/render-engine/internal/controller/restapi/v1/response"
	"github.com/roomviz/render-engine/internal/controller/restapi/v1/validate"
	"github.com/roomviz/render-engine/pkg/types/errs"
)

// @Summary  	Open room session
// @Description Creates a room session and returns a short-lived direct-upload URL for the room photo.
// @Tags 		rooms
// @Accept 		json
// @Produce 	json
// @Param 		tenant_id body string true "Tenant ID"
// @Success 	201 {object} response.UploadTarget
// @Failure 	400 {object} response.Error "Missing tenant"
// @Failure 	500 {object} response.Error "Internal"
// @Router 		/v1/rooms [post]
func (r *V1) createRoom(ctx *fiber.Ctx) error {
	var body struct {
		TenantID string `json:"tenant_id"`
	}
	if err := ctx.BodyParser(&body); err != nil {
		return errorResponse(ctx, http.StatusBadRequest, "invalid request body")
	}
	if body.TenantID == "" {
		return errorResponse(ctx, http.StatusBadRequest, "tenant_id is required")
	}

	target, err := r.render.CreateUploadTarget(ctx.UserContext(), body.TenantID)
	if err != nil {
		r.logger.Error(err, "restapi - v1 - createRoom")

		return errorResponse(ctx, http.StatusInternalServerError, "storage problems")
	}

	resp := response.UploadTarget{
		SessionID: target.SessionID.String(),
		WriteURL:  target.WriteURL,
		Key:       target.Key,
	}

	return ctx.Status(http.StatusCreated).JSON(resp)
}

// @Summary  	Clean up room photo
// @Description Removes the masked objects from the session's room photo. The original photo is kept; renders use the cleaned variant from then on.
// @Tags 		rooms
// @Accept 		mpfd
// @Param 		id   path     string true "Session ID(uuid)"
// @Param 		mask formData file   true "Mask image(png)"
// @Success		204 "Cleaned"
// @Failure 	400 {object} response.Error "Invalid ID or mask"
// @Failure 	404 {object} response.Error "Session not found"
// @Failure 	413 {object} response.Error "Mask too large"
// @Failure 	429 {object} response.Error "Daily cleanup quota exceeded"
// @Failure 	500 {object} response.Error "Internal"
// @Router 		/v1/rooms/{id}/cleanup [post]
func (r *V1) cleanupRoom(ctx *fiber.Ctx) error {
	id, err := uuid.Parse(ctx.Params("id"))
	if err != nil {
		return errorResponse(ctx, http.StatusBadRequest, "invalid id")
	}

	file, err := ctx.FormFile("mask")
	if err != nil {
		return errorResponse(ctx, http.StatusBadRequest, "mask is required")
	}

	if file.Size == 0 {
		return errorResponse(ctx, http.StatusBadRequest, "mask is empty")
	}
	if file.Size > validate.MaxMaskSize {
		return errorResponse(ctx, http.StatusRequestEntityTooLarge,
			fmt.Sprintf("mask size cant be more than %d bytes", validate.MaxMaskSize))
	}

	contentType := file.Header.Get("Content-Type")
	if !validate.AllowedMaskContentTypes[contentType] {
		return errorResponse(ctx, http.StatusBadRequest, "unsupported mask type. Allowed: png")
	}

	fileReader, err := file.Open()
	if err != nil {
		r.logger.Error(err, "restapi - v1 - cleanupRoom")

		return errorResponse(ctx, http.StatusInternalServerError, "problems with opening the mask")
	}
	defer fileReader.Close()

	mask, err := io.ReadAll(fileReader)
	if err != nil {
		r.logger.Error(err, "restapi - v1 - cleanupRoom")

		return errorResponse(ctx, http.StatusInternalServerError, "problems with reading the mask")
	}

	if err := r.render.Cleanup(ctx.UserContext(), id, mask); err != nil {
		switch {
		case errors.Is(err, errs.ErrRecordNotFound):
			return errorResponse(ctx, http.StatusNotFound, "session not found")
		case errors.Is(err, errs.ErrQuotaExceeded):
			return quotaExceededResponse(ctx, "daily cleanup quota exceeded")
		case errs.ClassOf(err) == errs.ClassInvalidInput:
			return errorResponse(ctx, http.StatusBadRequest, "cleanup rejected the mask")
		}
		r.logger.Error(err, "restapi - v1 - cleanupRoom")

		return errorResponse(ctx, http.StatusInternalServerError, "cleanup problems")
	}

	return ctx.SendStatus(http.StatusNoContent)
}
