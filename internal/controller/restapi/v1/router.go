package v1

import (
	"github.com/gofiber/fiber/v2"
	"github.com/roomviz/render-engine/internal/usecase"
	"github.com/roomviz/render-engine/pkg/logger"
)

func NewRoutes(apiV1Group fiber.Router, prep usecase.PreparationUseCase, render usecase.RenderUseCase, status usecase.StatusUseCase, l logger.Interface) {
	r := &V1{prep: prep, render: render, status: status, logger: l}

	{
		// merchant asset pipeline
		apiV1Group.Post("/assets", r.submitAsset)
		apiV1Group.Get("/assets/:id", r.getAsset)
		apiV1Group.Post("/assets/:id/enable", r.enableAsset)
		apiV1Group.Post("/assets/:id/disable", r.disableAsset)

		// shopper room sessions
		apiV1Group.Post("/rooms", r.createRoom)
		apiV1Group.Post("/rooms/:id/cleanup", r.cleanupRoom)

		// renders
		apiV1Group.Post("/renders", r.submitRender)
		apiV1Group.Get("/jobs/:id", r.getJob)

		// storefront
		apiV1Group.Get("/storefront/:tenantID/products/:productID/live", r.isLive)

		// tenant self-service
		apiV1Group.Get("/tenants/:tenantID/quota", r.getQuota)
	}
}
