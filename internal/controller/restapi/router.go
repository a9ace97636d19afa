package restapi

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/swagger"
	"github.com/roomviz/render-engine/config"
	v1 "github.com/roomviz/render-engine/internal/controller/restapi/v1"
	"github.com/roomviz/render-engine/internal/usecase"
	"github.com/roomviz/render-engine/pkg/logger"
)

// @title Room visualization render engine
// @version 1.0.0
// @host localhost:8080
// @BasePath /v1
func NewRouter(app *fiber.App, cfg *config.Config, prep usecase.PreparationUseCase, render usecase.RenderUseCase, status usecase.StatusUseCase, l logger.Interface) {
	// Swagger
	if cfg.Swagger.Enabled {
		app.Get("/swagger/*", swagger.HandlerDefault)
	}

	// Routers
	apiV1Group := app.Group("/v1")
	{
		v1.NewRoutes(apiV1Group, prep, render, status, l)
	}
}
