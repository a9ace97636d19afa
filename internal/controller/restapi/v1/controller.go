package v1

import (
	"github.com/roomviz/render-engine/internal/usecase"
	"github.com/roomviz/render-engine/pkg/logger"
)

type V1 struct {
	prep   usecase.PreparationUseCase
	render usecase.RenderUseCase
	status usecase.StatusUseCase
	logger logger.Interface
}
