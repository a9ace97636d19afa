package usecase

import (
	"context"

	"github.com/google/uuid"
	"github.com/roomviz/render-engine/internal/dto"
	"github.com/roomviz/render-engine/internal/entity"
)

// QuotaLimits carries per-tenant daily limits, denormalized from the plan
// by the caller (config in this deployment).
type QuotaLimits struct {
	Render  int
	Prep    int
	Cleanup int
}

type (
	// PreparationUseCase owns the ProductAsset state machine: submission,
	// the pipeline batch step the worker drives, and the merchant toggle.
	PreparationUseCase interface {
		Submit(ctx context.Context, cmd dto.SubmitAsset) (*entity.ProductAsset, error)
		// ProcessBatch claims up to batchSize assets and runs the pipeline
		// on each, sequentially. Returns how many were claimed.
		ProcessBatch(ctx context.Context, batchSize int) (int, error)
		Enable(ctx context.Context, assetID uuid.UUID) error
		Disable(ctx context.Context, assetID uuid.UUID) error
		GetAsset(ctx context.Context, assetID uuid.UUID) (*dto.AssetView, error)
	}

	// RenderUseCase owns room sessions and the RenderJob state machine.
	RenderUseCase interface {
		CreateUploadTarget(ctx context.Context, tenantID string) (*dto.UploadTarget, error)
		Cleanup(ctx context.Context, sessionID uuid.UUID, mask []byte) error
		SubmitRender(ctx context.Context, cmd dto.SubmitRender) (*entity.RenderJob, error)
		// ExecuteRender runs one dispatched job to a terminal state. Any
		// render failure lands in the job row, not in the returned error;
		// a non-nil error means the dispatch could not be processed at all
		// and should be redelivered.
		ExecuteRender(ctx context.Context, dispatch dto.RenderDispatch) error
	}

	// StatusUseCase is the pure read path polled by external callers.
	StatusUseCase interface {
		GetJob(ctx context.Context, jobID uuid.UUID) (*dto.JobView, error)
		IsLive(ctx context.Context, tenantID, productID string) (bool, error)
		GetQuota(ctx context.Context, tenantID string) (*dto.QuotaView, error)
	}

	// OutboxUseCase feeds the relay worker.
	OutboxUseCase interface {
		GetPendingEvents(ctx context.Context, maxRetries, limit int) ([]*entity.OutboxEvent, error)
		MarkAsProcessingBatch(ctx context.Context, events []*entity.OutboxEvent) error
		MarkAsProcessedBatch(ctx context.Context, events []*entity.OutboxEvent) error
		IncrementRetryCountBatch(ctx context.Context, events []*entity.OutboxEvent) error
		MarkMaxRetriesAsFailed(ctx context.Context, maxRetries int) error
		CleanupOutbox(ctx context.Context) error
	}
)
