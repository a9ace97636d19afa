package render

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/roomviz/render-engine/internal/dto"
	"github.com/roomviz/render-engine/internal/entity"
	"github.com/roomviz/render-engine/internal/infrastructure"
	"github.com/roomviz/render-engine/internal/repo"
	"github.com/roomviz/render-engine/internal/usecase"
	"github.com/roomviz/render-engine/pkg/logger"
	"github.com/roomviz/render-engine/pkg/types/errs"
)

// RenderUseCase owns room sessions and the render job lifecycle: upload
// targets, room cleanup, submission, and execution of dispatched jobs.
type RenderUseCase struct {
	sessionRepo repo.RoomSessionRepo
	jobRepo     repo.RenderJobRepo
	assetRepo   repo.AssetRepo
	quotaRepo   repo.QuotaRepo
	outboxRepo  repo.OutboxRepo
	transactor  repo.Transactor
	store       repo.ObjectStore

	generator infrastructure.ImageGenerator

	logger logger.Interface

	limits usecase.QuotaLimits
	urlTTL time.Duration
}

func New(
	sessionRepo repo.RoomSessionRepo,
	jobRepo repo.RenderJobRepo,
	assetRepo repo.AssetRepo,
	quotaRepo repo.QuotaRepo,
	outboxRepo repo.OutboxRepo,
	transactor repo.Transactor,
	store repo.ObjectStore,
	generator infrastructure.ImageGenerator,
	l logger.Interface,
	limits usecase.QuotaLimits,
	urlTTL time.Duration,
) *RenderUseCase {
	return &RenderUseCase{
		sessionRepo: sessionRepo,
		jobRepo:     jobRepo,
		assetRepo:   assetRepo,
		quotaRepo:   quotaRepo,
		outboxRepo:  outboxRepo,
		transactor:  transactor,
		store:       store,
		generator:   generator,
		logger:      l,
		limits:      limits,
		urlTTL:      urlTTL,
	}
}

// CreateUploadTarget opens a room session and hands back a short-lived
// direct-upload URL. The key is persisted immediately; the URL never is.
func (uc *RenderUseCase) CreateUploadTarget(ctx context.Context, tenantID string) (*dto.UploadTarget, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("RenderUseCase - CreateUploadTarget: %w", errs.ErrInvalidInput)
	}

	now := time.Now()
	session := entity.NewRoomSession(tenantID, "", now)
	session.OriginalRoomImageKey = repo.RoomOriginalKey(tenantID, session.ID)

	if err := uc.sessionRepo.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("RenderUseCase - CreateUploadTarget - uc.sessionRepo.Create: %w", err)
	}

	writeURL, err := uc.store.SignedWriteURL(ctx, session.OriginalRoomImageKey, uc.urlTTL)
	if err != nil {
		return nil, fmt.Errorf("RenderUseCase - CreateUploadTarget - uc.store.SignedWriteURL: %w", err)
	}

	return &dto.UploadTarget{
		SessionID: session.ID,
		WriteURL:  writeURL,
		Key:       session.OriginalRoomImageKey,
	}, nil
}

// Cleanup removes masked objects from the session's room photo and stores
// the result under the session's cleaned key. The original is never
// overwritten, so cleanup is always redoable. Each run consumes one unit of
// the cleanup quota up front; provider spend is gated behind admission.
func (uc *RenderUseCase) Cleanup(ctx context.Context, sessionID uuid.UUID, mask []byte) error {
	if len(mask) == 0 {
		return fmt.Errorf("RenderUseCase - Cleanup: %w", errs.ErrInvalidInput)
	}

	session, err := uc.sessionRepo.GetByID(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("RenderUseCase - Cleanup - uc.sessionRepo.GetByID: %w", err)
	}

	now := time.Now()
	if err := uc.quotaRepo.Reserve(ctx, session.TenantID, entity.QuotaCleanup, now, uc.limits.Cleanup); err != nil {
		return fmt.Errorf("RenderUseCase - Cleanup - uc.quotaRepo.Reserve: %w", err)
	}

	roomURL, err := uc.store.SignedReadURL(ctx, session.OriginalRoomImageKey, uc.urlTTL)
	if err != nil {
		return fmt.Errorf("RenderUseCase - Cleanup - uc.store.SignedReadURL: %w", err)
	}

	cleaned, err := uc.generator.RemoveObjects(ctx, roomURL, mask)
	if err != nil {
		return fmt.Errorf("RenderUseCase - Cleanup - uc.generator.RemoveObjects: %w", err)
	}

	cleanedKey := repo.RoomCleanedKey(session.TenantID, session.ID)
	if err := uc.store.Put(ctx, cleanedKey, cleaned, "image/png"); err != nil {
		return errs.Classify(errs.ClassStorage,
			fmt.Errorf("RenderUseCase - Cleanup - uc.store.Put: %w", err))
	}

	event, err := roomCleanedEvent(session, cleanedKey, time.Now())
	if err != nil {
		return fmt.Errorf("RenderUseCase - Cleanup - roomCleanedEvent: %w", err)
	}

	err = uc.transactor.WithinTransaction(ctx, func(ctx context.Context) error {
		if err := uc.sessionRepo.SetCleanedKey(ctx, session.ID, cleanedKey); err != nil {
			return fmt.Errorf("uc.sessionRepo.SetCleanedKey: %w", err)
		}
		if err := uc.outboxRepo.Create(ctx, event); err != nil {
			return fmt.Errorf("uc.outboxRepo.Create: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("RenderUseCase - Cleanup: %w", err)
	}

	return nil
}

// SubmitRender validates the request, admits it against the render quota,
// and persists the job together with its dispatch event in one transaction.
// Accounting happens on completion; the admission check here makes the
// daily limit a soft cap under concurrency, which is the accepted tradeoff.
func (uc *RenderUseCase) SubmitRender(ctx context.Context, cmd dto.SubmitRender) (*entity.RenderJob, error) {
	if err := uc.validateSubmit(ctx, cmd); err != nil {
		return nil, err
	}

	now := time.Now()
	if err := uc.quotaRepo.Check(ctx, cmd.TenantID, entity.QuotaRender, now, uc.limits.Render); err != nil {
		return nil, fmt.Errorf("RenderUseCase - SubmitRender - uc.quotaRepo.Check: %w", err)
	}

	job := entity.NewRenderJob(cmd.TenantID, cmd.RoomSessionID, cmd.AssetID, cmd.ProductImageRef, cmd.Placement, cmd.Config, now)

	event, err := dispatchEvent(job, now)
	if err != nil {
		return nil, fmt.Errorf("RenderUseCase - SubmitRender - dispatchEvent: %w", err)
	}

	err = uc.transactor.WithinTransaction(ctx, func(ctx context.Context) error {
		if err := uc.jobRepo.Create(ctx, job); err != nil {
			return fmt.Errorf("uc.jobRepo.Create: %w", err)
		}
		if err := uc.outboxRepo.Create(ctx, event); err != nil {
			return fmt.Errorf("uc.outboxRepo.Create: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("RenderUseCase - SubmitRender: %w", err)
	}

	return job, nil
}

func (uc *RenderUseCase) validateSubmit(ctx context.Context, cmd dto.SubmitRender) error {
	if cmd.TenantID == "" {
		return fmt.Errorf("RenderUseCase - SubmitRender: %w", errs.ErrInvalidInput)
	}

	if err := cmd.Placement.Validate(); err != nil {
		return errs.Classify(errs.ClassInvalidInput,
			fmt.Errorf("RenderUseCase - SubmitRender: %w", err))
	}

	// exactly one product source
	if (cmd.AssetID == nil) == (cmd.ProductImageRef == nil) {
		return errs.Classify(errs.ClassInvalidInput,
			errors.New("RenderUseCase - SubmitRender: exactly one of asset_id and product_image_ref is required"))
	}

	session, err := uc.sessionRepo.GetByID(ctx, cmd.RoomSessionID)
	if err != nil {
		return fmt.Errorf("RenderUseCase - SubmitRender - uc.sessionRepo.GetByID: %w", err)
	}
	if session.TenantID != cmd.TenantID {
		return fmt.Errorf("RenderUseCase - SubmitRender - session tenant mismatch: %w", errs.ErrRecordNotFound)
	}

	if cmd.AssetID != nil {
		asset, err := uc.assetRepo.GetByID(ctx, *cmd.AssetID)
		if err != nil {
			return fmt.Errorf("RenderUseCase - SubmitRender - uc.assetRepo.GetByID: %w", err)
		}
		if asset.TenantID != cmd.TenantID {
			return fmt.Errorf("RenderUseCase - SubmitRender - asset tenant mismatch: %w", errs.ErrRecordNotFound)
		}
		if !asset.IsLive() {
			return errs.Classify(errs.ClassInvalidInput,
				fmt.Errorf("RenderUseCase - SubmitRender: asset %s is not live", asset.ID))
		}
	}

	return nil
}

// ExecuteRender drives one dispatched job to a terminal state. A render
// failure is recorded on the job row and nil is returned so the dispatch is
// committed; a non-nil error means the message should be redelivered.
func (uc *RenderUseCase) ExecuteRender(ctx context.Context, dispatch dto.RenderDispatch) error {
	job, err := uc.jobRepo.GetByID(ctx, dispatch.JobID)
	if err != nil {
		// an unknown job will not appear on redelivery either
		if errors.Is(err, errs.ErrRecordNotFound) {
			uc.logger.Warn("render dispatch for unknown job %s, dropping", dispatch.JobID)
			return nil
		}
		return fmt.Errorf("RenderUseCase - ExecuteRender - uc.jobRepo.GetByID: %w", err)
	}

	// redelivered dispatch for a finished job
	if job.Status.Terminal() {
		return nil
	}

	now := time.Now()
	if job.Status == entity.JobQueued {
		if err := job.Start(now); err != nil {
			return fmt.Errorf("RenderUseCase - ExecuteRender - job.Start: %w", err)
		}
		if err := uc.jobRepo.Update(ctx, job); err != nil {
			return fmt.Errorf("RenderUseCase - ExecuteRender - uc.jobRepo.Update: %w", err)
		}
	}

	outputKey, renderErr := uc.runRender(ctx, job)
	now = time.Now()

	if renderErr != nil {
		uc.logger.Error(renderErr, "RenderUseCase - ExecuteRender - render failed for job %s", job.ID)

		if terr := job.Fail(renderErr.Error(), now); terr != nil {
			return fmt.Errorf("RenderUseCase - ExecuteRender - job.Fail: %w", terr)
		}
		if perr := uc.finishJob(ctx, job, entity.EventRenderFailed, false); perr != nil {
			return fmt.Errorf("RenderUseCase - ExecuteRender: %w", perr)
		}
		return nil
	}

	if terr := job.Complete(outputKey, now); terr != nil {
		return fmt.Errorf("RenderUseCase - ExecuteRender - job.Complete: %w", terr)
	}
	if perr := uc.finishJob(ctx, job, entity.EventRenderCompleted, true); perr != nil {
		return fmt.Errorf("RenderUseCase - ExecuteRender: %w", perr)
	}

	return nil
}

// runRender resolves both image references, calls the compositing provider
// and stores the output under the job's stable key.
func (uc *RenderUseCase) runRender(ctx context.Context, job *entity.RenderJob) (string, error) {
	session, err := uc.sessionRepo.GetByID(ctx, job.RoomSessionID)
	if err != nil {
		return "", fmt.Errorf("uc.sessionRepo.GetByID: %w", err)
	}

	roomURL, err := uc.store.SignedReadURL(ctx, session.RenderSourceKey(), uc.urlTTL)
	if err != nil {
		return "", errs.Classify(errs.ClassStorage, fmt.Errorf("sign room image: %w", err))
	}

	productURL, err := uc.resolveProductRef(ctx, job)
	if err != nil {
		return "", err
	}

	output, err := uc.generator.GenerateComposite(ctx, roomURL, productURL, job.Placement, renderInstructions(job))
	if err != nil {
		return "", fmt.Errorf("uc.generator.GenerateComposite: %w", err)
	}

	outputKey := repo.RenderOutputKey(job.TenantID, job.ID)
	if err := uc.store.Put(ctx, outputKey, output, "image/png"); err != nil {
		return "", errs.Classify(errs.ClassStorage, fmt.Errorf("uc.store.Put: %w", err))
	}

	return outputKey, nil
}

func (uc *RenderUseCase) resolveProductRef(ctx context.Context, job *entity.RenderJob) (string, error) {
	if job.ProductImageRef != nil {
		return *job.ProductImageRef, nil
	}

	asset, err := uc.assetRepo.GetByID(ctx, *job.AssetID)
	if err != nil {
		return "", fmt.Errorf("uc.assetRepo.GetByID: %w", err)
	}
	if asset.CutoutKey == nil {
		return "", errs.Classify(errs.ClassInternalInconsistency,
			fmt.Errorf("asset %s referenced by job %s has no cutout", asset.ID, job.ID))
	}

	url, err := uc.store.SignedReadURL(ctx, *asset.CutoutKey, uc.urlTTL)
	if err != nil {
		return "", errs.Classify(errs.ClassStorage, fmt.Errorf("sign cutout: %w", err))
	}

	return url, nil
}

// finishJob persists the terminal transition, its observer event and - on
// success only - the quota commit, all in one transaction. A failed render
// never consumes the render quota.
func (uc *RenderUseCase) finishJob(ctx context.Context, job *entity.RenderJob, kind entity.EventKind, commitQuota bool) error {
	event, err := jobEvent(job, kind, time.Now())
	if err != nil {
		return fmt.Errorf("jobEvent: %w", err)
	}

	return uc.transactor.WithinTransaction(ctx, func(ctx context.Context) error {
		if err := uc.jobRepo.Update(ctx, job); err != nil {
			return fmt.Errorf("uc.jobRepo.Update: %w", err)
		}
		if commitQuota {
			if err := uc.quotaRepo.Commit(ctx, job.TenantID, entity.QuotaRender, time.Now(), uc.limits.Render); err != nil {
				return fmt.Errorf("uc.quotaRepo.Commit: %w", err)
			}
		}
		if err := uc.outboxRepo.Create(ctx, event); err != nil {
			return fmt.Errorf("uc.outboxRepo.Create: %w", err)
		}
		return nil
	})
}
