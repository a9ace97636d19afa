package preparation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/roomviz/render-engine/internal/cache"
	"github.com/roomviz/render-engine/internal/dto"
	"github.com/roomviz/render-engine/internal/entity"
	"github.com/roomviz/render-engine/internal/infrastructure"
	"github.com/roomviz/render-engine/internal/repo"
	"github.com/roomviz/render-engine/internal/usecase"
	"github.com/roomviz/render-engine/pkg/logger"
	"github.com/roomviz/render-engine/pkg/types/errs"
)

// PreparationUseCase turns a merchant's product photo into a stored cutout
// plus derived placement metadata.
type PreparationUseCase struct {
	assetRepo  repo.AssetRepo
	outboxRepo repo.OutboxRepo
	quotaRepo  repo.QuotaRepo
	transactor repo.Transactor
	store      repo.ObjectStore

	fetcher    infrastructure.ImageFetcher
	normalizer infrastructure.ImageNormalizer
	generator  infrastructure.ImageGenerator

	liveCache cache.Cache
	logger    logger.Interface

	limits      usecase.QuotaLimits
	maxAttempts int
	claimLease  time.Duration
	urlTTL      time.Duration
}

func New(
	assetRepo repo.AssetRepo,
	outboxRepo repo.OutboxRepo,
	quotaRepo repo.QuotaRepo,
	transactor repo.Transactor,
	store repo.ObjectStore,
	fetcher infrastructure.ImageFetcher,
	normalizer infrastructure.ImageNormalizer,
	generator infrastructure.ImageGenerator,
	liveCache cache.Cache,
	l logger.Interface,
	limits usecase.QuotaLimits,
	maxAttempts int,
	claimLease time.Duration,
	urlTTL time.Duration,
) *PreparationUseCase {
	return &PreparationUseCase{
		assetRepo:   assetRepo,
		outboxRepo:  outboxRepo,
		quotaRepo:   quotaRepo,
		transactor:  transactor,
		store:       store,
		fetcher:     fetcher,
		normalizer:  normalizer,
		generator:   generator,
		liveCache:   liveCache,
		logger:      l,
		limits:      limits,
		maxAttempts: maxAttempts,
		claimLease:  claimLease,
		urlTTL:      urlTTL,
	}
}

// Submit is idempotent on (tenant, product): an asset that is anywhere in
// the pipeline, or already ready/live, is returned as-is; only a failed
// asset re-enters the pipeline, with a fresh retry budget.
func (uc *PreparationUseCase) Submit(ctx context.Context, cmd dto.SubmitAsset) (*entity.ProductAsset, error) {
	if cmd.TenantID == "" || cmd.ProductID == "" || cmd.SourceImageRef == "" {
		return nil, fmt.Errorf("PreparationUseCase - Submit: %w", errs.ErrInvalidInput)
	}

	existing, err := uc.assetRepo.GetByTenantProduct(ctx, cmd.TenantID, cmd.ProductID)
	if err != nil && !errors.Is(err, errs.ErrRecordNotFound) {
		return nil, fmt.Errorf("PreparationUseCase - Submit - uc.assetRepo.GetByTenantProduct: %w", err)
	}

	now := time.Now()

	if existing != nil {
		if existing.Status != entity.AssetFailed {
			return existing, nil
		}

		err = uc.transactor.WithinTransaction(ctx, func(ctx context.Context) error {
			if err := uc.quotaRepo.Reserve(ctx, cmd.TenantID, entity.QuotaPrep, now, uc.limits.Prep); err != nil {
				return fmt.Errorf("uc.quotaRepo.Reserve: %w", err)
			}
			if err := existing.ResetForResubmission(cmd.SourceImageRef, now); err != nil {
				return err
			}
			if err := uc.assetRepo.Update(ctx, existing); err != nil {
				return fmt.Errorf("uc.assetRepo.Update: %w", err)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("PreparationUseCase - Submit: %w", err)
		}

		return existing, nil
	}

	asset := entity.NewProductAsset(cmd.TenantID, cmd.ProductID, cmd.SourceImageRef, now)

	err = uc.transactor.WithinTransaction(ctx, func(ctx context.Context) error {
		if err := uc.quotaRepo.Reserve(ctx, cmd.TenantID, entity.QuotaPrep, now, uc.limits.Prep); err != nil {
			return fmt.Errorf("uc.quotaRepo.Reserve: %w", err)
		}
		if err := uc.assetRepo.Create(ctx, asset); err != nil {
			return fmt.Errorf("uc.assetRepo.Create: %w", err)
		}
		return nil
	})
	if err != nil {
		// lost a submit race on the unique (tenant, product) index: the
		// winner's asset is the answer
		if errors.Is(err, errs.ErrRecordExists) {
			winner, getErr := uc.assetRepo.GetByTenantProduct(ctx, cmd.TenantID, cmd.ProductID)
			if getErr != nil {
				return nil, fmt.Errorf("PreparationUseCase - Submit - uc.assetRepo.GetByTenantProduct(retry): %w", getErr)
			}
			return winner, nil
		}
		return nil, fmt.Errorf("PreparationUseCase - Submit: %w", err)
	}

	return asset, nil
}

// ProcessBatch is the worker tick: claim a batch, run each asset through
// the pipeline sequentially. Retries for one asset are never parallel.
func (uc *PreparationUseCase) ProcessBatch(ctx context.Context, batchSize int) (int, error) {
	assets, err := uc.assetRepo.ClaimBatch(ctx, batchSize, uc.maxAttempts, uc.claimLease)
	if err != nil {
		return 0, fmt.Errorf("PreparationUseCase - ProcessBatch - uc.assetRepo.ClaimBatch: %w", err)
	}

	for _, asset := range assets {
		// the batch shares a deadline; an asset left mid-claim by a dying
		// context is reclaimed after its lease expires
		uc.processOne(ctx, asset)
	}

	return len(assets), nil
}

func (uc *PreparationUseCase) processOne(ctx context.Context, asset *entity.ProductAsset) {
	// ready assets with a cutout key are never reprocessed; the claim
	// query filters them out, this is a second guard against races
	if asset.Status == entity.AssetReady || asset.Status == entity.AssetLive {
		return
	}

	cutoutKey, placement, err := uc.runPipeline(ctx, asset)
	now := time.Now()

	if err == nil {
		if terr := asset.MarkReady(cutoutKey, placement, now); terr != nil {
			uc.logger.Error(terr, "PreparationUseCase - processOne - asset.MarkReady")
			return
		}
		if perr := uc.persistWithEvent(ctx, asset, entity.EventAssetReady); perr != nil {
			uc.logger.Error(perr, "PreparationUseCase - processOne - uc.persistWithEvent(ready)")
		}
		return
	}

	class := errs.ClassOf(err)

	if class.Retryable() && asset.RetryCount+1 < uc.maxAttempts {
		uc.logger.Warn("asset %s attempt %d failed, will retry: %v", asset.ID, asset.RetryCount+1, err)

		if terr := asset.ReleaseForRetry(err.Error(), now); terr != nil {
			uc.logger.Error(terr, "PreparationUseCase - processOne - asset.ReleaseForRetry")
			return
		}
		if perr := uc.assetRepo.Update(ctx, asset); perr != nil {
			uc.logger.Error(perr, "PreparationUseCase - processOne - uc.assetRepo.Update(retry)")
		}
		return
	}

	// terminal: invalid input fails without consuming the budget,
	// exhausted budgets fail here too
	uc.logger.Error(err, "PreparationUseCase - processOne - pipeline failed terminally (class=%s)", string(class))

	if terr := asset.MarkFailed(err.Error(), now); terr != nil {
		uc.logger.Error(terr, "PreparationUseCase - processOne - asset.MarkFailed")
		return
	}
	if perr := uc.persistWithEvent(ctx, asset, entity.EventAssetFailed); perr != nil {
		uc.logger.Error(perr, "PreparationUseCase - processOne - uc.persistWithEvent(failed)")
	}
}

// runPipeline executes the per-asset stages. Any returned error carries a
// class; placement derivation alone is best-effort and cannot fail the run.
func (uc *PreparationUseCase) runPipeline(ctx context.Context, asset *entity.ProductAsset) (string, *entity.PlacementMetadata, error) {
	if asset.SourceImageRef == "" {
		return "", nil, errs.Classify(errs.ClassInternalInconsistency,
			fmt.Errorf("asset %s claimed without a source image reference", asset.ID))
	}

	// 1. download
	source, err := uc.fetcher.Fetch(ctx, asset.SourceImageRef)
	if err != nil {
		return "", nil, fmt.Errorf("fetch source: %w", err)
	}

	// 2. normalize
	normalized, err := uc.normalizer.Normalize(ctx, source)
	if err != nil {
		return "", nil, fmt.Errorf("normalize: %w", err)
	}

	// 3. background removal
	cutout, err := uc.generator.RemoveBackground(ctx, normalized)
	if err != nil {
		return "", nil, fmt.Errorf("remove background: %w", err)
	}

	// 4. upload cutout under a stable key
	key := uc.cutoutKey(asset)
	if err := uc.store.Put(ctx, key, cutout, "image/png"); err != nil {
		return "", nil, errs.Classify(errs.ClassStorage, fmt.Errorf("upload cutout: %w", err))
	}

	// 5. derive placement metadata - soft stage
	placement, err := uc.generator.DerivePlacement(ctx, cutout)
	if err != nil {
		uc.logger.Warn("asset %s: placement derivation failed, continuing without: %v", asset.ID, err)
		placement = nil
	}

	return key, placement, nil
}

func (uc *PreparationUseCase) Enable(ctx context.Context, assetID uuid.UUID) error {
	return uc.toggle(ctx, assetID, "Enable", (*entity.ProductAsset).Enable)
}

func (uc *PreparationUseCase) Disable(ctx context.Context, assetID uuid.UUID) error {
	return uc.toggle(ctx, assetID, "Disable", (*entity.ProductAsset).Disable)
}

func (uc *PreparationUseCase) toggle(ctx context.Context, assetID uuid.UUID, method string, transition func(*entity.ProductAsset, time.Time) error) error {
	asset, err := uc.assetRepo.GetByID(ctx, assetID)
	if err != nil {
		return fmt.Errorf("PreparationUseCase - %s - uc.assetRepo.GetByID: %w", method, err)
	}

	if err := transition(asset, time.Now()); err != nil {
		return fmt.Errorf("PreparationUseCase - %s: %w", method, errs.Classify(errs.ClassInvalidInput, err))
	}

	if err := uc.assetRepo.Update(ctx, asset); err != nil {
		return fmt.Errorf("PreparationUseCase - %s - uc.assetRepo.Update: %w", method, err)
	}

	// the storefront visibility cache must not outlive the toggle
	if err := uc.liveCache.Delete(ctx, liveCacheKey(asset.TenantID, asset.ProductID)); err != nil {
		uc.logger.Warn("failed to invalidate live cache for %s/%s: %v", asset.TenantID, asset.ProductID, err)
	}

	return nil
}

func (uc *PreparationUseCase) GetAsset(ctx context.Context, assetID uuid.UUID) (*dto.AssetView, error) {
	asset, err := uc.assetRepo.GetByID(ctx, assetID)
	if err != nil {
		return nil, fmt.Errorf("PreparationUseCase - GetAsset - uc.assetRepo.GetByID: %w", err)
	}

	view := &dto.AssetView{
		ID:         asset.ID,
		TenantID:   asset.TenantID,
		ProductID:  asset.ProductID,
		Status:     string(asset.Status),
		Enabled:    asset.Enabled,
		RetryCount: asset.RetryCount,
		LastError:  asset.LastError,
		Placement:  asset.Placement,
	}

	if asset.CutoutKey != nil {
		url, err := uc.store.SignedReadURL(ctx, *asset.CutoutKey, uc.urlTTL)
		if err != nil {
			return nil, fmt.Errorf("PreparationUseCase - GetAsset - uc.store.SignedReadURL: %w", err)
		}
		view.CutoutURL = &url
	}

	return view, nil
}

func liveCacheKey(tenantID, productID string) string {
	return "live:" + tenantID + ":" + productID
}
