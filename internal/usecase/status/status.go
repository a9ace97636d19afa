package status

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/roomviz/render-engine/internal/cache"
	"github.com/roomviz/render-engine/internal/dto"
	"github.com/roomviz/render-engine/internal/entity"
	"github.com/roomviz/render-engine/internal/repo"
	"github.com/roomviz/render-engine/internal/usecase"
	"github.com/roomviz/render-engine/pkg/logger"
	"github.com/roomviz/render-engine/pkg/types/errs"
)

const (
	// jobViewTTL is short on purpose: shoppers poll job status every couple
	// of seconds and must see the terminal state promptly.
	jobViewTTL  = 2 * time.Second
	isLiveTTL   = 30 * time.Second
	jobViewKey  = "job:"
	isLiveKeyNS = "live:"
)

// StatusUseCase is the read path polled by storefronts and shoppers.
type StatusUseCase struct {
	jobRepo   repo.RenderJobRepo
	assetRepo repo.AssetRepo
	quotaRepo repo.QuotaRepo
	store     repo.ObjectStore
	cache     cache.Cache
	logger    logger.Interface
	limits    usecase.QuotaLimits
	urlTTL    time.Duration
}

func New(
	jobRepo repo.RenderJobRepo,
	assetRepo repo.AssetRepo,
	quotaRepo repo.QuotaRepo,
	store repo.ObjectStore,
	c cache.Cache,
	l logger.Interface,
	limits usecase.QuotaLimits,
	urlTTL time.Duration,
) *StatusUseCase {
	return &StatusUseCase{
		jobRepo:   jobRepo,
		assetRepo: assetRepo,
		quotaRepo: quotaRepo,
		store:     store,
		cache:     c,
		logger:    l,
		limits:    limits,
		urlTTL:    urlTTL,
	}
}

// GetJob returns the polling view of a render job. The output URL is
// re-signed per cache fill; only the stable key is ever persisted.
func (uc *StatusUseCase) GetJob(ctx context.Context, jobID uuid.UUID) (*dto.JobView, error) {
	b, err := uc.cache.GetOrSet(ctx, jobViewKey+jobID.String(), jobViewTTL, func() ([]byte, error) {
		view, err := uc.buildJobView(ctx, jobID)
		if err != nil {
			return nil, err
		}
		return json.Marshal(view)
	})
	if err != nil {
		return nil, fmt.Errorf("StatusUseCase - GetJob: %w", err)
	}

	var view dto.JobView
	if err := json.Unmarshal(b, &view); err != nil {
		return nil, fmt.Errorf("StatusUseCase - GetJob - json.Unmarshal: %w", err)
	}

	return &view, nil
}

func (uc *StatusUseCase) buildJobView(ctx context.Context, jobID uuid.UUID) (*dto.JobView, error) {
	job, err := uc.jobRepo.GetByID(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("uc.jobRepo.GetByID: %w", err)
	}

	view := &dto.JobView{
		ID:     job.ID,
		Status: string(job.Status),
		Error:  job.Error,
	}

	if job.Status == entity.JobCompleted && job.OutputKey != nil {
		url, err := uc.store.SignedReadURL(ctx, *job.OutputKey, uc.urlTTL)
		if err != nil {
			return nil, fmt.Errorf("uc.store.SignedReadURL: %w", err)
		}
		view.OutputURL = &url
	}

	return view, nil
}

// IsLive answers the storefront visibility question for one product. A
// missing asset is simply not live, not an error.
func (uc *StatusUseCase) IsLive(ctx context.Context, tenantID, productID string) (bool, error) {
	b, err := uc.cache.GetOrSet(ctx, isLiveKeyNS+tenantID+":"+productID, isLiveTTL, func() ([]byte, error) {
		asset, err := uc.assetRepo.GetByTenantProduct(ctx, tenantID, productID)
		if err != nil {
			if errors.Is(err, errs.ErrRecordNotFound) {
				return []byte("false"), nil
			}
			return nil, fmt.Errorf("uc.assetRepo.GetByTenantProduct: %w", err)
		}
		return []byte(strconv.FormatBool(asset.IsLive())), nil
	})
	if err != nil {
		return false, fmt.Errorf("StatusUseCase - IsLive: %w", err)
	}

	live, err := strconv.ParseBool(string(b))
	if err != nil {
		return false, fmt.Errorf("StatusUseCase - IsLive - strconv.ParseBool: %w", err)
	}

	return live, nil
}

// GetQuota reports today's consumption against the configured limits, one
// entry per category. Reads are uncached: merchants check this rarely and
// expect the counter they just spent against.
func (uc *StatusUseCase) GetQuota(ctx context.Context, tenantID string) (*dto.QuotaView, error) {
	day := entity.QuotaDay(time.Now())

	view := &dto.QuotaView{
		TenantID: tenantID,
		Day:      day.Format("2006-01-02"),
	}

	for _, c := range []struct {
		category entity.QuotaCategory
		limit    int
	}{
		{entity.QuotaRender, uc.limits.Render},
		{entity.QuotaPrep, uc.limits.Prep},
		{entity.QuotaCleanup, uc.limits.Cleanup},
	} {
		used := 0
		counter, err := uc.quotaRepo.Get(ctx, tenantID, c.category, day)
		switch {
		case err == nil:
			used = counter.Count
		case errors.Is(err, errs.ErrRecordNotFound):
			// nothing spent today
		default:
			return nil, fmt.Errorf("StatusUseCase - GetQuota - uc.quotaRepo.Get: %w", err)
		}

		view.Categories = append(view.Categories, dto.QuotaCategoryView{
			Category: string(c.category),
			Used:     used,
			Limit:    c.limit,
		})
	}

	return view, nil
}
