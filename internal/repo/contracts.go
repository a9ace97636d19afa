package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/roomviz/render-engine/internal/entity"
)

type (
	// ObjectStore abstracts the cloud object store. Keys are opaque and
	// stable; signed URLs are derived on demand and never persisted.
	ObjectStore interface {
		Put(ctx context.Context, key string, data []byte, contentType string) error
		Download(ctx context.Context, key string) ([]byte, error)
		SignedReadURL(ctx context.Context, key string, ttl time.Duration) (string, error)
		SignedWriteURL(ctx context.Context, key string, ttl time.Duration) (string, error)
	}

	AssetRepo interface {
		Create(ctx context.Context, asset *entity.ProductAsset) error
		Update(ctx context.Context, asset *entity.ProductAsset) error
		GetByID(ctx context.Context, id uuid.UUID) (*entity.ProductAsset, error)
		GetByTenantProduct(ctx context.Context, tenantID, productID string) (*entity.ProductAsset, error)
		// ClaimBatch atomically claims up to limit claimable assets, oldest
		// first, and returns them already in preparing under a fresh lease.
		// Claimable: unprepared, or preparing with an expired lease and
		// retry_count < maxRetries. Concurrent callers never receive the
		// same asset.
		ClaimBatch(ctx context.Context, limit, maxRetries int, lease time.Duration) ([]*entity.ProductAsset, error)
	}

	RoomSessionRepo interface {
		Create(ctx context.Context, session *entity.RoomSession) error
		GetByID(ctx context.Context, id uuid.UUID) (*entity.RoomSession, error)
		// SetCleanedKey writes only the cleaned key column; the original key
		// is immutable by construction.
		SetCleanedKey(ctx context.Context, id uuid.UUID, key string) error
	}

	RenderJobRepo interface {
		Create(ctx context.Context, job *entity.RenderJob) error
		Update(ctx context.Context, job *entity.RenderJob) error
		GetByID(ctx context.Context, id uuid.UUID) (*entity.RenderJob, error)
	}

	// QuotaRepo is the per-(tenant, day, category) ledger. Reserve and
	// Commit are single atomic statements against the counter row - never
	// a read followed by a separate write.
	QuotaRepo interface {
		// Reserve increments iff the result stays within limit; otherwise
		// returns errs.ErrQuotaExceeded and leaves the row unchanged.
		Reserve(ctx context.Context, tenantID string, category entity.QuotaCategory, day time.Time, limit int) error
		// Check is the non-mutating admission probe used where accounting
		// is deferred to the success path.
		Check(ctx context.Context, tenantID string, category entity.QuotaCategory, day time.Time, limit int) error
		// Commit unconditionally increments; used on the success path after
		// an admission Check. The admission/commit window makes the limit a
		// soft cap, by contract.
		Commit(ctx context.Context, tenantID string, category entity.QuotaCategory, day time.Time, limit int) error
		Get(ctx context.Context, tenantID string, category entity.QuotaCategory, day time.Time) (*entity.QuotaCounter, error)
	}

	OutboxRepo interface {
		Create(ctx context.Context, event *entity.OutboxEvent) error
		GetPendingEvents(ctx context.Context, maxRetries, limit int) ([]*entity.OutboxEvent, error)
		MarkAsProcessingBatch(ctx context.Context, ids uuid.UUIDs) error
		MarkAsProcessedBatch(ctx context.Context, ids uuid.UUIDs) error
		IncrementRetryCountBatch(ctx context.Context, ids uuid.UUIDs) error
		MarkMaxRetriesAsFailed(ctx context.Context, maxRetries int) error
		DeleteOldProcessedAndFailed(ctx context.Context) (int64, error)
	}

	Transactor interface {
		WithinTransaction(ctx context.Context, f func(ctx context.Context) error) error
	}
)
