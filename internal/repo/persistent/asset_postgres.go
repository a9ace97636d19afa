package persistent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/roomviz/render-engine/internal/entity"
	"github.com/roomviz/render-engine/pkg/postgres"
	"github.com/roomviz/render-engine/pkg/types/errs"
)

const (
	// Table
	assetsTable = "product_assets"

	// Columns
	assetIDColumn        = "id"
	assetTenantColumn    = "tenant_id"
	assetProductColumn   = "product_id"
	assetSourceRefColumn = "source_image_ref"
	assetStatusColumn    = "status"
	assetRetryColumn     = "retry_count"
	assetLastErrorColumn = "last_error"
	assetCutoutKeyColumn = "cutout_key"
	assetPlacementColumn = "placement"
	assetEnabledColumn   = "enabled"
	assetClaimedAtColumn = "claimed_at"
	assetCreatedAtColumn = "created_at"
	assetUpdatedAtColumn = "updated_at"
)

var assetColumns = []string{
	assetIDColumn,
	assetTenantColumn,
	assetProductColumn,
	assetSourceRefColumn,
	assetStatusColumn,
	assetRetryColumn,
	assetLastErrorColumn,
	assetCutoutKeyColumn,
	assetPlacementColumn,
	assetEnabledColumn,
	assetClaimedAtColumn,
	assetCreatedAtColumn,
	assetUpdatedAtColumn,
}

// claimBatchSQL claims the oldest claimable assets in one statement.
// SKIP LOCKED keeps concurrent workers from claiming the same rows; the
// lease cutoff lets a crashed worker's claims expire instead of wedging.
const claimBatchSQL = `
UPDATE product_assets
SET status = $1, claimed_at = $2, updated_at = $2
WHERE id IN (
	SELECT id FROM product_assets
	WHERE status = $3
	   OR (status = $1 AND retry_count < $4 AND (claimed_at IS NULL OR claimed_at < $5))
	ORDER BY created_at ASC
	LIMIT $6
	FOR UPDATE SKIP LOCKED
)
RETURNING id, tenant_id, product_id, source_image_ref, status, retry_count,
	last_error, cutout_key, placement, enabled, claimed_at, created_at, updated_at`

type AssetRepo struct {
	*postgres.Postgres
}

func NewAssetRepo(pg *postgres.Postgres) *AssetRepo {
	return &AssetRepo{pg}
}

func (r *AssetRepo) Create(ctx context.Context, asset *entity.ProductAsset) error {
	placement, err := marshalPlacement(asset.Placement)
	if err != nil {
		return fmt.Errorf("AssetRepo - Create - marshalPlacement: %w", err)
	}

	sql, args, err := r.Builder.
		Insert(assetsTable).
		Columns(assetColumns...).
		Values(
			asset.ID,
			asset.TenantID,
			asset.ProductID,
			asset.SourceImageRef,
			asset.Status,
			asset.RetryCount,
			asset.LastError,
			asset.CutoutKey,
			placement,
			asset.Enabled,
			asset.ClaimedAt,
			asset.CreatedAt,
			asset.UpdatedAt,
		).ToSql()
	if err != nil {
		return fmt.Errorf("AssetRepo - Create - r.Builder.ToSql: %w", err)
	}

	executor := r.GetExecutor(ctx)

	_, err = executor.Exec(ctx, sql, args...)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("AssetRepo - Create: %w", errs.ErrRecordExists)
		}
		return fmt.Errorf("AssetRepo - Create - executor.Exec: %w", err)
	}

	return nil
}

func (r *AssetRepo) Update(ctx context.Context, asset *entity.ProductAsset) error {
	placement, err := marshalPlacement(asset.Placement)
	if err != nil {
		return fmt.Errorf("AssetRepo - Update - marshalPlacement: %w", err)
	}

	sql, args, err := r.Builder.
		Update(assetsTable).
		Set(assetSourceRefColumn, asset.SourceImageRef).
		Set(assetStatusColumn, asset.Status).
		Set(assetRetryColumn, asset.RetryCount).
		Set(assetLastErrorColumn, asset.LastError).
		Set(assetCutoutKeyColumn, asset.CutoutKey).
		Set(assetPlacementColumn, placement).
		Set(assetEnabledColumn, asset.Enabled).
		Set(assetClaimedAtColumn, asset.ClaimedAt).
		Set(assetUpdatedAtColumn, asset.UpdatedAt).
		Where(squirrel.Eq{assetIDColumn: asset.ID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("AssetRepo - Update - r.Builder.ToSql: %w", err)
	}

	executor := r.GetExecutor(ctx)

	tag, err := executor.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("AssetRepo - Update - executor.Exec: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return fmt.Errorf("AssetRepo - Update: %w", errs.ErrRecordNotFound)
	}

	return nil
}

func (r *AssetRepo) GetByID(ctx context.Context, id uuid.UUID) (*entity.ProductAsset, error) {
	return r.getOne(ctx, squirrel.Eq{assetIDColumn: id}, "GetByID")
}

func (r *AssetRepo) GetByTenantProduct(ctx context.Context, tenantID, productID string) (*entity.ProductAsset, error) {
	return r.getOne(ctx, squirrel.And{
		squirrel.Eq{assetTenantColumn: tenantID},
		squirrel.Eq{assetProductColumn: productID},
	}, "GetByTenantProduct")
}

func (r *AssetRepo) getOne(ctx context.Context, pred interface{}, method string) (*entity.ProductAsset, error) {
	sql, args, err := r.Builder.
		Select(assetColumns...).
		From(assetsTable).
		Where(pred).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("AssetRepo - %s - r.Builder.ToSql: %w", method, err)
	}

	executor := r.GetExecutor(ctx)

	asset, err := scanAsset(executor.QueryRow(ctx, sql, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("AssetRepo - %s: %w", method, errs.ErrRecordNotFound)
		}
		return nil, fmt.Errorf("AssetRepo - %s - executor.QueryRow: %w", method, err)
	}

	return asset, nil
}

func (r *AssetRepo) ClaimBatch(ctx context.Context, limit, maxRetries int, lease time.Duration) ([]*entity.ProductAsset, error) {
	now := time.Now()
	cutoff := now.Add(-lease)

	executor := r.GetExecutor(ctx)

	rows, err := executor.Query(ctx, claimBatchSQL,
		entity.AssetPreparing, now, entity.AssetUnprepared, maxRetries, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("AssetRepo - ClaimBatch - executor.Query: %w", err)
	}
	defer rows.Close()

	assets := make([]*entity.ProductAsset, 0, limit)
	for rows.Next() {
		asset, err := scanAsset(rows)
		if err != nil {
			return nil, fmt.Errorf("AssetRepo - ClaimBatch - scanAsset: %w", err)
		}
		assets = append(assets, asset)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("AssetRepo - ClaimBatch - rows.Err: %w", err)
	}

	return assets, nil
}

func scanAsset(row pgx.Row) (*entity.ProductAsset, error) {
	var asset entity.ProductAsset
	var placement []byte

	err := row.Scan(
		&asset.ID,
		&asset.TenantID,
		&asset.ProductID,
		&asset.SourceImageRef,
		&asset.Status,
		&asset.RetryCount,
		&asset.LastError,
		&asset.CutoutKey,
		&placement,
		&asset.Enabled,
		&asset.ClaimedAt,
		&asset.CreatedAt,
		&asset.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(placement) > 0 {
		var meta entity.PlacementMetadata
		if err := json.Unmarshal(placement, &meta); err != nil {
			return nil, fmt.Errorf("placement unmarshal: %w", err)
		}
		asset.Placement = &meta
	}

	return &asset, nil
}

func marshalPlacement(meta *entity.PlacementMetadata) ([]byte, error) {
	if meta == nil {
		return nil, nil
	}
	return json.Marshal(meta)
}
