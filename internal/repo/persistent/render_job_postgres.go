package persistent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/roomviz/render-engine/internal/entity"
	"github.com/roomviz/render-engine/pkg/postgres"
	"github.com/roomviz/render-engine/pkg/types/errs"
)

const (
	// Table
	renderJobsTable = "render_jobs"

	// Columns
	jobIDColumn          = "id"
	jobTenantColumn      = "tenant_id"
	jobSessionColumn     = "room_session_id"
	jobAssetColumn       = "asset_id"
	jobProductRefColumn  = "product_image_ref"
	jobPlacementColumn   = "placement"
	jobConfigColumn      = "config"
	jobStatusColumn      = "status"
	jobOutputKeyColumn   = "output_key"
	jobErrorColumn       = "error"
	jobCreatedAtColumn   = "created_at"
	jobStartedAtColumn   = "started_at"
	jobFinishedAtColumn  = "finished_at"
)

type RenderJobRepo struct {
	*postgres.Postgres
}

func NewRenderJobRepo(pg *postgres.Postgres) *RenderJobRepo {
	return &RenderJobRepo{pg}
}

func (r *RenderJobRepo) Create(ctx context.Context, job *entity.RenderJob) error {
	placement, err := json.Marshal(job.Placement)
	if err != nil {
		return fmt.Errorf("RenderJobRepo - Create - json.Marshal(placement): %w", err)
	}
	config, err := json.Marshal(job.Config)
	if err != nil {
		return fmt.Errorf("RenderJobRepo - Create - json.Marshal(config): %w", err)
	}

	sql, args, err := r.Builder.
		Insert(renderJobsTable).
		Columns(
			jobIDColumn,
			jobTenantColumn,
			jobSessionColumn,
			jobAssetColumn,
			jobProductRefColumn,
			jobPlacementColumn,
			jobConfigColumn,
			jobStatusColumn,
			jobCreatedAtColumn,
		).
		Values(
			job.ID,
			job.TenantID,
			job.RoomSessionID,
			job.AssetID,
			job.ProductImageRef,
			placement,
			config,
			job.Status,
			job.CreatedAt,
		).ToSql()
	if err != nil {
		return fmt.Errorf("RenderJobRepo - Create - r.Builder.ToSql: %w", err)
	}

	executor := r.GetExecutor(ctx)

	_, err = executor.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("RenderJobRepo - Create - executor.Exec: %w", err)
	}

	return nil
}

// Update persists a transition: status and the terminal fields. Placement
// and references are immutable after Create.
func (r *RenderJobRepo) Update(ctx context.Context, job *entity.RenderJob) error {
	sql, args, err := r.Builder.
		Update(renderJobsTable).
		Set(jobStatusColumn, job.Status).
		Set(jobOutputKeyColumn, job.OutputKey).
		Set(jobErrorColumn, job.Error).
		Set(jobStartedAtColumn, job.StartedAt).
		Set(jobFinishedAtColumn, job.FinishedAt).
		Where(squirrel.Eq{jobIDColumn: job.ID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("RenderJobRepo - Update - r.Builder.ToSql: %w", err)
	}

	executor := r.GetExecutor(ctx)

	tag, err := executor.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("RenderJobRepo - Update - executor.Exec: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return fmt.Errorf("RenderJobRepo - Update: %w", errs.ErrRecordNotFound)
	}

	return nil
}

func (r *RenderJobRepo) GetByID(ctx context.Context, id uuid.UUID) (*entity.RenderJob, error) {
	sql, args, err := r.Builder.
		Select(
			jobIDColumn,
			jobTenantColumn,
			jobSessionColumn,
			jobAssetColumn,
			jobProductRefColumn,
			jobPlacementColumn,
			jobConfigColumn,
			jobStatusColumn,
			jobOutputKeyColumn,
			jobErrorColumn,
			jobCreatedAtColumn,
			jobStartedAtColumn,
			jobFinishedAtColumn,
		).
		From(renderJobsTable).
		Where(squirrel.Eq{jobIDColumn: id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("RenderJobRepo - GetByID - r.Builder.ToSql: %w", err)
	}

	executor := r.GetExecutor(ctx)

	var job entity.RenderJob
	var placement, config []byte

	err = executor.QueryRow(ctx, sql, args...).Scan(
		&job.ID,
		&job.TenantID,
		&job.RoomSessionID,
		&job.AssetID,
		&job.ProductImageRef,
		&placement,
		&config,
		&job.Status,
		&job.OutputKey,
		&job.Error,
		&job.CreatedAt,
		&job.StartedAt,
		&job.FinishedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("RenderJobRepo - GetByID: %w", errs.ErrRecordNotFound)
		}
		return nil, fmt.Errorf("RenderJobRepo - GetByID - executor.QueryRow: %w", err)
	}

	if err := json.Unmarshal(placement, &job.Placement); err != nil {
		return nil, fmt.Errorf("RenderJobRepo - GetByID - json.Unmarshal(placement): %w", err)
	}
	if len(config) > 0 {
		if err := json.Unmarshal(config, &job.Config); err != nil {
			return nil, fmt.Errorf("RenderJobRepo - GetByID - json.Unmarshal(config): %w", err)
		}
	}

	return &job, nil
}
