package persistent

import (
	"context"
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
	roomSessionsTable = "room_sessions"

	// Columns
	sessionIDColumn          = "id"
	sessionTenantColumn      = "tenant_id"
	sessionOriginalKeyColumn = "original_room_image_key"
	sessionCleanedKeyColumn  = "cleaned_room_image_key"
	sessionCreatedAtColumn   = "created_at"
)

type RoomSessionRepo struct {
	*postgres.Postgres
}

func NewRoomSessionRepo(pg *postgres.Postgres) *RoomSessionRepo {
	return &RoomSessionRepo{pg}
}

func (r *RoomSessionRepo) Create(ctx context.Context, session *entity.RoomSession) error {
	sql, args, err := r.Builder.
		Insert(roomSessionsTable).
		Columns(
			sessionIDColumn,
			sessionTenantColumn,
			sessionOriginalKeyColumn,
			sessionCleanedKeyColumn,
			sessionCreatedAtColumn,
		).
		Values(
			session.ID,
			session.TenantID,
			session.OriginalRoomImageKey,
			session.CleanedRoomImageKey,
			session.CreatedAt,
		).ToSql()
	if err != nil {
		return fmt.Errorf("RoomSessionRepo - Create - r.Builder.ToSql: %w", err)
	}

	executor := r.GetExecutor(ctx)

	_, err = executor.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("RoomSessionRepo - Create - executor.Exec: %w", err)
	}

	return nil
}

func (r *RoomSessionRepo) GetByID(ctx context.Context, id uuid.UUID) (*entity.RoomSession, error) {
	sql, args, err := r.Builder.
		Select(
			sessionIDColumn,
			sessionTenantColumn,
			sessionOriginalKeyColumn,
			sessionCleanedKeyColumn,
			sessionCreatedAtColumn,
		).
		From(roomSessionsTable).
		Where(squirrel.Eq{sessionIDColumn: id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("RoomSessionRepo - GetByID - r.Builder.ToSql: %w", err)
	}

	executor := r.GetExecutor(ctx)

	var session entity.RoomSession
	err = executor.QueryRow(ctx, sql, args...).Scan(
		&session.ID,
		&session.TenantID,
		&session.OriginalRoomImageKey,
		&session.CleanedRoomImageKey,
		&session.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("RoomSessionRepo - GetByID: %w", errs.ErrRecordNotFound)
		}
		return nil, fmt.Errorf("RoomSessionRepo - GetByID - executor.QueryRow: %w", err)
	}

	return &session, nil
}

// SetCleanedKey touches only the cleaned key column. The original key has
// no update path anywhere in this repo.
func (r *RoomSessionRepo) SetCleanedKey(ctx context.Context, id uuid.UUID, key string) error {
	sql, args, err := r.Builder.
		Update(roomSessionsTable).
		Set(sessionCleanedKeyColumn, key).
		Where(squirrel.Eq{sessionIDColumn: id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("RoomSessionRepo - SetCleanedKey - r.Builder.ToSql: %w", err)
	}

	executor := r.GetExecutor(ctx)

	tag, err := executor.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("RoomSessionRepo - SetCleanedKey - executor.Exec: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return fmt.Errorf("RoomSessionRepo - SetCleanedKey: %w", errs.ErrRecordNotFound)
	}

	return nil
}
