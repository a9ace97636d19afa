package persistent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/roomviz/render-engine/internal/entity"
	"github.com/roomviz/render-engine/pkg/postgres"
	"github.com/roomviz/render-engine/pkg/types/errs"
)

const (
	// Table
	quotaTable = "quota_counters"

	// Columns
	quotaTenantColumn   = "tenant_id"
	quotaDayColumn      = "day"
	quotaCategoryColumn = "category"
	quotaCountColumn    = "used_count"
	quotaLimitColumn    = "daily_limit"
)

// QuotaRepo implements the ledger on a single upsert statement per
// mutation. The limit check and the increment happen inside one atomic
// statement against the counter row, so concurrent reservations cannot
// both observe room and overshoot together.
type QuotaRepo struct {
	*postgres.Postgres
}

func NewQuotaRepo(pg *postgres.Postgres) *QuotaRepo {
	return &QuotaRepo{pg}
}

func (r *QuotaRepo) Reserve(ctx context.Context, tenantID string, category entity.QuotaCategory, day time.Time, limit int) error {
	if limit <= 0 {
		return fmt.Errorf("QuotaRepo - Reserve: %w", errs.ErrQuotaExceeded)
	}

	// Lazily creates the row on first use. The DO UPDATE ... WHERE guard
	// makes an over-limit reservation return zero rows instead of writing.
	sql, args, err := r.Builder.
		Insert(quotaTable).
		Columns(quotaTenantColumn, quotaDayColumn, quotaCategoryColumn, quotaCountColumn, quotaLimitColumn).
		Values(tenantID, entity.QuotaDay(day), category, 1, limit).
		Suffix(fmt.Sprintf(
			"ON CONFLICT (%[1]s, %[2]s, %[3]s) DO UPDATE SET %[4]s = %[6]s.%[4]s + 1, %[5]s = EXCLUDED.%[5]s WHERE %[6]s.%[4]s < EXCLUDED.%[5]s RETURNING %[4]s",
			quotaTenantColumn, quotaDayColumn, quotaCategoryColumn, quotaCountColumn, quotaLimitColumn, quotaTable,
		)).
		ToSql()
	if err != nil {
		return fmt.Errorf("QuotaRepo - Reserve - r.Builder.ToSql: %w", err)
	}

	executor := r.GetExecutor(ctx)

	var count int
	err = executor.QueryRow(ctx, sql, args...).Scan(&count)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("QuotaRepo - Reserve: %w", errs.ErrQuotaExceeded)
		}
		return fmt.Errorf("QuotaRepo - Reserve - executor.QueryRow: %w", err)
	}

	return nil
}

func (r *QuotaRepo) Check(ctx context.Context, tenantID string, category entity.QuotaCategory, day time.Time, limit int) error {
	if limit <= 0 {
		return fmt.Errorf("QuotaRepo - Check: %w", errs.ErrQuotaExceeded)
	}

	sql, args, err := r.Builder.
		Select(quotaCountColumn).
		From(quotaTable).
		Where(squirrel.And{
			squirrel.Eq{quotaTenantColumn: tenantID},
			squirrel.Eq{quotaDayColumn: entity.QuotaDay(day)},
			squirrel.Eq{quotaCategoryColumn: category},
		}).
		ToSql()
	if err != nil {
		return fmt.Errorf("QuotaRepo - Check - r.Builder.ToSql: %w", err)
	}

	executor := r.GetExecutor(ctx)

	var count int
	err = executor.QueryRow(ctx, sql, args...).Scan(&count)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// no usage yet today
			return nil
		}
		return fmt.Errorf("QuotaRepo - Check - executor.QueryRow: %w", err)
	}

	if count >= limit {
		return fmt.Errorf("QuotaRepo - Check: %w", errs.ErrQuotaExceeded)
	}

	return nil
}

// Commit is the success-path accounting increment. It never rejects: the
// hard check already happened at admission, and the contract accepts the
// small admission/commit window as a soft cap.
func (r *QuotaRepo) Commit(ctx context.Context, tenantID string, category entity.QuotaCategory, day time.Time, limit int) error {
	sql, args, err := r.Builder.
		Insert(quotaTable).
		Columns(quotaTenantColumn, quotaDayColumn, quotaCategoryColumn, quotaCountColumn, quotaLimitColumn).
		Values(tenantID, entity.QuotaDay(day), category, 1, limit).
		Suffix(fmt.Sprintf(
			"ON CONFLICT (%[1]s, %[2]s, %[3]s) DO UPDATE SET %[4]s = %[5]s.%[4]s + 1",
			quotaTenantColumn, quotaDayColumn, quotaCategoryColumn, quotaCountColumn, quotaTable,
		)).
		ToSql()
	if err != nil {
		return fmt.Errorf("QuotaRepo - Commit - r.Builder.ToSql: %w", err)
	}

	executor := r.GetExecutor(ctx)

	_, err = executor.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("QuotaRepo - Commit - executor.Exec: %w", err)
	}

	return nil
}

func (r *QuotaRepo) Get(ctx context.Context, tenantID string, category entity.QuotaCategory, day time.Time) (*entity.QuotaCounter, error) {
	sql, args, err := r.Builder.
		Select(quotaTenantColumn, quotaDayColumn, quotaCategoryColumn, quotaCountColumn, quotaLimitColumn).
		From(quotaTable).
		Where(squirrel.And{
			squirrel.Eq{quotaTenantColumn: tenantID},
			squirrel.Eq{quotaDayColumn: entity.QuotaDay(day)},
			squirrel.Eq{quotaCategoryColumn: category},
		}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("QuotaRepo - Get - r.Builder.ToSql: %w", err)
	}

	executor := r.GetExecutor(ctx)

	var counter entity.QuotaCounter
	err = executor.QueryRow(ctx, sql, args...).Scan(
		&counter.TenantID,
		&counter.Day,
		&counter.Category,
		&counter.Count,
		&counter.Limit,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("QuotaRepo - Get: %w", errs.ErrRecordNotFound)
		}
		return nil, fmt.Errorf("QuotaRepo - Get - executor.QueryRow: %w", err)
	}

	return &counter, nil
}
