package postgres

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/nhs-screening/cohort-manager/internal/model"
	"github.com/nhs-screening/cohort-manager/internal/repository"
	apperrors "github.com/nhs-screening/cohort-manager/pkg/errors"
)

type exceptionRepository struct {
	db *sqlx.DB
}

func NewExceptionRepository(db *sqlx.DB) repository.ExceptionRepository {
	return &exceptionRepository{db: db}
}

const insertException = `
	INSERT INTO exceptions (
		nhs_number, screening_name, rule_id, rule_description, file_name,
		error_record, is_fatal, created_at
	) VALUES (
		:nhs_number, :screening_name, :rule_id, :rule_description, :file_name,
		:error_record, :is_fatal, :created_at
	) RETURNING id
`

func (r *exceptionRepository) InsertBatch(ctx context.Context, exceptions []*model.ExceptionRecord) ([]int64, error) {
	if len(exceptions) == 0 {
		return nil, nil
	}

	ids := make([]int64, 0, len(exceptions))
	err := withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		now := time.Now().UTC()
		for _, exc := range exceptions {
			exc.CreatedAt = now
			exc.ResolvedAt = nil

			rows, err := tx.NamedQuery(insertException, exc)
			if err != nil {
				return wrapStoreErr("insert exception", err)
			}
			if rows.Next() {
				if err := rows.Scan(&exc.ID); err != nil {
					rows.Close()
					return wrapStoreErr("scan exception id", err)
				}
			}
			rows.Close()
			ids = append(ids, exc.ID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// ResolveAllByNHSNumber only touches rows with no resolved timestamp, so a
// repeat call with no new exceptions is a no-op.
func (r *exceptionRepository) ResolveAllByNHSNumber(ctx context.Context, nhsNumber int64, resolvedAt time.Time) (int, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE exceptions SET resolved_at = $1 WHERE nhs_number = $2 AND resolved_at IS NULL`,
		resolvedAt, nhsNumber)
	if err != nil {
		return 0, wrapStoreErr("resolve exceptions", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, apperrors.Internal(err)
	}
	return int(n), nil
}

func (r *exceptionRepository) ListByNHSNumber(ctx context.Context, nhsNumber int64) ([]*model.ExceptionRecord, error) {
	var exceptions []*model.ExceptionRecord
	err := r.db.SelectContext(ctx, &exceptions,
		`SELECT * FROM exceptions WHERE nhs_number = $1 ORDER BY id`, nhsNumber)
	if err != nil {
		return nil, wrapStoreErr("list exceptions", err)
	}
	return exceptions, nil
}
