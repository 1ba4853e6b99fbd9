package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/nhs-screening/cohort-manager/internal/model"
	"github.com/nhs-screening/cohort-manager/internal/repository"
	apperrors "github.com/nhs-screening/cohort-manager/pkg/errors"
)

type participantRepository struct {
	db *sqlx.DB
}

func NewParticipantRepository(db *sqlx.DB) repository.ParticipantRepository {
	return &participantRepository{db: db}
}

const insertParticipant = `
	INSERT INTO participant_management (
		nhs_number, screening_id, record_type, eligibility_flag, exception_flag,
		blocked_flag, referral_flag, reason_for_removal, reason_for_removal_from_date,
		next_test_due_date, next_test_due_date_calc_method, screening_status,
		screening_ceased_reason, is_higher_risk, higher_risk_next_test_due_date,
		cohort_record_id, inserted_at
	) VALUES (
		:nhs_number, :screening_id, :record_type, :eligibility_flag, :exception_flag,
		:blocked_flag, :referral_flag, :reason_for_removal, :reason_for_removal_from_date,
		:next_test_due_date, :next_test_due_date_calc_method, :screening_status,
		:screening_ceased_reason, :is_higher_risk, :higher_risk_next_test_due_date,
		:cohort_record_id, :inserted_at
	) RETURNING id
`

const updateParticipant = `
	UPDATE participant_management SET
		screening_id = :screening_id,
		record_type = :record_type,
		eligibility_flag = :eligibility_flag,
		exception_flag = :exception_flag,
		blocked_flag = :blocked_flag,
		referral_flag = :referral_flag,
		reason_for_removal = :reason_for_removal,
		reason_for_removal_from_date = :reason_for_removal_from_date,
		next_test_due_date = :next_test_due_date,
		next_test_due_date_calc_method = :next_test_due_date_calc_method,
		screening_status = :screening_status,
		screening_ceased_reason = :screening_ceased_reason,
		is_higher_risk = :is_higher_risk,
		higher_risk_next_test_due_date = :higher_risk_next_test_due_date,
		cohort_record_id = :cohort_record_id,
		updated_at = :updated_at
	WHERE nhs_number = :nhs_number
`

func (r *participantRepository) Upsert(ctx context.Context, p *model.ParticipantManagement) (bool, error) {
	var inserted bool
	err := withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		var existingID int64
		err := tx.QueryRowxContext(ctx,
			`SELECT id FROM participant_management WHERE nhs_number = $1 FOR UPDATE`,
			p.NHSNumber,
		).Scan(&existingID)

		switch {
		case errors.Is(err, sql.ErrNoRows):
			p.InsertedAt = time.Now().UTC()
			p.UpdatedAt = nil
			rows, err := tx.NamedQuery(insertParticipant, p)
			if err != nil {
				return wrapStoreErr("insert participant management", err)
			}
			defer rows.Close()
			if rows.Next() {
				if err := rows.Scan(&p.ID); err != nil {
					return wrapStoreErr("scan participant management id", err)
				}
			}
			inserted = true
			return nil
		case err != nil:
			return wrapStoreErr("lock participant management", err)
		default:
			p.ID = existingID
			now := time.Now().UTC()
			p.UpdatedAt = &now
			if _, err := tx.NamedExecContext(ctx, updateParticipant, p); err != nil {
				return wrapStoreErr("update participant management", err)
			}
			return nil
		}
	})
	return inserted, err
}

func (r *participantRepository) GetByNHSNumber(ctx context.Context, nhsNumber int64) (*model.ParticipantManagement, error) {
	var p model.ParticipantManagement
	err := r.db.GetContext(ctx, &p,
		`SELECT * FROM participant_management WHERE nhs_number = $1`, nhsNumber)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("participant management", err)
	}
	if err != nil {
		return nil, wrapStoreErr("get participant management", err)
	}
	return &p, nil
}

func (r *participantRepository) SetExceptionFlag(ctx context.Context, nhsNumber int64, flag bool) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE participant_management SET exception_flag = $1, updated_at = $2 WHERE nhs_number = $3`,
		flag, time.Now().UTC(), nhsNumber)
	if err != nil {
		return wrapStoreErr("set exception flag", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.NotFound("participant management", nil)
	}
	return nil
}
