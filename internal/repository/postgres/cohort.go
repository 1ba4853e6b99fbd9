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

type cohortRepository struct {
	db *sqlx.DB
}

func NewCohortRepository(db *sqlx.DB) repository.CohortRepository {
	return &cohortRepository{db: db}
}

const insertCohortRecord = `
	INSERT INTO cohort_records (
		file_id, file_sequence, record_type, nhs_number, superseded_by_nhs_number,
		serial_change_number, primary_care_provider, primary_care_provider_from_date,
		current_posting, current_posting_from_date, name_prefix, given_name,
		other_given_name, family_name, previous_family_name, date_of_birth, gender,
		date_of_death, death_status, address_line_1, address_line_2, address_line_3,
		address_line_4, address_line_5, postcode, paf_key, address_from_date,
		reason_for_removal, reason_for_removal_from_date, home_phone,
		home_phone_from_date, mobile_phone, mobile_phone_from_date, email_address,
		email_address_from_date, preferred_language, interpreter_required, eligible,
		invalid_flag, created_at
	) VALUES (
		:file_id, :file_sequence, :record_type, :nhs_number, :superseded_by_nhs_number,
		:serial_change_number, :primary_care_provider, :primary_care_provider_from_date,
		:current_posting, :current_posting_from_date, :name_prefix, :given_name,
		:other_given_name, :family_name, :previous_family_name, :date_of_birth, :gender,
		:date_of_death, :death_status, :address_line_1, :address_line_2, :address_line_3,
		:address_line_4, :address_line_5, :postcode, :paf_key, :address_from_date,
		:reason_for_removal, :reason_for_removal_from_date, :home_phone,
		:home_phone_from_date, :mobile_phone, :mobile_phone_from_date, :email_address,
		:email_address_from_date, :preferred_language, :interpreter_required, :eligible,
		:invalid_flag, :created_at
	) RETURNING id
`

func (r *cohortRepository) InsertBatch(ctx context.Context, filename string, records []*model.CohortRecord) (int64, error) {
	if len(records) == 0 {
		return 0, apperrors.BadRequest("no records to insert", nil)
	}

	var fileID int64
	err := withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		// File ids are assigned by the store so correctness survives multiple
		// orchestrator instances; the files table row serializes the counter.
		if err := tx.QueryRowxContext(ctx,
			`INSERT INTO cohort_files (filename, record_count, created_at)
			 VALUES ($1, $2, $3) RETURNING file_id`,
			filename, len(records), time.Now().UTC(),
		).Scan(&fileID); err != nil {
			return wrapStoreErr("insert cohort file", err)
		}

		now := time.Now().UTC()
		for i, rec := range records {
			rec.FileID = fileID
			rec.FileSequence = i + 1
			rec.CreatedAt = now
			if rec.RecordType == "" {
				rec.RecordType = model.RecordTypeAdd
			}

			rows, err := tx.NamedQuery(insertCohortRecord, rec)
			if err != nil {
				return wrapStoreErr("insert cohort record", err)
			}
			if rows.Next() {
				if err := rows.Scan(&rec.ID); err != nil {
					rows.Close()
					return wrapStoreErr("scan cohort record id", err)
				}
			}
			rows.Close()
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return fileID, nil
}

func (r *cohortRepository) Get(ctx context.Context, id int64) (*model.CohortRecord, error) {
	var rec model.CohortRecord
	err := r.db.GetContext(ctx, &rec, `SELECT * FROM cohort_records WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("cohort record", err)
	}
	if err != nil {
		return nil, wrapStoreErr("get cohort record", err)
	}
	return &rec, nil
}

func (r *cohortRepository) ListByFile(ctx context.Context, fileID int64) ([]*model.CohortRecord, error) {
	var records []*model.CohortRecord
	err := r.db.SelectContext(ctx, &records,
		`SELECT * FROM cohort_records WHERE file_id = $1 ORDER BY file_sequence`, fileID)
	if err != nil {
		return nil, wrapStoreErr("list cohort records", err)
	}
	return records, nil
}

func (r *cohortRepository) GetFile(ctx context.Context, fileID int64) (*model.CohortFile, error) {
	var file model.CohortFile
	err := r.db.GetContext(ctx, &file, `SELECT * FROM cohort_files WHERE file_id = $1`, fileID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("cohort file", err)
	}
	if err != nil {
		return nil, wrapStoreErr("get cohort file", err)
	}
	return &file, nil
}
