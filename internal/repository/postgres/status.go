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

type statusRepository struct {
	db *sqlx.DB
}

func NewStatusRepository(db *sqlx.DB) repository.StatusRepository {
	return &statusRepository{db: db}
}

const insertFileStatus = `
	INSERT INTO file_processing_status (
		file_id, filename, total_records, cohort_loaded, demographics_loaded,
		participant_loaded, validation_complete, transformation_complete,
		distribution_loaded, records_passed, records_failed, current_stage,
		has_errors, is_complete, completed_at, created_at
	) VALUES (
		:file_id, :filename, :total_records, :cohort_loaded, :demographics_loaded,
		:participant_loaded, :validation_complete, :transformation_complete,
		:distribution_loaded, :records_passed, :records_failed, :current_stage,
		:has_errors, :is_complete, :completed_at, :created_at
	)
`

const updateFileStatus = `
	UPDATE file_processing_status SET
		total_records = :total_records,
		cohort_loaded = :cohort_loaded,
		demographics_loaded = :demographics_loaded,
		participant_loaded = :participant_loaded,
		validation_complete = :validation_complete,
		transformation_complete = :transformation_complete,
		distribution_loaded = :distribution_loaded,
		records_passed = :records_passed,
		records_failed = :records_failed,
		current_stage = :current_stage,
		has_errors = :has_errors,
		is_complete = :is_complete,
		completed_at = :completed_at,
		updated_at = :updated_at
	WHERE file_id = :file_id
`

func (r *statusRepository) CreateFileStatus(ctx context.Context, fs *model.FileStatus) error {
	fs.CreatedAt = time.Now().UTC()
	if _, err := r.db.NamedExecContext(ctx, insertFileStatus, fs); err != nil {
		return wrapStoreErr("create file status", err)
	}
	return nil
}

func (r *statusRepository) UpdateFileStatus(ctx context.Context, fs *model.FileStatus) error {
	now := time.Now().UTC()
	fs.UpdatedAt = &now
	res, err := r.db.NamedExecContext(ctx, updateFileStatus, fs)
	if err != nil {
		return wrapStoreErr("update file status", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.NotFound("file status", nil)
	}
	return nil
}

func (r *statusRepository) GetFileStatus(ctx context.Context, fileID int64) (*model.FileStatus, error) {
	var fs model.FileStatus
	err := r.db.GetContext(ctx, &fs,
		`SELECT * FROM file_processing_status WHERE file_id = $1`, fileID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("file status", err)
	}
	if err != nil {
		return nil, wrapStoreErr("get file status", err)
	}
	return &fs, nil
}

const upsertRecordStatus = `
	INSERT INTO record_processing_status (
		file_id, nhs_number, cohort_record_id, demographics_loaded,
		participant_loaded, validation_passed, exception_count,
		transformation_applied, has_transformation_errors, distributed,
		current_stage, is_complete, created_at, updated_at
	) VALUES (
		:file_id, :nhs_number, :cohort_record_id, :demographics_loaded,
		:participant_loaded, :validation_passed, :exception_count,
		:transformation_applied, :has_transformation_errors, :distributed,
		:current_stage, :is_complete, :created_at, :updated_at
	)
	ON CONFLICT (file_id, nhs_number) DO UPDATE SET
		cohort_record_id = EXCLUDED.cohort_record_id,
		demographics_loaded = EXCLUDED.demographics_loaded,
		participant_loaded = EXCLUDED.participant_loaded,
		validation_passed = EXCLUDED.validation_passed,
		exception_count = EXCLUDED.exception_count,
		transformation_applied = EXCLUDED.transformation_applied,
		has_transformation_errors = EXCLUDED.has_transformation_errors,
		distributed = EXCLUDED.distributed,
		current_stage = EXCLUDED.current_stage,
		is_complete = EXCLUDED.is_complete,
		updated_at = EXCLUDED.updated_at
`

func (r *statusRepository) UpsertRecordStatus(ctx context.Context, rs *model.RecordStatus) error {
	now := time.Now().UTC()
	if rs.CreatedAt.IsZero() {
		rs.CreatedAt = now
	}
	rs.UpdatedAt = &now
	if _, err := r.db.NamedExecContext(ctx, upsertRecordStatus, rs); err != nil {
		return wrapStoreErr("upsert record status", err)
	}
	return nil
}

func (r *statusRepository) GetRecordStatus(ctx context.Context, fileID, nhsNumber int64) (*model.RecordStatus, error) {
	var rs model.RecordStatus
	err := r.db.GetContext(ctx, &rs,
		`SELECT * FROM record_processing_status WHERE file_id = $1 AND nhs_number = $2`,
		fileID, nhsNumber)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("record status", err)
	}
	if err != nil {
		return nil, wrapStoreErr("get record status", err)
	}
	return &rs, nil
}

func (r *statusRepository) ListRecordStatuses(ctx context.Context, fileID int64) ([]*model.RecordStatus, error) {
	var statuses []*model.RecordStatus
	err := r.db.SelectContext(ctx, &statuses,
		`SELECT * FROM record_processing_status WHERE file_id = $1 ORDER BY nhs_number`, fileID)
	if err != nil {
		return nil, wrapStoreErr("list record statuses", err)
	}
	return statuses, nil
}
