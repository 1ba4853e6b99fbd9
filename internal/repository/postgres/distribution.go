package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/nhs-screening/cohort-manager/internal/model"
	"github.com/nhs-screening/cohort-manager/internal/repository"
	apperrors "github.com/nhs-screening/cohort-manager/pkg/errors"
)

type distributionRepository struct {
	db *sqlx.DB
}

func NewDistributionRepository(db *sqlx.DB) repository.DistributionRepository {
	return &distributionRepository{db: db}
}

const insertDistribution = `
	INSERT INTO cohort_distribution (
		nhs_number, participant_id, superseded_by_nhs_number, primary_care_provider,
		primary_care_provider_from_date, current_posting, current_posting_from_date,
		name_prefix, given_name, other_given_name, family_name, previous_family_name,
		date_of_birth, gender, date_of_death, address_line_1, address_line_2,
		address_line_3, address_line_4, address_line_5, postcode, address_from_date,
		reason_for_removal, reason_for_removal_from_date, home_phone,
		home_phone_from_date, mobile_phone, mobile_phone_from_date, email_address,
		email_address_from_date, preferred_language, interpreter_required,
		extracted, request_id, inserted_at
	) VALUES (
		:nhs_number, :participant_id, :superseded_by_nhs_number, :primary_care_provider,
		:primary_care_provider_from_date, :current_posting, :current_posting_from_date,
		:name_prefix, :given_name, :other_given_name, :family_name, :previous_family_name,
		:date_of_birth, :gender, :date_of_death, :address_line_1, :address_line_2,
		:address_line_3, :address_line_4, :address_line_5, :postcode, :address_from_date,
		:reason_for_removal, :reason_for_removal_from_date, :home_phone,
		:home_phone_from_date, :mobile_phone, :mobile_phone_from_date, :email_address,
		:email_address_from_date, :preferred_language, :interpreter_required,
		:extracted, :request_id, :inserted_at
	) RETURNING id
`

func (r *distributionRepository) InsertBatch(ctx context.Context, records []*model.DistributionRecord) error {
	if len(records) == 0 {
		return nil
	}

	return withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		now := time.Now().UTC()
		for _, rec := range records {
			rec.Extracted = false
			rec.RequestID = nil
			rec.InsertedAt = now

			rows, err := tx.NamedQuery(insertDistribution, rec)
			if err != nil {
				return wrapStoreErr("insert distribution record", err)
			}
			if rows.Next() {
				if err := rows.Scan(&rec.ID); err != nil {
					rows.Close()
					return wrapStoreErr("scan distribution id", err)
				}
			}
			rows.Close()
		}
		return nil
	})
}

// Claim is a single atomic conditional transition: the inner select takes row
// locks with SKIP LOCKED so two concurrent claims can never mark the same
// row, and the update gates on the unset flag.
func (r *distributionRepository) Claim(ctx context.Context, requestID uuid.UUID, limit int) ([]*model.DistributionRecord, error) {
	var records []*model.DistributionRecord
	err := r.db.SelectContext(ctx, &records, `
		UPDATE cohort_distribution SET
			extracted = TRUE,
			request_id = $1,
			updated_at = $2
		WHERE id IN (
			SELECT id FROM cohort_distribution
			WHERE extracted = FALSE
			ORDER BY id
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		RETURNING *`,
		requestID, time.Now().UTC(), limit)
	if err != nil {
		return nil, wrapStoreErr("claim distribution records", err)
	}
	return records, nil
}

func (r *distributionRepository) ListByRequestID(ctx context.Context, requestID uuid.UUID) ([]*model.DistributionRecord, error) {
	var records []*model.DistributionRecord
	err := r.db.SelectContext(ctx, &records,
		`SELECT * FROM cohort_distribution WHERE request_id = $1 ORDER BY id`, requestID)
	if err != nil {
		return nil, wrapStoreErr("list distribution records", err)
	}
	if len(records) == 0 {
		return nil, apperrors.NotFound("extraction request", nil)
	}
	return records, nil
}
