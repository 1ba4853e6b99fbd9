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

type demographicRepository struct {
	db *sqlx.DB
}

func NewDemographicRepository(db *sqlx.DB) repository.DemographicRepository {
	return &demographicRepository{db: db}
}

const insertDemographic = `
	INSERT INTO participant_demographics (
		nhs_number, superseded_by_nhs_number, primary_care_provider,
		primary_care_provider_from_date, current_posting, current_posting_from_date,
		name_prefix, given_name, other_given_name, family_name, previous_family_name,
		date_of_birth, gender, date_of_death, death_status, address_line_1,
		address_line_2, address_line_3, address_line_4, address_line_5, postcode,
		paf_key, address_from_date, reason_for_removal, reason_for_removal_from_date,
		home_phone, home_phone_from_date, mobile_phone, mobile_phone_from_date,
		email_address, email_address_from_date, preferred_language,
		interpreter_required, invalid_flag, inserted_at
	) VALUES (
		:nhs_number, :superseded_by_nhs_number, :primary_care_provider,
		:primary_care_provider_from_date, :current_posting, :current_posting_from_date,
		:name_prefix, :given_name, :other_given_name, :family_name, :previous_family_name,
		:date_of_birth, :gender, :date_of_death, :death_status, :address_line_1,
		:address_line_2, :address_line_3, :address_line_4, :address_line_5, :postcode,
		:paf_key, :address_from_date, :reason_for_removal, :reason_for_removal_from_date,
		:home_phone, :home_phone_from_date, :mobile_phone, :mobile_phone_from_date,
		:email_address, :email_address_from_date, :preferred_language,
		:interpreter_required, :invalid_flag, :inserted_at
	) RETURNING id
`

const updateDemographic = `
	UPDATE participant_demographics SET
		superseded_by_nhs_number = :superseded_by_nhs_number,
		primary_care_provider = :primary_care_provider,
		primary_care_provider_from_date = :primary_care_provider_from_date,
		current_posting = :current_posting,
		current_posting_from_date = :current_posting_from_date,
		name_prefix = :name_prefix,
		given_name = :given_name,
		other_given_name = :other_given_name,
		family_name = :family_name,
		previous_family_name = :previous_family_name,
		date_of_birth = :date_of_birth,
		gender = :gender,
		date_of_death = :date_of_death,
		death_status = :death_status,
		address_line_1 = :address_line_1,
		address_line_2 = :address_line_2,
		address_line_3 = :address_line_3,
		address_line_4 = :address_line_4,
		address_line_5 = :address_line_5,
		postcode = :postcode,
		paf_key = :paf_key,
		address_from_date = :address_from_date,
		reason_for_removal = :reason_for_removal,
		reason_for_removal_from_date = :reason_for_removal_from_date,
		home_phone = :home_phone,
		home_phone_from_date = :home_phone_from_date,
		mobile_phone = :mobile_phone,
		mobile_phone_from_date = :mobile_phone_from_date,
		email_address = :email_address,
		email_address_from_date = :email_address_from_date,
		preferred_language = :preferred_language,
		interpreter_required = :interpreter_required,
		invalid_flag = :invalid_flag,
		updated_at = :updated_at
	WHERE nhs_number = :nhs_number
`

// Upsert is an explicit read-then-branch inside one transaction scoped to the
// identifier. The FOR UPDATE row lock serializes concurrent writers for the
// same NHS number without a global lock.
func (r *demographicRepository) Upsert(ctx context.Context, d *model.Demographic) (bool, error) {
	var inserted bool
	err := withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		var existingID int64
		err := tx.QueryRowxContext(ctx,
			`SELECT id FROM participant_demographics WHERE nhs_number = $1 FOR UPDATE`,
			d.NHSNumber,
		).Scan(&existingID)

		switch {
		case errors.Is(err, sql.ErrNoRows):
			d.InsertedAt = time.Now().UTC()
			d.UpdatedAt = nil
			rows, err := tx.NamedQuery(insertDemographic, d)
			if err != nil {
				return wrapStoreErr("insert demographic", err)
			}
			defer rows.Close()
			if rows.Next() {
				if err := rows.Scan(&d.ID); err != nil {
					return wrapStoreErr("scan demographic id", err)
				}
			}
			inserted = true
			return nil
		case err != nil:
			return wrapStoreErr("lock demographic", err)
		default:
			d.ID = existingID
			now := time.Now().UTC()
			d.UpdatedAt = &now
			if _, err := tx.NamedExecContext(ctx, updateDemographic, d); err != nil {
				return wrapStoreErr("update demographic", err)
			}
			return nil
		}
	})
	return inserted, err
}

func (r *demographicRepository) GetByNHSNumber(ctx context.Context, nhsNumber int64) (*model.Demographic, error) {
	var d model.Demographic
	err := r.db.GetContext(ctx, &d,
		`SELECT * FROM participant_demographics WHERE nhs_number = $1`, nhsNumber)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("demographic", err)
	}
	if err != nil {
		return nil, wrapStoreErr("get demographic", err)
	}
	return &d, nil
}
