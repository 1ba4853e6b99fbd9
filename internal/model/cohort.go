package model

import "time"

type RecordType string

const (
	RecordTypeAdd     RecordType = "ADD"
	RecordTypeAmended RecordType = "AMENDED"
	RecordTypeDel     RecordType = "DEL"
)

// CohortRecord is one staged row from an ingested cohort file. Rows are
// immutable once written; FileID plus FileSequence identify the source line.
type CohortRecord struct {
	ID           int64      `db:"id" json:"id"`
	FileID       int64      `db:"file_id" json:"file_id"`
	FileSequence int        `db:"file_sequence" json:"file_sequence"`
	RecordType   RecordType `db:"record_type" json:"record_type"`

	NHSNumber             int64  `db:"nhs_number" json:"nhs_number"`
	SupersededByNHSNumber *int64 `db:"superseded_by_nhs_number" json:"superseded_by_nhs_number,omitempty"`
	SerialChangeNumber    *int64 `db:"serial_change_number" json:"serial_change_number,omitempty"`

	PrimaryCareProvider         *string `db:"primary_care_provider" json:"primary_care_provider,omitempty"`
	PrimaryCareProviderFromDate *string `db:"primary_care_provider_from_date" json:"primary_care_provider_from_date,omitempty"`
	CurrentPosting              *string `db:"current_posting" json:"current_posting,omitempty"`
	CurrentPostingFromDate      *string `db:"current_posting_from_date" json:"current_posting_from_date,omitempty"`

	NamePrefix         *string `db:"name_prefix" json:"name_prefix,omitempty"`
	GivenName          *string `db:"given_name" json:"given_name,omitempty"`
	OtherGivenName     *string `db:"other_given_name" json:"other_given_name,omitempty"`
	FamilyName         *string `db:"family_name" json:"family_name,omitempty"`
	PreviousFamilyName *string `db:"previous_family_name" json:"previous_family_name,omitempty"`

	DateOfBirth *string `db:"date_of_birth" json:"date_of_birth,omitempty"`
	Gender      *int    `db:"gender" json:"gender,omitempty"`
	DateOfDeath *string `db:"date_of_death" json:"date_of_death,omitempty"`
	DeathStatus *int    `db:"death_status" json:"death_status,omitempty"`

	AddressLine1             *string `db:"address_line_1" json:"address_line_1,omitempty"`
	AddressLine2             *string `db:"address_line_2" json:"address_line_2,omitempty"`
	AddressLine3             *string `db:"address_line_3" json:"address_line_3,omitempty"`
	AddressLine4             *string `db:"address_line_4" json:"address_line_4,omitempty"`
	AddressLine5             *string `db:"address_line_5" json:"address_line_5,omitempty"`
	Postcode                 *string `db:"postcode" json:"postcode,omitempty"`
	PAFKey                   *string `db:"paf_key" json:"paf_key,omitempty"`
	AddressFromDate          *string `db:"address_from_date" json:"address_from_date,omitempty"`
	ReasonForRemoval         *string `db:"reason_for_removal" json:"reason_for_removal,omitempty"`
	ReasonForRemovalFromDate *string `db:"reason_for_removal_from_date" json:"reason_for_removal_from_date,omitempty"`

	HomePhone            *string `db:"home_phone" json:"home_phone,omitempty"`
	HomePhoneFromDate    *string `db:"home_phone_from_date" json:"home_phone_from_date,omitempty"`
	MobilePhone          *string `db:"mobile_phone" json:"mobile_phone,omitempty"`
	MobilePhoneFromDate  *string `db:"mobile_phone_from_date" json:"mobile_phone_from_date,omitempty"`
	EmailAddress         *string `db:"email_address" json:"email_address,omitempty"`
	EmailAddressFromDate *string `db:"email_address_from_date" json:"email_address_from_date,omitempty"`

	PreferredLanguage   *string `db:"preferred_language" json:"preferred_language,omitempty"`
	InterpreterRequired bool    `db:"interpreter_required" json:"interpreter_required"`
	Eligible            bool    `db:"eligible" json:"eligible"`
	InvalidFlag         bool    `db:"invalid_flag" json:"invalid_flag"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// CohortFile summarises one ingested file.
type CohortFile struct {
	FileID      int64     `db:"file_id" json:"file_id"`
	Filename    string    `db:"filename" json:"filename"`
	RecordCount int       `db:"record_count" json:"record_count"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}
