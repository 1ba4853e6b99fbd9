package model

import (
	"time"

	"github.com/google/uuid"
)

// DistributionRecord is one hand-off row for downstream consumers. Content is
// write-once; only the extraction metadata (Extracted, RequestID, UpdatedAt)
// mutates, and only through a claim.
type DistributionRecord struct {
	ID            int64 `db:"id" json:"id"`
	NHSNumber     int64 `db:"nhs_number" json:"nhs_number"`
	ParticipantID int64 `db:"participant_id" json:"participant_id"`

	SupersededByNHSNumber *int64 `db:"superseded_by_nhs_number" json:"superseded_by_nhs_number,omitempty"`

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

	AddressLine1             *string `db:"address_line_1" json:"address_line_1,omitempty"`
	AddressLine2             *string `db:"address_line_2" json:"address_line_2,omitempty"`
	AddressLine3             *string `db:"address_line_3" json:"address_line_3,omitempty"`
	AddressLine4             *string `db:"address_line_4" json:"address_line_4,omitempty"`
	AddressLine5             *string `db:"address_line_5" json:"address_line_5,omitempty"`
	Postcode                 *string `db:"postcode" json:"postcode,omitempty"`
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

	Extracted bool       `db:"extracted" json:"extracted"`
	RequestID *uuid.UUID `db:"request_id" json:"request_id,omitempty"`

	InsertedAt time.Time  `db:"inserted_at" json:"inserted_at"`
	UpdatedAt  *time.Time `db:"updated_at" json:"updated_at,omitempty"`
}

// NewDistributionRecord builds a hand-off snapshot from the (transformed)
// demographic profile and the participant-management row.
func NewDistributionRecord(d *Demographic, p *ParticipantManagement) *DistributionRecord {
	return &DistributionRecord{
		NHSNumber:                   d.NHSNumber,
		ParticipantID:               p.ID,
		SupersededByNHSNumber:       d.SupersededByNHSNumber,
		PrimaryCareProvider:         d.PrimaryCareProvider,
		PrimaryCareProviderFromDate: d.PrimaryCareProviderFromDate,
		CurrentPosting:              d.CurrentPosting,
		CurrentPostingFromDate:      d.CurrentPostingFromDate,
		NamePrefix:                  d.NamePrefix,
		GivenName:                   d.GivenName,
		OtherGivenName:              d.OtherGivenName,
		FamilyName:                  d.FamilyName,
		PreviousFamilyName:          d.PreviousFamilyName,
		DateOfBirth:                 d.DateOfBirth,
		Gender:                      d.Gender,
		DateOfDeath:                 d.DateOfDeath,
		AddressLine1:                d.AddressLine1,
		AddressLine2:                d.AddressLine2,
		AddressLine3:                d.AddressLine3,
		AddressLine4:                d.AddressLine4,
		AddressLine5:                d.AddressLine5,
		Postcode:                    d.Postcode,
		AddressFromDate:             d.AddressFromDate,
		ReasonForRemoval:            d.ReasonForRemoval,
		ReasonForRemovalFromDate:    d.ReasonForRemovalFromDate,
		HomePhone:                   d.HomePhone,
		HomePhoneFromDate:           d.HomePhoneFromDate,
		MobilePhone:                 d.MobilePhone,
		MobilePhoneFromDate:         d.MobilePhoneFromDate,
		EmailAddress:                d.EmailAddress,
		EmailAddressFromDate:        d.EmailAddressFromDate,
		PreferredLanguage:           d.PreferredLanguage,
		InterpreterRequired:         d.InterpreterRequired,
	}
}
