package model

import "time"

type ScreeningStatus string

const (
	ScreeningStatusActive ScreeningStatus = "ACTIVE"
	ScreeningStatusCeased ScreeningStatus = "CEASED"
)

// ParticipantManagement holds the screening-management state for one patient.
// Exactly one row per NHS number. CohortRecordID always points at the staged
// record that last mutated the row.
type ParticipantManagement struct {
	ID        int64 `db:"id" json:"id"`
	NHSNumber int64 `db:"nhs_number" json:"nhs_number"`

	ScreeningID int64      `db:"screening_id" json:"screening_id"`
	RecordType  RecordType `db:"record_type" json:"record_type"`

	EligibilityFlag bool `db:"eligibility_flag" json:"eligibility_flag"`
	ExceptionFlag   bool `db:"exception_flag" json:"exception_flag"`
	BlockedFlag     bool `db:"blocked_flag" json:"blocked_flag"`
	ReferralFlag    bool `db:"referral_flag" json:"referral_flag"`

	ReasonForRemoval         *string `db:"reason_for_removal" json:"reason_for_removal,omitempty"`
	ReasonForRemovalFromDate *string `db:"reason_for_removal_from_date" json:"reason_for_removal_from_date,omitempty"`

	NextTestDueDate           *string          `db:"next_test_due_date" json:"next_test_due_date,omitempty"`
	NextTestDueDateCalcMethod *string          `db:"next_test_due_date_calc_method" json:"next_test_due_date_calc_method,omitempty"`
	ScreeningStatus           *ScreeningStatus `db:"screening_status" json:"screening_status,omitempty"`
	ScreeningCeasedReason     *string          `db:"screening_ceased_reason" json:"screening_ceased_reason,omitempty"`

	IsHigherRisk              bool    `db:"is_higher_risk" json:"is_higher_risk"`
	HigherRiskNextTestDueDate *string `db:"higher_risk_next_test_due_date" json:"higher_risk_next_test_due_date,omitempty"`

	// CohortRecordID is the traceability link back to the staged record that
	// produced the current state.
	CohortRecordID int64 `db:"cohort_record_id" json:"cohort_record_id"`

	InsertedAt time.Time  `db:"inserted_at" json:"inserted_at"`
	UpdatedAt  *time.Time `db:"updated_at" json:"updated_at,omitempty"`
}

// ApplyCohortRecord overwrites every mapped field from the staged record and
// advances the traceability link.
func (p *ParticipantManagement) ApplyCohortRecord(rec *CohortRecord, screeningID int64) {
	p.NHSNumber = rec.NHSNumber
	p.ScreeningID = screeningID
	p.RecordType = rec.RecordType
	if p.RecordType == "" {
		p.RecordType = RecordTypeAdd
	}
	p.EligibilityFlag = rec.Eligible
	p.ReasonForRemoval = rec.ReasonForRemoval
	p.ReasonForRemovalFromDate = rec.ReasonForRemovalFromDate
	p.CohortRecordID = rec.ID
}
