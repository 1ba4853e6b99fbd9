package model

import "time"

// ExceptionRecord is one row of the exception ledger. Rows are append-only;
// resolution only sets ResolvedAt.
type ExceptionRecord struct {
	ID              int64      `db:"id" json:"id"`
	NHSNumber       int64      `db:"nhs_number" json:"nhs_number"`
	ScreeningName   string     `db:"screening_name" json:"screening_name"`
	RuleID          int        `db:"rule_id" json:"rule_id"`
	RuleDescription string     `db:"rule_description" json:"rule_description"`
	FileName        string     `db:"file_name" json:"file_name"`
	ErrorRecord     *string    `db:"error_record" json:"error_record,omitempty"`
	IsFatal         bool       `db:"is_fatal" json:"is_fatal"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
	ResolvedAt      *time.Time `db:"resolved_at" json:"resolved_at,omitempty"`
}

// Resolved reports whether the exception has been resolved.
func (e *ExceptionRecord) Resolved() bool {
	return e.ResolvedAt != nil
}
