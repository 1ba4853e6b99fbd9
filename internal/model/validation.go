package model

// OutcomeStatus classifies the result of one rule evaluation. A rule that
// raised an internal error is distinct from a rule whose business check
// failed.
type OutcomeStatus string

const (
	OutcomePassed OutcomeStatus = "PASSED"
	OutcomeFailed OutcomeStatus = "FAILED"
	OutcomeError  OutcomeStatus = "ERROR"
)

// Severity of a validation outcome. Only WARNING failures produce non-fatal
// exceptions.
type Severity string

const (
	SeverityError   Severity = "ERROR"
	SeverityWarning Severity = "WARNING"
	SeverityInfo    Severity = "INFO"
)

// Outcome is the result of evaluating one validation rule against a record
// context. Outcomes are returned in rule-id order regardless of the order
// rules finished executing.
type Outcome struct {
	RuleID   int           `json:"rule_id"`
	RuleName string        `json:"rule_name"`
	Status   OutcomeStatus `json:"status"`
	Severity Severity      `json:"severity"`
	Message  string        `json:"message"`
}

// Failed reports whether the outcome blocks the record's progression. Rule
// internal errors count as failures for routing purposes.
func (o Outcome) Failed() bool {
	return o.Status != OutcomePassed
}

// ValidationSummary aggregates one record's validation pass.
type ValidationSummary struct {
	NHSNumber int64     `json:"nhs_number"`
	Passed    bool      `json:"passed"`
	Outcomes  []Outcome `json:"outcomes"`
}
