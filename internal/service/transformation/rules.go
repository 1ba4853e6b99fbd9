package transformation

import (
	"strings"

	"github.com/nhs-screening/cohort-manager/internal/model"
)

// FieldChange records one field mutated by a rule.
type FieldChange struct {
	Field string `json:"field"`
	Old   string `json:"old"`
	New   string `json:"new"`
}

// RuleResult is the outcome of applying one rule to one participant.
type RuleResult struct {
	RuleName string        `json:"rule_name"`
	Applied  bool          `json:"applied"`
	Changes  []FieldChange `json:"changes,omitempty"`
	Error    string        `json:"error,omitempty"`
}

// ConditionalRule applies a typed update when its condition holds. Condition
// and Update both read the working copies only; independent conditional rules
// may therefore evaluate concurrently.
type ConditionalRule struct {
	Name      string
	Condition func(d *model.Demographic, p *model.ParticipantManagement) bool
	Update    func(d *model.Demographic, p *model.ParticipantManagement) []FieldChange
}

// ReplacementRule rewrites characters in a set of string fields. Replacement
// rules run sequentially in registration order because two of them may target
// the same field.
type ReplacementRule struct {
	Name         string
	Replacements []string // old/new pairs, as strings.NewReplacer takes them
	Fields       []StringField
}

// StringField addresses one optional string field on the working copies.
type StringField struct {
	Name string
	Get  func(d *model.Demographic, p *model.ParticipantManagement) *string
	Set  func(d *model.Demographic, p *model.ParticipantManagement, v string)
}

func strPtr(s string) *string { return &s }

// DefaultConditionalRules covers the standing outbound adjustments: records
// with no usable postcode go out with a sentinel, ineligible participants are
// ceased, and blocked participants are flagged for manual review.
func DefaultConditionalRules() []ConditionalRule {
	return []ConditionalRule{
		{
			Name: "MissingPostcodeSentinel",
			Condition: func(d *model.Demographic, _ *model.ParticipantManagement) bool {
				return d != nil && (d.Postcode == nil || strings.TrimSpace(*d.Postcode) == "")
			},
			Update: func(d *model.Demographic, _ *model.ParticipantManagement) []FieldChange {
				old := ""
				if d.Postcode != nil {
					old = *d.Postcode
				}
				d.Postcode = strPtr("UNKNOWN")
				return []FieldChange{{Field: "postcode", Old: old, New: "UNKNOWN"}}
			},
		},
		{
			Name: "CeaseIneligible",
			Condition: func(_ *model.Demographic, p *model.ParticipantManagement) bool {
				if p == nil || p.EligibilityFlag {
					return false
				}
				return p.ScreeningStatus == nil || *p.ScreeningStatus != model.ScreeningStatusCeased
			},
			Update: func(_ *model.Demographic, p *model.ParticipantManagement) []FieldChange {
				old := ""
				if p.ScreeningStatus != nil {
					old = string(*p.ScreeningStatus)
				}
				ceased := model.ScreeningStatusCeased
				p.ScreeningStatus = &ceased
				return []FieldChange{{Field: "screening_status", Old: old, New: string(ceased)}}
			},
		},
		{
			Name: "FlagBlockedForReview",
			Condition: func(_ *model.Demographic, p *model.ParticipantManagement) bool {
				return p != nil && p.BlockedFlag && !p.ExceptionFlag
			},
			Update: func(_ *model.Demographic, p *model.ParticipantManagement) []FieldChange {
				p.ExceptionFlag = true
				return []FieldChange{{Field: "exception_flag", Old: "false", New: "true"}}
			},
		},
	}
}

// DefaultReplacementRules normalises free-text fields for the downstream
// consumer's character set.
func DefaultReplacementRules() []ReplacementRule {
	nameFields := []StringField{
		{
			Name: "given_name",
			Get:  func(d *model.Demographic, _ *model.ParticipantManagement) *string { return d.GivenName },
			Set: func(d *model.Demographic, _ *model.ParticipantManagement, v string) {
				d.GivenName = &v
			},
		},
		{
			Name: "family_name",
			Get:  func(d *model.Demographic, _ *model.ParticipantManagement) *string { return d.FamilyName },
			Set: func(d *model.Demographic, _ *model.ParticipantManagement, v string) {
				d.FamilyName = &v
			},
		},
		{
			Name: "previous_family_name",
			Get: func(d *model.Demographic, _ *model.ParticipantManagement) *string {
				return d.PreviousFamilyName
			},
			Set: func(d *model.Demographic, _ *model.ParticipantManagement, v string) {
				d.PreviousFamilyName = &v
			},
		},
	}
	phoneFields := []StringField{
		{
			Name: "home_phone",
			Get:  func(d *model.Demographic, _ *model.ParticipantManagement) *string { return d.HomePhone },
			Set: func(d *model.Demographic, _ *model.ParticipantManagement, v string) {
				d.HomePhone = &v
			},
		},
		{
			Name: "mobile_phone",
			Get:  func(d *model.Demographic, _ *model.ParticipantManagement) *string { return d.MobilePhone },
			Set: func(d *model.Demographic, _ *model.ParticipantManagement, v string) {
				d.MobilePhone = &v
			},
		},
	}

	return []ReplacementRule{
		{
			Name:         "NameCharacterSet",
			Replacements: []string{"–", "-", "’", "'", "`", "'"},
			Fields:       nameFields,
		},
		{
			Name: "PostcodeSpacing",
			// collapse doubled spaces left by upstream fixed-width extracts
			Replacements: []string{"  ", " "},
			Fields: []StringField{
				{
					Name: "postcode",
					Get:  func(d *model.Demographic, _ *model.ParticipantManagement) *string { return d.Postcode },
					Set: func(d *model.Demographic, _ *model.ParticipantManagement, v string) {
						d.Postcode = &v
					},
				},
			},
		},
		{
			Name:         "PhonePunctuation",
			Replacements: []string{" ", "", "-", "", "(", "", ")", ""},
			Fields:       phoneFields,
		},
	}
}
