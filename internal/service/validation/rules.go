package validation

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/nhs-screening/cohort-manager/internal/model"
)

// MaxRules caps the size of a rule set. The engine evaluates every rule for
// every record, so an unbounded set would make per-record cost unbounded too.
const MaxRules = 50

// RuleContext carries everything a rule may inspect for one participant. The
// engine assembles it once per record; rules must treat it as read-only.
type RuleContext struct {
	NHSNumber   int64
	Demographic *model.Demographic
	Management  *model.ParticipantManagement
	GPPractices map[string]struct{}
}

// RuleResult is what a single check returns. The engine folds it into a full
// model.Outcome together with the rule's identity.
type RuleResult struct {
	Passed  bool
	Message string
}

// Rule is one registered validation check. IDs must be unique within a rule
// set; outcome ordering follows them.
type Rule struct {
	ID       int
	Name     string
	Severity model.Severity
	Check    func(*RuleContext) RuleResult
}

func pass() RuleResult {
	return RuleResult{Passed: true}
}

func fail(format string, args ...interface{}) RuleResult {
	return RuleResult{Passed: false, Message: fmt.Sprintf(format, args...)}
}

var postcodePattern = regexp.MustCompile(`^[A-Z]{1,2}[0-9][A-Z0-9]?\s*[0-9][A-Z]{2}$`)

// DefaultRules returns the standing rule set. Rules keyed on optional fields
// pass when the field is absent; presence rules fail on absence.
func DefaultRules() []Rule {
	return []Rule{
		{
			ID:       1,
			Name:     "NHSNumberPresent",
			Severity: model.SeverityError,
			Check: func(rc *RuleContext) RuleResult {
				if rc.NHSNumber <= 0 {
					return fail("NHS number is missing")
				}
				return pass()
			},
		},
		{
			ID:       2,
			Name:     "NHSNumberConsistency",
			Severity: model.SeverityError,
			Check: func(rc *RuleContext) RuleResult {
				if rc.Demographic != nil && rc.Demographic.NHSNumber != rc.NHSNumber {
					return fail("demographic NHS number %d does not match %d",
						rc.Demographic.NHSNumber, rc.NHSNumber)
				}
				if rc.Management != nil && rc.Management.NHSNumber != rc.NHSNumber {
					return fail("participant NHS number %d does not match %d",
						rc.Management.NHSNumber, rc.NHSNumber)
				}
				return pass()
			},
		},
		{
			ID:       3,
			Name:     "PrimaryCareProviderExists",
			Severity: model.SeverityError,
			Check: func(rc *RuleContext) RuleResult {
				if rc.Demographic == nil || rc.Demographic.PrimaryCareProvider == nil {
					return pass()
				}
				code := strings.TrimSpace(*rc.Demographic.PrimaryCareProvider)
				if code == "" {
					return pass()
				}
				if _, ok := rc.GPPractices[code]; !ok {
					return fail("primary care provider %q is not a known GP practice", code)
				}
				return pass()
			},
		},
		{
			ID:       4,
			Name:     "FamilyNamePresent",
			Severity: model.SeverityError,
			Check: func(rc *RuleContext) RuleResult {
				if rc.Demographic == nil {
					return pass()
				}
				if rc.Demographic.FamilyName == nil || strings.TrimSpace(*rc.Demographic.FamilyName) == "" {
					return fail("family name is missing")
				}
				return pass()
			},
		},
		{
			ID:       5,
			Name:     "PostcodeFormat",
			Severity: model.SeverityWarning,
			Check: func(rc *RuleContext) RuleResult {
				if rc.Demographic == nil || rc.Demographic.Postcode == nil {
					return pass()
				}
				pc := strings.ToUpper(strings.TrimSpace(*rc.Demographic.Postcode))
				if pc == "" {
					return pass()
				}
				if !postcodePattern.MatchString(pc) {
					return fail("postcode %q is not a recognised format", pc)
				}
				return pass()
			},
		},
	}
}
