package validation

import (
	"context"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhs-screening/cohort-manager/internal/model"
	"github.com/nhs-screening/cohort-manager/internal/repository"
	"github.com/nhs-screening/cohort-manager/internal/repository/memory"
	apperrors "github.com/nhs-screening/cohort-manager/pkg/errors"
	"github.com/nhs-screening/cohort-manager/pkg/logger"
)

func testLogger() *logger.Logger {
	return logger.NewLogger(&logger.Config{
		Level:      logger.ErrorLevel,
		TimeFormat: time.RFC3339,
		Output:     io.Discard,
	})
}

func strPtr(s string) *string { return &s }

type fixture struct {
	demographics repository.DemographicRepository
	participants repository.ParticipantRepository
	references   repository.ReferenceRepository
}

func newFixture() *fixture {
	return &fixture{
		demographics: memory.NewDemographicRepository(),
		participants: memory.NewParticipantRepository(),
		references: memory.NewReferenceRepository(
			model.GPPractice{Code: "A12345", Name: "High Street Surgery"},
		),
	}
}

func (f *fixture) service(t *testing.T, rules []Rule) *Service {
	t.Helper()
	svc, err := NewService(f.demographics, f.participants, f.references, rules, testLogger(), Config{RuleWorkers: 4})
	require.NoError(t, err)
	return svc
}

func (f *fixture) seed(t *testing.T, d *model.Demographic) {
	t.Helper()
	_, err := f.demographics.Upsert(context.Background(), d)
	require.NoError(t, err)
	_, err = f.participants.Upsert(context.Background(), &model.ParticipantManagement{
		NHSNumber: d.NHSNumber, ScreeningID: 1, RecordType: model.RecordTypeAdd,
	})
	require.NoError(t, err)
}

func TestDefaultRulesPass(t *testing.T) {
	f := newFixture()
	f.seed(t, &model.Demographic{
		NHSNumber:           9434765919,
		PrimaryCareProvider: strPtr("A12345"),
		FamilyName:          strPtr("Smith"),
		Postcode:            strPtr("SW1A 1AA"),
	})
	svc := f.service(t, DefaultRules())

	summary, err := svc.ValidateParticipant(context.Background(), 9434765919)
	require.NoError(t, err)
	assert.True(t, summary.Passed)
	require.Len(t, summary.Outcomes, len(DefaultRules()))
	for _, o := range summary.Outcomes {
		assert.Equal(t, model.OutcomePassed, o.Status, "rule %d", o.RuleID)
	}
}

func TestUnknownCareProviderFails(t *testing.T) {
	f := newFixture()
	f.seed(t, &model.Demographic{
		NHSNumber:           9000000009,
		PrimaryCareProvider: strPtr("Z99999"),
		FamilyName:          strPtr("Smith"),
	})
	svc := f.service(t, DefaultRules())

	summary, err := svc.ValidateParticipant(context.Background(), 9000000009)
	require.NoError(t, err)
	assert.False(t, summary.Passed)

	var failed []model.Outcome
	for _, o := range summary.Outcomes {
		if o.Failed() {
			failed = append(failed, o)
		}
	}
	require.Len(t, failed, 1)
	assert.Equal(t, 3, failed[0].RuleID)
	assert.Equal(t, model.OutcomeFailed, failed[0].Status)
	assert.Contains(t, failed[0].Message, "Z99999")
}

func TestAbsentOptionalFieldPasses(t *testing.T) {
	f := newFixture()
	f.seed(t, &model.Demographic{
		NHSNumber:  9434765919,
		FamilyName: strPtr("Smith"),
	})
	svc := f.service(t, DefaultRules())

	summary, err := svc.ValidateParticipant(context.Background(), 9434765919)
	require.NoError(t, err)
	assert.True(t, summary.Passed)
}

func TestWarningSeverityStillBlocks(t *testing.T) {
	f := newFixture()
	f.seed(t, &model.Demographic{
		NHSNumber:  9434765919,
		FamilyName: strPtr("Smith"),
		Postcode:   strPtr("NOT A POSTCODE"),
	})
	svc := f.service(t, DefaultRules())

	summary, err := svc.ValidateParticipant(context.Background(), 9434765919)
	require.NoError(t, err)
	assert.False(t, summary.Passed)

	for _, o := range summary.Outcomes {
		if o.RuleID == 5 {
			assert.Equal(t, model.OutcomeFailed, o.Status)
			assert.Equal(t, model.SeverityWarning, o.Severity)
		}
	}
}

func TestOutcomesOrderedByRuleID(t *testing.T) {
	// Slow low-id rules finish last; the outcome slice must still be in
	// rule-id order.
	rules := []Rule{
		{ID: 3, Name: "Fast", Severity: model.SeverityError, Check: func(*RuleContext) RuleResult { return pass() }},
		{ID: 1, Name: "Slow", Severity: model.SeverityError, Check: func(*RuleContext) RuleResult {
			time.Sleep(20 * time.Millisecond)
			return pass()
		}},
		{ID: 2, Name: "Medium", Severity: model.SeverityError, Check: func(*RuleContext) RuleResult {
			time.Sleep(5 * time.Millisecond)
			return pass()
		}},
	}

	f := newFixture()
	f.seed(t, &model.Demographic{NHSNumber: 9434765919, FamilyName: strPtr("Smith")})
	svc := f.service(t, rules)

	for i := 0; i < 5; i++ {
		summary, err := svc.ValidateParticipant(context.Background(), 9434765919)
		require.NoError(t, err)
		require.Len(t, summary.Outcomes, 3)
		assert.Equal(t, []int{1, 2, 3}, []int{
			summary.Outcomes[0].RuleID,
			summary.Outcomes[1].RuleID,
			summary.Outcomes[2].RuleID,
		})
	}
}

func TestPanickingRuleYieldsErrorOutcome(t *testing.T) {
	rules := []Rule{
		{ID: 1, Name: "Healthy", Severity: model.SeverityError, Check: func(*RuleContext) RuleResult { return pass() }},
		{ID: 2, Name: "Broken", Severity: model.SeverityError, Check: func(*RuleContext) RuleResult {
			panic("nil map write")
		}},
	}

	f := newFixture()
	f.seed(t, &model.Demographic{NHSNumber: 9434765919, FamilyName: strPtr("Smith")})
	svc := f.service(t, rules)

	summary, err := svc.ValidateParticipant(context.Background(), 9434765919)
	require.NoError(t, err)
	assert.False(t, summary.Passed)

	assert.Equal(t, model.OutcomePassed, summary.Outcomes[0].Status)
	assert.Equal(t, model.OutcomeError, summary.Outcomes[1].Status)
	assert.Contains(t, summary.Outcomes[1].Message, "nil map write")
}

func TestRuleSetValidation(t *testing.T) {
	f := newFixture()

	_, err := NewService(f.demographics, f.participants, f.references, nil, testLogger(), Config{})
	assert.Error(t, err)

	var tooMany []Rule
	for i := 1; i <= MaxRules+1; i++ {
		tooMany = append(tooMany, Rule{
			ID: i, Name: fmt.Sprintf("Rule%d", i), Severity: model.SeverityError,
			Check: func(*RuleContext) RuleResult { return pass() },
		})
	}
	_, err = NewService(f.demographics, f.participants, f.references, tooMany, testLogger(), Config{})
	assert.Error(t, err)

	duplicate := []Rule{
		{ID: 1, Name: "A", Severity: model.SeverityError, Check: func(*RuleContext) RuleResult { return pass() }},
		{ID: 1, Name: "B", Severity: model.SeverityError, Check: func(*RuleContext) RuleResult { return pass() }},
	}
	_, err = NewService(f.demographics, f.participants, f.references, duplicate, testLogger(), Config{})
	assert.Error(t, err)
}

func TestValidateBatchRunsParticipantsConcurrently(t *testing.T) {
	rules := []Rule{
		{ID: 1, Name: "Slow", Severity: model.SeverityError, Check: func(*RuleContext) RuleResult {
			time.Sleep(100 * time.Millisecond)
			return pass()
		}},
	}

	f := newFixture()
	var nhsNumbers []int64
	for i := int64(0); i < 6; i++ {
		nhs := 9000000000 + i
		f.seed(t, &model.Demographic{NHSNumber: nhs, FamilyName: strPtr("Smith")})
		nhsNumbers = append(nhsNumbers, nhs)
	}
	svc := f.service(t, rules)

	started := time.Now()
	summaries, err := svc.ValidateBatch(context.Background(), nhsNumbers)
	elapsed := time.Since(started)

	require.NoError(t, err)
	require.Len(t, summaries, 6)
	// Serial evaluation would take 6x the rule latency; the bounded fan-out
	// keeps the batch close to a single rule's latency.
	assert.Less(t, elapsed, 300*time.Millisecond,
		"batch of 6 took %s, expected concurrent evaluation", elapsed)
}

func TestValidateBatchSkipsUnknownParticipants(t *testing.T) {
	f := newFixture()
	f.seed(t, &model.Demographic{NHSNumber: 9434765919, FamilyName: strPtr("Smith")})
	svc := f.service(t, DefaultRules())

	summaries, err := svc.ValidateBatch(context.Background(), []int64{9434765919, 1111111111})
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.True(t, summaries[9434765919].Passed)

	_, err = svc.ValidateParticipant(context.Background(), 1111111111)
	assert.True(t, apperrors.IsNotFound(err))
}
