package transformation

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhs-screening/cohort-manager/internal/model"
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

func newDefaultService() *Service {
	return NewService(
		memory.NewDemographicRepository(),
		memory.NewParticipantRepository(),
		DefaultConditionalRules(),
		DefaultReplacementRules(),
		testLogger(),
		Config{},
	)
}

func TestTransformLeavesInboundUntouched(t *testing.T) {
	svc := newDefaultService()
	d := &model.Demographic{
		NHSNumber:  9434765919,
		GivenName:  strPtr("Anne–Marie"),
		FamilyName: strPtr("O’Brien"),
		HomePhone:  strPtr("(0113) 496-0000"),
	}
	p := &model.ParticipantManagement{NHSNumber: 9434765919, EligibilityFlag: false}

	out := svc.Transform(context.Background(), d, p)

	assert.Equal(t, "Anne–Marie", *d.GivenName)
	assert.Equal(t, "O’Brien", *d.FamilyName)
	assert.Equal(t, "(0113) 496-0000", *d.HomePhone)
	assert.Nil(t, d.Postcode)
	assert.Nil(t, p.ScreeningStatus)

	assert.Equal(t, "Anne-Marie", *out.Outbound.Demographic.GivenName)
	assert.Equal(t, "O'Brien", *out.Outbound.Demographic.FamilyName)
	assert.Equal(t, "01134960000", *out.Outbound.Demographic.HomePhone)
	assert.Equal(t, "UNKNOWN", *out.Outbound.Demographic.Postcode)
	require.NotNil(t, out.Outbound.Management.ScreeningStatus)
	assert.Equal(t, model.ScreeningStatusCeased, *out.Outbound.Management.ScreeningStatus)
}

func TestTransformIsDeterministic(t *testing.T) {
	svc := newDefaultService()
	d := &model.Demographic{
		NHSNumber:   9434765919,
		GivenName:   strPtr("Anne–Marie"),
		MobilePhone: strPtr("07700 900-000"),
	}
	p := &model.ParticipantManagement{NHSNumber: 9434765919, EligibilityFlag: true}

	first := svc.Transform(context.Background(), d, p)
	second := svc.Transform(context.Background(), d, p)

	assert.Equal(t, first.RulesApplied, second.RulesApplied)
	assert.Equal(t, first.FieldChanges, second.FieldChanges)
	assert.Equal(t, first.Outbound.Demographic, second.Outbound.Demographic)
	assert.Equal(t, first.Outbound.Management, second.Outbound.Management)

	// Re-running on already-clean output applies nothing new except the
	// standing postcode sentinel.
	third := svc.Transform(context.Background(), first.Outbound.Demographic, first.Outbound.Management)
	for _, res := range third.Results {
		if res.RuleName == "MissingPostcodeSentinel" {
			continue
		}
		assert.False(t, res.Applied, "rule %s reapplied", res.RuleName)
	}
}

func TestCeaseIneligibleOnlyWhenNeeded(t *testing.T) {
	svc := newDefaultService()
	ceased := model.ScreeningStatusCeased

	p := &model.ParticipantManagement{NHSNumber: 9434765919, EligibilityFlag: false, ScreeningStatus: &ceased}
	out := svc.Transform(context.Background(), nil, p)
	for _, res := range out.Results {
		if res.RuleName == "CeaseIneligible" {
			assert.False(t, res.Applied)
		}
	}

	eligible := &model.ParticipantManagement{NHSNumber: 9434765919, EligibilityFlag: true}
	out = svc.Transform(context.Background(), nil, eligible)
	assert.Nil(t, out.Outbound.Management.ScreeningStatus)
}

func TestFlagBlockedForReview(t *testing.T) {
	svc := newDefaultService()
	p := &model.ParticipantManagement{NHSNumber: 9434765919, EligibilityFlag: true, BlockedFlag: true}

	out := svc.Transform(context.Background(), nil, p)
	assert.False(t, p.ExceptionFlag)
	assert.True(t, out.Outbound.Management.ExceptionFlag)
}

func TestPanickingRuleReportedNotFatal(t *testing.T) {
	conditional := []ConditionalRule{
		{
			Name:      "Broken",
			Condition: func(*model.Demographic, *model.ParticipantManagement) bool { return true },
			Update: func(*model.Demographic, *model.ParticipantManagement) []FieldChange {
				panic("index out of range")
			},
		},
	}
	svc := NewService(
		memory.NewDemographicRepository(),
		memory.NewParticipantRepository(),
		conditional,
		DefaultReplacementRules(),
		testLogger(),
		Config{},
	)

	d := &model.Demographic{NHSNumber: 9434765919, GivenName: strPtr("Anne–Marie"), Postcode: strPtr("LS1 4AP")}
	out := svc.Transform(context.Background(), d, nil)

	assert.True(t, out.HadErrors)
	var broken RuleResult
	for _, res := range out.Results {
		if res.RuleName == "Broken" {
			broken = res
		}
	}
	assert.False(t, broken.Applied)
	assert.Contains(t, broken.Error, "index out of range")

	// The replacement rules still ran.
	assert.Equal(t, "Anne-Marie", *out.Outbound.Demographic.GivenName)
}

func TestTransformParticipant(t *testing.T) {
	demographics := memory.NewDemographicRepository()
	participants := memory.NewParticipantRepository()
	svc := NewService(demographics, participants, DefaultConditionalRules(), DefaultReplacementRules(), testLogger(), Config{})
	ctx := context.Background()

	_, err := demographics.Upsert(ctx, &model.Demographic{
		NHSNumber: 9434765919, FamilyName: strPtr("O’Brien"), Postcode: strPtr("LS1  4AP"),
	})
	require.NoError(t, err)

	out, err := svc.TransformParticipant(ctx, 9434765919)
	require.NoError(t, err)
	assert.Equal(t, int64(9434765919), out.NHSNumber)
	assert.Equal(t, "O'Brien", *out.Outbound.Demographic.FamilyName)
	assert.Equal(t, "LS1 4AP", *out.Outbound.Demographic.Postcode)
	assert.Nil(t, out.Outbound.Management)

	_, err = svc.TransformParticipant(ctx, 1111111111)
	assert.True(t, apperrors.IsNotFound(err))
}
