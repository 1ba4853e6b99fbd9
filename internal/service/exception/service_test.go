package exception

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
	"github.com/nhs-screening/cohort-manager/pkg/metrics"
)

// one registry per package: promauto panics on duplicate collectors
var testMetrics = metrics.NewMetrics("cohort_manager", "exception_test")

func newTestService() *Service {
	log := logger.NewLogger(&logger.Config{
		Level:      logger.ErrorLevel,
		TimeFormat: time.RFC3339,
		Output:     io.Discard,
	})
	return NewService(memory.NewExceptionRepository(), log, testMetrics)
}

func entry(nhsNumber int64, ruleID int, fatal bool) *model.ExceptionRecord {
	return &model.ExceptionRecord{
		NHSNumber:       nhsNumber,
		ScreeningName:   "breast_screening",
		RuleID:          ruleID,
		RuleDescription: "rule failed",
		FileName:        "cohort_1.parquet",
		IsFatal:         fatal,
	}
}

func TestRecordExceptionsReturnsIDsInOrder(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	ids, err := svc.RecordExceptions(ctx, []*model.ExceptionRecord{
		entry(9434765919, 3, true),
		entry(9434765919, 5, false),
		entry(9434765870, 4, true),
	})
	require.NoError(t, err)
	require.Len(t, ids, 3)
	assert.Less(t, ids[0], ids[1])
	assert.Less(t, ids[1], ids[2])

	entries, err := svc.ListByNHSNumber(ctx, 9434765919)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.True(t, entries[0].IsFatal)
	assert.False(t, entries[1].IsFatal)
	assert.Nil(t, entries[0].ResolvedAt)
}

func TestRecordExceptionsRejectsBadBatches(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	_, err := svc.RecordExceptions(ctx, nil)
	assert.True(t, apperrors.IsBadRequest(err))

	_, err = svc.RecordExceptions(ctx, []*model.ExceptionRecord{entry(0, 1, true)})
	assert.True(t, apperrors.IsBadRequest(err))
}

func TestResolveAllIsIdempotent(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	_, err := svc.RecordExceptions(ctx, []*model.ExceptionRecord{
		entry(9434765919, 3, true),
		entry(9434765919, 5, false),
	})
	require.NoError(t, err)

	resolved, resolvedAt, err := svc.ResolveAll(ctx, 9434765919)
	require.NoError(t, err)
	assert.Equal(t, 2, resolved)
	assert.False(t, resolvedAt.IsZero())

	entries, err := svc.ListByNHSNumber(ctx, 9434765919)
	require.NoError(t, err)
	for _, e := range entries {
		require.NotNil(t, e.ResolvedAt)
		assert.Equal(t, resolvedAt, *e.ResolvedAt)
	}

	// A second pass finds nothing open and must not move the timestamps.
	resolved, _, err = svc.ResolveAll(ctx, 9434765919)
	require.NoError(t, err)
	assert.Equal(t, 0, resolved)

	again, err := svc.ListByNHSNumber(ctx, 9434765919)
	require.NoError(t, err)
	for _, e := range again {
		assert.Equal(t, resolvedAt, *e.ResolvedAt)
	}
}

func TestResolveAllLeavesOtherParticipantsOpen(t *testing.T) {
	svc := newTestService()
	ctx := context.Background()

	_, err := svc.RecordExceptions(ctx, []*model.ExceptionRecord{
		entry(9434765919, 3, true),
		entry(9434765870, 3, true),
	})
	require.NoError(t, err)

	resolved, _, err := svc.ResolveAll(ctx, 9434765919)
	require.NoError(t, err)
	assert.Equal(t, 1, resolved)

	other, err := svc.ListByNHSNumber(ctx, 9434765870)
	require.NoError(t, err)
	require.Len(t, other, 1)
	assert.Nil(t, other[0].ResolvedAt)
}

func TestFromOutcome(t *testing.T) {
	outcome := model.Outcome{
		RuleID:   5,
		RuleName: "PostcodeFormat",
		Status:   model.OutcomeFailed,
		Severity: model.SeverityWarning,
		Message:  "postcode does not match the expected format",
	}

	exc := FromOutcome(9434765919, "breast_screening", "cohort_1.parquet", outcome, nil)
	assert.Equal(t, int64(9434765919), exc.NHSNumber)
	assert.Equal(t, 5, exc.RuleID)
	assert.Equal(t, outcome.Message, exc.RuleDescription)
	assert.False(t, exc.IsFatal)

	outcome.Severity = model.SeverityError
	outcome.Message = ""
	exc = FromOutcome(9434765919, "breast_screening", "cohort_1.parquet", outcome, nil)
	assert.Equal(t, "PostcodeFormat", exc.RuleDescription)
	assert.True(t, exc.IsFatal)
}
