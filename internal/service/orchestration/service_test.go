package orchestration

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhs-screening/cohort-manager/internal/model"
	"github.com/nhs-screening/cohort-manager/internal/repository"
	"github.com/nhs-screening/cohort-manager/internal/repository/memory"
	"github.com/nhs-screening/cohort-manager/internal/service/demographic"
	"github.com/nhs-screening/cohort-manager/internal/service/distribution"
	"github.com/nhs-screening/cohort-manager/internal/service/exception"
	"github.com/nhs-screening/cohort-manager/internal/service/participant"
	"github.com/nhs-screening/cohort-manager/internal/service/transformation"
	"github.com/nhs-screening/cohort-manager/internal/service/validation"
	apperrors "github.com/nhs-screening/cohort-manager/pkg/errors"
	"github.com/nhs-screening/cohort-manager/pkg/logger"
	"github.com/nhs-screening/cohort-manager/pkg/metrics"
)

// one registry per package: promauto panics on duplicate collectors
var testMetrics = metrics.NewMetrics("cohort_manager", "orchestration_test")

type pipeline struct {
	orchestrator *Service
	participants *participant.Service
	exceptions   *exception.Service
	distributor  *distribution.Service
	outboxRepo   repository.OutboxRepository
}

func newPipeline(t *testing.T) *pipeline {
	t.Helper()

	log := logger.NewLogger(&logger.Config{
		Level:      logger.ErrorLevel,
		TimeFormat: time.RFC3339,
		Output:     io.Discard,
	})

	cohortRepo := memory.NewCohortRepository()
	demographicRepo := memory.NewDemographicRepository()
	participantRepo := memory.NewParticipantRepository()
	referenceRepo := memory.NewReferenceRepository(
		model.GPPractice{Code: "A12345", Name: "High Street Surgery"},
	)
	statusRepo := memory.NewStatusRepository()
	outboxRepo := memory.NewOutboxRepository()

	demographics := demographic.NewService(cohortRepo, demographicRepo, log, demographic.Config{})
	participants := participant.NewService(cohortRepo, participantRepo, log, participant.Config{ScreeningID: 1})
	validator, err := validation.NewService(
		demographicRepo, participantRepo, referenceRepo, validation.DefaultRules(), log, validation.Config{})
	require.NoError(t, err)
	transformer := transformation.NewService(
		demographicRepo, participantRepo,
		transformation.DefaultConditionalRules(), transformation.DefaultReplacementRules(),
		log, transformation.Config{})
	exceptions := exception.NewService(memory.NewExceptionRepository(), log, testMetrics)
	distributor := distribution.NewService(memory.NewDistributionRepository(), outboxRepo, log, testMetrics)

	orchestrator := NewService(
		cohortRepo, statusRepo, outboxRepo,
		demographics, participants, validator, transformer, exceptions, distributor,
		log, testMetrics, Config{})

	return &pipeline{
		orchestrator: orchestrator,
		participants: participants,
		exceptions:   exceptions,
		distributor:  distributor,
		outboxRepo:   outboxRepo,
	}
}

func strPtr(s string) *string { return &s }

// twoRecordFile stages one record that passes validation and one that fails
// on its primary care provider.
func (p *pipeline) twoRecordFile(t *testing.T) int64 {
	t.Helper()
	fs, err := p.orchestrator.IngestFile(context.Background(), "cohort_1.parquet", []*model.CohortRecord{
		{
			NHSNumber:           9000000009,
			GivenName:           strPtr("Jane"),
			FamilyName:          strPtr("Smith"),
			PrimaryCareProvider: strPtr("X99999"),
			Postcode:            strPtr("SW1A 1AA"),
			Eligible:            true,
		},
		{
			NHSNumber:           9434765919,
			GivenName:           strPtr("Tom"),
			FamilyName:          strPtr("Jones"),
			PrimaryCareProvider: strPtr("A12345"),
			Postcode:            strPtr("LS1 4AP"),
			Eligible:            true,
		},
	})
	require.NoError(t, err)
	require.True(t, fs.CohortLoaded)
	require.Equal(t, model.StageDemographics, fs.CurrentStage)
	return fs.FileID
}

func TestProcessFileEndToEnd(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()
	fileID := p.twoRecordFile(t)

	fs, err := p.orchestrator.ProcessFile(ctx, fileID)
	require.NoError(t, err)

	assert.True(t, fs.IsComplete)
	assert.Equal(t, model.StageComplete, fs.CurrentStage)
	assert.Equal(t, 2, fs.TotalRecords)
	assert.Equal(t, 1, fs.RecordsPassed)
	assert.Equal(t, 1, fs.RecordsFailed)
	assert.True(t, fs.HasErrors)
	assert.NotNil(t, fs.CompletedAt)

	// The unknown care provider record stopped at validation.
	failed, err := p.orchestrator.RecordStatus(ctx, fileID, 9000000009)
	require.NoError(t, err)
	require.NotNil(t, failed.ValidationPassed)
	assert.False(t, *failed.ValidationPassed)
	assert.Equal(t, 1, failed.ExceptionCount)
	assert.True(t, failed.IsComplete)
	assert.False(t, failed.Distributed)
	assert.Equal(t, model.StageExceptions, failed.CurrentStage)

	mgmt, err := p.participants.GetByNHSNumber(ctx, 9000000009)
	require.NoError(t, err)
	assert.True(t, mgmt.ExceptionFlag)

	entries, err := p.exceptions.ListByNHSNumber(ctx, 9000000009)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 3, entries[0].RuleID)
	assert.True(t, entries[0].IsFatal)
	assert.Equal(t, "cohort_1.parquet", entries[0].FileName)
	require.NotNil(t, entries[0].ErrorRecord)

	// The clean record went all the way through.
	passed, err := p.orchestrator.RecordStatus(ctx, fileID, 9434765919)
	require.NoError(t, err)
	require.NotNil(t, passed.ValidationPassed)
	assert.True(t, *passed.ValidationPassed)
	assert.True(t, passed.Distributed)
	assert.True(t, passed.IsComplete)
	assert.Equal(t, model.StageComplete, passed.CurrentStage)
}

func TestProcessFilePublishesOnlyPassedRecords(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()
	fileID := p.twoRecordFile(t)

	_, err := p.orchestrator.ProcessFile(ctx, fileID)
	require.NoError(t, err)

	_, records, err := p.distributor.ClaimBatch(ctx, 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, int64(9434765919), records[0].NHSNumber)
	assert.Equal(t, "A12345", *records[0].PrimaryCareProvider)

	_, records, err = p.distributor.ClaimBatch(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestProcessFileIsIdempotent(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()
	fileID := p.twoRecordFile(t)

	first, err := p.orchestrator.ProcessFile(ctx, fileID)
	require.NoError(t, err)
	require.True(t, first.IsComplete)

	second, err := p.orchestrator.ProcessFile(ctx, fileID)
	require.NoError(t, err)
	assert.True(t, second.IsComplete)
	assert.Equal(t, first.RecordsPassed, second.RecordsPassed)
	assert.Equal(t, first.RecordsFailed, second.RecordsFailed)

	// No duplicate hand-off rows from the re-run.
	_, records, err := p.distributor.ClaimBatch(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, records, 1)

	entries, err := p.exceptions.ListByNHSNumber(ctx, 9000000009)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestResumeAfterPartialExceptionWrite(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()
	fileID := p.twoRecordFile(t)

	// A run interrupted between the ledger append and the record-status
	// write leaves the exception behind with no status row. The next
	// invocation revalidates the identifier and must not double the ledger.
	_, err := p.exceptions.RecordExceptions(ctx, []*model.ExceptionRecord{{
		NHSNumber:       9000000009,
		ScreeningName:   "breast_screening",
		RuleID:          3,
		RuleDescription: `primary care provider "X99999" is not a known GP practice`,
		FileName:        "cohort_1.parquet",
		IsFatal:         true,
	}})
	require.NoError(t, err)

	fs, err := p.orchestrator.ProcessFile(ctx, fileID)
	require.NoError(t, err)
	assert.True(t, fs.IsComplete)
	assert.Equal(t, 1, fs.RecordsFailed)

	entries, err := p.exceptions.ListByNHSNumber(ctx, 9000000009)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	rs, err := p.orchestrator.RecordStatus(ctx, fileID, 9000000009)
	require.NoError(t, err)
	assert.Equal(t, 1, rs.ExceptionCount)
	assert.True(t, rs.IsComplete)
}

func TestResolvedExceptionsDoNotBlockReappend(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()
	fileID := p.twoRecordFile(t)

	// A resolved entry for the same file and rule is history, not an open
	// duplicate; a fresh validation failure still gets recorded.
	_, err := p.exceptions.RecordExceptions(ctx, []*model.ExceptionRecord{{
		NHSNumber:       9000000009,
		ScreeningName:   "breast_screening",
		RuleID:          3,
		RuleDescription: "earlier sighting",
		FileName:        "cohort_1.parquet",
		IsFatal:         true,
	}})
	require.NoError(t, err)
	resolved, _, err := p.exceptions.ResolveAll(ctx, 9000000009)
	require.NoError(t, err)
	require.Equal(t, 1, resolved)

	_, err = p.orchestrator.ProcessFile(ctx, fileID)
	require.NoError(t, err)

	entries, err := p.exceptions.ListByNHSNumber(ctx, 9000000009)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.NotNil(t, entries[0].ResolvedAt)
	assert.Nil(t, entries[1].ResolvedAt)
}

func TestProcessFileEmitsPipelineEvents(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()
	fileID := p.twoRecordFile(t)

	_, err := p.orchestrator.ProcessFile(ctx, fileID)
	require.NoError(t, err)

	pending, err := p.outboxRepo.GetPendingWithLock(ctx, 10)
	require.NoError(t, err)

	types := make(map[string]int)
	for _, ev := range pending {
		types[ev.EventType]++
	}
	assert.Equal(t, 1, types[model.EventRecordExcepted])
	assert.Equal(t, 1, types[model.EventFileProcessed])
}

func TestProcessFileUnknownFile(t *testing.T) {
	p := newPipeline(t)

	_, err := p.orchestrator.ProcessFile(context.Background(), 42)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestIngestFileValidation(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	_, err := p.orchestrator.IngestFile(ctx, "", []*model.CohortRecord{{NHSNumber: 9434765919}})
	assert.True(t, apperrors.IsBadRequest(err))

	_, err = p.orchestrator.IngestFile(ctx, "cohort_1.parquet", nil)
	assert.True(t, apperrors.IsBadRequest(err))
}

func TestDuplicateIdentifierValidatedOnce(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	// The same identifier twice: the later sighting is the one that counts.
	fs, err := p.orchestrator.IngestFile(ctx, "cohort_dup.parquet", []*model.CohortRecord{
		{NHSNumber: 9434765919, FamilyName: strPtr("First"), Eligible: true},
		{NHSNumber: 9434765919, FamilyName: strPtr("Second"), PrimaryCareProvider: strPtr("A12345"), Eligible: true},
	})
	require.NoError(t, err)

	result, err := p.orchestrator.ProcessFile(ctx, fs.FileID)
	require.NoError(t, err)
	assert.Equal(t, 1, result.RecordsPassed)
	assert.Equal(t, 0, result.RecordsFailed)

	statuses, err := p.orchestrator.ListRecordStatuses(ctx, fs.FileID)
	require.NoError(t, err)
	require.Len(t, statuses, 1)
	assert.Equal(t, 0, statuses[0].ExceptionCount)

	_, records, err := p.distributor.ClaimBatch(ctx, 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "Second", *records[0].FamilyName)
}
