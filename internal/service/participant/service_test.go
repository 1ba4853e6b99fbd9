package participant

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
	apperrors "github.com/nhs-screening/cohort-manager/pkg/errors"
	"github.com/nhs-screening/cohort-manager/pkg/logger"
)

func newTestService(t *testing.T) (*Service, repository.CohortRepository) {
	t.Helper()
	cohortRepo := memory.NewCohortRepository()
	repo := memory.NewParticipantRepository()
	log := logger.NewLogger(&logger.Config{
		Level:      logger.ErrorLevel,
		TimeFormat: time.RFC3339,
		Output:     io.Discard,
	})
	return NewService(cohortRepo, repo, log, Config{ScreeningID: 1}), cohortRepo
}

func TestLoadByFileTracksSourceRecord(t *testing.T) {
	svc, cohortRepo := newTestService(t)
	ctx := context.Background()

	fileID, err := cohortRepo.InsertBatch(ctx, "cohort_1.parquet", []*model.CohortRecord{
		{NHSNumber: 9434765919, Eligible: true},
	})
	require.NoError(t, err)

	result, err := svc.LoadByFile(ctx, fileID)
	require.NoError(t, err)
	assert.Equal(t, 1, result.RecordsInserted)

	records, err := cohortRepo.ListByFile(ctx, fileID)
	require.NoError(t, err)

	p, err := svc.GetByNHSNumber(ctx, 9434765919)
	require.NoError(t, err)
	assert.Equal(t, records[0].ID, p.CohortRecordID)
	assert.True(t, p.EligibilityFlag)
	assert.Equal(t, model.RecordTypeAdd, p.RecordType)
	assert.Equal(t, int64(1), p.ScreeningID)

	// An amendment from a later file moves the traceability link.
	fileID2, err := cohortRepo.InsertBatch(ctx, "cohort_2.parquet", []*model.CohortRecord{
		{NHSNumber: 9434765919, RecordType: model.RecordTypeAmended, Eligible: false},
	})
	require.NoError(t, err)

	result, err = svc.LoadByFile(ctx, fileID2)
	require.NoError(t, err)
	assert.Equal(t, 1, result.RecordsUpdated)

	records2, err := cohortRepo.ListByFile(ctx, fileID2)
	require.NoError(t, err)

	p, err = svc.GetByNHSNumber(ctx, 9434765919)
	require.NoError(t, err)
	assert.Equal(t, records2[0].ID, p.CohortRecordID)
	assert.Equal(t, model.RecordTypeAmended, p.RecordType)
	assert.False(t, p.EligibilityFlag)
}

func TestSetExceptionFlag(t *testing.T) {
	svc, cohortRepo := newTestService(t)
	ctx := context.Background()

	fileID, err := cohortRepo.InsertBatch(ctx, "cohort_1.parquet", []*model.CohortRecord{
		{NHSNumber: 9434765919, Eligible: true},
	})
	require.NoError(t, err)
	_, err = svc.LoadByFile(ctx, fileID)
	require.NoError(t, err)

	require.NoError(t, svc.SetExceptionFlag(ctx, 9434765919, true))
	p, err := svc.GetByNHSNumber(ctx, 9434765919)
	require.NoError(t, err)
	assert.True(t, p.ExceptionFlag)

	require.NoError(t, svc.SetExceptionFlag(ctx, 9434765919, false))
	p, err = svc.GetByNHSNumber(ctx, 9434765919)
	require.NoError(t, err)
	assert.False(t, p.ExceptionFlag)

	err = svc.SetExceptionFlag(ctx, 1111111111, true)
	assert.True(t, apperrors.IsNotFound(err))
}
