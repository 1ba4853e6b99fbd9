package demographic

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
	repo := memory.NewDemographicRepository()
	log := logger.NewLogger(&logger.Config{
		Level:      logger.ErrorLevel,
		TimeFormat: time.RFC3339,
		Output:     io.Discard,
	})
	return NewService(cohortRepo, repo, log, Config{}), cohortRepo
}

func strPtr(s string) *string { return &s }

func TestLoadByFileInsertsThenUpdates(t *testing.T) {
	svc, cohortRepo := newTestService(t)
	ctx := context.Background()

	fileID, err := cohortRepo.InsertBatch(ctx, "cohort_1.parquet", []*model.CohortRecord{
		{NHSNumber: 9434765919, GivenName: strPtr("Jane"), FamilyName: strPtr("Smith")},
		{NHSNumber: 9434765870, GivenName: strPtr("Tom"), FamilyName: strPtr("Jones")},
	})
	require.NoError(t, err)

	result, err := svc.LoadByFile(ctx, fileID)
	require.NoError(t, err)
	assert.Equal(t, 2, result.RecordsLoaded)
	assert.Equal(t, 2, result.RecordsInserted)
	assert.Equal(t, 0, result.RecordsUpdated)
	assert.Empty(t, result.FailedNHSNumbers)

	// A later sighting of the same identifier replaces every field.
	fileID2, err := cohortRepo.InsertBatch(ctx, "cohort_2.parquet", []*model.CohortRecord{
		{NHSNumber: 9434765919, GivenName: strPtr("Janet"), FamilyName: strPtr("Smith"), Postcode: strPtr("LS1 4AP")},
	})
	require.NoError(t, err)

	result, err = svc.LoadByFile(ctx, fileID2)
	require.NoError(t, err)
	assert.Equal(t, 0, result.RecordsInserted)
	assert.Equal(t, 1, result.RecordsUpdated)

	d, err := svc.GetByNHSNumber(ctx, 9434765919)
	require.NoError(t, err)
	assert.Equal(t, "Janet", *d.GivenName)
	assert.Equal(t, "LS1 4AP", *d.Postcode)
	assert.NotNil(t, d.UpdatedAt)
}

func TestLoadByFileLastWriteWinsWithinFile(t *testing.T) {
	svc, cohortRepo := newTestService(t)
	ctx := context.Background()

	fileID, err := cohortRepo.InsertBatch(ctx, "cohort_dup.parquet", []*model.CohortRecord{
		{NHSNumber: 9434765919, GivenName: strPtr("First")},
		{NHSNumber: 9434765919, GivenName: strPtr("Second")},
	})
	require.NoError(t, err)

	result, err := svc.LoadByFile(ctx, fileID)
	require.NoError(t, err)
	assert.Equal(t, 1, result.RecordsInserted)
	assert.Equal(t, 1, result.RecordsUpdated)

	d, err := svc.GetByNHSNumber(ctx, 9434765919)
	require.NoError(t, err)
	assert.Equal(t, "Second", *d.GivenName)
}

func TestLoadByFileUnknownFile(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.LoadByFile(context.Background(), 42)
	require.Error(t, err)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestLoadByRecordID(t *testing.T) {
	svc, cohortRepo := newTestService(t)
	ctx := context.Background()

	_, err := cohortRepo.InsertBatch(ctx, "cohort_1.parquet", []*model.CohortRecord{
		{NHSNumber: 9434765919, FamilyName: strPtr("Smith")},
	})
	require.NoError(t, err)

	records, err := cohortRepo.ListByFile(ctx, 1)
	require.NoError(t, err)
	require.Len(t, records, 1)

	inserted, err := svc.LoadByRecordID(ctx, records[0].ID)
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = svc.LoadByRecordID(ctx, records[0].ID)
	require.NoError(t, err)
	assert.False(t, inserted)

	_, err = svc.LoadByRecordID(ctx, 999)
	assert.True(t, apperrors.IsNotFound(err))
}
