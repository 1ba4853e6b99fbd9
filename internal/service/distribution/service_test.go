package distribution

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhs-screening/cohort-manager/internal/model"
	"github.com/nhs-screening/cohort-manager/internal/repository"
	"github.com/nhs-screening/cohort-manager/internal/repository/memory"
	apperrors "github.com/nhs-screening/cohort-manager/pkg/errors"
	"github.com/nhs-screening/cohort-manager/pkg/logger"
	"github.com/nhs-screening/cohort-manager/pkg/metrics"
)

// one registry per package: promauto panics on duplicate collectors
var testMetrics = metrics.NewMetrics("cohort_manager", "distribution_test")

func newTestService() (*Service, repository.OutboxRepository) {
	log := logger.NewLogger(&logger.Config{
		Level:      logger.ErrorLevel,
		TimeFormat: time.RFC3339,
		Output:     io.Discard,
	})
	outbox := memory.NewOutboxRepository()
	return NewService(memory.NewDistributionRepository(), outbox, log, testMetrics), outbox
}

func publish(t *testing.T, svc *Service, nhsNumbers ...int64) {
	t.Helper()
	records := make([]*model.DistributionRecord, 0, len(nhsNumbers))
	for _, n := range nhsNumbers {
		records = append(records, &model.DistributionRecord{NHSNumber: n, ParticipantID: n})
	}
	require.NoError(t, svc.Publish(context.Background(), records))
}

func TestClaimBatchRespectsLimit(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	publish(t, svc, 9434765919, 9434765870, 9000000009)

	requestID, records, err := svc.ClaimBatch(ctx, 2)
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, requestID)
	require.Len(t, records, 2)
	for _, rec := range records {
		assert.True(t, rec.Extracted)
		require.NotNil(t, rec.RequestID)
		assert.Equal(t, requestID, *rec.RequestID)
	}

	// The remainder goes to the next claim under a different id.
	requestID2, records2, err := svc.ClaimBatch(ctx, 2)
	require.NoError(t, err)
	assert.NotEqual(t, requestID, requestID2)
	require.Len(t, records2, 1)

	// Nothing left: a fresh id with no records, not an error.
	requestID3, records3, err := svc.ClaimBatch(ctx, 2)
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, requestID3)
	assert.Empty(t, records3)
}

func TestClaimBatchExclusiveUnderConcurrency(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	var all []int64
	for i := int64(0); i < 40; i++ {
		all = append(all, 9000000000+i)
	}
	publish(t, svc, all...)

	var mu sync.Mutex
	seen := make(map[int64]uuid.UUID)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			requestID, records, err := svc.ClaimBatch(ctx, 5)
			assert.NoError(t, err)
			mu.Lock()
			defer mu.Unlock()
			for _, rec := range records {
				prev, dup := seen[rec.NHSNumber]
				assert.False(t, dup, "record %d claimed by both %s and %s", rec.NHSNumber, prev, requestID)
				seen[rec.NHSNumber] = requestID
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, 40)
}

func TestReplayReturnsClaimExactly(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	publish(t, svc, 9434765919, 9434765870)

	requestID, claimed, err := svc.ClaimBatch(ctx, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 2)

	replayed, err := svc.Replay(ctx, requestID)
	require.NoError(t, err)
	require.Len(t, replayed, 2)
	for i := range claimed {
		assert.Equal(t, claimed[i].ID, replayed[i].ID)
		assert.Equal(t, claimed[i].NHSNumber, replayed[i].NHSNumber)
	}

	// Replay is read-only: the records stay with their original claim.
	again, err := svc.Replay(ctx, requestID)
	require.NoError(t, err)
	assert.Len(t, again, 2)

	_, err = svc.Replay(ctx, uuid.New())
	assert.True(t, apperrors.IsNotFound(err))

	_, err = svc.Replay(ctx, uuid.Nil)
	assert.True(t, apperrors.IsBadRequest(err))
}

func TestClaimBatchValidatesLimit(t *testing.T) {
	svc, _ := newTestService()

	_, _, err := svc.ClaimBatch(context.Background(), 0)
	assert.True(t, apperrors.IsBadRequest(err))

	_, _, err = svc.ClaimBatch(context.Background(), -5)
	assert.True(t, apperrors.IsBadRequest(err))
}

func TestPublishRejectsEmptyBatch(t *testing.T) {
	svc, _ := newTestService()
	err := svc.Publish(context.Background(), nil)
	assert.True(t, apperrors.IsBadRequest(err))
}

func TestClaimEventOnlyWhenRecordsClaimed(t *testing.T) {
	svc, outbox := newTestService()
	ctx := context.Background()

	// Empty claim: no event.
	_, _, err := svc.ClaimBatch(ctx, 5)
	require.NoError(t, err)
	pending, err := outbox.GetPendingWithLock(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)

	publish(t, svc, 9434765919)
	requestID, _, err := svc.ClaimBatch(ctx, 5)
	require.NoError(t, err)

	pending, err = outbox.GetPendingWithLock(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, model.EventBatchClaimed, pending[0].EventType)
	assert.Contains(t, string(pending[0].Payload), requestID.String())
}
