package worker

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhs-screening/cohort-manager/internal/model"
	"github.com/nhs-screening/cohort-manager/internal/repository/memory"
	"github.com/nhs-screening/cohort-manager/pkg/logger"
	"github.com/nhs-screening/cohort-manager/pkg/metrics"
)

// one registry per package: promauto panics on duplicate collectors
var testMetrics = metrics.NewMetrics("cohort_manager", "worker_test")

type fakeBroker struct {
	mu        sync.Mutex
	published []string
	failFor   map[string]error
}

func (b *fakeBroker) Publish(_ context.Context, channel string, _ interface{}) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err, ok := b.failFor[channel]; ok {
		return err
	}
	b.published = append(b.published, channel)
	return nil
}

func (b *fakeBroker) Subscribe(_ context.Context, _ string) (<-chan []byte, error) {
	return nil, nil
}

func (b *fakeBroker) Close() error { return nil }

func testLogger() *logger.Logger {
	return logger.NewLogger(&logger.Config{
		Level:      logger.ErrorLevel,
		TimeFormat: time.RFC3339,
		Output:     io.Discard,
	})
}

func testConfig() OutboxProcessorConfig {
	return OutboxProcessorConfig{
		BatchSize:     10,
		PollInterval:  10 * time.Millisecond,
		RetryAttempts: 2,
		RetryDelay:    time.Millisecond,
	}
}

func TestProcessEventsPublishesAndMarks(t *testing.T) {
	repo := memory.NewOutboxRepository()
	broker := &fakeBroker{}
	processor := NewOutboxProcessor(repo, broker, testConfig(), testLogger(), testMetrics)
	ctx := context.Background()

	for _, eventType := range []string{model.EventFileProcessed, model.EventRecordExcepted} {
		event, err := model.NewOutboxEvent(eventType, map[string]interface{}{"file_id": 1})
		require.NoError(t, err)
		require.NoError(t, repo.Insert(ctx, event))
	}

	require.NoError(t, processor.processEvents(ctx))

	assert.ElementsMatch(t, []string{model.EventFileProcessed, model.EventRecordExcepted}, broker.published)

	pending, err := repo.GetPendingWithLock(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestProcessEventsMarksFailures(t *testing.T) {
	repo := memory.NewOutboxRepository()
	broker := &fakeBroker{failFor: map[string]error{
		model.EventBatchClaimed: errors.New("connection refused"),
	}}
	processor := NewOutboxProcessor(repo, broker, testConfig(), testLogger(), testMetrics)
	ctx := context.Background()

	bad, err := model.NewOutboxEvent(model.EventBatchClaimed, map[string]interface{}{"count": 3})
	require.NoError(t, err)
	require.NoError(t, repo.Insert(ctx, bad))
	good, err := model.NewOutboxEvent(model.EventFileProcessed, map[string]interface{}{"file_id": 1})
	require.NoError(t, err)
	require.NoError(t, repo.Insert(ctx, good))

	// A failing event does not stop the rest of the batch.
	require.NoError(t, processor.processEvents(ctx))
	assert.Equal(t, []string{model.EventFileProcessed}, broker.published)

	pending, err := repo.GetPendingWithLock(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestNewOutboxProcessorRejectsBadConfig(t *testing.T) {
	repo := memory.NewOutboxRepository()
	broker := &fakeBroker{}

	assert.Panics(t, func() {
		NewOutboxProcessor(repo, broker, OutboxProcessorConfig{
			PollInterval: time.Second, RetryAttempts: 1, RetryDelay: time.Millisecond,
		}, testLogger(), testMetrics)
	})
	assert.Panics(t, func() {
		NewOutboxProcessor(repo, broker, OutboxProcessorConfig{
			BatchSize: 1, PollInterval: time.Second, RetryDelay: time.Millisecond,
		}, testLogger(), testMetrics)
	})
}

func TestRetrySucceedsAfterTransientFailure(t *testing.T) {
	calls := 0
	err := retry(3, time.Millisecond, func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)

	calls = 0
	err = retry(2, time.Millisecond, func() error {
		calls++
		return errors.New("permanent")
	})
	require.Error(t, err)
	assert.Equal(t, 2, calls)
}
