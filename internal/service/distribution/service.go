package distribution

import (
	"context"

	"github.com/google/uuid"

	"github.com/nhs-screening/cohort-manager/internal/model"
	"github.com/nhs-screening/cohort-manager/internal/repository"
	apperrors "github.com/nhs-screening/cohort-manager/pkg/errors"
	"github.com/nhs-screening/cohort-manager/pkg/logger"
	"github.com/nhs-screening/cohort-manager/pkg/metrics"
)

// Service manages the distribution hand-off area: publishing finished records
// and handing them to downstream consumers exactly once per claim.
type Service struct {
	repo       repository.DistributionRepository
	outboxRepo repository.OutboxRepository
	logger     *logger.Logger
	metrics    *metrics.Metrics
}

// NewService wires the distribution area. outboxRepo may be nil when no
// pipeline events are wanted.
func NewService(repo repository.DistributionRepository, outboxRepo repository.OutboxRepository, log *logger.Logger, m *metrics.Metrics) *Service {
	return &Service{repo: repo, outboxRepo: outboxRepo, logger: log, metrics: m}
}

// Publish appends finished records to the hand-off area. New records are
// always unclaimed.
func (s *Service) Publish(ctx context.Context, records []*model.DistributionRecord) error {
	if len(records) == 0 {
		return apperrors.BadRequest("no records to publish", nil)
	}
	if err := s.repo.InsertBatch(ctx, records); err != nil {
		return err
	}
	s.metrics.DistributionPublished.Add(float64(len(records)))
	s.logger.Info("published distribution records", "count", len(records))
	return nil
}

// ClaimBatch atomically takes up to limit unclaimed records under a fresh
// claim id. Two concurrent claims can never hand out the same record; a claim
// against an empty area returns the id with no records.
func (s *Service) ClaimBatch(ctx context.Context, limit int) (uuid.UUID, []*model.DistributionRecord, error) {
	if limit <= 0 {
		return uuid.Nil, nil, apperrors.BadRequest("claim limit must be positive", nil)
	}

	requestID := uuid.New()
	records, err := s.repo.Claim(ctx, requestID, limit)
	if err != nil {
		return uuid.Nil, nil, err
	}

	s.metrics.DistributionClaimed.Add(float64(len(records)))
	s.logger.Info("claimed distribution batch",
		"request_id", requestID.String(), "count", len(records))

	if len(records) > 0 && s.outboxRepo != nil {
		s.enqueueClaimEvent(ctx, requestID, len(records))
	}
	return requestID, records, nil
}

// Replay returns exactly the records of an earlier claim, read-only. Unknown
// claim ids are a not-found error.
func (s *Service) Replay(ctx context.Context, requestID uuid.UUID) ([]*model.DistributionRecord, error) {
	if requestID == uuid.Nil {
		return nil, apperrors.BadRequest("request id is required", nil)
	}
	records, err := s.repo.ListByRequestID(ctx, requestID)
	if err != nil {
		return nil, err
	}
	s.metrics.DistributionReplayed.Add(float64(len(records)))
	return records, nil
}

// enqueueClaimEvent is best effort: a failed event write is logged and never
// fails the claim, which has already committed.
func (s *Service) enqueueClaimEvent(ctx context.Context, requestID uuid.UUID, count int) {
	event, err := model.NewOutboxEvent(model.EventBatchClaimed, map[string]interface{}{
		"request_id": requestID.String(),
		"count":      count,
	})
	if err != nil {
		s.logger.Error(err, "failed to build claim event", "request_id", requestID.String())
		return
	}
	if err := s.outboxRepo.Insert(ctx, event); err != nil {
		s.logger.Error(err, "failed to enqueue claim event", "request_id", requestID.String())
	}
}
