package exception

import (
	"context"
	"time"

	"github.com/nhs-screening/cohort-manager/internal/model"
	"github.com/nhs-screening/cohort-manager/internal/repository"
	apperrors "github.com/nhs-screening/cohort-manager/pkg/errors"
	"github.com/nhs-screening/cohort-manager/pkg/logger"
	"github.com/nhs-screening/cohort-manager/pkg/metrics"
)

// Service is the exception ledger. Entries are append-only; resolution stamps
// a timestamp and never deletes.
type Service struct {
	repo    repository.ExceptionRepository
	logger  *logger.Logger
	metrics *metrics.Metrics
}

func NewService(repo repository.ExceptionRepository, log *logger.Logger, m *metrics.Metrics) *Service {
	return &Service{repo: repo, logger: log, metrics: m}
}

// RecordExceptions appends a batch of ledger entries and returns their
// store-assigned ids, in input order.
func (s *Service) RecordExceptions(ctx context.Context, exceptions []*model.ExceptionRecord) ([]int64, error) {
	if len(exceptions) == 0 {
		return nil, apperrors.BadRequest("no exceptions to record", nil)
	}
	for _, exc := range exceptions {
		if exc.NHSNumber == 0 {
			return nil, apperrors.BadRequest("exception has no NHS number", nil)
		}
	}

	ids, err := s.repo.InsertBatch(ctx, exceptions)
	if err != nil {
		return nil, err
	}
	s.metrics.ExceptionsCreated.Add(float64(len(ids)))
	s.logger.Info("recorded exceptions", "count", len(ids))
	return ids, nil
}

// ResolveAll stamps every open entry for the identifier with the same
// resolution time and returns how many were stamped. Calling it again is a
// no-op that returns zero; already-resolved entries keep their original
// timestamps.
func (s *Service) ResolveAll(ctx context.Context, nhsNumber int64) (int, time.Time, error) {
	resolvedAt := time.Now().UTC()
	resolved, err := s.repo.ResolveAllByNHSNumber(ctx, nhsNumber, resolvedAt)
	if err != nil {
		return 0, time.Time{}, err
	}
	if resolved > 0 {
		s.metrics.ExceptionsResolved.Add(float64(resolved))
		s.logger.Info("resolved exceptions", "nhs_number", nhsNumber, "count", resolved)
	}
	return resolved, resolvedAt, nil
}

// ListByNHSNumber returns every ledger entry for the identifier, open and
// resolved.
func (s *Service) ListByNHSNumber(ctx context.Context, nhsNumber int64) ([]*model.ExceptionRecord, error) {
	return s.repo.ListByNHSNumber(ctx, nhsNumber)
}

// FromOutcome builds a ledger entry for one failed validation outcome.
// WARNING severities produce non-fatal entries.
func FromOutcome(nhsNumber int64, screeningName, fileName string, outcome model.Outcome, errorRecord *string) *model.ExceptionRecord {
	description := outcome.Message
	if description == "" {
		description = outcome.RuleName
	}
	return &model.ExceptionRecord{
		NHSNumber:       nhsNumber,
		ScreeningName:   screeningName,
		RuleID:          outcome.RuleID,
		RuleDescription: description,
		FileName:        fileName,
		ErrorRecord:     errorRecord,
		IsFatal:         outcome.Severity != model.SeverityWarning,
	}
}
