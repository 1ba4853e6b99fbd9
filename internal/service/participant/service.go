package participant

import (
	"context"
	"fmt"
	"time"

	"github.com/nhs-screening/cohort-manager/internal/model"
	"github.com/nhs-screening/cohort-manager/internal/repository"
	apperrors "github.com/nhs-screening/cohort-manager/pkg/errors"
	"github.com/nhs-screening/cohort-manager/pkg/logger"
)

type Config struct {
	ScreeningID   int64
	RetryAttempts int
	RetryDelay    time.Duration
	StoreTimeout  time.Duration
}

func (c *Config) defaults() {
	if c.ScreeningID == 0 {
		c.ScreeningID = 1
	}
	if c.RetryAttempts <= 0 {
		c.RetryAttempts = 2
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 50 * time.Millisecond
	}
	if c.StoreTimeout <= 0 {
		c.StoreTimeout = 5 * time.Second
	}
}

// LoadResult reports one batch upsert pass.
type LoadResult struct {
	RecordsLoaded    int     `json:"records_loaded"`
	RecordsInserted  int     `json:"records_inserted"`
	RecordsUpdated   int     `json:"records_updated"`
	FailedNHSNumbers []int64 `json:"failed_nhs_numbers,omitempty"`
}

// Service maintains the per-identifier management row. Every upsert keeps a
// pointer back to the staged record that produced it, so any management row
// can be traced to the file and line it came from.
type Service struct {
	cohortRepo repository.CohortRepository
	repo       repository.ParticipantRepository
	logger     *logger.Logger
	cfg        Config
}

func NewService(cohortRepo repository.CohortRepository, repo repository.ParticipantRepository, log *logger.Logger, cfg Config) *Service {
	cfg.defaults()
	return &Service{
		cohortRepo: cohortRepo,
		repo:       repo,
		logger:     log,
		cfg:        cfg,
	}
}

// LoadByFile upserts a management row for every staged record in the file.
func (s *Service) LoadByFile(ctx context.Context, fileID int64) (*LoadResult, error) {
	records, err := s.cohortRepo.ListByFile(ctx, fileID)
	if err != nil {
		return nil, fmt.Errorf("failed to list cohort records: %w", err)
	}
	if len(records) == 0 {
		return nil, apperrors.NotFound("cohort records for file", nil)
	}

	result := &LoadResult{}
	for _, rec := range records {
		if rec.NHSNumber == 0 {
			continue
		}
		result.RecordsLoaded++

		inserted, err := s.upsert(ctx, rec)
		if err != nil {
			s.logger.Error(err, "participant upsert failed",
				"file_id", fileID, "nhs_number", rec.NHSNumber)
			result.FailedNHSNumbers = append(result.FailedNHSNumbers, rec.NHSNumber)
			continue
		}
		if inserted {
			result.RecordsInserted++
		} else {
			result.RecordsUpdated++
		}
	}
	return result, nil
}

// LoadByRecordID upserts from a single staged record.
func (s *Service) LoadByRecordID(ctx context.Context, cohortRecordID int64) (inserted bool, err error) {
	rec, err := s.cohortRepo.Get(ctx, cohortRecordID)
	if err != nil {
		return false, err
	}
	if rec.NHSNumber == 0 {
		return false, apperrors.BadRequest("cohort record has no NHS number", nil)
	}
	return s.upsert(ctx, rec)
}

func (s *Service) GetByNHSNumber(ctx context.Context, nhsNumber int64) (*model.ParticipantManagement, error) {
	return s.repo.GetByNHSNumber(ctx, nhsNumber)
}

// SetExceptionFlag flips the participant-level exception marker. Resolution
// of the ledger entries is a separate call; callers combine the two when a
// participant is fully cleared.
func (s *Service) SetExceptionFlag(ctx context.Context, nhsNumber int64, flag bool) error {
	return s.repo.SetExceptionFlag(ctx, nhsNumber, flag)
}

func (s *Service) upsert(ctx context.Context, rec *model.CohortRecord) (bool, error) {
	var inserted bool
	var err error
	for attempt := 0; attempt < s.cfg.RetryAttempts; attempt++ {
		if attempt > 0 {
			time.Sleep(s.cfg.RetryDelay)
		}

		opCtx, cancel := context.WithTimeout(ctx, s.cfg.StoreTimeout)
		p := &model.ParticipantManagement{}
		p.ApplyCohortRecord(rec, s.cfg.ScreeningID)
		inserted, err = s.repo.Upsert(opCtx, p)
		cancel()

		if err == nil || !apperrors.IsRetryable(err) {
			break
		}
	}
	return inserted, err
}
