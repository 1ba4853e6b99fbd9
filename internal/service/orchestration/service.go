package orchestration

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nhs-screening/cohort-manager/internal/model"
	"github.com/nhs-screening/cohort-manager/internal/repository"
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

type Config struct {
	ScreeningName     string
	RecordConcurrency int
}

func (c *Config) defaults() {
	if c.ScreeningName == "" {
		c.ScreeningName = "breast_screening"
	}
	if c.RecordConcurrency <= 0 {
		c.RecordConcurrency = 10
	}
}

// Service drives one cohort file through the pipeline stages in their fixed
// order. Stage boundaries are checkpointed in the status store, so a crashed
// or interrupted run can be resumed by calling ProcessFile again: completed
// stages are skipped and terminal records are never reprocessed.
type Service struct {
	cohortRepo repository.CohortRepository
	statusRepo repository.StatusRepository
	outboxRepo repository.OutboxRepository

	demographics *demographic.Service
	participants *participant.Service
	validator    *validation.Service
	transformer  *transformation.Service
	exceptions   *exception.Service
	distributor  *distribution.Service

	logger  *logger.Logger
	metrics *metrics.Metrics
	cfg     Config

	// one pipeline run per file at a time within this process
	mu sync.Mutex
}

func NewService(
	cohortRepo repository.CohortRepository,
	statusRepo repository.StatusRepository,
	outboxRepo repository.OutboxRepository,
	demographics *demographic.Service,
	participants *participant.Service,
	validator *validation.Service,
	transformer *transformation.Service,
	exceptions *exception.Service,
	distributor *distribution.Service,
	log *logger.Logger,
	m *metrics.Metrics,
	cfg Config,
) *Service {
	cfg.defaults()
	return &Service{
		cohortRepo:   cohortRepo,
		statusRepo:   statusRepo,
		outboxRepo:   outboxRepo,
		demographics: demographics,
		participants: participants,
		validator:    validator,
		transformer:  transformer,
		exceptions:   exceptions,
		distributor:  distributor,
		logger:       log,
		metrics:      m,
		cfg:          cfg,
	}
}

// IngestFile stages a cohort file and opens its status row. Staging is the
// only stage that happens here; ProcessFile runs the rest.
func (s *Service) IngestFile(ctx context.Context, filename string, records []*model.CohortRecord) (*model.FileStatus, error) {
	if filename == "" {
		return nil, apperrors.BadRequest("filename is required", nil)
	}
	if len(records) == 0 {
		return nil, apperrors.BadRequest("file has no records", nil)
	}

	fileID, err := s.cohortRepo.InsertBatch(ctx, filename, records)
	if err != nil {
		return nil, err
	}

	fs := &model.FileStatus{
		FileID:       fileID,
		Filename:     filename,
		TotalRecords: len(records),
		CohortLoaded: true,
		CurrentStage: model.StageDemographics,
	}
	if err := s.statusRepo.CreateFileStatus(ctx, fs); err != nil {
		return nil, err
	}

	s.logger.Info("cohort file staged",
		"file_id", fileID, "filename", filename, "records", len(records))
	return fs, nil
}

// ProcessFile runs every remaining stage for the file. Stage-level failures
// are file-fatal: the status row keeps the stage checkpoint and the error is
// returned. Record-level failures are accounted and never abort the file.
func (s *Service) ProcessFile(ctx context.Context, fileID int64) (*model.FileStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	started := time.Now()

	records, err := s.cohortRepo.ListByFile(ctx, fileID)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, apperrors.NotFound("cohort file", nil)
	}

	fs, err := s.fileStatus(ctx, fileID, records)
	if err != nil {
		return nil, err
	}
	if fs.IsComplete {
		return fs, nil
	}

	if err := s.runUpsertStages(ctx, fs); err != nil {
		return fs, err
	}
	if err := s.runValidationStage(ctx, fs, records); err != nil {
		return fs, err
	}
	if err := s.runTransformationStage(ctx, fs); err != nil {
		return fs, err
	}
	if err := s.runDistributionStage(ctx, fs); err != nil {
		return fs, err
	}
	if err := s.finalize(ctx, fs); err != nil {
		return fs, err
	}

	s.logger.Info("cohort file processed",
		"file_id", fileID,
		"records_passed", fs.RecordsPassed,
		"records_failed", fs.RecordsFailed,
		"duration", time.Since(started).String())
	return fs, nil
}

// FileStatus returns the checkpoint row for a file.
func (s *Service) FileStatus(ctx context.Context, fileID int64) (*model.FileStatus, error) {
	return s.statusRepo.GetFileStatus(ctx, fileID)
}

// RecordStatus returns the per-record progress row.
func (s *Service) RecordStatus(ctx context.Context, fileID, nhsNumber int64) (*model.RecordStatus, error) {
	return s.statusRepo.GetRecordStatus(ctx, fileID, nhsNumber)
}

// ListRecordStatuses returns every per-record progress row for a file.
func (s *Service) ListRecordStatuses(ctx context.Context, fileID int64) ([]*model.RecordStatus, error) {
	return s.statusRepo.ListRecordStatuses(ctx, fileID)
}

// fileStatus loads the checkpoint row, creating it when the file was staged
// outside IngestFile.
func (s *Service) fileStatus(ctx context.Context, fileID int64, records []*model.CohortRecord) (*model.FileStatus, error) {
	fs, err := s.statusRepo.GetFileStatus(ctx, fileID)
	if err == nil {
		return fs, nil
	}
	if !apperrors.IsNotFound(err) {
		return nil, err
	}

	file, err := s.cohortRepo.GetFile(ctx, fileID)
	if err != nil {
		return nil, err
	}
	fs = &model.FileStatus{
		FileID:       fileID,
		Filename:     file.Filename,
		TotalRecords: len(records),
		CohortLoaded: true,
		CurrentStage: model.StageDemographics,
	}
	if err := s.statusRepo.CreateFileStatus(ctx, fs); err != nil {
		return nil, err
	}
	return fs, nil
}

// runUpsertStages runs the demographics and participant-management merges.
// Records that exhausted their retries are closed out as failed; a stage that
// cannot run at all is file-fatal.
func (s *Service) runUpsertStages(ctx context.Context, fs *model.FileStatus) error {
	if !fs.DemographicsLoaded {
		started := time.Now()
		res, err := s.demographics.LoadByFile(ctx, fs.FileID)
		if err != nil {
			return s.failFile(ctx, fs, model.StageDemographics, err)
		}
		if err := s.closeFailedRecords(ctx, fs, model.StageDemographics, res.FailedNHSNumbers); err != nil {
			return err
		}
		fs.DemographicsLoaded = true
		fs.CurrentStage = model.StageParticipant
		if err := s.statusRepo.UpdateFileStatus(ctx, fs); err != nil {
			return err
		}
		s.observeStage(model.StageDemographics, started)
		s.logger.Info("demographics loaded", "file_id", fs.FileID,
			"inserted", res.RecordsInserted, "updated", res.RecordsUpdated,
			"failed", len(res.FailedNHSNumbers))
	}

	if !fs.ParticipantLoaded {
		started := time.Now()
		res, err := s.participants.LoadByFile(ctx, fs.FileID)
		if err != nil {
			return s.failFile(ctx, fs, model.StageParticipant, err)
		}
		if err := s.closeFailedRecords(ctx, fs, model.StageParticipant, res.FailedNHSNumbers); err != nil {
			return err
		}
		fs.ParticipantLoaded = true
		fs.CurrentStage = model.StageValidation
		if err := s.statusRepo.UpdateFileStatus(ctx, fs); err != nil {
			return err
		}
		s.observeStage(model.StageParticipant, started)
		s.logger.Info("participant management loaded", "file_id", fs.FileID,
			"inserted", res.RecordsInserted, "updated", res.RecordsUpdated,
			"failed", len(res.FailedNHSNumbers))
	}
	return nil
}

type validationResult struct {
	nhsNumber      int64
	cohortRecordID int64
	summary        *model.ValidationSummary
	err            error
}

// runValidationStage validates every non-terminal record concurrently, then
// appends exceptions for the failures in one batch. Both halves checkpoint
// together: the stage flag only flips after the exceptions are written.
func (s *Service) runValidationStage(ctx context.Context, fs *model.FileStatus, records []*model.CohortRecord) error {
	if fs.ValidationComplete {
		return nil
	}
	started := time.Now()

	targets, err := s.validationTargets(ctx, fs, records)
	if err != nil {
		return err
	}

	results := make([]validationResult, len(targets))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.RecordConcurrency)
	for i, rec := range targets {
		i, rec := i, rec
		g.Go(func() error {
			summary, err := s.validator.ValidateParticipant(gctx, rec.NHSNumber)
			results[i] = validationResult{
				nhsNumber:      rec.NHSNumber,
				cohortRecordID: rec.ID,
				summary:        summary,
				err:            err,
			}
			return nil
		})
	}
	_ = g.Wait()

	var ledger []*model.ExceptionRecord
	for _, res := range results {
		if res.err != nil {
			return s.failFile(ctx, fs, model.StageValidation, res.err)
		}
		for _, outcome := range res.summary.Outcomes {
			if !outcome.Failed() {
				continue
			}
			s.metrics.RuleFailures.WithLabelValues(outcome.RuleName).Inc()
			errorRecord := marshalOutcome(outcome)
			ledger = append(ledger, exception.FromOutcome(
				res.nhsNumber, s.cfg.ScreeningName, fs.Filename, outcome, errorRecord))
		}
	}

	excCounts := make(map[int64]int)
	for _, exc := range ledger {
		excCounts[exc.NHSNumber]++
	}
	if len(ledger) > 0 {
		if err := s.appendExceptions(ctx, ledger); err != nil {
			return s.failFile(ctx, fs, model.StageExceptions, err)
		}
	}

	for _, res := range results {
		passed := res.summary.Passed
		if passed {
			s.metrics.RecordsProcessed.WithLabelValues(string(model.StageValidation), "passed").Inc()
		} else {
			s.metrics.RecordsProcessed.WithLabelValues(string(model.StageValidation), "failed").Inc()
		}
		rs := &model.RecordStatus{
			FileID:             fs.FileID,
			NHSNumber:          res.nhsNumber,
			CohortRecordID:     res.cohortRecordID,
			DemographicsLoaded: true,
			ParticipantLoaded:  true,
			ValidationPassed:   &passed,
			ExceptionCount:     excCounts[res.nhsNumber],
		}
		if passed {
			rs.CurrentStage = model.StageTransformation
		} else {
			rs.CurrentStage = model.StageExceptions
			rs.IsComplete = true
			if err := s.participants.SetExceptionFlag(ctx, res.nhsNumber, true); err != nil {
				s.logger.Error(err, "failed to set exception flag",
					"file_id", fs.FileID, "nhs_number", res.nhsNumber)
			}
			s.emitEvent(ctx, model.EventRecordExcepted, map[string]interface{}{
				"file_id":    fs.FileID,
				"nhs_number": res.nhsNumber,
				"exceptions": excCounts[res.nhsNumber],
			})
		}
		if err := s.statusRepo.UpsertRecordStatus(ctx, rs); err != nil {
			return err
		}
	}

	if err := s.refreshCounts(ctx, fs); err != nil {
		return err
	}
	fs.ValidationComplete = true
	fs.CurrentStage = model.StageTransformation
	if fs.RecordsFailed > 0 {
		fs.HasErrors = true
	}
	if err := s.statusRepo.UpdateFileStatus(ctx, fs); err != nil {
		return err
	}
	s.observeStage(model.StageValidation, started)
	s.logger.Info("validation complete", "file_id", fs.FileID,
		"passed", fs.RecordsPassed, "failed", fs.RecordsFailed,
		"exceptions", len(ledger))
	return nil
}

// runTransformationStage derives and checks the outbound view for every
// record that passed validation. Transformation never writes participant
// state, so rule failures only flag the record; the snapshot is rebuilt at
// distribution time either way.
func (s *Service) runTransformationStage(ctx context.Context, fs *model.FileStatus) error {
	if fs.TransformationComplete {
		return nil
	}
	started := time.Now()

	statuses, err := s.statusRepo.ListRecordStatuses(ctx, fs.FileID)
	if err != nil {
		return err
	}

	for _, rs := range statuses {
		if rs.ValidationPassed == nil || !*rs.ValidationPassed || rs.Distributed {
			continue
		}
		out, err := s.transformer.TransformParticipant(ctx, rs.NHSNumber)
		if err != nil {
			return s.failFile(ctx, fs, model.StageTransformation, err)
		}
		rs.TransformationApplied = out.RulesApplied > 0
		rs.HasTransformationErrors = out.HadErrors
		rs.CurrentStage = model.StageDistribution
		if err := s.statusRepo.UpsertRecordStatus(ctx, rs); err != nil {
			return err
		}
		if out.HadErrors {
			fs.HasErrors = true
		}
	}

	fs.TransformationComplete = true
	fs.CurrentStage = model.StageDistribution
	if err := s.statusRepo.UpdateFileStatus(ctx, fs); err != nil {
		return err
	}
	s.observeStage(model.StageTransformation, started)
	s.logger.Info("transformation complete", "file_id", fs.FileID)
	return nil
}

// runDistributionStage publishes the outbound snapshot of every passed,
// not-yet-distributed record. Snapshots are re-derived here because the
// transformation is pure; this keeps resume free of carried state.
func (s *Service) runDistributionStage(ctx context.Context, fs *model.FileStatus) error {
	if fs.DistributionLoaded {
		return nil
	}
	started := time.Now()

	statuses, err := s.statusRepo.ListRecordStatuses(ctx, fs.FileID)
	if err != nil {
		return err
	}

	var batch []*model.DistributionRecord
	var published []*model.RecordStatus
	for _, rs := range statuses {
		if rs.ValidationPassed == nil || !*rs.ValidationPassed || rs.Distributed {
			continue
		}
		out, err := s.transformer.TransformParticipant(ctx, rs.NHSNumber)
		if err != nil {
			return s.failFile(ctx, fs, model.StageDistribution, err)
		}
		if out.Outbound.Demographic == nil || out.Outbound.Management == nil {
			return s.failFile(ctx, fs, model.StageDistribution,
				apperrors.Internal(fmt.Errorf("participant %d has no outbound state", rs.NHSNumber)))
		}
		batch = append(batch, model.NewDistributionRecord(
			out.Outbound.Demographic, out.Outbound.Management))
		published = append(published, rs)
	}

	if len(batch) > 0 {
		if err := s.distributor.Publish(ctx, batch); err != nil {
			return s.failFile(ctx, fs, model.StageDistribution, err)
		}
	}
	for _, rs := range published {
		rs.Distributed = true
		rs.IsComplete = true
		rs.CurrentStage = model.StageComplete
		if err := s.statusRepo.UpsertRecordStatus(ctx, rs); err != nil {
			return err
		}
		s.metrics.RecordsProcessed.WithLabelValues(string(model.StageDistribution), "published").Inc()
	}

	fs.DistributionLoaded = true
	if err := s.statusRepo.UpdateFileStatus(ctx, fs); err != nil {
		return err
	}
	s.observeStage(model.StageDistribution, started)
	s.logger.Info("distribution published", "file_id", fs.FileID, "records", len(batch))
	return nil
}

func (s *Service) finalize(ctx context.Context, fs *model.FileStatus) error {
	if err := s.refreshCounts(ctx, fs); err != nil {
		return err
	}

	fs.IsComplete = true
	fs.CurrentStage = model.StageComplete
	now := time.Now().UTC()
	fs.CompletedAt = &now
	if err := s.statusRepo.UpdateFileStatus(ctx, fs); err != nil {
		return err
	}

	outcome := "completed"
	if fs.HasErrors {
		outcome = "completed_with_errors"
	}
	s.metrics.FilesProcessed.WithLabelValues(outcome).Inc()

	s.emitEvent(ctx, model.EventFileProcessed, map[string]interface{}{
		"file_id":        fs.FileID,
		"filename":       fs.Filename,
		"total_records":  fs.TotalRecords,
		"records_passed": fs.RecordsPassed,
		"records_failed": fs.RecordsFailed,
		"has_errors":     fs.HasErrors,
	})
	return nil
}

type exceptionKey struct {
	fileName string
	ruleID   int
}

// appendExceptions writes only the entries not already open for the same
// file, rule, and identifier. The ledger write and the record-status write
// are separate store operations, so a run interrupted between them revisits
// the identifier; the dedupe keeps that revisit from doubling the ledger.
func (s *Service) appendExceptions(ctx context.Context, ledger []*model.ExceptionRecord) error {
	open := make(map[int64]map[exceptionKey]struct{})
	var fresh []*model.ExceptionRecord
	for _, exc := range ledger {
		byKey, loaded := open[exc.NHSNumber]
		if !loaded {
			rows, err := s.exceptions.ListByNHSNumber(ctx, exc.NHSNumber)
			if err != nil {
				return err
			}
			byKey = make(map[exceptionKey]struct{}, len(rows))
			for _, row := range rows {
				if row.Resolved() {
					continue
				}
				byKey[exceptionKey{row.FileName, row.RuleID}] = struct{}{}
			}
			open[exc.NHSNumber] = byKey
		}
		if _, dup := byKey[exceptionKey{exc.FileName, exc.RuleID}]; dup {
			continue
		}
		fresh = append(fresh, exc)
	}

	if len(fresh) == 0 {
		return nil
	}
	_, err := s.exceptions.RecordExceptions(ctx, fresh)
	return err
}

// validationTargets picks the records still needing validation, deduplicating
// repeated identifiers within the file to their last occurrence (the upsert
// stages already made that sighting the current state).
func (s *Service) validationTargets(ctx context.Context, fs *model.FileStatus, records []*model.CohortRecord) ([]*model.CohortRecord, error) {
	latest := make(map[int64]*model.CohortRecord, len(records))
	var order []int64
	for _, rec := range records {
		if rec.NHSNumber == 0 {
			continue
		}
		if _, seen := latest[rec.NHSNumber]; !seen {
			order = append(order, rec.NHSNumber)
		}
		latest[rec.NHSNumber] = rec
	}

	var targets []*model.CohortRecord
	for _, nhs := range order {
		rs, err := s.statusRepo.GetRecordStatus(ctx, fs.FileID, nhs)
		if err != nil && !apperrors.IsNotFound(err) {
			return nil, err
		}
		if rs != nil && (rs.Terminal() || rs.ValidationPassed != nil) {
			continue
		}
		targets = append(targets, latest[nhs])
	}
	return targets, nil
}

// closeFailedRecords marks records that exhausted an upsert stage as failed
// and terminal.
func (s *Service) closeFailedRecords(ctx context.Context, fs *model.FileStatus, stage model.Stage, nhsNumbers []int64) error {
	for _, nhs := range nhsNumbers {
		rs := &model.RecordStatus{
			FileID:       fs.FileID,
			NHSNumber:    nhs,
			CurrentStage: stage,
			IsComplete:   true,
		}
		if err := s.statusRepo.UpsertRecordStatus(ctx, rs); err != nil {
			return err
		}
		fs.HasErrors = true
		s.metrics.RecordsProcessed.WithLabelValues(string(stage), "failed").Inc()
	}
	return nil
}

// refreshCounts recomputes the pass/fail totals from the record statuses so
// resumed runs converge on the same numbers.
func (s *Service) refreshCounts(ctx context.Context, fs *model.FileStatus) error {
	statuses, err := s.statusRepo.ListRecordStatuses(ctx, fs.FileID)
	if err != nil {
		return err
	}
	passed, failed := 0, 0
	for _, rs := range statuses {
		switch {
		case rs.ValidationPassed != nil && *rs.ValidationPassed:
			passed++
		case rs.Terminal():
			failed++
		}
	}
	fs.RecordsPassed = passed
	fs.RecordsFailed = failed
	return nil
}

// failFile records a stage-level failure on the checkpoint row and returns
// the original error.
func (s *Service) failFile(ctx context.Context, fs *model.FileStatus, stage model.Stage, cause error) error {
	fs.HasErrors = true
	fs.CurrentStage = stage
	if err := s.statusRepo.UpdateFileStatus(ctx, fs); err != nil {
		s.logger.Error(err, "failed to record file failure", "file_id", fs.FileID)
	}
	s.logger.Error(cause, "pipeline stage failed", "file_id", fs.FileID, "stage", string(stage))
	return cause
}

func (s *Service) observeStage(stage model.Stage, started time.Time) {
	s.metrics.StageDuration.WithLabelValues(string(stage)).Observe(time.Since(started).Seconds())
}

// emitEvent is best effort; the pipeline result stands even if the event
// write fails.
func (s *Service) emitEvent(ctx context.Context, eventType string, payload interface{}) {
	if s.outboxRepo == nil {
		return
	}
	event, err := model.NewOutboxEvent(eventType, payload)
	if err != nil {
		s.logger.Error(err, "failed to build pipeline event", "event_type", eventType)
		return
	}
	if err := s.outboxRepo.Insert(ctx, event); err != nil {
		s.logger.Error(err, "failed to enqueue pipeline event", "event_type", eventType)
	}
}

func marshalOutcome(outcome model.Outcome) *string {
	data, err := json.Marshal(outcome)
	if err != nil {
		return nil
	}
	s := string(data)
	return &s
}
