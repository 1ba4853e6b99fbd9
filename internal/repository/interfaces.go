package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/nhs-screening/cohort-manager/internal/model"
)

// CohortRepository stores staged cohort records. Rows are immutable once
// written.
type CohortRepository interface {
	// InsertBatch assigns a fresh store-sequenced file id, stamps per-file
	// sequence numbers and writes all rows in one transaction.
	InsertBatch(ctx context.Context, filename string, records []*model.CohortRecord) (fileID int64, err error)
	Get(ctx context.Context, id int64) (*model.CohortRecord, error)
	ListByFile(ctx context.Context, fileID int64) ([]*model.CohortRecord, error)
	GetFile(ctx context.Context, fileID int64) (*model.CohortFile, error)
}

// DemographicRepository owns the per-identifier demographic profile.
type DemographicRepository interface {
	// Upsert inserts or fully replaces the row for d.NHSNumber inside one
	// transaction scoped to that identifier. Returns true on insert.
	Upsert(ctx context.Context, d *model.Demographic) (inserted bool, err error)
	GetByNHSNumber(ctx context.Context, nhsNumber int64) (*model.Demographic, error)
}

// ParticipantRepository owns the per-identifier participant-management row.
type ParticipantRepository interface {
	Upsert(ctx context.Context, p *model.ParticipantManagement) (inserted bool, err error)
	GetByNHSNumber(ctx context.Context, nhsNumber int64) (*model.ParticipantManagement, error)
	SetExceptionFlag(ctx context.Context, nhsNumber int64, flag bool) error
}

// ReferenceRepository reads the GP practice reference set. Read-only to the
// core; seeding belongs to the external reference-data loader.
type ReferenceRepository interface {
	ListGPPractices(ctx context.Context) ([]*model.GPPractice, error)
}

// ExceptionRepository is the append-only exception ledger.
type ExceptionRepository interface {
	InsertBatch(ctx context.Context, exceptions []*model.ExceptionRecord) ([]int64, error)
	// ResolveAllByNHSNumber stamps resolved_at on every unresolved exception
	// for the identifier and returns how many rows it touched.
	ResolveAllByNHSNumber(ctx context.Context, nhsNumber int64, resolvedAt time.Time) (int, error)
	ListByNHSNumber(ctx context.Context, nhsNumber int64) ([]*model.ExceptionRecord, error)
}

// DistributionRepository owns the hand-off dataset.
type DistributionRepository interface {
	InsertBatch(ctx context.Context, records []*model.DistributionRecord) error
	// Claim atomically selects up to limit unextracted rows, marks them with
	// requestID and returns them. Concurrent claims never overlap.
	Claim(ctx context.Context, requestID uuid.UUID, limit int) ([]*model.DistributionRecord, error)
	// ListByRequestID returns the rows of a previous claim without mutating
	// extraction state.
	ListByRequestID(ctx context.Context, requestID uuid.UUID) ([]*model.DistributionRecord, error)
}

// StatusRepository persists the two orchestration status projections.
type StatusRepository interface {
	CreateFileStatus(ctx context.Context, fs *model.FileStatus) error
	UpdateFileStatus(ctx context.Context, fs *model.FileStatus) error
	GetFileStatus(ctx context.Context, fileID int64) (*model.FileStatus, error)

	UpsertRecordStatus(ctx context.Context, rs *model.RecordStatus) error
	GetRecordStatus(ctx context.Context, fileID, nhsNumber int64) (*model.RecordStatus, error)
	ListRecordStatuses(ctx context.Context, fileID int64) ([]*model.RecordStatus, error)
}

// OutboxRepository stores pipeline events for the outbox worker.
type OutboxRepository interface {
	Insert(ctx context.Context, event *model.OutboxEvent) error
	GetPendingWithLock(ctx context.Context, limit int) ([]*model.OutboxEvent, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status model.OutboxStatus, errMsg *string) error
}
