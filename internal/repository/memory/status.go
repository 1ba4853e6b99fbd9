package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nhs-screening/cohort-manager/internal/model"
	"github.com/nhs-screening/cohort-manager/internal/repository"
	apperrors "github.com/nhs-screening/cohort-manager/pkg/errors"
)

type statusRepository struct {
	mu      sync.Mutex
	files   map[int64]model.FileStatus
	records map[int64]map[int64]model.RecordStatus
}

func NewStatusRepository() repository.StatusRepository {
	return &statusRepository{
		files:   make(map[int64]model.FileStatus),
		records: make(map[int64]map[int64]model.RecordStatus),
	}
}

func (r *statusRepository) CreateFileStatus(_ context.Context, fs *model.FileStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	fs.CreatedAt = time.Now().UTC()
	r.files[fs.FileID] = *fs
	return nil
}

func (r *statusRepository) UpdateFileStatus(_ context.Context, fs *model.FileStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.files[fs.FileID]; !ok {
		return apperrors.NotFound("file status", nil)
	}
	now := time.Now().UTC()
	fs.UpdatedAt = &now
	r.files[fs.FileID] = *fs
	return nil
}

func (r *statusRepository) GetFileStatus(_ context.Context, fileID int64) (*model.FileStatus, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	fs, ok := r.files[fileID]
	if !ok {
		return nil, apperrors.NotFound("file status", nil)
	}
	return &fs, nil
}

func (r *statusRepository) UpsertRecordStatus(_ context.Context, rs *model.RecordStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	byNHS, ok := r.records[rs.FileID]
	if !ok {
		byNHS = make(map[int64]model.RecordStatus)
		r.records[rs.FileID] = byNHS
	}

	now := time.Now().UTC()
	if existing, ok := byNHS[rs.NHSNumber]; ok {
		rs.CreatedAt = existing.CreatedAt
	} else if rs.CreatedAt.IsZero() {
		rs.CreatedAt = now
	}
	rs.UpdatedAt = &now
	byNHS[rs.NHSNumber] = *rs
	return nil
}

func (r *statusRepository) GetRecordStatus(_ context.Context, fileID, nhsNumber int64) (*model.RecordStatus, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if byNHS, ok := r.records[fileID]; ok {
		if rs, ok := byNHS[nhsNumber]; ok {
			return &rs, nil
		}
	}
	return nil, apperrors.NotFound("record status", nil)
}

func (r *statusRepository) ListRecordStatuses(_ context.Context, fileID int64) ([]*model.RecordStatus, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*model.RecordStatus
	for _, rs := range r.records[fileID] {
		rs := rs
		out = append(out, &rs)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NHSNumber < out[j].NHSNumber })
	return out, nil
}

type outboxRepository struct {
	mu   sync.Mutex
	rows []model.OutboxEvent
}

func NewOutboxRepository() repository.OutboxRepository {
	return &outboxRepository{}
}

func (r *outboxRepository) Insert(_ context.Context, event *model.OutboxEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows = append(r.rows, *event)
	return nil
}

func (r *outboxRepository) GetPendingWithLock(_ context.Context, limit int) ([]*model.OutboxEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*model.OutboxEvent
	for i := range r.rows {
		if len(out) >= limit {
			break
		}
		if r.rows[i].Status == model.OutboxStatusPending {
			ev := r.rows[i]
			out = append(out, &ev)
		}
	}
	return out, nil
}

func (r *outboxRepository) UpdateStatus(_ context.Context, id uuid.UUID, status model.OutboxStatus, errMsg *string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.rows {
		if r.rows[i].ID == id {
			now := time.Now().UTC()
			r.rows[i].Status = status
			r.rows[i].ErrorMessage = errMsg
			r.rows[i].ProcessedAt = &now
			r.rows[i].RetryCount++
			return nil
		}
	}
	return apperrors.NotFound("outbox event", nil)
}
