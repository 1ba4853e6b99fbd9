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

type exceptionRepository struct {
	mu     sync.Mutex
	nextID int64
	rows   []model.ExceptionRecord
}

func NewExceptionRepository() repository.ExceptionRepository {
	return &exceptionRepository{}
}

func (r *exceptionRepository) InsertBatch(_ context.Context, exceptions []*model.ExceptionRecord) ([]int64, error) {
	if len(exceptions) == 0 {
		return nil, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	ids := make([]int64, 0, len(exceptions))
	for _, exc := range exceptions {
		r.nextID++
		exc.ID = r.nextID
		exc.CreatedAt = now
		exc.ResolvedAt = nil
		r.rows = append(r.rows, *exc)
		ids = append(ids, exc.ID)
	}
	return ids, nil
}

func (r *exceptionRepository) ResolveAllByNHSNumber(_ context.Context, nhsNumber int64, resolvedAt time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	resolved := 0
	for i := range r.rows {
		if r.rows[i].NHSNumber == nhsNumber && r.rows[i].ResolvedAt == nil {
			at := resolvedAt
			r.rows[i].ResolvedAt = &at
			resolved++
		}
	}
	return resolved, nil
}

func (r *exceptionRepository) ListByNHSNumber(_ context.Context, nhsNumber int64) ([]*model.ExceptionRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*model.ExceptionRecord
	for i := range r.rows {
		if r.rows[i].NHSNumber == nhsNumber {
			exc := r.rows[i]
			out = append(out, &exc)
		}
	}
	return out, nil
}

type distributionRepository struct {
	mu     sync.Mutex
	nextID int64
	rows   []model.DistributionRecord
}

func NewDistributionRepository() repository.DistributionRepository {
	return &distributionRepository{}
}

func (r *distributionRepository) InsertBatch(_ context.Context, records []*model.DistributionRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	for _, rec := range records {
		r.nextID++
		rec.ID = r.nextID
		rec.Extracted = false
		rec.RequestID = nil
		rec.InsertedAt = now
		r.rows = append(r.rows, *rec)
	}
	return nil
}

// Claim performs the select-and-mark as one step under the lock, mirroring
// the conditional-update semantics of the postgres implementation.
func (r *distributionRepository) Claim(_ context.Context, requestID uuid.UUID, limit int) ([]*model.DistributionRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	var claimed []*model.DistributionRecord
	for i := range r.rows {
		if len(claimed) >= limit {
			break
		}
		if r.rows[i].Extracted {
			continue
		}
		id := requestID
		r.rows[i].Extracted = true
		r.rows[i].RequestID = &id
		at := now
		r.rows[i].UpdatedAt = &at

		rec := r.rows[i]
		claimed = append(claimed, &rec)
	}
	sort.Slice(claimed, func(i, j int) bool { return claimed[i].ID < claimed[j].ID })
	return claimed, nil
}

func (r *distributionRepository) ListByRequestID(_ context.Context, requestID uuid.UUID) ([]*model.DistributionRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*model.DistributionRecord
	for i := range r.rows {
		if r.rows[i].RequestID != nil && *r.rows[i].RequestID == requestID {
			rec := r.rows[i]
			out = append(out, &rec)
		}
	}
	if len(out) == 0 {
		return nil, apperrors.NotFound("extraction request", nil)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
