// Package memory provides in-memory implementations of the repository
// interfaces. They preserve the same semantics as the postgres
// implementations (per-identifier upsert, atomic claim, resolve-only-open)
// and back the service-level tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/nhs-screening/cohort-manager/internal/model"
	"github.com/nhs-screening/cohort-manager/internal/repository"
	apperrors "github.com/nhs-screening/cohort-manager/pkg/errors"
)

type cohortRepository struct {
	mu       sync.Mutex
	nextID   int64
	nextFile int64
	records  map[int64]model.CohortRecord
	files    map[int64]model.CohortFile
}

func NewCohortRepository() repository.CohortRepository {
	return &cohortRepository{
		records: make(map[int64]model.CohortRecord),
		files:   make(map[int64]model.CohortFile),
	}
}

func (r *cohortRepository) InsertBatch(_ context.Context, filename string, records []*model.CohortRecord) (int64, error) {
	if len(records) == 0 {
		return 0, apperrors.BadRequest("no records to insert", nil)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextFile++
	fileID := r.nextFile
	now := time.Now().UTC()

	for i, rec := range records {
		r.nextID++
		rec.ID = r.nextID
		rec.FileID = fileID
		rec.FileSequence = i + 1
		rec.CreatedAt = now
		if rec.RecordType == "" {
			rec.RecordType = model.RecordTypeAdd
		}
		r.records[rec.ID] = *rec
	}

	r.files[fileID] = model.CohortFile{
		FileID:      fileID,
		Filename:    filename,
		RecordCount: len(records),
		CreatedAt:   now,
	}
	return fileID, nil
}

func (r *cohortRepository) Get(_ context.Context, id int64) (*model.CohortRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[id]
	if !ok {
		return nil, apperrors.NotFound("cohort record", nil)
	}
	return &rec, nil
}

func (r *cohortRepository) ListByFile(_ context.Context, fileID int64) ([]*model.CohortRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []*model.CohortRecord
	for _, rec := range r.records {
		if rec.FileID == fileID {
			rec := rec
			out = append(out, &rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FileSequence < out[j].FileSequence })
	return out, nil
}

func (r *cohortRepository) GetFile(_ context.Context, fileID int64) (*model.CohortFile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	file, ok := r.files[fileID]
	if !ok {
		return nil, apperrors.NotFound("cohort file", nil)
	}
	return &file, nil
}

type demographicRepository struct {
	mu     sync.Mutex
	nextID int64
	rows   map[int64]model.Demographic
}

func NewDemographicRepository() repository.DemographicRepository {
	return &demographicRepository{rows: make(map[int64]model.Demographic)}
}

func (r *demographicRepository) Upsert(_ context.Context, d *model.Demographic) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.rows[d.NHSNumber]; ok {
		d.ID = existing.ID
		d.InsertedAt = existing.InsertedAt
		now := time.Now().UTC()
		d.UpdatedAt = &now
		r.rows[d.NHSNumber] = *d
		return false, nil
	}

	r.nextID++
	d.ID = r.nextID
	d.InsertedAt = time.Now().UTC()
	d.UpdatedAt = nil
	r.rows[d.NHSNumber] = *d
	return true, nil
}

func (r *demographicRepository) GetByNHSNumber(_ context.Context, nhsNumber int64) (*model.Demographic, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.rows[nhsNumber]
	if !ok {
		return nil, apperrors.NotFound("demographic", nil)
	}
	return &d, nil
}

type participantRepository struct {
	mu     sync.Mutex
	nextID int64
	rows   map[int64]model.ParticipantManagement
}

func NewParticipantRepository() repository.ParticipantRepository {
	return &participantRepository{rows: make(map[int64]model.ParticipantManagement)}
}

func (r *participantRepository) Upsert(_ context.Context, p *model.ParticipantManagement) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.rows[p.NHSNumber]; ok {
		p.ID = existing.ID
		p.InsertedAt = existing.InsertedAt
		now := time.Now().UTC()
		p.UpdatedAt = &now
		r.rows[p.NHSNumber] = *p
		return false, nil
	}

	r.nextID++
	p.ID = r.nextID
	p.InsertedAt = time.Now().UTC()
	p.UpdatedAt = nil
	r.rows[p.NHSNumber] = *p
	return true, nil
}

func (r *participantRepository) GetByNHSNumber(_ context.Context, nhsNumber int64) (*model.ParticipantManagement, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.rows[nhsNumber]
	if !ok {
		return nil, apperrors.NotFound("participant management", nil)
	}
	return &p, nil
}

func (r *participantRepository) SetExceptionFlag(_ context.Context, nhsNumber int64, flag bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.rows[nhsNumber]
	if !ok {
		return apperrors.NotFound("participant management", nil)
	}
	p.ExceptionFlag = flag
	now := time.Now().UTC()
	p.UpdatedAt = &now
	r.rows[nhsNumber] = p
	return nil
}

type referenceRepository struct {
	mu        sync.Mutex
	practices []model.GPPractice
}

func NewReferenceRepository(practices ...model.GPPractice) repository.ReferenceRepository {
	return &referenceRepository{practices: practices}
}

func (r *referenceRepository) ListGPPractices(_ context.Context) ([]*model.GPPractice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*model.GPPractice, 0, len(r.practices))
	for i := range r.practices {
		p := r.practices[i]
		out = append(out, &p)
	}
	return out, nil
}
