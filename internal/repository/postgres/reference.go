package postgres

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/nhs-screening/cohort-manager/internal/model"
	"github.com/nhs-screening/cohort-manager/internal/repository"
)

type referenceRepository struct {
	db *sqlx.DB
}

func NewReferenceRepository(db *sqlx.DB) repository.ReferenceRepository {
	return &referenceRepository{db: db}
}

func (r *referenceRepository) ListGPPractices(ctx context.Context) ([]*model.GPPractice, error) {
	var practices []*model.GPPractice
	err := r.db.SelectContext(ctx, &practices, `SELECT * FROM gp_practices ORDER BY code`)
	if err != nil {
		return nil, wrapStoreErr("list gp practices", err)
	}
	return practices, nil
}
