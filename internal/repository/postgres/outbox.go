package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/nhs-screening/cohort-manager/internal/model"
	"github.com/nhs-screening/cohort-manager/internal/repository"
)

type outboxRepository struct {
	db *sqlx.DB
}

func NewOutboxRepository(db *sqlx.DB) repository.OutboxRepository {
	return &outboxRepository{db: db}
}

func (r *outboxRepository) Insert(ctx context.Context, event *model.OutboxEvent) error {
	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO outbox_events (id, event_type, payload, status, retry_count, created_at)
		VALUES (:id, :event_type, :payload, :status, :retry_count, :created_at)`,
		event)
	if err != nil {
		return wrapStoreErr("insert outbox event", err)
	}
	return nil
}

// GetPendingWithLock claims a batch for one worker; SKIP LOCKED keeps
// concurrent workers from publishing the same event.
func (r *outboxRepository) GetPendingWithLock(ctx context.Context, limit int) ([]*model.OutboxEvent, error) {
	var events []*model.OutboxEvent
	err := r.db.SelectContext(ctx, &events, `
		SELECT * FROM outbox_events
		WHERE status = $1
		ORDER BY created_at
		LIMIT $2
		FOR UPDATE SKIP LOCKED`,
		model.OutboxStatusPending, limit)
	if err != nil {
		return nil, wrapStoreErr("get pending outbox events", err)
	}
	return events, nil
}

func (r *outboxRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status model.OutboxStatus, errMsg *string) error {
	now := time.Now().UTC()
	_, err := r.db.ExecContext(ctx, `
		UPDATE outbox_events
		SET status = $1, error_message = $2, processed_at = $3, retry_count = retry_count + 1
		WHERE id = $4`,
		status, errMsg, now, id)
	if err != nil {
		return wrapStoreErr("update outbox event", err)
	}
	return nil
}
