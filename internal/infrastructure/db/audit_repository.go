package db

import (
	"context"

	"github.com/fleetmaint/backend/internal/core/ports"
	"github.com/fleetmaint/backend/internal/domain"
	"github.com/fleetmaint/backend/internal/infrastructure/logger"
	"gorm.io/gorm"
)

type auditRepository struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewAuditRepository(db *gorm.DB, log *logger.Logger) ports.AuditLog {
	return &auditRepository{db: db, log: log}
}

func (r *auditRepository) insert(ctx context.Context, event *domain.AuditEvent) error {
	if err := r.db.WithContext(ctx).Create(event).Error; err != nil {
		r.log.Errorw("audit_repo_create_failed", "task_id", event.TaskID, "kind", event.Kind, "error", err)
		return err
	}
	r.log.Debugw("audit_repo_create_ok", "id", event.ID, "task_id", event.TaskID, "kind", event.Kind)
	return nil
}

func (r *auditRepository) InsertExecute(ctx context.Context, entry domain.AuditEntry) error {
	return r.insert(ctx, entry.Event(domain.AuditKindExecute, ""))
}

func (r *auditRepository) InsertSuccess(ctx context.Context, entry domain.AuditEntry) error {
	return r.insert(ctx, entry.Event(domain.AuditKindSuccess, ""))
}

func (r *auditRepository) InsertFail(ctx context.Context, entry domain.AuditEntry, result domain.ErrorResult) error {
	return r.insert(ctx, entry.Event(domain.AuditKindFail, result))
}

func (r *auditRepository) ListByTask(ctx context.Context, taskID string) ([]domain.AuditEvent, error) {
	var events []domain.AuditEvent
	err := r.db.WithContext(ctx).
		Where("task_id = ?", taskID).
		Order("id asc").
		Find(&events).Error
	if err != nil {
		r.log.Errorw("audit_repo_list_failed", "task_id", taskID, "error", err)
		return nil, err
	}
	return events, nil
}
