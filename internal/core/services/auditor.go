package services

import (
	"context"

	"github.com/fleetmaint/backend/internal/core/ports"
	"github.com/fleetmaint/backend/internal/domain"
	"github.com/fleetmaint/backend/internal/infrastructure/logger"
)

// auditor writes the audit trail on a best-effort basis. Failures, panics
// included, are logged and never reach the caller.
type auditor struct {
	log    ports.AuditLog
	logger *logger.Logger
}

func (a *auditor) guard(ctx context.Context, kind domain.AuditKind, entry domain.AuditEntry, write func() error) {
	if a == nil || a.log == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			a.logger.Errorw("audit_write_panic", "kind", kind, "task_id", entry.TaskID, "asset", entry.Asset.String(), "panic", r)
		}
	}()
	if err := write(); err != nil {
		a.logger.Warnw("audit_write_failed", "kind", kind, "task_id", entry.TaskID, "asset", entry.Asset.String(), "error", err)
	}
}

func (a *auditor) execute(ctx context.Context, entry domain.AuditEntry) {
	a.guard(ctx, domain.AuditKindExecute, entry, func() error {
		return a.log.InsertExecute(ctx, entry)
	})
}

func (a *auditor) success(ctx context.Context, entry domain.AuditEntry) {
	a.guard(ctx, domain.AuditKindSuccess, entry, func() error {
		return a.log.InsertSuccess(ctx, entry)
	})
}

func (a *auditor) fail(ctx context.Context, entry domain.AuditEntry, result domain.ErrorResult) {
	a.guard(ctx, domain.AuditKindFail, entry, func() error {
		return a.log.InsertFail(ctx, entry, result)
	})
}

// settled writes success or fail depending on the asset status reached.
func (a *auditor) settled(ctx context.Context, entry domain.AuditEntry, status domain.AssetStatus) {
	if result, failed := status.ErrorResult(); failed {
		a.fail(ctx, entry, result)
		return
	}
	a.success(ctx, entry)
}
