package ports

import (
	"context"
	"time"

	"github.com/fleetmaint/backend/internal/domain"
)

// AssetUpdate carries the fields written together with an asset transition.
type AssetUpdate struct {
	SessionID         string
	ExpectedSubAssets domain.AssetKeys
	At                time.Time
}

// TaskStore persists tasks, task assets and sub-asset records. Status writes
// are compare-and-set: they only apply when the stored status equals from,
// and report whether a row changed.
type TaskStore interface {
	CreateTask(ctx context.Context, task *domain.Task) error
	GetTask(ctx context.Context, taskID string) (*domain.Task, error)
	UpdateTaskStatus(ctx context.Context, taskID string, from, to domain.TaskStatus) (bool, error)

	GetTaskAsset(ctx context.Context, taskID string, key domain.AssetKey) (*domain.TaskAsset, error)
	UpdateTaskAsset(ctx context.Context, taskID string, key domain.AssetKey, from, to domain.AssetStatus, upd AssetUpdate) (bool, error)
	// RevertDispatch undoes an InProgress mark whose command never left the
	// process.
	RevertDispatch(ctx context.Context, taskID string, key domain.AssetKey) (bool, error)

	InsertSubAssetRecord(ctx context.Context, rec *domain.SubAssetRecord) error
	BulkGetSubAssetRecords(ctx context.Context, keys []domain.SubAssetRecordKey) ([]domain.SubAssetRecord, error)
	ListSubAssetRecords(ctx context.Context, taskID string) ([]domain.SubAssetRecord, error)
}

// InstallChain resolves the task to kick off once a download completes.
type InstallChain interface {
	FollowOnTask(ctx context.Context, taskID string) (string, error)
}

// AuditLog records the operation audit trail.
type AuditLog interface {
	InsertExecute(ctx context.Context, entry domain.AuditEntry) error
	InsertSuccess(ctx context.Context, entry domain.AuditEntry) error
	InsertFail(ctx context.Context, entry domain.AuditEntry, result domain.ErrorResult) error
	ListByTask(ctx context.Context, taskID string) ([]domain.AuditEvent, error)
}

// AssetDirectory answers liveness and composition questions about devices.
type AssetDirectory interface {
	ResolveOwnerOrSelf(ctx context.Context, key domain.AssetKey) (domain.AssetKey, error)
	GetAssetStatus(ctx context.Context, key domain.AssetKey) (*domain.AssetState, error)
	GetMany(ctx context.Context, keys []domain.AssetKey) ([]domain.AssetState, error)
}

// AssetRegistry is the write side of the directory, fed by status reports.
type AssetRegistry interface {
	AssetDirectory
	Upsert(ctx context.Context, state domain.AssetState) error
}
