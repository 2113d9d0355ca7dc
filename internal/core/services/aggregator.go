package services

import (
	"context"
	"errors"

	"github.com/fleetmaint/backend/internal/core/ports"
	"github.com/fleetmaint/backend/internal/domain"
	"github.com/fleetmaint/backend/internal/infrastructure/logger"
)

// ReduceTaskStatus folds asset statuses into a task status. outstanding
// reports sub-operations that were dispatched but have not reported a
// terminal result yet.
func ReduceTaskStatus(assets []domain.TaskAsset, outstanding bool) domain.TaskStatus {
	if outstanding {
		return domain.TaskStatusInProgress
	}
	failed := false
	for _, a := range assets {
		if a.Status.IsPending() {
			return domain.TaskStatusInProgress
		}
		if a.Status.IsFailure() {
			failed = true
		}
	}
	if failed {
		return domain.TaskStatusFailure
	}
	return domain.TaskStatusComplete
}

// Aggregator recomputes a task status from its assets and commits terminal
// results with a compare-and-set.
type Aggregator struct {
	store  ports.TaskStore
	logger *logger.Logger
}

func NewAggregator(store ports.TaskStore, log *logger.Logger) *Aggregator {
	return &Aggregator{store: store, logger: log}
}

// Recompute returns the derived status and whether this call committed it.
// Tasks that are not InProgress are returned untouched.
func (a *Aggregator) Recompute(ctx context.Context, taskID string) (domain.TaskStatus, bool, error) {
	task, err := a.store.GetTask(ctx, taskID)
	if err != nil {
		if errors.Is(err, ports.ErrNotFound) {
			return "", false, raise(ErrTaskNotFound, err, map[string]any{"task_id": taskID})
		}
		return "", false, raise(ErrStoreFailure, err, map[string]any{"task_id": taskID})
	}
	if task.Status != domain.TaskStatusInProgress {
		return task.Status, false, nil
	}

	outstanding, err := a.outstandingSubOperations(ctx, task)
	if err != nil {
		return "", false, err
	}

	status := ReduceTaskStatus(task.Assets, outstanding)
	if status == domain.TaskStatusInProgress {
		return status, false, nil
	}

	ok, err := a.store.UpdateTaskStatus(ctx, taskID, domain.TaskStatusInProgress, status)
	if err != nil {
		return "", false, raise(ErrStoreFailure, err, map[string]any{"task_id": taskID})
	}
	if ok {
		a.logger.Infow("task_status_committed", "task_id", taskID, "operation", task.Operation, "status", status)
	}
	return status, ok, nil
}

// outstandingSubOperations checks, for reboot and self-test tasks, that every
// response-settled asset has a terminal record for each expected sub-asset.
func (a *Aggregator) outstandingSubOperations(ctx context.Context, task *domain.Task) (bool, error) {
	if !task.Operation.TracksSubOperations() {
		return false, nil
	}
	var keys []domain.SubAssetRecordKey
	for _, asset := range task.Assets {
		if asset.Status != domain.AssetStatusComplete && asset.Status != domain.AssetStatusDeviceError {
			continue
		}
		keys = append(keys, domain.RecordKeysFor(task.ID, asset.Key(), asset.ExpectedSubAssets)...)
	}
	if len(keys) == 0 {
		return false, nil
	}
	records, err := a.store.BulkGetSubAssetRecords(ctx, keys)
	if err != nil {
		return false, raise(ErrStoreFailure, err, map[string]any{"task_id": task.ID})
	}
	settled := make(map[domain.SubAssetRecordKey]bool, len(records))
	for _, r := range records {
		if r.Status.IsTerminal() {
			settled[r.RecordKey()] = true
		}
	}
	for _, k := range keys {
		if !settled[k] {
			return true, nil
		}
	}
	return false, nil
}
