package db

import (
	"context"
	"errors"
	"time"

	"github.com/fleetmaint/backend/internal/core/ports"
	"github.com/fleetmaint/backend/internal/domain"
	"github.com/fleetmaint/backend/internal/infrastructure/logger"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// bulkChunk bounds the number of row tuples in one IN clause.
const bulkChunk = 200

type taskRepository struct {
	db  *gorm.DB
	log *logger.Logger
}

// TaskRepository is the gorm-backed task store. It also answers install
// chain lookups from the tasks table.
type TaskRepository interface {
	ports.TaskStore
	ports.InstallChain
}

func NewTaskRepository(db *gorm.DB, log *logger.Logger) TaskRepository {
	return &taskRepository{db: db, log: log}
}

func translate(err error) error {
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ports.ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return ports.ErrDuplicate
	}
	return err
}

func (r *taskRepository) CreateTask(ctx context.Context, task *domain.Task) error {
	if err := r.db.WithContext(ctx).Create(task).Error; err != nil {
		r.log.Errorw("task_repo_create_failed", "id", task.ID, "error", err)
		return translate(err)
	}
	r.log.Infow("task_repo_create_ok", "id", task.ID, "assets", len(task.Assets))
	return nil
}

func (r *taskRepository) GetTask(ctx context.Context, taskID string) (*domain.Task, error) {
	var task domain.Task
	err := r.db.WithContext(ctx).
		Preload("Assets", func(tx *gorm.DB) *gorm.DB {
			return tx.Order("position asc")
		}).
		Where("id = ?", taskID).
		First(&task).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			r.log.Errorw("task_repo_get_failed", "id", taskID, "error", err)
		}
		return nil, translate(err)
	}
	return &task, nil
}

func (r *taskRepository) UpdateTaskStatus(ctx context.Context, taskID string, from, to domain.TaskStatus) (bool, error) {
	if !from.CanTransition(to) {
		return false, nil
	}
	res := r.db.WithContext(ctx).
		Model(&domain.Task{}).
		Where("id = ? AND status = ?", taskID, from).
		Updates(map[string]interface{}{"status": to, "updated_at": time.Now()})
	if res.Error != nil {
		r.log.Errorw("task_repo_update_status_failed", "id", taskID, "from", from, "to", to, "error", res.Error)
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *taskRepository) GetTaskAsset(ctx context.Context, taskID string, key domain.AssetKey) (*domain.TaskAsset, error) {
	var asset domain.TaskAsset
	err := r.db.WithContext(ctx).
		Where("task_id = ? AND type_id = ? AND asset_id = ?", taskID, key.TypeID, key.AssetID).
		First(&asset).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			r.log.Errorw("task_repo_get_asset_failed", "task_id", taskID, "asset", key.String(), "error", err)
		}
		return nil, translate(err)
	}
	return &asset, nil
}

func (r *taskRepository) UpdateTaskAsset(ctx context.Context, taskID string, key domain.AssetKey, from, to domain.AssetStatus, upd ports.AssetUpdate) (bool, error) {
	if !from.CanTransition(to) {
		return false, nil
	}
	at := upd.At
	if at.IsZero() {
		at = time.Now()
	}
	values := map[string]interface{}{"status": to, "updated_at": at}
	if to == domain.AssetStatusInProgress {
		values["session_id"] = upd.SessionID
		values["expected_sub_assets"] = upd.ExpectedSubAssets
		values["started_at"] = at
	}

	res := r.db.WithContext(ctx).
		Model(&domain.TaskAsset{}).
		Where("task_id = ? AND type_id = ? AND asset_id = ? AND status = ?", taskID, key.TypeID, key.AssetID, from).
		Updates(values)
	if res.Error != nil {
		r.log.Errorw("task_repo_update_asset_failed", "task_id", taskID, "asset", key.String(), "to", to, "error", res.Error)
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *taskRepository) RevertDispatch(ctx context.Context, taskID string, key domain.AssetKey) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&domain.TaskAsset{}).
		Where("task_id = ? AND type_id = ? AND asset_id = ? AND status = ?", taskID, key.TypeID, key.AssetID, domain.AssetStatusInProgress).
		Updates(map[string]interface{}{
			"status":              domain.AssetStatusScheduled,
			"session_id":          "",
			"expected_sub_assets": domain.AssetKeys(nil),
			"started_at":          nil,
			"updated_at":          time.Now(),
		})
	if res.Error != nil {
		r.log.Errorw("task_repo_revert_dispatch_failed", "task_id", taskID, "asset", key.String(), "error", res.Error)
		return false, res.Error
	}
	r.log.Infow("task_repo_revert_dispatch_ok", "task_id", taskID, "asset", key.String(), "rows", res.RowsAffected)
	return res.RowsAffected == 1, nil
}

func (r *taskRepository) InsertSubAssetRecord(ctx context.Context, rec *domain.SubAssetRecord) error {
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(rec)
	if res.Error != nil {
		r.log.Errorw("task_repo_insert_record_failed", "task_id", rec.TaskID, "sub_asset", rec.SubKey().String(), "error", res.Error)
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return ports.ErrDuplicate
	}
	return nil
}

func (r *taskRepository) BulkGetSubAssetRecords(ctx context.Context, keys []domain.SubAssetRecordKey) ([]domain.SubAssetRecord, error) {
	var out []domain.SubAssetRecord
	for start := 0; start < len(keys); start += bulkChunk {
		end := start + bulkChunk
		if end > len(keys) {
			end = len(keys)
		}
		tuples := make([][]interface{}, 0, end-start)
		for _, k := range keys[start:end] {
			tuples = append(tuples, []interface{}{k.TaskID, k.Owner.TypeID, k.Owner.AssetID, k.Sub.TypeID, k.Sub.AssetID})
		}

		var chunk []domain.SubAssetRecord
		err := r.db.WithContext(ctx).
			Where("(task_id, type_id, asset_id, sub_type_id, sub_asset_id) IN ?", tuples).
			Find(&chunk).Error
		if err != nil {
			r.log.Errorw("task_repo_bulk_get_records_failed", "keys", len(keys), "error", err)
			return nil, err
		}
		out = append(out, chunk...)
	}
	return out, nil
}

func (r *taskRepository) ListSubAssetRecords(ctx context.Context, taskID string) ([]domain.SubAssetRecord, error) {
	var records []domain.SubAssetRecord
	err := r.db.WithContext(ctx).
		Where("task_id = ?", taskID).
		Order("type_id, asset_id, sub_type_id, sub_asset_id").
		Find(&records).Error
	if err != nil {
		r.log.Errorw("task_repo_list_records_failed", "task_id", taskID, "error", err)
		return nil, err
	}
	return records, nil
}

func (r *taskRepository) FollowOnTask(ctx context.Context, taskID string) (string, error) {
	var task domain.Task
	err := r.db.WithContext(ctx).
		Select("id", "next_task_id").
		Where("id = ?", taskID).
		First(&task).Error
	if err != nil {
		return "", translate(err)
	}
	return task.NextTaskID, nil
}
