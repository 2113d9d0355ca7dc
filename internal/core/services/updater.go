package services

import (
	"context"
	"errors"
	"time"

	"github.com/fleetmaint/backend/internal/core/ports"
	"github.com/fleetmaint/backend/internal/domain"
	"github.com/fleetmaint/backend/internal/infrastructure/logger"
)

// UpdateResult describes the effect of one response on its task asset.
type UpdateResult struct {
	Transitioned bool
	Status       domain.AssetStatus
	Reason       string
	// ArchiveErr is set when a log archive failed; the task must fail
	// without waiting for the other assets.
	ArchiveErr error
}

// Updater applies a matched response to the asset state machine.
type Updater struct {
	store    ports.TaskStore
	archiver *LogArchiver
	audit    *auditor
	locks    *keyLocker
	logger   *logger.Logger
	now      func() time.Time
}

func NewUpdater(store ports.TaskStore, archiver *LogArchiver, audit ports.AuditLog, enableLocks bool, log *logger.Logger) *Updater {
	return &Updater{
		store:    store,
		archiver: archiver,
		audit:    &auditor{log: audit, logger: log},
		locks:    newKeyLocker(enableLocks),
		logger:   log,
		now:      time.Now,
	}
}

func (u *Updater) Apply(ctx context.Context, m *Match, env domain.Envelope) (UpdateResult, error) {
	if m.SubAsset == nil {
		to := domain.AssetStatusDeviceError
		if env.Result == domain.ResultSucceed {
			to = domain.AssetStatusComplete
		}
		return u.commit(ctx, m, to, responseMeta(env))
	}
	return u.applySubAsset(ctx, m, env)
}

func (u *Updater) applySubAsset(ctx context.Context, m *Match, env domain.Envelope) (UpdateResult, error) {
	if !env.Result.IsTerminal() {
		u.logger.Debugw("sub_asset_accepted", "task_id", m.Task.ID, "sub_asset", m.SubAsset.String())
		return UpdateResult{Reason: "accepted"}, nil
	}

	owner := m.Owner()
	unlock := u.locks.lockKeys("owner:" + m.Task.ID + "|" + owner.String())
	defer unlock()

	rec := &domain.SubAssetRecord{
		TaskID:       m.Task.ID,
		TypeID:       owner.TypeID,
		AssetID:      owner.AssetID,
		SubTypeID:    m.SubAsset.TypeID,
		SubAssetID:   m.SubAsset.AssetID,
		Status:       env.Result,
		ErrorCode:    env.ErrorCode,
		ErrorMessage: env.ErrorMessage,
		LogRef:       env.LogRef,
		CreatedAt:    u.now(),
	}
	// A redelivered report keeps the stored record but still runs the join:
	// an earlier attempt may have failed after the insert.
	duplicate := false
	if err := u.store.InsertSubAssetRecord(ctx, rec); err != nil {
		if !errors.Is(err, ports.ErrDuplicate) {
			return UpdateResult{}, raise(ErrStoreFailure, err, map[string]any{"task_id": m.Task.ID, "sub_asset": m.SubAsset.String()})
		}
		duplicate = true
	}

	// Re-read under the lock; a concurrent report may have settled the owner.
	current, err := u.store.GetTaskAsset(ctx, m.Task.ID, owner)
	if err != nil {
		return UpdateResult{}, raise(ErrStoreFailure, err, map[string]any{"task_id": m.Task.ID, "asset": owner.String()})
	}
	if current.Status != domain.AssetStatusInProgress {
		if duplicate {
			return UpdateResult{Reason: "duplicate_record"}, nil
		}
		return UpdateResult{Reason: MatchAssetNotInProgress}, nil
	}

	records, ready, err := u.join(ctx, m.Task.ID, current)
	if err != nil {
		return UpdateResult{}, err
	}
	if !ready {
		if duplicate {
			return UpdateResult{Reason: "duplicate_record"}, nil
		}
		return UpdateResult{Reason: "awaiting_sub_assets"}, nil
	}
	if duplicate {
		u.logger.Infow("sub_asset_join_resumed", "task_id", m.Task.ID, "asset", owner.String(), "sub_asset", m.SubAsset.String())
	}

	to := foldRecords(records)
	meta := domain.JSONB{"sub_assets": len(records)}

	if m.Task.Operation != domain.OperationRetrieveLog {
		return u.commit(ctx, m, to, meta)
	}

	key, err := u.archiver.Run(ctx, m.Task.ID, owner, records)
	if err != nil {
		meta["origin"] = "log_archive"
		meta["error"] = err.Error()
		meta["error_code"] = ErrorCode(err)
		res, cerr := u.commit(ctx, m, domain.AssetStatusSystemError, meta)
		if cerr != nil {
			return res, cerr
		}
		res.ArchiveErr = err
		return res, nil
	}
	meta["object_key"] = key
	return u.commit(ctx, m, to, meta)
}

// join loads the records of every expected sub-asset. ready is true once each
// of them holds a terminal record.
func (u *Updater) join(ctx context.Context, taskID string, asset *domain.TaskAsset) ([]domain.SubAssetRecord, bool, error) {
	keys := domain.RecordKeysFor(taskID, asset.Key(), asset.ExpectedSubAssets)
	records, err := u.store.BulkGetSubAssetRecords(ctx, keys)
	if err != nil {
		return nil, false, raise(ErrStoreFailure, err, map[string]any{"task_id": taskID, "asset": asset.Key().String()})
	}
	byKey := make(map[domain.SubAssetRecordKey]domain.SubAssetRecord, len(records))
	for _, r := range records {
		byKey[r.RecordKey()] = r
	}
	ordered := make([]domain.SubAssetRecord, 0, len(keys))
	for _, k := range keys {
		r, ok := byKey[k]
		if !ok || !r.Status.IsTerminal() {
			return nil, false, nil
		}
		ordered = append(ordered, r)
	}
	return ordered, true, nil
}

func foldRecords(records []domain.SubAssetRecord) domain.AssetStatus {
	for _, r := range records {
		if r.Status != domain.ResultSucceed {
			return domain.AssetStatusDeviceError
		}
	}
	return domain.AssetStatusComplete
}

func (u *Updater) commit(ctx context.Context, m *Match, to domain.AssetStatus, meta domain.JSONB) (UpdateResult, error) {
	owner := m.Owner()
	ok, err := u.store.UpdateTaskAsset(ctx, m.Task.ID, owner, domain.AssetStatusInProgress, to, ports.AssetUpdate{At: u.now()})
	if err != nil {
		return UpdateResult{}, raise(ErrStoreFailure, err, map[string]any{"task_id": m.Task.ID, "asset": owner.String()})
	}
	if !ok {
		return UpdateResult{Reason: "concurrent_transition"}, nil
	}

	u.audit.settled(ctx, domain.AuditEntry{
		TaskID:    m.Task.ID,
		Asset:     owner,
		Operation: m.Task.Operation,
		Meta:      meta,
	}, to)
	u.logger.Infow("task_asset_settled",
		"task_id", m.Task.ID,
		"asset", owner.String(),
		"operation", m.Task.Operation,
		"status", to,
	)
	return UpdateResult{Transitioned: true, Status: to}, nil
}

func responseMeta(env domain.Envelope) domain.JSONB {
	meta := domain.JSONB{"result": string(env.Result)}
	if env.ErrorCode != "" {
		meta["error_code"] = env.ErrorCode
	}
	if env.ErrorMessage != "" {
		meta["error_message"] = env.ErrorMessage
	}
	return meta
}
