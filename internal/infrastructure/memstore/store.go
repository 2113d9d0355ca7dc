// Package memstore keeps tasks and the audit trail in an in-memory go-memdb
// database. Objects are copied in and out; stored values are never mutated.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/fleetmaint/backend/internal/core/ports"
	"github.com/fleetmaint/backend/internal/domain"
	"github.com/hashicorp/go-memdb"
)

// Store implements the task store, the install chain and the audit log.
type Store struct {
	db      *memdb.MemDB
	auditID atomic.Uint64
}

var (
	_ ports.TaskStore    = (*Store)(nil)
	_ ports.InstallChain = (*Store)(nil)
	_ ports.AuditLog     = (*Store)(nil)
)

// New returns an empty store.
func New() (*Store, error) {
	db, err := memdb.NewMemDB(schema())
	if err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) CreateTask(ctx context.Context, task *domain.Task) error {
	tx := s.db.Txn(true)
	defer tx.Abort()

	existing, err := tx.First(tableTasks, "id", task.ID)
	if err != nil {
		return err
	}
	if existing != nil {
		return ports.ErrDuplicate
	}

	now := time.Now()
	row := *task
	row.Assets = nil
	row.CreatedAt, row.UpdatedAt = now, now
	if err := tx.Insert(tableTasks, &row); err != nil {
		return fmt.Errorf("task insert failed: %v", err)
	}
	for _, a := range task.Assets {
		asset := copyAsset(a)
		asset.TaskID = task.ID
		asset.UpdatedAt = now
		if err := tx.Insert(tableTaskAssets, &asset); err != nil {
			return fmt.Errorf("task asset insert failed: %v", err)
		}
	}
	tx.Commit()

	task.CreatedAt, task.UpdatedAt = now, now
	return nil
}

func (s *Store) GetTask(ctx context.Context, taskID string) (*domain.Task, error) {
	tx := s.db.Txn(false)
	defer tx.Abort()

	raw, err := tx.First(tableTasks, "id", taskID)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, ports.ErrNotFound
	}
	task := *raw.(*domain.Task)

	iter, err := tx.Get(tableTaskAssets, "task", taskID)
	if err != nil {
		return nil, err
	}
	for obj := iter.Next(); obj != nil; obj = iter.Next() {
		task.Assets = append(task.Assets, copyAsset(*obj.(*domain.TaskAsset)))
	}
	sort.Slice(task.Assets, func(i, j int) bool {
		return task.Assets[i].Position < task.Assets[j].Position
	})
	return &task, nil
}

func (s *Store) UpdateTaskStatus(ctx context.Context, taskID string, from, to domain.TaskStatus) (bool, error) {
	if !from.CanTransition(to) {
		return false, nil
	}
	tx := s.db.Txn(true)
	defer tx.Abort()

	raw, err := tx.First(tableTasks, "id", taskID)
	if err != nil {
		return false, err
	}
	if raw == nil {
		return false, ports.ErrNotFound
	}
	current := raw.(*domain.Task)
	if current.Status != from {
		return false, nil
	}

	updated := *current
	updated.Status = to
	updated.UpdatedAt = time.Now()
	if err := tx.Insert(tableTasks, &updated); err != nil {
		return false, err
	}
	tx.Commit()
	return true, nil
}

func (s *Store) GetTaskAsset(ctx context.Context, taskID string, key domain.AssetKey) (*domain.TaskAsset, error) {
	tx := s.db.Txn(false)
	defer tx.Abort()

	raw, err := tx.First(tableTaskAssets, "id", taskID, key.TypeID, key.AssetID)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, ports.ErrNotFound
	}
	asset := copyAsset(*raw.(*domain.TaskAsset))
	return &asset, nil
}

func (s *Store) UpdateTaskAsset(ctx context.Context, taskID string, key domain.AssetKey, from, to domain.AssetStatus, upd ports.AssetUpdate) (bool, error) {
	if !from.CanTransition(to) {
		return false, nil
	}
	return s.swapAsset(taskID, key, from, func(a *domain.TaskAsset) {
		at := upd.At
		if at.IsZero() {
			at = time.Now()
		}
		a.Status = to
		a.UpdatedAt = at
		if to == domain.AssetStatusInProgress {
			a.SessionID = upd.SessionID
			a.ExpectedSubAssets = append(domain.AssetKeys(nil), upd.ExpectedSubAssets...)
			a.StartedAt = &at
		}
	})
}

func (s *Store) RevertDispatch(ctx context.Context, taskID string, key domain.AssetKey) (bool, error) {
	return s.swapAsset(taskID, key, domain.AssetStatusInProgress, func(a *domain.TaskAsset) {
		a.Status = domain.AssetStatusScheduled
		a.SessionID = ""
		a.ExpectedSubAssets = nil
		a.StartedAt = nil
		a.UpdatedAt = time.Now()
	})
}

// swapAsset applies mutate to a copy of the asset when its status is from.
func (s *Store) swapAsset(taskID string, key domain.AssetKey, from domain.AssetStatus, mutate func(*domain.TaskAsset)) (bool, error) {
	tx := s.db.Txn(true)
	defer tx.Abort()

	raw, err := tx.First(tableTaskAssets, "id", taskID, key.TypeID, key.AssetID)
	if err != nil {
		return false, err
	}
	if raw == nil {
		return false, ports.ErrNotFound
	}
	current := raw.(*domain.TaskAsset)
	if current.Status != from {
		return false, nil
	}

	updated := copyAsset(*current)
	mutate(&updated)
	if err := tx.Insert(tableTaskAssets, &updated); err != nil {
		return false, err
	}
	tx.Commit()
	return true, nil
}

func (s *Store) InsertSubAssetRecord(ctx context.Context, rec *domain.SubAssetRecord) error {
	tx := s.db.Txn(true)
	defer tx.Abort()

	existing, err := tx.First(tableRecords, "id", rec.TaskID, rec.TypeID, rec.AssetID, rec.SubTypeID, rec.SubAssetID)
	if err != nil {
		return err
	}
	if existing != nil {
		return ports.ErrDuplicate
	}

	row := *rec
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now()
	}
	if err := tx.Insert(tableRecords, &row); err != nil {
		return fmt.Errorf("record insert failed: %v", err)
	}
	tx.Commit()
	return nil
}

func (s *Store) BulkGetSubAssetRecords(ctx context.Context, keys []domain.SubAssetRecordKey) ([]domain.SubAssetRecord, error) {
	tx := s.db.Txn(false)
	defer tx.Abort()

	out := make([]domain.SubAssetRecord, 0, len(keys))
	for _, k := range keys {
		raw, err := tx.First(tableRecords, "id", k.TaskID, k.Owner.TypeID, k.Owner.AssetID, k.Sub.TypeID, k.Sub.AssetID)
		if err != nil {
			return nil, err
		}
		if raw != nil {
			out = append(out, *raw.(*domain.SubAssetRecord))
		}
	}
	return out, nil
}

func (s *Store) ListSubAssetRecords(ctx context.Context, taskID string) ([]domain.SubAssetRecord, error) {
	tx := s.db.Txn(false)
	defer tx.Abort()

	iter, err := tx.Get(tableRecords, "task", taskID)
	if err != nil {
		return nil, err
	}
	var out []domain.SubAssetRecord
	for obj := iter.Next(); obj != nil; obj = iter.Next() {
		out = append(out, *obj.(*domain.SubAssetRecord))
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.OwnerKey() != b.OwnerKey() {
			return a.OwnerKey().String() < b.OwnerKey().String()
		}
		return a.SubKey().String() < b.SubKey().String()
	})
	return out, nil
}

func (s *Store) FollowOnTask(ctx context.Context, taskID string) (string, error) {
	tx := s.db.Txn(false)
	defer tx.Abort()

	raw, err := tx.First(tableTasks, "id", taskID)
	if err != nil {
		return "", err
	}
	if raw == nil {
		return "", ports.ErrNotFound
	}
	return raw.(*domain.Task).NextTaskID, nil
}

func (s *Store) insertAudit(event *domain.AuditEvent) error {
	event.ID = uint(s.auditID.Add(1))
	tx := s.db.Txn(true)
	defer tx.Abort()
	if err := tx.Insert(tableAudit, event); err != nil {
		return fmt.Errorf("audit insert failed: %v", err)
	}
	tx.Commit()
	return nil
}

func (s *Store) InsertExecute(ctx context.Context, entry domain.AuditEntry) error {
	return s.insertAudit(entry.Event(domain.AuditKindExecute, ""))
}

func (s *Store) InsertSuccess(ctx context.Context, entry domain.AuditEntry) error {
	return s.insertAudit(entry.Event(domain.AuditKindSuccess, ""))
}

func (s *Store) InsertFail(ctx context.Context, entry domain.AuditEntry, result domain.ErrorResult) error {
	return s.insertAudit(entry.Event(domain.AuditKindFail, result))
}

func (s *Store) ListByTask(ctx context.Context, taskID string) ([]domain.AuditEvent, error) {
	tx := s.db.Txn(false)
	defer tx.Abort()

	iter, err := tx.Get(tableAudit, "task", taskID)
	if err != nil {
		return nil, err
	}
	var out []domain.AuditEvent
	for obj := iter.Next(); obj != nil; obj = iter.Next() {
		out = append(out, *obj.(*domain.AuditEvent))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func copyAsset(a domain.TaskAsset) domain.TaskAsset {
	if a.ExpectedSubAssets != nil {
		a.ExpectedSubAssets = append(domain.AssetKeys(nil), a.ExpectedSubAssets...)
	}
	if a.StartedAt != nil {
		t := *a.StartedAt
		a.StartedAt = &t
	}
	return a
}
