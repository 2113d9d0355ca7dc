package memstore

import (
	"context"
	"sync"
	"testing"

	"github.com/fleetmaint/backend/internal/core/ports"
	"github.com/fleetmaint/backend/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	gateway = domain.AssetKey{TypeID: "gateway", AssetID: "gw-1"}
	meterA  = domain.AssetKey{TypeID: "meter", AssetID: "m-1"}
	meterB  = domain.AssetKey{TypeID: "meter", AssetID: "m-2"}
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := New()
	require.NoError(t, err)
	return s
}

func seed(t *testing.T, s *Store, id string, op domain.OperationKind, keys ...domain.AssetKey) {
	t.Helper()
	task := &domain.Task{ID: id, Operation: op, Status: domain.TaskStatusScheduled}
	for i, k := range keys {
		task.Assets = append(task.Assets, domain.TaskAsset{TypeID: k.TypeID, AssetID: k.AssetID, Position: i, Status: domain.AssetStatusScheduled})
	}
	require.NoError(t, s.CreateTask(context.Background(), task))
}

func TestStoreTaskLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	seed(t, s, "t-1", domain.OperationInstall, meterB, gateway)

	assert.ErrorIs(t, s.CreateTask(ctx, &domain.Task{ID: "t-1"}), ports.ErrDuplicate)

	task, err := s.GetTask(ctx, "t-1")
	require.NoError(t, err)
	require.Len(t, task.Assets, 2)
	assert.Equal(t, meterB, task.Assets[0].Key())
	assert.Equal(t, "t-1", task.Assets[1].TaskID)

	ok, err := s.UpdateTaskStatus(ctx, "t-1", domain.TaskStatusScheduled, domain.TaskStatusInProgress)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.UpdateTaskStatus(ctx, "t-1", domain.TaskStatusScheduled, domain.TaskStatusInProgress)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.GetTask(ctx, "missing")
	assert.ErrorIs(t, err, ports.ErrNotFound)
}

func TestStoreReturnedValuesAreCopies(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	seed(t, s, "t-1", domain.OperationReboot, gateway)

	_, err := s.UpdateTaskAsset(ctx, "t-1", gateway, domain.AssetStatusScheduled, domain.AssetStatusInProgress, ports.AssetUpdate{
		SessionID:         "s-1",
		ExpectedSubAssets: domain.AssetKeys{meterA},
	})
	require.NoError(t, err)

	asset, err := s.GetTaskAsset(ctx, "t-1", gateway)
	require.NoError(t, err)
	asset.Status = domain.AssetStatusComplete
	asset.ExpectedSubAssets[0] = meterB

	again, err := s.GetTaskAsset(ctx, "t-1", gateway)
	require.NoError(t, err)
	assert.Equal(t, domain.AssetStatusInProgress, again.Status)
	assert.Equal(t, domain.AssetKeys{meterA}, again.ExpectedSubAssets)
}

func TestStoreConcurrentCompareAndSet(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	seed(t, s, "t-1", domain.OperationInstall, gateway)
	_, err := s.UpdateTaskAsset(ctx, "t-1", gateway, domain.AssetStatusScheduled, domain.AssetStatusInProgress, ports.AssetUpdate{})
	require.NoError(t, err)

	var wg sync.WaitGroup
	wins := make(chan domain.AssetStatus, 2)
	for _, to := range []domain.AssetStatus{domain.AssetStatusComplete, domain.AssetStatusDeviceError} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.UpdateTaskAsset(ctx, "t-1", gateway, domain.AssetStatusInProgress, to, ports.AssetUpdate{})
			if err == nil && ok {
				wins <- to
			}
		}()
	}
	wg.Wait()
	close(wins)

	var won []domain.AssetStatus
	for w := range wins {
		won = append(won, w)
	}
	require.Len(t, won, 1)

	asset, err := s.GetTaskAsset(ctx, "t-1", gateway)
	require.NoError(t, err)
	assert.Equal(t, won[0], asset.Status)
}

func TestStoreRevertDispatch(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	seed(t, s, "t-1", domain.OperationInstall, gateway)

	ok, err := s.RevertDispatch(ctx, "t-1", gateway)
	require.NoError(t, err)
	assert.False(t, ok, "only InProgress assets revert")

	_, err = s.UpdateTaskAsset(ctx, "t-1", gateway, domain.AssetStatusScheduled, domain.AssetStatusInProgress, ports.AssetUpdate{SessionID: "s-1"})
	require.NoError(t, err)
	ok, err = s.RevertDispatch(ctx, "t-1", gateway)
	require.NoError(t, err)
	assert.True(t, ok)

	asset, err := s.GetTaskAsset(ctx, "t-1", gateway)
	require.NoError(t, err)
	assert.Equal(t, domain.AssetStatusScheduled, asset.Status)
	assert.Empty(t, asset.SessionID)
	assert.Nil(t, asset.StartedAt)
}

func TestStoreSubAssetRecords(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	seed(t, s, "t-1", domain.OperationSelfTest, gateway)

	rec := &domain.SubAssetRecord{TaskID: "t-1", TypeID: "gateway", AssetID: "gw-1", SubTypeID: "meter", SubAssetID: "m-2", Status: domain.ResultError, ErrorCode: "E42"}
	require.NoError(t, s.InsertSubAssetRecord(ctx, rec))
	assert.ErrorIs(t, s.InsertSubAssetRecord(ctx, rec), ports.ErrDuplicate)

	got, err := s.BulkGetSubAssetRecords(ctx, domain.RecordKeysFor("t-1", gateway, domain.AssetKeys{meterA, meterB}))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "E42", got[0].ErrorCode)

	all, err := s.ListSubAssetRecords(ctx, "t-1")
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestStoreAuditLog(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	entry := domain.AuditEntry{TaskID: "t-1", Asset: gateway, Operation: domain.OperationReboot}

	require.NoError(t, s.InsertExecute(ctx, entry))
	require.NoError(t, s.InsertSuccess(ctx, entry))
	require.NoError(t, s.InsertFail(ctx, domain.AuditEntry{TaskID: "t-2", Asset: gateway, Operation: domain.OperationReboot}, domain.ErrorResultSystemError))

	events, err := s.ListByTask(ctx, "t-1")
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, domain.AuditKindExecute, events[0].Kind)
	assert.Equal(t, domain.AuditKindSuccess, events[1].Kind)
}

func TestStoreFollowOnTask(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	require.NoError(t, s.CreateTask(ctx, &domain.Task{ID: "dl", Operation: domain.OperationDownloadPackage, Status: domain.TaskStatusScheduled, NextTaskID: "inst"}))

	next, err := s.FollowOnTask(ctx, "dl")
	require.NoError(t, err)
	assert.Equal(t, "inst", next)
}
