package services

import (
	"context"
	"errors"
	"time"

	"github.com/fleetmaint/backend/internal/core/ports"
	"github.com/fleetmaint/backend/internal/domain"
	"github.com/fleetmaint/backend/internal/infrastructure/logger"
)

// DispatchResult describes what one dispatch did to its TaskAsset. Session
// is nil when a pre-flight check settled the asset without sending.
type DispatchResult struct {
	Session *domain.Session
	Status  domain.AssetStatus
	Reason  string
}

type DispatcherConfig struct {
	Store     ports.TaskStore
	Directory ports.AssetDirectory
	Sessions  ports.SessionManager
	Transport ports.CommandTransport
	Audit     ports.AuditLog
	Logger    *logger.Logger
}

// Dispatcher runs pre-flight checks for one TaskAsset, marks it InProgress
// and sends the command under a fresh correlation session.
type Dispatcher struct {
	store     ports.TaskStore
	directory ports.AssetDirectory
	sessions  ports.SessionManager
	transport ports.CommandTransport
	audit     *auditor
	logger    *logger.Logger
	now       func() time.Time
}

func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	return &Dispatcher{
		store:     cfg.Store,
		directory: cfg.Directory,
		sessions:  cfg.Sessions,
		transport: cfg.Transport,
		audit:     &auditor{log: cfg.Audit, logger: cfg.Logger},
		logger:    cfg.Logger,
		now:       time.Now,
	}
}

// Dispatch sends payload to the asset identified by key. Pre-flight failures
// settle the asset and return a nil error; transient infrastructure errors
// leave the asset Scheduled and are returned.
func (d *Dispatcher) Dispatch(ctx context.Context, task *domain.Task, key domain.AssetKey, payload domain.JSONB) (DispatchResult, error) {
	meta := map[string]any{"task_id": task.ID, "asset": key.String()}

	asset, err := d.store.GetTaskAsset(ctx, task.ID, key)
	if err != nil {
		if errors.Is(err, ports.ErrNotFound) {
			return DispatchResult{}, raise(ErrAssetNotFound, err, meta)
		}
		return DispatchResult{}, raise(ErrStoreFailure, err, meta)
	}
	if asset.Status != domain.AssetStatusScheduled {
		return DispatchResult{Status: asset.Status}, raise(ErrAssetNotScheduled, nil, meta)
	}

	state, err := d.directory.GetAssetStatus(ctx, key)
	if err != nil {
		if errors.Is(err, ports.ErrAssetUnknown) {
			return d.preflightFail(ctx, task, key, domain.AssetStatusSystemError, "asset_not_in_directory")
		}
		return DispatchResult{}, raise(ErrDirectoryFailure, err, meta)
	}
	if state.Liveness == domain.LivenessMissing {
		return d.preflightFail(ctx, task, key, domain.AssetStatusConnectionError, "asset_missing")
	}
	if required := task.RequiredSubType(); required != "" && !state.HasSubType(required) {
		return d.preflightFail(ctx, task, key, domain.AssetStatusSystemError, "required_sub_asset_missing")
	}

	var expected domain.AssetKeys
	if task.Operation.IsComposite() {
		if state.IsComposite() {
			expected = state.ReachableSubAssets()
			if len(expected) == 0 {
				return d.preflightFail(ctx, task, key, domain.AssetStatusConnectionError, "all_sub_assets_missing")
			}
		} else {
			expected = domain.AssetKeys{key}
		}
	}

	session, err := d.sessions.Open(ctx, task.ID, key)
	if err != nil {
		return DispatchResult{}, raise(ErrSessionUnavailable, err, meta)
	}

	ok, err := d.store.UpdateTaskAsset(ctx, task.ID, key, domain.AssetStatusScheduled, domain.AssetStatusInProgress, ports.AssetUpdate{
		SessionID:         session.ID,
		ExpectedSubAssets: expected,
		At:                d.now(),
	})
	if err != nil || !ok {
		d.closeSession(ctx, session.ID)
		if err != nil {
			return DispatchResult{}, raise(ErrStoreFailure, err, meta)
		}
		return DispatchResult{}, raise(ErrAssetNotScheduled, nil, meta)
	}

	cmd := domain.Command{
		Operation:   task.Operation,
		Asset:       key,
		SessionID:   session.ID,
		MessageID:   session.MessageID,
		TopicPrefix: session.TopicPrefix,
		Payload:     payload,
		SentAt:      d.now(),
	}
	if err := d.transport.Send(ctx, cmd); err != nil {
		if _, rerr := d.store.RevertDispatch(ctx, task.ID, key); rerr != nil {
			d.logger.Errorw("dispatch_revert_failed", "task_id", task.ID, "asset", key.String(), "error", rerr)
		}
		d.closeSession(ctx, session.ID)
		return DispatchResult{}, raise(ErrTransportUnavailable, err, meta)
	}

	d.audit.execute(ctx, domain.AuditEntry{
		TaskID:    task.ID,
		Asset:     key,
		Operation: task.Operation,
		Meta:      domain.JSONB{"session_id": session.ID, "expected_sub_assets": len(expected)},
	})
	d.logger.Infow("dispatch_sent",
		"task_id", task.ID,
		"asset", key.String(),
		"operation", task.Operation,
		"session_id", session.ID,
	)
	return DispatchResult{Session: &session, Status: domain.AssetStatusInProgress}, nil
}

// preflightFail walks the asset through InProgress into a failure status
// without sending anything.
func (d *Dispatcher) preflightFail(ctx context.Context, task *domain.Task, key domain.AssetKey, status domain.AssetStatus, reason string) (DispatchResult, error) {
	meta := map[string]any{"task_id": task.ID, "asset": key.String(), "reason": reason}
	now := d.now()

	ok, err := d.store.UpdateTaskAsset(ctx, task.ID, key, domain.AssetStatusScheduled, domain.AssetStatusInProgress, ports.AssetUpdate{At: now})
	if err != nil {
		return DispatchResult{}, raise(ErrStoreFailure, err, meta)
	}
	if !ok {
		return DispatchResult{}, raise(ErrAssetNotScheduled, nil, meta)
	}
	if _, err := d.store.UpdateTaskAsset(ctx, task.ID, key, domain.AssetStatusInProgress, status, ports.AssetUpdate{At: now}); err != nil {
		return DispatchResult{}, raise(ErrStoreFailure, err, meta)
	}

	result, _ := status.ErrorResult()
	d.audit.fail(ctx, domain.AuditEntry{
		TaskID:    task.ID,
		Asset:     key,
		Operation: task.Operation,
		Meta:      domain.JSONB{"origin": "preflight", "reason": reason},
	}, result)
	d.logger.Warnw("dispatch_preflight_failed",
		"task_id", task.ID,
		"asset", key.String(),
		"operation", task.Operation,
		"status", status,
		"reason", reason,
	)
	return DispatchResult{Status: status, Reason: reason}, nil
}

func (d *Dispatcher) closeSession(ctx context.Context, sessionID string) {
	if err := d.sessions.Close(ctx, sessionID); err != nil && !errors.Is(err, ports.ErrNoSession) {
		d.logger.Warnw("session_close_failed", "session_id", sessionID, "error", err)
	}
}
