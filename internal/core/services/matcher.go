package services

import (
	"context"
	"errors"

	"github.com/fleetmaint/backend/internal/core/ports"
	"github.com/fleetmaint/backend/internal/domain"
	"github.com/fleetmaint/backend/internal/infrastructure/logger"
)

// No-match reasons reported by the Matcher.
const (
	MatchUnknownTask        = "unknown_task"
	MatchOperationMismatch  = "operation_mismatch"
	MatchOwnerUnresolved    = "owner_unresolved"
	MatchAssetNotInTask     = "asset_not_in_task"
	MatchAssetNotInProgress = "asset_not_in_progress"
	MatchSessionMismatch    = "session_mismatch"
	MatchUnexpectedSubAsset = "unexpected_sub_asset"
)

// Match binds a response to the task asset it settles. SubAsset is set for
// composite operations and names the reporting child.
type Match struct {
	Task     *domain.Task
	Asset    *domain.TaskAsset
	SubAsset *domain.AssetKey
}

func (m *Match) Owner() domain.AssetKey {
	return m.Asset.Key()
}

// Matcher maps validated envelopes onto in-flight task assets.
type Matcher struct {
	store     ports.TaskStore
	directory ports.AssetDirectory
	logger    *logger.Logger
}

func NewMatcher(store ports.TaskStore, directory ports.AssetDirectory, log *logger.Logger) *Matcher {
	return &Matcher{store: store, directory: directory, logger: log}
}

// Match returns the bound task asset, or a nil match and the reason it was
// ignored. Errors are infrastructure failures only.
func (m *Matcher) Match(ctx context.Context, env domain.Envelope) (*Match, string, error) {
	task, err := m.store.GetTask(ctx, env.MessageID)
	if err != nil {
		if errors.Is(err, ports.ErrNotFound) {
			return nil, MatchUnknownTask, nil
		}
		return nil, "", raise(ErrStoreFailure, err, map[string]any{"task_id": env.MessageID})
	}
	if env.Operation != task.Operation {
		return nil, MatchOperationMismatch, nil
	}

	owner := env.Responder
	if task.Operation.IsComposite() {
		owner, err = m.directory.ResolveOwnerOrSelf(ctx, env.Responder)
		if err != nil {
			if errors.Is(err, ports.ErrAssetUnknown) {
				return nil, MatchOwnerUnresolved, nil
			}
			return nil, "", raise(ErrDirectoryFailure, err, map[string]any{"asset": env.Responder.String()})
		}
	}

	asset, ok := task.Asset(owner)
	if !ok {
		return nil, MatchAssetNotInTask, nil
	}
	if asset.Status != domain.AssetStatusInProgress {
		return nil, MatchAssetNotInProgress, nil
	}
	if env.SessionID != "" && asset.SessionID != "" && env.SessionID != asset.SessionID {
		return nil, MatchSessionMismatch, nil
	}

	match := &Match{Task: task, Asset: asset}
	if task.Operation.IsComposite() {
		if !asset.ExpectedSubAssets.Contains(env.Responder) {
			return nil, MatchUnexpectedSubAsset, nil
		}
		sub := env.Responder
		match.SubAsset = &sub
	}
	return match, "", nil
}
