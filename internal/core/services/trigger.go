package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/fleetmaint/backend/internal/core/ports"
	"github.com/fleetmaint/backend/internal/domain"
	"github.com/fleetmaint/backend/internal/infrastructure/logger"
)

// Trigger runs the side effects of terminal transitions. None of its
// failures reach the status pipeline.
type Trigger struct {
	chain       ports.InstallChain
	kicker      ports.TaskKicker
	sessions    ports.SessionManager
	logger      *logger.Logger
	kickTimeout time.Duration
	wg          sync.WaitGroup
}

func NewTrigger(chain ports.InstallChain, kicker ports.TaskKicker, sessions ports.SessionManager, kickTimeout time.Duration, log *logger.Logger) *Trigger {
	if kickTimeout <= 0 {
		kickTimeout = 10 * time.Second
	}
	return &Trigger{
		chain:       chain,
		kicker:      kicker,
		sessions:    sessions,
		logger:      log,
		kickTimeout: kickTimeout,
	}
}

// ReleaseSession closes the correlation session of a settled exchange.
func (t *Trigger) ReleaseSession(ctx context.Context, sessionID string) {
	if sessionID == "" || t.sessions == nil {
		return
	}
	if err := t.sessions.Close(ctx, sessionID); err != nil {
		if errors.Is(err, ports.ErrNoSession) {
			t.logger.Debugw("session_already_closed", "session_id", sessionID)
			return
		}
		t.logger.Warnw("session_close_failed", "session_id", sessionID, "error", err)
	}
}

// TaskSettled kicks off the follow-on task of a completed download.
func (t *Trigger) TaskSettled(ctx context.Context, task *domain.Task, status domain.TaskStatus) {
	if status != domain.TaskStatusComplete || task.Operation != domain.OperationDownloadPackage {
		return
	}
	if t.chain == nil || t.kicker == nil {
		return
	}

	next, err := t.chain.FollowOnTask(ctx, task.ID)
	if err != nil {
		t.logger.Warnw("install_chain_lookup_failed", "task_id", task.ID, "error", err)
		return
	}
	if next == "" {
		return
	}

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				t.logger.Errorw("task_kickoff_panic", "task_id", task.ID, "next_task_id", next, "panic", r)
			}
		}()
		kctx, cancel := context.WithTimeout(context.Background(), t.kickTimeout)
		defer cancel()
		if err := t.kicker.Kick(kctx, next); err != nil {
			t.logger.Warnw("task_kickoff_failed", "task_id", task.ID, "next_task_id", next, "error", err)
			return
		}
		t.logger.Infow("task_kickoff_ok", "task_id", task.ID, "next_task_id", next)
	}()
}

// Wait blocks until in-flight kickoffs finish.
func (t *Trigger) Wait() {
	t.wg.Wait()
}
