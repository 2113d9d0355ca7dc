package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fleetmaint/backend/internal/core/ports"
	"github.com/fleetmaint/backend/internal/domain"
	"github.com/fleetmaint/backend/internal/infrastructure/logger"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/fleetmaint/backend/internal/core/services"

type EngineConfig struct {
	Store       ports.TaskStore
	Chain       ports.InstallChain
	Audit       ports.AuditLog
	Directory   ports.AssetDirectory
	Sessions    ports.SessionManager
	Transport   ports.CommandTransport
	Archiver    *LogArchiver
	Kicker      ports.TaskKicker
	Jitter      Jitter
	KickTimeout time.Duration
	EnableLocks bool
	Logger      *logger.Logger
}

// Engine runs maintenance tasks: it dispatches commands and folds device
// responses into asset and task statuses.
type Engine struct {
	store      ports.TaskStore
	transport  ports.CommandTransport
	dispatcher *Dispatcher
	matcher    *Matcher
	updater    *Updater
	aggregator *Aggregator
	trigger    *Trigger
	jitter     Jitter
	logger     *logger.Logger
	tracer     trace.Tracer
}

func NewEngine(cfg EngineConfig) *Engine {
	if cfg.Jitter == nil {
		cfg.Jitter = NoJitter{}
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.NewNop()
	}
	return &Engine{
		store:     cfg.Store,
		transport: cfg.Transport,
		dispatcher: NewDispatcher(DispatcherConfig{
			Store:     cfg.Store,
			Directory: cfg.Directory,
			Sessions:  cfg.Sessions,
			Transport: cfg.Transport,
			Audit:     cfg.Audit,
			Logger:    cfg.Logger,
		}),
		matcher:    NewMatcher(cfg.Store, cfg.Directory, cfg.Logger),
		updater:    NewUpdater(cfg.Store, cfg.Archiver, cfg.Audit, cfg.EnableLocks, cfg.Logger),
		aggregator: NewAggregator(cfg.Store, cfg.Logger),
		trigger:    NewTrigger(cfg.Chain, cfg.Kicker, cfg.Sessions, cfg.KickTimeout, cfg.Logger),
		jitter:     cfg.Jitter,
		logger:     cfg.Logger,
		tracer:     otel.Tracer(tracerName),
	}
}

var _ ports.TaskEngine = (*Engine)(nil)

// Wait blocks until background kickoffs have finished.
func (e *Engine) Wait() {
	e.trigger.Wait()
}

func (e *Engine) CreateTask(ctx context.Context, input ports.CreateTaskInput) (*domain.Task, error) {
	if input.ID == "" {
		input.ID = uuid.New().String()
	}
	if _, err := domain.ParseOperationKind(string(input.Operation)); err != nil {
		return nil, raise(ErrTaskInvalidInput, err, nil)
	}
	if len(input.Assets) == 0 {
		return nil, raise(ErrTaskInvalidInput, errors.New("at least one asset is required"), nil)
	}
	if input.NextTaskID != "" && input.Operation != domain.OperationDownloadPackage {
		return nil, raise(ErrTaskInvalidInput, errors.New("next_task_id is only valid for DownloadPackage tasks"), nil)
	}

	task := &domain.Task{
		ID:         input.ID,
		Operation:  input.Operation,
		Status:     domain.TaskStatusScheduled,
		Payload:    input.Payload,
		NextTaskID: input.NextTaskID,
	}
	seen := make(map[domain.AssetKey]bool, len(input.Assets))
	for i, key := range input.Assets {
		if key.TypeID == "" || key.AssetID == "" {
			return nil, raise(ErrTaskInvalidInput, fmt.Errorf("asset %d: type_id and asset_id are required", i), nil)
		}
		if seen[key] {
			return nil, raise(ErrTaskInvalidInput, fmt.Errorf("asset %s listed twice", key), nil)
		}
		seen[key] = true
		task.Assets = append(task.Assets, domain.TaskAsset{
			TaskID:   task.ID,
			TypeID:   key.TypeID,
			AssetID:  key.AssetID,
			Position: i,
			Status:   domain.AssetStatusScheduled,
		})
	}
	if _, err := task.CommandPayload(); err != nil {
		return nil, raise(ErrTaskInvalidInput, err, nil)
	}

	if err := e.store.CreateTask(ctx, task); err != nil {
		if errors.Is(err, ports.ErrDuplicate) {
			return nil, raise(ErrTaskAlreadyExists, err, map[string]any{"task_id": task.ID})
		}
		return nil, raise(ErrStoreFailure, err, map[string]any{"task_id": task.ID})
	}
	e.logger.Infow("task_create_ok", "task_id", task.ID, "operation", task.Operation, "assets", len(task.Assets))
	return task, nil
}

func (e *Engine) GetTask(ctx context.Context, taskID string) (*domain.Task, error) {
	task, err := e.store.GetTask(ctx, taskID)
	if err != nil {
		if errors.Is(err, ports.ErrNotFound) {
			return nil, raise(ErrTaskNotFound, err, map[string]any{"task_id": taskID})
		}
		return nil, raise(ErrStoreFailure, err, map[string]any{"task_id": taskID})
	}
	return task, nil
}

// ListSubAssetRecords returns every sub-asset report of a task.
func (e *Engine) ListSubAssetRecords(ctx context.Context, taskID string) ([]domain.SubAssetRecord, error) {
	records, err := e.store.ListSubAssetRecords(ctx, taskID)
	if err != nil {
		return nil, raise(ErrStoreFailure, err, map[string]any{"task_id": taskID})
	}
	return records, nil
}

// StartTask moves a Scheduled task to InProgress and dispatches every asset.
// A failed dispatch for one asset never stops the others.
func (e *Engine) StartTask(ctx context.Context, taskID string) ([]ports.DispatchOutcome, error) {
	ctx, span := e.tracer.Start(ctx, "engine.start_task", trace.WithAttributes(attribute.String("task.id", taskID)))
	defer span.End()

	task, err := e.GetTask(ctx, taskID)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	if task.Status != domain.TaskStatusScheduled {
		err := raise(ErrTaskNotScheduled, nil, map[string]any{"task_id": taskID, "status": string(task.Status)})
		recordSpanError(span, err)
		return nil, err
	}
	payload, err := task.CommandPayload()
	if err != nil {
		err = raise(ErrPayloadInvalid, err, map[string]any{"task_id": taskID})
		recordSpanError(span, err)
		return nil, err
	}

	ok, err := e.store.UpdateTaskStatus(ctx, taskID, domain.TaskStatusScheduled, domain.TaskStatusInProgress)
	if err != nil {
		err = raise(ErrStoreFailure, err, map[string]any{"task_id": taskID})
		recordSpanError(span, err)
		return nil, err
	}
	if !ok {
		err := raise(ErrTaskNotScheduled, nil, map[string]any{"task_id": taskID})
		recordSpanError(span, err)
		return nil, err
	}
	task.Status = domain.TaskStatusInProgress
	e.logger.Infow("task_start_ok", "task_id", taskID, "operation", task.Operation, "assets", len(task.Assets))

	outcomes := e.dispatchAll(ctx, task, payload)
	span.SetAttributes(attribute.Int("task.assets", len(outcomes)))
	return outcomes, nil
}

// DispatchPending re-dispatches the assets of an InProgress task that are
// still Scheduled after a transient dispatch error.
func (e *Engine) DispatchPending(ctx context.Context, taskID string) ([]ports.DispatchOutcome, error) {
	ctx, span := e.tracer.Start(ctx, "engine.dispatch_pending", trace.WithAttributes(attribute.String("task.id", taskID)))
	defer span.End()

	task, err := e.GetTask(ctx, taskID)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	if task.Status != domain.TaskStatusInProgress {
		err := raise(ErrTaskNotInProgress, nil, map[string]any{"task_id": taskID, "status": string(task.Status)})
		recordSpanError(span, err)
		return nil, err
	}
	payload, err := task.CommandPayload()
	if err != nil {
		err = raise(ErrPayloadInvalid, err, map[string]any{"task_id": taskID})
		recordSpanError(span, err)
		return nil, err
	}
	return e.dispatchAll(ctx, task, payload), nil
}

func (e *Engine) dispatchAll(ctx context.Context, task *domain.Task, payload domain.JSONB) []ports.DispatchOutcome {
	outcomes := make([]ports.DispatchOutcome, 0, len(task.Assets))
	for _, asset := range task.Assets {
		key := asset.Key()
		if asset.Status != domain.AssetStatusScheduled {
			outcomes = append(outcomes, ports.DispatchOutcome{Asset: key, Status: asset.Status, SessionID: asset.SessionID})
			continue
		}

		res, err := e.dispatcher.Dispatch(ctx, task, key, payload)
		if err != nil {
			e.logger.Errorw("dispatch_failed",
				"task_id", task.ID,
				"asset", key.String(),
				"code", ErrorCode(err),
				"error", err,
			)
			status := res.Status
			if status == "" {
				status = domain.AssetStatusScheduled
			}
			outcomes = append(outcomes, ports.DispatchOutcome{Asset: key, Status: status, Error: err.Error()})
			continue
		}

		out := ports.DispatchOutcome{Asset: key, Status: res.Status}
		if res.Session != nil {
			out.SessionID = res.Session.ID
		}
		if res.Reason != "" {
			out.Error = res.Reason
		}
		outcomes = append(outcomes, out)

		if res.Status.IsTerminal() {
			e.settle(ctx, task.ID)
		}
	}
	return outcomes
}

// HandleResponse processes one inbound message. It never fails: problems are
// logged, and the retained marker of the topic is always released.
func (e *Engine) HandleResponse(ctx context.Context, msg domain.InboundMessage) {
	ctx, span := e.tracer.Start(ctx, "engine.handle_response", trace.WithAttributes(attribute.String("messaging.topic", msg.Topic)))
	defer span.End()
	defer e.releaseRetained(ctx, msg.Topic)
	defer func() {
		if r := recover(); r != nil {
			e.logger.Errorw("response_panic", "topic", msg.Topic, "panic", r)
			span.SetStatus(codes.Error, "panic")
		}
	}()

	outcome, err := e.ProcessResponse(ctx, msg)
	if err != nil {
		recordSpanError(span, err)
		e.logger.Errorw("response_failed",
			"topic", msg.Topic,
			"task_id", outcome.TaskID,
			"code", ErrorCode(err),
			"error", err,
		)
		return
	}
	span.SetAttributes(
		attribute.String("task.id", outcome.TaskID),
		attribute.Bool("response.matched", outcome.Matched),
		attribute.Bool("response.transitioned", outcome.Transitioned),
	)
}

// ResponseOutcome summarises what a response did.
type ResponseOutcome struct {
	TaskID        string
	Matched       bool
	Reason        string
	Transitioned  bool
	AssetStatus   domain.AssetStatus
	TaskStatus    domain.TaskStatus
	TaskCommitted bool
}

// ProcessResponse runs match, update, aggregate and trigger for one message.
// Rejected and unmatched messages are not errors.
func (e *Engine) ProcessResponse(ctx context.Context, msg domain.InboundMessage) (ResponseOutcome, error) {
	env, err := domain.ParseEnvelope(msg)
	if err != nil {
		e.logger.Warnw("response_rejected", "topic", msg.Topic, "error", err)
		return ResponseOutcome{Reason: "rejected"}, nil
	}
	out := ResponseOutcome{TaskID: env.MessageID}

	if env.Operation == domain.OperationRetrieveLog {
		if err := e.jitter.Wait(ctx); err != nil {
			return out, err
		}
	}

	match, reason, err := e.matcher.Match(ctx, env)
	if err != nil {
		return out, err
	}
	if match == nil {
		e.logger.Debugw("response_unmatched", "task_id", env.MessageID, "responder", env.Responder.String(), "reason", reason)
		out.Reason = reason
		return out, nil
	}
	out.Matched = true

	res, err := e.updater.Apply(ctx, match, env)
	if err != nil {
		return out, err
	}
	out.Reason = res.Reason
	if !res.Transitioned {
		return out, nil
	}
	out.Transitioned = true
	out.AssetStatus = res.Status

	e.trigger.ReleaseSession(ctx, match.Asset.SessionID)

	if res.ArchiveErr != nil {
		ok, err := e.store.UpdateTaskStatus(ctx, match.Task.ID, domain.TaskStatusInProgress, domain.TaskStatusFailure)
		if err != nil {
			return out, raise(ErrStoreFailure, err, map[string]any{"task_id": match.Task.ID})
		}
		out.TaskStatus = domain.TaskStatusFailure
		out.TaskCommitted = ok
		if ok {
			e.logger.Infow("task_status_committed", "task_id", match.Task.ID, "operation", match.Task.Operation, "status", domain.TaskStatusFailure, "origin", "log_archive")
			e.trigger.TaskSettled(ctx, match.Task, domain.TaskStatusFailure)
		}
		return out, res.ArchiveErr
	}

	status, committed, err := e.aggregator.Recompute(ctx, match.Task.ID)
	if err != nil {
		return out, err
	}
	out.TaskStatus = status
	out.TaskCommitted = committed
	if committed {
		e.trigger.TaskSettled(ctx, match.Task, status)
	}
	return out, nil
}

// settle recomputes the task after a dispatch-time transition.
func (e *Engine) settle(ctx context.Context, taskID string) {
	status, committed, err := e.aggregator.Recompute(ctx, taskID)
	if err != nil {
		e.logger.Errorw("task_recompute_failed", "task_id", taskID, "code", ErrorCode(err), "error", err)
		return
	}
	if !committed {
		return
	}
	task, err := e.store.GetTask(ctx, taskID)
	if err != nil {
		e.logger.Errorw("task_reload_failed", "task_id", taskID, "error", err)
		return
	}
	e.trigger.TaskSettled(ctx, task, status)
}

func (e *Engine) releaseRetained(ctx context.Context, topic string) {
	if topic == "" || e.transport == nil {
		return
	}
	if err := e.transport.ReleaseRetained(ctx, topic); err != nil {
		e.logger.Warnw("retained_release_failed", "topic", topic, "error", err)
	}
}

func recordSpanError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, TextCode(err))
}
