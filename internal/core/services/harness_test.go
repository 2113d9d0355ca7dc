package services

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/fleetmaint/backend/internal/core/ports"
	"github.com/fleetmaint/backend/internal/domain"
	"github.com/fleetmaint/backend/internal/infrastructure/archive"
	"github.com/fleetmaint/backend/internal/infrastructure/directory"
	"github.com/fleetmaint/backend/internal/infrastructure/logger"
	"github.com/fleetmaint/backend/internal/infrastructure/memstore"
	"github.com/fleetmaint/backend/internal/infrastructure/objectstore"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

var (
	gateway  = domain.AssetKey{TypeID: "gateway", AssetID: "gw-1"}
	gateway2 = domain.AssetKey{TypeID: "gateway", AssetID: "gw-2"}
	meterA   = domain.AssetKey{TypeID: "meter", AssetID: "m-1"}
	meterB   = domain.AssetKey{TypeID: "meter", AssetID: "m-2"}
	meterC   = domain.AssetKey{TypeID: "meter", AssetID: "m-3"}
)

const workRoot = "/work"

type fakeTransport struct {
	mu       sync.Mutex
	sent     []domain.Command
	released []string
	sendErr  error
}

func (f *fakeTransport) Send(ctx context.Context, cmd domain.Command) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, cmd)
	return nil
}

func (f *fakeTransport) ReleaseRetained(ctx context.Context, topic string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released = append(f.released, topic)
	return nil
}

func (f *fakeTransport) setSendErr(err error) {
	f.mu.Lock()
	f.sendErr = err
	f.mu.Unlock()
}

func (f *fakeTransport) commands() []domain.Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.Command(nil), f.sent...)
}

func (f *fakeTransport) session(key domain.AssetKey) string {
	for _, c := range f.commands() {
		if c.Asset == key {
			return c.SessionID
		}
	}
	return ""
}

type fakeKicker struct {
	mu     sync.Mutex
	kicked []string
	err    error
}

func (k *fakeKicker) Kick(ctx context.Context, taskID string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.kicked = append(k.kicked, taskID)
	return k.err
}

func (k *fakeKicker) calls() []string {
	k.mu.Lock()
	defer k.mu.Unlock()
	return append([]string(nil), k.kicked...)
}

type fakeFetcher struct {
	files map[string]string
}

func (f *fakeFetcher) Fetch(ctx context.Context, ref string) (io.ReadCloser, error) {
	body, ok := f.files[ref]
	if !ok {
		return nil, errors.New("remote file not found: " + ref)
	}
	return io.NopCloser(strings.NewReader(body)), nil
}

type failingStorage struct{}

func (failingStorage) Upload(ctx context.Context, key string, r io.Reader, size int64) (string, error) {
	return "", errors.New("bucket unavailable")
}

// brokenAudit fails every write; panics when panicky is set.
type brokenAudit struct {
	panicky bool
}

func (b brokenAudit) fail() error {
	if b.panicky {
		panic("audit backend exploded")
	}
	return errors.New("audit backend down")
}

func (b brokenAudit) InsertExecute(context.Context, domain.AuditEntry) error { return b.fail() }
func (b brokenAudit) InsertSuccess(context.Context, domain.AuditEntry) error { return b.fail() }
func (b brokenAudit) InsertFail(context.Context, domain.AuditEntry, domain.ErrorResult) error {
	return b.fail()
}
func (b brokenAudit) ListByTask(context.Context, string) ([]domain.AuditEvent, error) {
	return nil, b.fail()
}

// flakyStore fails the first terminal asset commit, as a dropped database
// connection would.
type flakyStore struct {
	ports.TaskStore
	failed atomic.Bool
}

func (s *flakyStore) UpdateTaskAsset(ctx context.Context, taskID string, key domain.AssetKey, from, to domain.AssetStatus, upd ports.AssetUpdate) (bool, error) {
	if to.IsTerminal() && s.failed.CompareAndSwap(false, true) {
		return false, errors.New("connection reset by peer")
	}
	return s.TaskStore.UpdateTaskAsset(ctx, taskID, key, from, to, upd)
}

type countingJitter struct {
	waits atomic.Int32
}

func (j *countingJitter) Wait(context.Context) error {
	j.waits.Add(1)
	return nil
}

type harness struct {
	store     *memstore.Store
	directory ports.AssetRegistry
	sessions  *SessionManager
	transport *fakeTransport
	kicker    *fakeKicker
	fetcher   *fakeFetcher
	storage   *objectstore.MemoryStorage
	fs        afero.Fs
	engine    *Engine
}

type harnessOption func(*EngineConfig, *LogArchiverConfig)

func withAudit(log ports.AuditLog) harnessOption {
	return func(c *EngineConfig, _ *LogArchiverConfig) { c.Audit = log }
}

func withStorage(s ports.ObjectStorage) harnessOption {
	return func(_ *EngineConfig, a *LogArchiverConfig) { a.Storage = s }
}

func withFlakyCommit() harnessOption {
	return func(c *EngineConfig, _ *LogArchiverConfig) { c.Store = &flakyStore{TaskStore: c.Store} }
}

func withJitter(j Jitter) harnessOption {
	return func(c *EngineConfig, _ *LogArchiverConfig) { c.Jitter = j }
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	store, err := memstore.New()
	require.NoError(t, err)
	log := logger.NewNop()
	dir, err := directory.NewRegistry(log)
	require.NoError(t, err)

	h := &harness{
		store:     store,
		directory: dir,
		sessions:  NewSessionManager("fleet"),
		transport: &fakeTransport{},
		kicker:    &fakeKicker{},
		fetcher:   &fakeFetcher{files: map[string]string{}},
		storage:   objectstore.NewMemoryStorage(),
		fs:        afero.NewMemMapFs(),
	}

	archCfg := LogArchiverConfig{
		FS:       h.fs,
		Root:     workRoot,
		Transfer: h.fetcher,
		Archiver: archive.NewZipArchiver(),
		Storage:  h.storage,
		Logger:   log,
	}
	cfg := EngineConfig{
		Store:       store,
		Chain:       store,
		Audit:       store,
		Directory:   dir,
		Sessions:    h.sessions,
		Transport:   h.transport,
		Kicker:      h.kicker,
		EnableLocks: true,
		Logger:      log,
	}
	for _, opt := range opts {
		opt(&cfg, &archCfg)
	}
	cfg.Archiver = NewLogArchiver(archCfg)
	h.engine = NewEngine(cfg)
	return h
}

func (h *harness) device(t *testing.T, key domain.AssetKey, liveness domain.Liveness, subs ...domain.SubAssetState) {
	t.Helper()
	require.NoError(t, h.directory.Upsert(context.Background(), domain.AssetState{Key: key, Liveness: liveness, SubAssets: subs}))
}

func sub(key domain.AssetKey, liveness domain.Liveness) domain.SubAssetState {
	return domain.SubAssetState{Key: key, Liveness: liveness}
}

func (h *harness) create(t *testing.T, id string, op domain.OperationKind, payload domain.JSONB, keys ...domain.AssetKey) *domain.Task {
	t.Helper()
	task, err := h.engine.CreateTask(context.Background(), ports.CreateTaskInput{
		ID:        id,
		Operation: op,
		Payload:   payload,
		Assets:    keys,
	})
	require.NoError(t, err)
	return task
}

func (h *harness) start(t *testing.T, id string) map[domain.AssetKey]ports.DispatchOutcome {
	t.Helper()
	outcomes, err := h.engine.StartTask(context.Background(), id)
	require.NoError(t, err)
	byKey := make(map[domain.AssetKey]ports.DispatchOutcome, len(outcomes))
	for _, o := range outcomes {
		byKey[o.Asset] = o
	}
	return byKey
}

type reply struct {
	taskID    string
	op        domain.OperationKind
	from      domain.AssetKey
	session   string
	result    domain.ResultCode
	errorCode string
	logRef    string
}

func (r reply) message(t *testing.T) domain.InboundMessage {
	t.Helper()
	body := map[string]any{
		"message_id": r.taskID,
		"session_id": r.session,
		"operation":  string(r.op),
		"type_id":    r.from.TypeID,
		"asset_id":   r.from.AssetID,
		"result":     string(r.result),
	}
	if r.errorCode != "" {
		body["error_code"] = r.errorCode
		body["error_message"] = "device reported " + r.errorCode
	}
	if r.logRef != "" {
		body["log_ref"] = r.logRef
	}
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	return domain.InboundMessage{Topic: "fleet/rsp/" + r.from.TypeID + "/" + r.from.AssetID, Payload: raw}
}

func (h *harness) respond(t *testing.T, r reply) (ResponseOutcome, error) {
	t.Helper()
	return h.engine.ProcessResponse(context.Background(), r.message(t))
}

func (h *harness) asset(t *testing.T, taskID string, key domain.AssetKey) *domain.TaskAsset {
	t.Helper()
	a, err := h.store.GetTaskAsset(context.Background(), taskID, key)
	require.NoError(t, err)
	return a
}

func (h *harness) task(t *testing.T, id string) *domain.Task {
	t.Helper()
	task, err := h.store.GetTask(context.Background(), id)
	require.NoError(t, err)
	return task
}

func (h *harness) audit(t *testing.T, taskID string) []domain.AuditEvent {
	t.Helper()
	events, err := h.store.ListByTask(context.Background(), taskID)
	require.NoError(t, err)
	return events
}

func auditKinds(events []domain.AuditEvent) []domain.AuditKind {
	out := make([]domain.AuditKind, 0, len(events))
	for _, e := range events {
		out = append(out, e.Kind)
	}
	return out
}

var installPayload = domain.JSONB{"package_id": "fw-2.1", "version": "2.1.0"}
