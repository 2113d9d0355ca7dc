package http

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/fleetmaint/backend/internal/config"
	"github.com/fleetmaint/backend/internal/core/services"
	"github.com/fleetmaint/backend/internal/domain"
	"github.com/fleetmaint/backend/internal/infrastructure/directory"
	"github.com/fleetmaint/backend/internal/infrastructure/logger"
	"github.com/fleetmaint/backend/internal/infrastructure/memstore"
	"github.com/fleetmaint/backend/internal/transport/http/dto"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	adminToken = "admin-secret"
	agentToken = "agent-secret"
)

type recordingTransport struct {
	mu   sync.Mutex
	sent []domain.Command
}

func (r *recordingTransport) Send(ctx context.Context, cmd domain.Command) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, cmd)
	return nil
}

func (r *recordingTransport) ReleaseRetained(ctx context.Context, topic string) error {
	return nil
}

func newTestApp(t *testing.T) *fiber.App {
	t.Helper()
	log := logger.NewNop()
	store, err := memstore.New()
	require.NoError(t, err)
	registry, err := directory.NewRegistry(log)
	require.NoError(t, err)

	engine := services.NewEngine(services.EngineConfig{
		Store:     store,
		Chain:     store,
		Audit:     store,
		Directory: registry,
		Sessions:  services.NewSessionManager("fleet"),
		Transport: &recordingTransport{},
		Logger:    log,
	})

	cfg := &config.Config{Auth: config.AuthConfig{AdminAPIKey: adminToken, AgentToken: agentToken}}
	app := fiber.New()
	SetupRoutes(app, RouterConfig{Engine: engine, Registry: registry, Audit: store, Logger: log, Config: cfg})
	return app
}

func call(t *testing.T, app *fiber.App, method, path, token, body string) (int, []byte) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, raw
}

func TestRoutesRequireTokens(t *testing.T) {
	app := newTestApp(t)

	code, _ := call(t, app, http.MethodGet, "/api/v1/tasks/t-1", "", "")
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _ = call(t, app, http.MethodGet, "/api/v1/tasks/t-1", agentToken, "")
	assert.Equal(t, http.StatusUnauthorized, code)

	code, _ = call(t, app, http.MethodPost, "/api/v1/responses", adminToken, `{}`)
	assert.Equal(t, http.StatusUnauthorized, code)
}

func TestTaskLifecycleOverHTTP(t *testing.T) {
	app := newTestApp(t)

	code, _ := call(t, app, http.MethodPut, "/api/v1/assets/status", agentToken,
		`{"type_id":"meter","asset_id":"m-1","status":"Good"}`)
	require.Equal(t, http.StatusOK, code)

	code, body := call(t, app, http.MethodPost, "/api/v1/tasks", adminToken,
		`{"id":"inst-1","operation":"Install","payload":{"package_id":"fw-2.1"},"assets":[{"type_id":"meter","asset_id":"m-1"}]}`)
	require.Equal(t, http.StatusCreated, code, string(body))

	code, body = call(t, app, http.MethodPost, "/api/v1/tasks/inst-1/start", adminToken, "")
	require.Equal(t, http.StatusAccepted, code, string(body))
	var dispatched dto.DispatchResponse
	require.NoError(t, json.Unmarshal(body, &dispatched))
	require.Len(t, dispatched.Outcomes, 1)
	assert.Equal(t, domain.AssetStatusInProgress, dispatched.Outcomes[0].Status)

	code, body = call(t, app, http.MethodPost, "/api/v1/tasks/inst-1/start", adminToken, "")
	assert.Equal(t, http.StatusConflict, code)
	var apiErr dto.ErrorResponse
	require.NoError(t, json.Unmarshal(body, &apiErr))
	assert.Equal(t, services.ErrCodeTaskNotScheduled, apiErr.TextCode)
	assert.Equal(t, 1004, apiErr.Code)

	code, _ = call(t, app, http.MethodPost, "/api/v1/responses", agentToken,
		`{"message_id":"inst-1","operation":"Install","type_id":"meter","asset_id":"m-1","result":"Succeed"}`)
	assert.Equal(t, http.StatusAccepted, code)

	code, body = call(t, app, http.MethodGet, "/api/v1/tasks/inst-1", adminToken, "")
	require.Equal(t, http.StatusOK, code)
	var task dto.TaskResponse
	require.NoError(t, json.Unmarshal(body, &task))
	assert.Equal(t, domain.TaskStatusComplete, task.Status)
	assert.Equal(t, domain.AssetStatusComplete, task.Assets[0].Status)

	code, body = call(t, app, http.MethodGet, "/api/v1/tasks/inst-1/audit", adminToken, "")
	require.Equal(t, http.StatusOK, code)
	var audit struct {
		Events []domain.AuditEvent `json:"events"`
	}
	require.NoError(t, json.Unmarshal(body, &audit))
	assert.Len(t, audit.Events, 2)
}

func TestTaskRequestValidation(t *testing.T) {
	app := newTestApp(t)

	code, _ := call(t, app, http.MethodPost, "/api/v1/tasks", adminToken, `{"operation":`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, body := call(t, app, http.MethodPost, "/api/v1/tasks", adminToken, `{"operation":"Format","assets":[]}`)
	assert.Equal(t, http.StatusBadRequest, code)
	var apiErr dto.ErrorResponse
	require.NoError(t, json.Unmarshal(body, &apiErr))
	assert.Equal(t, "validation failed", apiErr.Error)
	assert.Len(t, apiErr.Details, 2)

	code, body = call(t, app, http.MethodPost, "/api/v1/tasks", adminToken,
		`{"operation":"Install","assets":[{"type_id":"meter","asset_id":"m-1"}]}`)
	assert.Equal(t, http.StatusBadRequest, code)
	require.NoError(t, json.Unmarshal(body, &apiErr))
	assert.Equal(t, services.ErrCodeTaskInvalidInput, apiErr.TextCode)

	code, _ = call(t, app, http.MethodGet, "/api/v1/tasks/a*b", adminToken, "")
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = call(t, app, http.MethodGet, "/api/v1/tasks/missing", adminToken, "")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestAssetStatusRoutes(t *testing.T) {
	app := newTestApp(t)

	code, _ := call(t, app, http.MethodPut, "/api/v1/assets/status", agentToken,
		`{"type_id":"gateway","asset_id":"gw-1","status":"Bogus"}`)
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = call(t, app, http.MethodPut, "/api/v1/assets/status", agentToken,
		`{"type_id":"gateway","asset_id":"gw-1","status":"Good","sub_assets":[{"type_id":"meter","asset_id":"m-1","status":"Missing"}]}`)
	require.Equal(t, http.StatusOK, code)

	code, body := call(t, app, http.MethodGet, "/api/v1/assets/gateway/gw-1", adminToken, "")
	require.Equal(t, http.StatusOK, code)
	var state domain.AssetState
	require.NoError(t, json.Unmarshal(body, &state))
	require.Len(t, state.SubAssets, 1)
	assert.Equal(t, domain.LivenessMissing, state.SubAssets[0].Liveness)

	code, _ = call(t, app, http.MethodGet, "/api/v1/assets/gateway/gw-9", adminToken, "")
	assert.Equal(t, http.StatusNotFound, code)
}
