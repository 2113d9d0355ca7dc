package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/fleetmaint/backend/internal/config"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAuthApp(cfg *config.Config) *fiber.App {
	app := fiber.New()
	ok := func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusNoContent) }
	app.Get("/admin", AdminAuth(cfg), ok)
	app.Get("/agent", AgentAuth(cfg), ok)
	return app
}

func status(t *testing.T, app *fiber.App, path string, headers map[string]string) (int, string) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestTokenAuth(t *testing.T) {
	cfg := &config.Config{Auth: config.AuthConfig{AdminAPIKey: "admin-secret", AgentToken: "agent-secret"}}
	app := newAuthApp(cfg)

	tests := []struct {
		name    string
		path    string
		headers map[string]string
		want    int
	}{
		{"admin header", "/admin", map[string]string{AdminTokenHeader: "admin-secret"}, http.StatusNoContent},
		{"admin bearer", "/admin", map[string]string{"Authorization": "Bearer admin-secret"}, http.StatusNoContent},
		{"admin missing", "/admin", nil, http.StatusUnauthorized},
		{"admin wrong", "/admin", map[string]string{AdminTokenHeader: "admin-secreT"}, http.StatusUnauthorized},
		{"admin prefix only", "/admin", map[string]string{AdminTokenHeader: "admin"}, http.StatusUnauthorized},
		{"agent token on admin", "/admin", map[string]string{"Authorization": "Bearer agent-secret"}, http.StatusUnauthorized},
		{"agent header", "/agent", map[string]string{AgentTokenHeader: "agent-secret"}, http.StatusNoContent},
		{"basic scheme", "/agent", map[string]string{"Authorization": "Basic agent-secret"}, http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, body := status(t, app, tt.path, tt.headers)
			assert.Equal(t, tt.want, code)
			if code == http.StatusUnauthorized {
				assert.Contains(t, body, `"text_code":"UNAUTHORIZED"`)
			}
		})
	}
}

func TestTokenAuthOpenWithoutSecret(t *testing.T) {
	app := newAuthApp(&config.Config{})
	code, _ := status(t, app, "/admin", nil)
	assert.Equal(t, http.StatusNoContent, code)
	code, _ = status(t, app, "/agent", nil)
	assert.Equal(t, http.StatusNoContent, code)
}
