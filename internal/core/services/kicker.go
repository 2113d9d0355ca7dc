package services

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/fleetmaint/backend/internal/core/ports"
	"github.com/gofiber/fiber/v2"
)

// HTTPKicker starts a task by calling the kickoff endpoint of a server.
type HTTPKicker struct {
	baseURL string
	token   string
	timeout time.Duration
}

func NewHTTPKicker(baseURL, adminToken string, timeout time.Duration) *HTTPKicker {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPKicker{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   adminToken,
		timeout: timeout,
	}
}

var _ ports.TaskKicker = (*HTTPKicker)(nil)

func (k *HTTPKicker) Kick(ctx context.Context, taskID string) error {
	timeout := k.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left < timeout {
			timeout = left
		}
	}
	if timeout <= 0 {
		return context.DeadlineExceeded
	}

	agent := fiber.Post(fmt.Sprintf("%s/api/v1/tasks/%s/kickoff", k.baseURL, url.PathEscape(taskID)))
	agent.Timeout(timeout)
	if k.token != "" {
		agent.Set("X-Admin-Token", k.token)
	}

	code, body, errs := agent.Bytes()
	if len(errs) > 0 {
		return fmt.Errorf("kickoff %s: %w", taskID, errs[0])
	}
	if code < fiber.StatusOK || code >= fiber.StatusMultipleChoices {
		return fmt.Errorf("kickoff %s: unexpected status %d: %s", taskID, code, strings.TrimSpace(string(body)))
	}
	return nil
}
