package mqtt

import (
	"context"

	"github.com/fleetmaint/backend/internal/core/ports"
	"github.com/fleetmaint/backend/internal/domain"
	"github.com/fleetmaint/backend/internal/infrastructure/logger"
)

// OfflineTransport stands in for the broker when mqtt is disabled. Commands
// are logged with the topic they would have used; responses then arrive over
// the HTTP relay.
type OfflineTransport struct {
	prefix string
	log    *logger.Logger
}

func NewOfflineTransport(prefix string, log *logger.Logger) *OfflineTransport {
	return &OfflineTransport{prefix: prefix, log: log}
}

var _ ports.CommandTransport = (*OfflineTransport)(nil)

func (t *OfflineTransport) Send(ctx context.Context, cmd domain.Command) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.log.Infow("mqtt_offline_command",
		"topic", CommandTopic(t.prefix, cmd),
		"task_id", cmd.MessageID,
		"session_id", cmd.SessionID,
		"operation", cmd.Operation,
	)
	return nil
}

func (t *OfflineTransport) ReleaseRetained(ctx context.Context, topic string) error {
	return nil
}
