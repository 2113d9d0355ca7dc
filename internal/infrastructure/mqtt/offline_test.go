package mqtt

import (
	"context"
	"testing"

	"github.com/fleetmaint/backend/internal/domain"
	"github.com/fleetmaint/backend/internal/infrastructure/logger"
	"github.com/stretchr/testify/assert"
)

func TestOfflineTransport(t *testing.T) {
	tr := NewOfflineTransport("fleet", logger.NewNop())
	cmd := domain.Command{Operation: domain.OperationReboot, Asset: domain.AssetKey{TypeID: "meter", AssetID: "m-1"}, MessageID: "rb-1"}

	assert.NoError(t, tr.Send(context.Background(), cmd))
	assert.NoError(t, tr.ReleaseRetained(context.Background(), "fleet/rsp/meter/m-1"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, tr.Send(ctx, cmd), context.Canceled)
}
