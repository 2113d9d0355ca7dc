package objectstore

import (
	"context"
	"strings"
	"testing"

	"github.com/fleetmaint/backend/internal/config"
	"github.com/fleetmaint/backend/internal/infrastructure/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStorageUploadReplaces(t *testing.T) {
	s := NewMemoryStorage()
	ctx := context.Background()

	key, err := s.Upload(ctx, "logs/gateway/gw-1/t-1.zip", strings.NewReader("first"), 5)
	require.NoError(t, err)
	assert.Equal(t, "logs/gateway/gw-1/t-1.zip", key)

	_, err = s.Upload(ctx, key, strings.NewReader("second"), 6)
	require.NoError(t, err)

	body, ok := s.Get(key)
	require.True(t, ok)
	assert.Equal(t, "second", string(body))
	assert.Len(t, s.Keys(), 1)
}

func TestNewMinIOStorageRequiresEndpoint(t *testing.T) {
	_, err := NewMinIOStorage(config.ObjectStorageConfig{}, logger.NewNop())
	assert.Error(t, err)

	s, err := NewMinIOStorage(config.ObjectStorageConfig{Endpoint: "localhost:9000"}, logger.NewNop())
	require.NoError(t, err)
	assert.Equal(t, "fleet-logs", s.bucket)
}
