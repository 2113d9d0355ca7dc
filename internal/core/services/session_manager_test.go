package services

import (
	"context"
	"testing"

	"github.com/fleetmaint/backend/internal/core/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionManagerOneSessionPerAsset(t *testing.T) {
	ctx := context.Background()
	m := NewSessionManager("fleet")

	s, err := m.Open(ctx, "t-1", meterA)
	require.NoError(t, err)
	assert.NotEmpty(t, s.ID)
	assert.Equal(t, "t-1", s.MessageID)
	assert.Equal(t, "fleet", s.TopicPrefix)

	_, err = m.Open(ctx, "t-1", meterA)
	assert.ErrorIs(t, err, ports.ErrSessionExists)

	other, err := m.Open(ctx, "t-2", meterA)
	require.NoError(t, err)
	assert.NotEqual(t, s.ID, other.ID)
	assert.Equal(t, 2, m.Outstanding())

	got, err := m.Get(s.ID)
	require.NoError(t, err)
	assert.Equal(t, meterA, got.Asset)

	require.NoError(t, m.Close(ctx, s.ID))
	assert.ErrorIs(t, m.Close(ctx, s.ID), ports.ErrNoSession)

	_, err = m.Open(ctx, "t-1", meterA)
	assert.NoError(t, err)
}

func TestSessionManagerRespectsCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewSessionManager("fleet").Open(ctx, "t-1", meterA)
	assert.ErrorIs(t, err, context.Canceled)
}
