package directory

import (
	"context"
	"testing"

	"github.com/fleetmaint/backend/internal/core/ports"
	"github.com/fleetmaint/backend/internal/domain"
	"github.com/fleetmaint/backend/internal/infrastructure/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	gateway = domain.AssetKey{TypeID: "gateway", AssetID: "gw-1"}
	meterA  = domain.AssetKey{TypeID: "meter", AssetID: "m-1"}
	meterB  = domain.AssetKey{TypeID: "meter", AssetID: "m-2"}
)

func newRegistry(t *testing.T) ports.AssetRegistry {
	t.Helper()
	r, err := NewRegistry(logger.NewNop())
	require.NoError(t, err)
	return r
}

func TestRegistryResolveOwnerOrSelf(t *testing.T) {
	ctx := context.Background()
	r := newRegistry(t)

	require.NoError(t, r.Upsert(ctx, domain.AssetState{
		Key:      gateway,
		Liveness: domain.LivenessGood,
		SubAssets: []domain.SubAssetState{
			{Key: meterA, Liveness: domain.LivenessGood},
			{Key: meterB, Liveness: domain.LivenessMissing},
		},
	}))

	owner, err := r.ResolveOwnerOrSelf(ctx, meterB)
	require.NoError(t, err)
	assert.Equal(t, gateway, owner)

	owner, err = r.ResolveOwnerOrSelf(ctx, gateway)
	require.NoError(t, err)
	assert.Equal(t, gateway, owner)

	_, err = r.ResolveOwnerOrSelf(ctx, domain.AssetKey{TypeID: "meter", AssetID: "ghost"})
	assert.ErrorIs(t, err, ports.ErrAssetUnknown)

	state, err := r.GetAssetStatus(ctx, gateway)
	require.NoError(t, err)
	assert.True(t, state.IsComposite())
	assert.Equal(t, domain.AssetKeys{meterA}, state.ReachableSubAssets())
}

func TestRegistryUpsertReplacesLinks(t *testing.T) {
	ctx := context.Background()
	r := newRegistry(t)

	require.NoError(t, r.Upsert(ctx, domain.AssetState{
		Key: gateway, Liveness: domain.LivenessGood,
		SubAssets: []domain.SubAssetState{{Key: meterA, Liveness: domain.LivenessGood}},
	}))
	require.NoError(t, r.Upsert(ctx, domain.AssetState{Key: gateway, Liveness: domain.LivenessError}))

	_, err := r.ResolveOwnerOrSelf(ctx, meterA)
	assert.ErrorIs(t, err, ports.ErrAssetUnknown)

	states, err := r.GetMany(ctx, []domain.AssetKey{meterA, gateway})
	require.NoError(t, err)
	require.Len(t, states, 1)
	assert.Equal(t, domain.LivenessError, states[0].Liveness)
}

func TestRegistryRejectsInvalidState(t *testing.T) {
	r := newRegistry(t)
	err := r.Upsert(context.Background(), domain.AssetState{Key: gateway, Liveness: "Sleeping"})
	assert.ErrorIs(t, err, ports.ErrInvalidAsset)
}

func TestDecodeStatusReport(t *testing.T) {
	state, err := DecodeStatusReport([]byte(`{"status":"Good","sub_assets":[{"type_id":"meter","asset_id":"m-1","status":"Missing"}]}`), gateway)
	require.NoError(t, err)
	assert.Equal(t, gateway, state.Key)
	require.Len(t, state.SubAssets, 1)
	assert.Equal(t, domain.LivenessMissing, state.SubAssets[0].Liveness)

	_, err = DecodeStatusReport([]byte(`{"status":"Good"}`), domain.AssetKey{})
	assert.ErrorIs(t, err, ports.ErrInvalidAsset)
}
