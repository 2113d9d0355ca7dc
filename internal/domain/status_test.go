package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAssetStatusTransitions(t *testing.T) {
	all := []AssetStatus{
		AssetStatusScheduled, AssetStatusInProgress, AssetStatusComplete,
		AssetStatusConnectionError, AssetStatusDeviceError, AssetStatusSystemError,
	}
	for _, from := range all {
		for _, to := range all {
			want := (from == AssetStatusScheduled && to == AssetStatusInProgress) ||
				(from == AssetStatusInProgress && to.IsTerminal())
			assert.Equal(t, want, from.CanTransition(to), "%s -> %s", from, to)
		}
	}

	assert.True(t, AssetStatusScheduled.IsPending())
	assert.False(t, AssetStatusComplete.IsFailure())
	assert.True(t, AssetStatusSystemError.IsFailure())
	assert.False(t, ResultAccepted.IsTerminal())
	assert.True(t, LivenessMissing.Valid())
	assert.False(t, Liveness("Unknown").Valid())
}

func TestTaskStatusTransitions(t *testing.T) {
	assert.True(t, TaskStatusScheduled.CanTransition(TaskStatusInProgress))
	assert.False(t, TaskStatusScheduled.CanTransition(TaskStatusComplete))
	assert.True(t, TaskStatusInProgress.CanTransition(TaskStatusFailure))
	assert.False(t, TaskStatusComplete.CanTransition(TaskStatusFailure))
	assert.False(t, TaskStatusFailure.CanTransition(TaskStatusInProgress))
}

func TestErrorResultMapping(t *testing.T) {
	r, ok := AssetStatusConnectionError.ErrorResult()
	assert.True(t, ok)
	assert.Equal(t, ErrorResultConnectionError, r)

	r, ok = AssetStatusSystemError.ErrorResult()
	assert.True(t, ok)
	assert.Equal(t, ErrorResultSystemError, r)

	_, ok = AssetStatusComplete.ErrorResult()
	assert.False(t, ok)
}

func TestOperationKinds(t *testing.T) {
	for _, k := range OperationKinds {
		parsed, err := ParseOperationKind(string(k))
		assert.NoError(t, err)
		assert.Equal(t, k, parsed)
		assert.NotEqual(t, "unknown", k.Topic())
	}
	_, err := ParseOperationKind("Format")
	assert.Error(t, err)

	assert.False(t, OperationInstall.IsComposite())
	assert.True(t, OperationRetrieveLog.IsComposite())
	assert.False(t, OperationRetrieveLog.TracksSubOperations())
	assert.True(t, OperationSelfTest.TracksSubOperations())
}

func TestAssetStateHelpers(t *testing.T) {
	gw := AssetKey{TypeID: "gateway", AssetID: "gw-1"}
	a := AssetKey{TypeID: "meter", AssetID: "m-1"}
	b := AssetKey{TypeID: "modem", AssetID: "x-1"}
	state := AssetState{Key: gw, Liveness: LivenessGood, SubAssets: []SubAssetState{
		{Key: a, Liveness: LivenessGood},
		{Key: b, Liveness: LivenessMissing},
	}}

	assert.True(t, state.IsComposite())
	assert.True(t, state.HasSubType("gateway"))
	assert.True(t, state.HasSubType("modem"))
	assert.False(t, state.HasSubType("camera"))
	assert.Equal(t, AssetKeys{a}, state.ReachableSubAssets())
}
