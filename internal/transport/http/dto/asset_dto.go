package dto

import (
	"github.com/fleetmaint/backend/internal/domain"
	validation "github.com/go-ozzo/ozzo-validation/v4"
)

type SubAssetStatus struct {
	TypeID  string `json:"type_id"`
	AssetID string `json:"asset_id"`
	Status  string `json:"status"`
}

func livenessValues() []interface{} {
	return []interface{}{string(domain.LivenessGood), string(domain.LivenessError), string(domain.LivenessMissing)}
}

func (s SubAssetStatus) Validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.TypeID, validation.Required),
		validation.Field(&s.AssetID, validation.Required),
		validation.Field(&s.Status, validation.Required, validation.In(livenessValues()...)),
	)
}

type AssetStatusRequest struct {
	TypeID    string           `json:"type_id"`
	AssetID   string           `json:"asset_id"`
	Status    string           `json:"status"`
	SubAssets []SubAssetStatus `json:"sub_assets,omitempty"`
}

func (r *AssetStatusRequest) Validate() []string {
	return flatten(validation.ValidateStruct(r,
		validation.Field(&r.TypeID, validation.Required, validation.Length(1, 64)),
		validation.Field(&r.AssetID, validation.Required, validation.Length(1, 128)),
		validation.Field(&r.Status, validation.Required, validation.In(livenessValues()...)),
		validation.Field(&r.SubAssets),
	))
}

func (r *AssetStatusRequest) State() domain.AssetState {
	state := domain.AssetState{
		Key:      domain.AssetKey{TypeID: r.TypeID, AssetID: r.AssetID},
		Liveness: domain.Liveness(r.Status),
	}
	for _, s := range r.SubAssets {
		state.SubAssets = append(state.SubAssets, domain.SubAssetState{
			Key:      domain.AssetKey{TypeID: s.TypeID, AssetID: s.AssetID},
			Liveness: domain.Liveness(s.Status),
		})
	}
	return state
}
