package domain

import "time"

// SubAssetState is a child device as known to the asset directory.
type SubAssetState struct {
	Key      AssetKey `json:"key"`
	Liveness Liveness `json:"status"`
}

// AssetState is a directory snapshot of one device. A non-composite device
// has no sub-assets.
type AssetState struct {
	Key       AssetKey        `json:"key"`
	Liveness  Liveness        `json:"status"`
	SubAssets []SubAssetState `json:"sub_assets,omitempty"`
	UpdatedAt time.Time       `json:"updated_at"`
}

func (s AssetState) IsComposite() bool {
	return len(s.SubAssets) > 0
}

// HasSubType reports whether the device, or one of its sub-assets, has the
// given type.
func (s AssetState) HasSubType(typeID string) bool {
	if s.Key.TypeID == typeID {
		return true
	}
	for _, sub := range s.SubAssets {
		if sub.Key.TypeID == typeID {
			return true
		}
	}
	return false
}

// ReachableSubAssets returns the sub-assets that can still report.
func (s AssetState) ReachableSubAssets() AssetKeys {
	var out AssetKeys
	for _, sub := range s.SubAssets {
		if sub.Liveness != LivenessMissing {
			out = append(out, sub.Key)
		}
	}
	return out
}
