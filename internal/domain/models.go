package domain

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// ==================== JSONB TYPES ====================

type JSONB map[string]interface{}

func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	bytes, err := scanBytes(value)
	if err != nil {
		return err
	}
	return json.Unmarshal(bytes, j)
}

// Decode re-marshals the map into a typed payload.
func (j JSONB) Decode(out interface{}) error {
	raw, err := json.Marshal(j)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

func ToJSONB(v interface{}) (JSONB, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out JSONB
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func scanBytes(value interface{}) ([]byte, error) {
	switch v := value.(type) {
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	}
	return nil, errors.New("failed to scan JSON column: invalid type")
}

// ==================== ASSET KEYS ====================

// AssetKey identifies a physical device.
type AssetKey struct {
	TypeID  string `json:"type_id"`
	AssetID string `json:"asset_id"`
}

func (k AssetKey) String() string {
	return k.TypeID + "/" + k.AssetID
}

func (k AssetKey) IsZero() bool {
	return k.TypeID == "" && k.AssetID == ""
}

// AssetKeys is an ordered key list stored as a JSON column.
type AssetKeys []AssetKey

func (k AssetKeys) Value() (driver.Value, error) {
	if k == nil {
		return "[]", nil
	}
	raw, err := json.Marshal(k)
	if err != nil {
		return nil, err
	}
	return string(raw), nil
}

func (k *AssetKeys) Scan(value interface{}) error {
	if value == nil {
		*k = nil
		return nil
	}
	bytes, err := scanBytes(value)
	if err != nil {
		return err
	}
	return json.Unmarshal(bytes, k)
}

func (k AssetKeys) Contains(key AssetKey) bool {
	for _, c := range k {
		if c == key {
			return true
		}
	}
	return false
}

// ==================== ENTITIES ====================

// Task is one scheduled maintenance operation. Its ID doubles as the
// message id of every command dispatched for it.
type Task struct {
	ID        string    `gorm:"primaryKey;size:64" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Operation  OperationKind `gorm:"size:32;not null;index" json:"operation"`
	Status     TaskStatus    `gorm:"size:20;not null;default:'Scheduled';index" json:"status"`
	Payload    JSONB         `gorm:"type:jsonb" json:"payload,omitempty"`
	NextTaskID string        `gorm:"size:64" json:"next_task_id,omitempty"`

	Assets []TaskAsset `gorm:"foreignKey:TaskID;references:ID;constraint:OnDelete:CASCADE" json:"assets"`
}

// TaskAsset is the per-device work item within a task.
type TaskAsset struct {
	TaskID  string `gorm:"primaryKey;size:64" json:"task_id"`
	TypeID  string `gorm:"primaryKey;size:64" json:"type_id"`
	AssetID string `gorm:"primaryKey;size:128" json:"asset_id"`

	Position  int         `gorm:"not null;default:0" json:"position"`
	Status    AssetStatus `gorm:"size:20;not null;default:'Scheduled';index" json:"status"`
	SessionID string      `gorm:"size:64" json:"session_id,omitempty"`

	// ExpectedSubAssets is fixed at dispatch for composite operations. A
	// device without sub-assets expects a report from itself.
	ExpectedSubAssets AssetKeys `gorm:"type:jsonb" json:"expected_sub_assets,omitempty"`

	StartedAt *time.Time `json:"started_at,omitempty"`
	UpdatedAt time.Time  `json:"updated_at"`
}

func (a TaskAsset) Key() AssetKey {
	return AssetKey{TypeID: a.TypeID, AssetID: a.AssetID}
}

// SubAssetRecord is one report of an independently reporting child device.
// ErrorCode and ErrorMessage are empty strings when absent, never NULL.
type SubAssetRecord struct {
	TaskID     string `gorm:"primaryKey;size:64" json:"task_id"`
	TypeID     string `gorm:"primaryKey;size:64" json:"type_id"`
	AssetID    string `gorm:"primaryKey;size:128" json:"asset_id"`
	SubTypeID  string `gorm:"primaryKey;size:64" json:"sub_type_id"`
	SubAssetID string `gorm:"primaryKey;size:128" json:"sub_asset_id"`

	Status       ResultCode `gorm:"size:32;not null" json:"status"`
	ErrorCode    string     `gorm:"size:128;not null;default:''" json:"error_code"`
	ErrorMessage string     `gorm:"type:text;not null;default:''" json:"error_message"`
	LogRef       string     `gorm:"size:512;not null;default:''" json:"log_ref,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

func (r SubAssetRecord) OwnerKey() AssetKey {
	return AssetKey{TypeID: r.TypeID, AssetID: r.AssetID}
}

func (r SubAssetRecord) SubKey() AssetKey {
	return AssetKey{TypeID: r.SubTypeID, AssetID: r.SubAssetID}
}

func (r SubAssetRecord) RecordKey() SubAssetRecordKey {
	return SubAssetRecordKey{TaskID: r.TaskID, Owner: r.OwnerKey(), Sub: r.SubKey()}
}

// SubAssetRecordKey is the composite key of a SubAssetRecord.
type SubAssetRecordKey struct {
	TaskID string
	Owner  AssetKey
	Sub    AssetKey
}

// RecordKeysFor expands the expected sub-asset set of an owner into keys.
func RecordKeysFor(taskID string, owner AssetKey, subs AssetKeys) []SubAssetRecordKey {
	keys := make([]SubAssetRecordKey, 0, len(subs))
	for _, s := range subs {
		keys = append(keys, SubAssetRecordKey{TaskID: taskID, Owner: owner, Sub: s})
	}
	return keys
}
