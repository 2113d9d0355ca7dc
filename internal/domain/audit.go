package domain

import "time"

// AuditKind is the lifecycle point an audit row records.
type AuditKind string

const (
	AuditKindExecute AuditKind = "execute"
	AuditKindSuccess AuditKind = "success"
	AuditKindFail    AuditKind = "fail"
)

// AuditEvent is one row of the operation audit trail.
type AuditEvent struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`

	TaskID      string        `gorm:"size:64;not null;index" json:"task_id"`
	TypeID      string        `gorm:"size:64;not null" json:"type_id"`
	AssetID     string        `gorm:"size:128;not null" json:"asset_id"`
	Operation   OperationKind `gorm:"size:32;not null" json:"operation"`
	Kind        AuditKind     `gorm:"size:16;not null;index" json:"kind"`
	ErrorResult ErrorResult   `gorm:"size:32;not null;default:''" json:"error_result,omitempty"`
	Meta        JSONB         `gorm:"type:jsonb" json:"meta,omitempty"`
}

// AuditEntry is what the engine hands to the audit log.
type AuditEntry struct {
	TaskID    string
	Asset     AssetKey
	Operation OperationKind
	Meta      JSONB
}

func (e AuditEntry) Event(kind AuditKind, result ErrorResult) *AuditEvent {
	return &AuditEvent{
		TaskID:      e.TaskID,
		TypeID:      e.Asset.TypeID,
		AssetID:     e.Asset.AssetID,
		Operation:   e.Operation,
		Kind:        kind,
		ErrorResult: result,
		Meta:        e.Meta,
		CreatedAt:   time.Now(),
	}
}
