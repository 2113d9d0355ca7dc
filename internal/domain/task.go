package domain

import (
	"errors"
	"fmt"
)

// PackagePayload is the payload of DownloadPackage and Install tasks.
// TargetTypeID names the sub-asset type the package is built for; empty
// means the device itself.
type PackagePayload struct {
	PackageID    string `json:"package_id"`
	Version      string `json:"version"`
	URL          string `json:"url,omitempty"`
	Checksum     string `json:"checksum,omitempty"`
	TargetTypeID string `json:"target_type_id,omitempty"`
}

// MemoPayload is the payload of Reboot and SelfTest tasks.
type MemoPayload struct {
	Memo string `json:"memo,omitempty"`
}

// LogPayload is the payload of RetrieveLog tasks.
type LogPayload struct {
	Since string `json:"since,omitempty"`
	Until string `json:"until,omitempty"`
	Memo  string `json:"memo,omitempty"`
}

// CommandPayload decodes and checks the task payload for its operation and
// returns the body sent to devices.
func (t *Task) CommandPayload() (JSONB, error) {
	switch t.Operation {
	case OperationDownloadPackage, OperationInstall:
		var p PackagePayload
		if err := t.Payload.Decode(&p); err != nil {
			return nil, fmt.Errorf("decode package payload: %w", err)
		}
		if p.PackageID == "" {
			return nil, errors.New("package payload: package_id is required")
		}
		return ToJSONB(p)
	case OperationReboot, OperationSelfTest:
		var p MemoPayload
		if err := t.Payload.Decode(&p); err != nil {
			return nil, fmt.Errorf("decode memo payload: %w", err)
		}
		return ToJSONB(p)
	case OperationRetrieveLog:
		var p LogPayload
		if err := t.Payload.Decode(&p); err != nil {
			return nil, fmt.Errorf("decode log payload: %w", err)
		}
		return ToJSONB(p)
	}
	return nil, fmt.Errorf("unsupported operation %q", t.Operation)
}

// RequiredSubType returns the sub-asset type a package task needs on the
// target, if any.
func (t *Task) RequiredSubType() string {
	if t.Operation != OperationDownloadPackage && t.Operation != OperationInstall {
		return ""
	}
	var p PackagePayload
	if err := t.Payload.Decode(&p); err != nil {
		return ""
	}
	return p.TargetTypeID
}

func (t *Task) Asset(key AssetKey) (*TaskAsset, bool) {
	for i := range t.Assets {
		if t.Assets[i].Key() == key {
			return &t.Assets[i], true
		}
	}
	return nil, false
}
