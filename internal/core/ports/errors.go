package ports

import "errors"

// Store and directory errors shared by every implementation.
var (
	ErrNotFound      = errors.New("store: record not found")
	ErrDuplicate     = errors.New("store: record already exists")
	ErrAssetUnknown  = errors.New("directory: asset not found")
	ErrInvalidAsset  = errors.New("directory: invalid asset data")
	ErrNoSession     = errors.New("session: not found")
	ErrSessionExists = errors.New("session: outstanding session for asset")
)
