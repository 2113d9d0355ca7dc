package domain

// ManifestEntry describes one expected sub-asset in a log archive. Path is
// empty when the sub-asset did not produce a log.
type ManifestEntry struct {
	SubAsset     AssetKey   `json:"sub_asset"`
	Status       ResultCode `json:"status"`
	ErrorCode    string     `json:"error_code"`
	ErrorMessage string     `json:"error_message"`
	Path         string     `json:"path"`
}

// ArchiveManifest is written into every log archive.
type ArchiveManifest struct {
	TaskID  string          `json:"task_id"`
	Asset   AssetKey        `json:"asset"`
	Entries []ManifestEntry `json:"entries"`
}
