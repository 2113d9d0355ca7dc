package ports

import (
	"context"
	"io"

	"github.com/fleetmaint/backend/internal/domain"
	"github.com/spf13/afero"
)

// SessionManager allocates per-exchange correlation sessions.
type SessionManager interface {
	Open(ctx context.Context, taskID string, key domain.AssetKey) (domain.Session, error)
	Close(ctx context.Context, sessionID string) error
}

// CommandTransport publishes commands and clears retained responses.
type CommandTransport interface {
	Send(ctx context.Context, cmd domain.Command) error
	ReleaseRetained(ctx context.Context, topic string) error
}

// FileTransfer fetches log files reported by devices.
type FileTransfer interface {
	Fetch(ctx context.Context, remoteRef string) (io.ReadCloser, error)
}

// Archiver packages a working directory into a single archive file and
// returns its path on fs.
type Archiver interface {
	Archive(ctx context.Context, fs afero.Fs, dir string, manifest domain.ArchiveManifest) (string, error)
}

// ObjectStorage stores archives under a key and returns the stored key.
type ObjectStorage interface {
	Upload(ctx context.Context, key string, r io.Reader, size int64) (string, error)
}

// TaskKicker starts a task out of band.
type TaskKicker interface {
	Kick(ctx context.Context, taskID string) error
}

// DispatchOutcome is the per-asset result of a dispatch loop.
type DispatchOutcome struct {
	Asset     domain.AssetKey    `json:"asset"`
	Status    domain.AssetStatus `json:"status"`
	SessionID string             `json:"session_id,omitempty"`
	Error     string             `json:"error,omitempty"`
}

// TaskEngine is the entry point used by the HTTP surface and transports.
type TaskEngine interface {
	CreateTask(ctx context.Context, input CreateTaskInput) (*domain.Task, error)
	GetTask(ctx context.Context, taskID string) (*domain.Task, error)
	ListSubAssetRecords(ctx context.Context, taskID string) ([]domain.SubAssetRecord, error)
	StartTask(ctx context.Context, taskID string) ([]DispatchOutcome, error)
	DispatchPending(ctx context.Context, taskID string) ([]DispatchOutcome, error)
	HandleResponse(ctx context.Context, msg domain.InboundMessage)
}

type CreateTaskInput struct {
	ID         string
	Operation  domain.OperationKind
	Payload    domain.JSONB
	Assets     []domain.AssetKey
	NextTaskID string
}
