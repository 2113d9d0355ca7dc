package remote

import (
	"context"
	"fmt"
	"io"

	"github.com/fleetmaint/backend/internal/core/ports"
	"github.com/spf13/afero"
)

// LocalFetcher reads log files from a directory on the server itself, for
// deployments where devices upload into a shared mount instead of an SFTP
// host.
type LocalFetcher struct {
	fs afero.Fs
}

// NewLocalFetcher confines every reference to baseDir on fs.
func NewLocalFetcher(fs afero.Fs, baseDir string) *LocalFetcher {
	if baseDir != "" {
		fs = afero.NewBasePathFs(fs, baseDir)
	}
	return &LocalFetcher{fs: fs}
}

var _ ports.FileTransfer = (*LocalFetcher)(nil)

func (f *LocalFetcher) Fetch(ctx context.Context, remoteRef string) (io.ReadCloser, error) {
	p, err := ResolvePath("", remoteRef)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	file, err := f.fs.Open(p)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", p, err)
	}
	return file, nil
}
