package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"
	"sync"

	"github.com/fleetmaint/backend/internal/core/ports"
	"github.com/fleetmaint/backend/internal/infrastructure/logger"
	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

var ErrInvalidRef = errors.New("sftp: invalid log reference")

// SFTPFetcher reads device log files from the log host. The SSH connection
// is shared and re-dialed after a failure.
type SFTPFetcher struct {
	client  *SSHClient
	baseDir string
	log     *logger.Logger

	mu   sync.Mutex
	conn *ssh.Client
}

func NewSFTPFetcher(client *SSHClient, baseDir string, log *logger.Logger) *SFTPFetcher {
	return &SFTPFetcher{client: client, baseDir: baseDir, log: log}
}

var _ ports.FileTransfer = (*SFTPFetcher)(nil)

// ResolvePath maps a log reference onto a path below baseDir. References may
// be plain paths or sftp:// URLs.
func ResolvePath(baseDir, ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", ErrInvalidRef
	}
	if strings.HasPrefix(ref, "sftp://") {
		u, err := url.Parse(ref)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrInvalidRef, err)
		}
		ref = u.Path
	}

	p := ref
	if baseDir != "" {
		base := path.Clean(baseDir)
		p = path.Join(base, strings.TrimPrefix(path.Clean("/"+ref), base))
		if p != base && !strings.HasPrefix(p, base+"/") {
			return "", fmt.Errorf("%w: %q escapes %q", ErrInvalidRef, ref, baseDir)
		}
		return p, nil
	}
	return path.Clean(p), nil
}

func (f *SFTPFetcher) connection(ctx context.Context) (*ssh.Client, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.conn != nil {
		return f.conn, nil
	}
	conn, err := f.client.ConnectWithRetry(ctx)
	if err != nil {
		return nil, err
	}
	f.conn = conn
	return conn, nil
}

func (f *SFTPFetcher) drop(conn *ssh.Client) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.conn == conn {
		f.conn.Close()
		f.conn = nil
	}
}

func (f *SFTPFetcher) Fetch(ctx context.Context, remoteRef string) (io.ReadCloser, error) {
	p, err := ResolvePath(f.baseDir, remoteRef)
	if err != nil {
		return nil, err
	}
	conn, err := f.connection(ctx)
	if err != nil {
		return nil, err
	}

	sc, err := sftp.NewClient(conn)
	if err != nil {
		f.drop(conn)
		return nil, fmt.Errorf("failed to create sftp client: %w", err)
	}
	file, err := sc.Open(p)
	if err != nil {
		sc.Close()
		return nil, fmt.Errorf("open %s: %w", p, err)
	}
	f.log.Debugw("sftp_fetch_open", "path", p)
	return &remoteFile{File: file, client: sc}, nil
}

// Close releases the shared connection.
func (f *SFTPFetcher) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.conn == nil {
		return nil
	}
	err := f.conn.Close()
	f.conn = nil
	return err
}

type remoteFile struct {
	*sftp.File
	client *sftp.Client
}

func (r *remoteFile) Close() error {
	ferr := r.File.Close()
	cerr := r.client.Close()
	if ferr != nil {
		return ferr
	}
	return cerr
}
