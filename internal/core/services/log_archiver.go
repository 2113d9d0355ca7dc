package services

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/fleetmaint/backend/internal/core/ports"
	"github.com/fleetmaint/backend/internal/domain"
	"github.com/fleetmaint/backend/internal/infrastructure/logger"
	"github.com/segmentio/ksuid"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"
)

type LogArchiverConfig struct {
	FS               afero.Fs
	Root             string
	Transfer         ports.FileTransfer
	Archiver         ports.Archiver
	Storage          ports.ObjectStorage
	KeyPrefix        string
	FetchConcurrency int
	Logger           *logger.Logger
}

// LogArchiver collects the logs reported for one owner asset, packages them
// with a manifest and uploads the archive.
type LogArchiver struct {
	fs          afero.Fs
	root        string
	transfer    ports.FileTransfer
	archiver    ports.Archiver
	storage     ports.ObjectStorage
	keyPrefix   string
	concurrency int
	logger      *logger.Logger
}

func NewLogArchiver(cfg LogArchiverConfig) *LogArchiver {
	if cfg.FS == nil {
		cfg.FS = afero.NewOsFs()
	}
	if cfg.Root == "" {
		cfg.Root = "/tmp/fleetmaint"
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "logs"
	}
	if cfg.FetchConcurrency <= 0 {
		cfg.FetchConcurrency = 4
	}
	return &LogArchiver{
		fs:          cfg.FS,
		root:        cfg.Root,
		transfer:    cfg.Transfer,
		archiver:    cfg.Archiver,
		storage:     cfg.Storage,
		keyPrefix:   cfg.KeyPrefix,
		concurrency: cfg.FetchConcurrency,
		logger:      cfg.Logger,
	}
}

// ObjectKey is the storage key of the log archive of one owner asset.
func ObjectKey(prefix, taskID string, owner domain.AssetKey) string {
	return fmt.Sprintf("%s/%s/%s/%s.zip", prefix, safeSegment(owner.TypeID), safeSegment(owner.AssetID), safeSegment(taskID))
}

func safeSegment(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '.', r == '_':
			return r
		}
		return '_'
	}, s)
}

// Run fetches, archives and uploads. The working directory is removed on
// every exit path.
func (a *LogArchiver) Run(ctx context.Context, taskID string, owner domain.AssetKey, records []domain.SubAssetRecord) (string, error) {
	meta := map[string]any{"task_id": taskID, "asset": owner.String()}

	dir := path.Join(a.root, fmt.Sprintf("%s_%s_%s_%s",
		safeSegment(taskID), safeSegment(owner.TypeID), safeSegment(owner.AssetID), ksuid.New().String()))
	if err := a.fs.MkdirAll(dir, 0o755); err != nil {
		return "", raise(ErrLogWorkdir, err, meta)
	}
	defer func() {
		if err := a.fs.RemoveAll(dir); err != nil {
			a.logger.Warnw("log_workdir_cleanup_failed", "dir", dir, "error", err)
		}
	}()

	entries, err := a.fetchAll(ctx, dir, records)
	if err != nil {
		return "", raise(ErrLogFetch, err, meta)
	}

	manifest := domain.ArchiveManifest{TaskID: taskID, Asset: owner, Entries: entries}
	archivePath, err := a.archiver.Archive(ctx, a.fs, dir, manifest)
	if err != nil {
		return "", raise(ErrLogArchive, err, meta)
	}

	key, err := a.upload(ctx, ObjectKey(a.keyPrefix, taskID, owner), archivePath)
	if err != nil {
		return "", raise(ErrLogUpload, err, meta)
	}
	a.logger.Infow("log_archive_uploaded", "task_id", taskID, "asset", owner.String(), "key", key, "entries", len(entries))
	return key, nil
}

// fetchAll downloads the log of every successful record. Records without a
// log keep an entry with an empty path.
func (a *LogArchiver) fetchAll(ctx context.Context, dir string, records []domain.SubAssetRecord) ([]domain.ManifestEntry, error) {
	entries := make([]domain.ManifestEntry, len(records))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.concurrency)

	for i, rec := range records {
		entries[i] = domain.ManifestEntry{
			SubAsset:     rec.SubKey(),
			Status:       rec.Status,
			ErrorCode:    rec.ErrorCode,
			ErrorMessage: rec.ErrorMessage,
		}
		if rec.Status != domain.ResultSucceed || rec.LogRef == "" {
			continue
		}
		g.Go(func() error {
			name := fmt.Sprintf("%s_%s%s", safeSegment(rec.SubTypeID), safeSegment(rec.SubAssetID), path.Ext(rec.LogRef))
			if err := a.fetchOne(gctx, rec.LogRef, path.Join(dir, name)); err != nil {
				return fmt.Errorf("fetch %s: %w", rec.LogRef, err)
			}
			entries[i].Path = name
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return entries, nil
}

func (a *LogArchiver) fetchOne(ctx context.Context, ref, dst string) error {
	rc, err := a.transfer.Fetch(ctx, ref)
	if err != nil {
		return err
	}
	defer rc.Close()

	f, err := a.fs.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, rc); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

type uploadResult struct {
	key string
	err error
}

// upload streams the archive to object storage. The upload is raced against
// read errors of the source file so a broken stream fails fast.
func (a *LogArchiver) upload(ctx context.Context, key, archivePath string) (string, error) {
	f, err := a.fs.Open(archivePath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	src := newWatchedReader(f)
	done := make(chan uploadResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- uploadResult{err: fmt.Errorf("upload panic: %v", r)}
			}
		}()
		stored, err := a.storage.Upload(ctx, key, src, info.Size())
		done <- uploadResult{key: stored, err: err}
	}()

	select {
	case res := <-done:
		return res.key, res.err
	case err := <-src.errc:
		return "", fmt.Errorf("read archive: %w", err)
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// watchedReader reports the first non-EOF read error on errc.
type watchedReader struct {
	r    io.Reader
	errc chan error
}

func newWatchedReader(r io.Reader) *watchedReader {
	return &watchedReader{r: r, errc: make(chan error, 1)}
}

func (w *watchedReader) Read(p []byte) (int, error) {
	n, err := w.r.Read(p)
	if err != nil && err != io.EOF {
		select {
		case w.errc <- err:
		default:
		}
	}
	return n, err
}
