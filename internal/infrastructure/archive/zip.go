// Package archive packages collected device logs into a zip file.
package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/fleetmaint/backend/internal/core/ports"
	"github.com/fleetmaint/backend/internal/domain"
	"github.com/klauspost/compress/zip"
	"github.com/spf13/afero"
)

const (
	ManifestName = "manifest.json"
	ArchiveName  = "logs.zip"
)

// ZipArchiver writes the manifest and every referenced log file into
// <dir>/logs.zip.
type ZipArchiver struct {
	now func() time.Time
}

func NewZipArchiver() *ZipArchiver {
	return &ZipArchiver{now: time.Now}
}

var _ ports.Archiver = (*ZipArchiver)(nil)

func (a *ZipArchiver) Archive(ctx context.Context, fs afero.Fs, dir string, manifest domain.ArchiveManifest) (string, error) {
	out := path.Join(dir, ArchiveName)
	f, err := fs.Create(out)
	if err != nil {
		return "", fmt.Errorf("create archive: %w", err)
	}

	if err := a.write(ctx, fs, dir, f, manifest); err != nil {
		f.Close()
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close archive: %w", err)
	}
	return out, nil
}

func (a *ZipArchiver) write(ctx context.Context, fs afero.Fs, dir string, w io.Writer, manifest domain.ArchiveManifest) error {
	zw := zip.NewWriter(w)
	modified := a.now()

	raw, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	mw, err := zw.CreateHeader(&zip.FileHeader{Name: ManifestName, Method: zip.Deflate, Modified: modified})
	if err != nil {
		return err
	}
	if _, err := mw.Write(raw); err != nil {
		return err
	}

	for _, entry := range manifest.Entries {
		if entry.Path == "" {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := addFile(zw, fs, path.Join(dir, entry.Path), entry.Path, modified); err != nil {
			return err
		}
	}
	return zw.Close()
}

func addFile(zw *zip.Writer, fs afero.Fs, src, name string, modified time.Time) error {
	in, err := fs.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", name, err)
	}
	defer in.Close()

	fw, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Deflate, Modified: modified})
	if err != nil {
		return err
	}
	if _, err := io.Copy(fw, in); err != nil {
		return fmt.Errorf("compress %s: %w", name, err)
	}
	return nil
}
