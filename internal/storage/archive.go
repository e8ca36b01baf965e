package storage

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sync/semaphore"
)

// fileIOSlots bounds concurrent heavy file operations (backups, artifact
// streaming) so a burst of scheduled jobs cannot exhaust descriptors.
var fileIOSlots = semaphore.NewWeighted(4)

// AcquireFileSlot blocks until a heavy file I/O slot is free.
func AcquireFileSlot(ctx context.Context) (release func(), err error) {
	if err := fileIOSlots.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	return func() { fileIOSlots.Release(1) }, nil
}

// ZipDirectory writes a zip archive of srcDir to destPath. The destination
// file itself and anything under skipDirs is excluded, so a backup of the
// data root does not recurse into earlier backups.
func ZipDirectory(ctx context.Context, srcDir, destPath string, skipDirs ...string) error {
	release, err := AcquireFileSlot(ctx)
	if err != nil {
		return err
	}
	defer release()

	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return fmt.Errorf("failed to create backup directory: %w", err)
	}

	out, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("failed to create archive: %w", err)
	}
	defer out.Close()

	zw := zip.NewWriter(out)
	defer zw.Close()

	skip := make(map[string]bool, len(skipDirs)+1)
	for _, d := range skipDirs {
		skip[filepath.Clean(d)] = true
	}

	err = filepath.WalkDir(srcDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			if skip[filepath.Clean(path)] {
				return filepath.SkipDir
			}
			return nil
		}
		if filepath.Clean(path) == filepath.Clean(destPath) {
			return nil
		}

		rel, err := filepath.Rel(srcDir, path)
		if err != nil {
			return err
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		header, err := zip.FileInfoHeader(info)
		if err != nil {
			return err
		}
		header.Name = strings.ReplaceAll(rel, string(filepath.Separator), "/")
		header.Method = zip.Deflate

		w, err := zw.CreateHeader(header)
		if err != nil {
			return err
		}

		src, err := os.Open(path)
		if err != nil {
			return err
		}
		defer src.Close()

		_, err = io.Copy(w, src)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to archive %s: %w", srcDir, err)
	}
	return nil
}

// CopyFile duplicates src to dest, used for log rotation.
func CopyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
