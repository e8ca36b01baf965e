// Package storage owns the on-disk layout under the data root: backups,
// logs, uploaded software artifacts, and the advisory locks that serialize
// access to shared files.
package storage

import (
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"time"

	"github.com/invigo-mfg/invigo-server/pkg/config"
)

// Layout resolves paths under the configured data root.
type Layout struct {
	cfg *config.Config
}

// NewLayout creates the path resolver.
func NewLayout(cfg *config.Config) *Layout {
	return &Layout{cfg: cfg}
}

// Root returns the data root directory.
func (l *Layout) Root() string { return l.cfg.DataDir() }

// BackupsDir returns the backup directory, creating it if needed.
func (l *Layout) BackupsDir() string { return l.cfg.DataDir("backups") }

// LogsDir returns the log directory.
func (l *Layout) LogsDir() string { return l.cfg.DataDir("logs") }

// SoftwareDir returns the uploaded-artifact directory.
func (l *Layout) SoftwareDir() string { return l.cfg.DataDir("software") }

// ReportsDir returns the generated-report directory.
func (l *Layout) ReportsDir() string { return l.cfg.DataDir("reports") }

// ImagePath resolves an image by name, confined to the images directory.
func (l *Layout) ImagePath(name string) string {
	clean := filepath.Clean("/" + name)
	return filepath.Join(l.cfg.DataDir("images"), clean)
}

// SoftwarePath returns the artifact path of one released version.
func (l *Layout) SoftwarePath(version string) string {
	return filepath.Join(l.SoftwareDir(), SoftwareFileName(version))
}

// SoftwareFileName is the canonical artifact name of a version.
func SoftwareFileName(version string) string {
	return fmt.Sprintf("Invigo-%s.zip", version)
}

// WorkorderDataPath returns the packing-slip bundle path of one workorder.
func (l *Layout) WorkorderDataPath(id int64) string {
	return filepath.Join(l.cfg.DataDir("workorders", fmt.Sprintf("%d", id)), "data.json")
}

// WorkspacePath resolves a workspace file (drawings, programs) by its
// relative name. The name is cleaned so clients cannot escape the root.
func (l *Layout) WorkspacePath(name string) string {
	clean := filepath.Clean("/" + name)
	return filepath.Join(l.cfg.DataDir("workspace"), clean)
}

// FileETag builds a cheap validator from a file's mtime and size.
func FileETag(info os.FileInfo) string {
	return fmt.Sprintf("%d-%d", info.ModTime().UnixNano(), info.Size())
}

// ContentType guesses a MIME type from the file extension, falling back to
// octet-stream.
func ContentType(name string) string {
	if ct := mime.TypeByExtension(filepath.Ext(name)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

// Timestamp formats a time the way file metadata is reported to clients.
func Timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
