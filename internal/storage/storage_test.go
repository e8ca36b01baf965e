package storage

import (
	"archive/zip"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/invigo-mfg/invigo-server/pkg/config"
)

func newTestLayout(t *testing.T) *Layout {
	t.Helper()
	cfg, err := config.Load()
	require.NoError(t, err)
	return NewLayout(cfg)
}

func TestSoftwareFileName(t *testing.T) {
	assert.Equal(t, "Invigo-1.4.2.zip", SoftwareFileName("1.4.2"))
}

func TestContentType(t *testing.T) {
	assert.Equal(t, "application/pdf", ContentType("drawing.pdf"))
	assert.Equal(t, "application/octet-stream", ContentType("program.nc1"))
}

func TestLockTableSerializesSameKey(t *testing.T) {
	table := NewLockTable()

	release, err := table.Acquire("workorder_12", time.Second)
	require.NoError(t, err)

	_, err = table.Acquire("workorder_12", 20*time.Millisecond)
	assert.ErrorIs(t, err, ErrLockTimeout)

	// A different key is unaffected.
	other, err := table.Acquire("workorder_13", 20*time.Millisecond)
	require.NoError(t, err)
	other()

	release()
	release2, err := table.Acquire("workorder_12", 20*time.Millisecond)
	require.NoError(t, err)
	release2()
}

func TestZipDirectory(t *testing.T) {
	src := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(src, "jobs"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "jobs", "job_1.json"), []byte(`{"id":1}`), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(src, "backups"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "backups", "old.zip"), []byte("old"), 0o644))

	dest := filepath.Join(t.TempDir(), "Daily Backup - 01 September.zip")
	require.NoError(t, ZipDirectory(context.Background(), src, dest, filepath.Join(src, "backups")))

	zr, err := zip.OpenReader(dest)
	require.NoError(t, err)
	defer zr.Close()

	names := make([]string, 0, len(zr.File))
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	assert.Contains(t, names, "jobs/job_1.json")
	assert.NotContains(t, names, "backups/old.zip")
}

func TestWorkspacePathRejectsTraversal(t *testing.T) {
	t.Setenv("DATA_PATH", t.TempDir())
	layout := newTestLayout(t)

	path := layout.WorkspacePath("../../etc/passwd")
	assert.Contains(t, path, filepath.Join("workspace", "etc", "passwd"))
}
