package persist

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestWriteBackup(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "backups")
	ts := time.Date(2026, 8, 23, 10, 30, 0, 0, time.UTC)

	path, err := WriteBackup(dir, "adtran", "192.168.1.1", ts, "hostname gateway\n")
	assert.NoError(t, err)
	assert.Equal(t, "adtran_config_192_168_1_1_20260823_103000.txt", filepath.Base(path))

	data, err := os.ReadFile(path)
	assert.NoError(t, err)
	assert.Equal(t, "hostname gateway\n", string(data))
}

func TestWriteBackup_CreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a", "b")
	_, err := WriteBackup(dir, "comtrend", "192.168.1.1", time.Now(), "config")
	assert.NoError(t, err)

	info, err := os.Stat(dir)
	assert.NoError(t, err)
	assert.True(t, info.IsDir())
}
