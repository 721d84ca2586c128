package tasklog

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/WatchBeam/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vriskhq/vrisk/server/vrisk"
)

func TestLogger(t *testing.T) {
	dir := t.TempDir()
	mockClock := clock.NewMockClock()

	task := &vrisk.Task{ID: 42, Type: vrisk.TaskTypeEPSSImport, Description: "EPSS feed import"}
	logger, err := New(dir, task, mockClock)
	require.NoError(t, err)

	expectedName := fmt.Sprintf("epss_import_42_%s.log", mockClock.Now().Format("20060102_150405"))
	assert.Equal(t, filepath.Join(dir, expectedName), logger.Path())

	logger.Infof("downloaded %d rows", 1000)
	logger.Warnf("skipped %d malformed rows", 3)
	logger.Debugf("batch flushed in %dms", 12)
	logger.Details("import summary", map[string]interface{}{
		"inserted": 997,
		"skipped":  3,
	})
	mockClock.AddTime(90 * time.Second)
	require.NoError(t, logger.Close(vrisk.TaskStatusCompleted))

	content, err := os.ReadFile(logger.Path())
	require.NoError(t, err)

	text := string(content)
	assert.Contains(t, text, "task 42 (epss_import) started")
	assert.Contains(t, text, "description: EPSS feed import")
	assert.Contains(t, text, "[INFO] downloaded 1000 rows")
	assert.Contains(t, text, "[WARNING] skipped 3 malformed rows")
	assert.Contains(t, text, "[DEBUG] batch flushed in 12ms")
	assert.Contains(t, text, "    inserted: 997")
	assert.Contains(t, text, "    skipped: 3")
	assert.Contains(t, text, "task finished with status completed")
	assert.Contains(t, text, "elapsed 1m30s")
}

func TestCleanup(t *testing.T) {
	dir := t.TempDir()
	mockClock := clock.NewMockClock()
	now := mockClock.Now()

	old := filepath.Join(dir, "epss_import_1_20240101_000000.log")
	fresh := filepath.Join(dir, "cve_import_2_20240314_000000.log")
	other := filepath.Join(dir, "notes.txt")
	for _, path := range []string{old, fresh, other} {
		require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))
	}
	require.NoError(t, os.Chtimes(old, now.AddDate(0, -2, 0), now.AddDate(0, -2, 0)))
	require.NoError(t, os.Chtimes(fresh, now, now))
	require.NoError(t, os.Chtimes(other, now.AddDate(0, -2, 0), now.AddDate(0, -2, 0)))

	removed, err := Cleanup(dir, 30*24*time.Hour, mockClock)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = os.Stat(old)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(fresh)
	assert.NoError(t, err)
	// non-log files are left alone regardless of age
	_, err = os.Stat(other)
	assert.NoError(t, err)
}

func TestCleanupMissingDir(t *testing.T) {
	removed, err := Cleanup(filepath.Join(t.TempDir(), "nope"), time.Hour, clock.NewMockClock())
	require.NoError(t, err)
	assert.Equal(t, 0, removed)
}
