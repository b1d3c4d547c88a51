package quota

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func writeFileAt(t *testing.T, path string, size int, mtime time.Time) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, make([]byte, size), 0o644))
	require.NoError(t, os.Chtimes(path, mtime, mtime))
}

func TestScanAndEvictDeletesOldestFirstUntilUnderQuota(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()

	writeFileAt(t, filepath.Join(dir, "a.ms"), 100, now.Add(-3*time.Hour))
	writeFileAt(t, filepath.Join(dir, "b.ms"), 100, now.Add(-2*time.Hour))
	writeFileAt(t, filepath.Join(dir, "c.ms"), 100, now.Add(-1*time.Hour))

	m := &Manager{
		Config: Config{Dir: dir, QuotaBytes: 150},
		Log:    zap.NewNop().Sugar(),
	}
	require.NoError(t, m.scanAndEvict())

	_, errA := os.Stat(filepath.Join(dir, "a.ms"))
	require.True(t, os.IsNotExist(errA))
	_, errB := os.Stat(filepath.Join(dir, "b.ms"))
	require.True(t, os.IsNotExist(errB))
	_, errC := os.Stat(filepath.Join(dir, "c.ms"))
	require.NoError(t, errC)
}

func TestScanAndEvictNeverRemovesActiveRecording(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()

	oldest := filepath.Join(dir, "oldest.ms")
	writeFileAt(t, oldest, 200, now.Add(-5*time.Hour))
	writeFileAt(t, filepath.Join(dir, "newest.ms"), 200, now)

	m := &Manager{
		Config: Config{Dir: dir, QuotaBytes: 100},
		Active: func() (string, bool) { return oldest, true },
		Log:    zap.NewNop().Sugar(),
	}
	require.NoError(t, m.scanAndEvict())

	_, err := os.Stat(oldest)
	require.NoError(t, err, "active recording must never be evicted")
}

func TestScanAndEvictNoOpUnderQuota(t *testing.T) {
	dir := t.TempDir()
	writeFileAt(t, filepath.Join(dir, "a.ms"), 10, time.Now())

	m := &Manager{
		Config: Config{Dir: dir, QuotaBytes: 1000},
		Log:    zap.NewNop().Sugar(),
	}
	require.NoError(t, m.scanAndEvict())

	_, err := os.Stat(filepath.Join(dir, "a.ms"))
	require.NoError(t, err)
}
