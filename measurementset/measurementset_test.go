package measurementset

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultWriterRotatesBatches(t *testing.T) {
	dir := t.TempDir()
	w, err := NewDefaultWriter(dir, 2, false)
	require.NoError(t, err)

	require.NoError(t, w.Start("ovro", 100, 24, 4, 23925.78125, 4, []string{"XX", "XY", "YX", "YY"}))

	data := make([]complex64, 8)
	for i := 0; i < 3; i++ {
		require.NoError(t, w.Write(int64(i), data, 1.0))
	}
	require.NoError(t, w.Stop())

	require.FileExists(t, filepath.Join(dir, "metadata.json"))
	require.FileExists(t, filepath.Join(dir, "batch-00000.dat"))
	require.FileExists(t, filepath.Join(dir, "batch-00001.dat"))
}

func TestDefaultWriterRequiresStartBeforeWrite(t *testing.T) {
	dir := t.TempDir()
	w, err := NewDefaultWriter(dir, 2, false)
	require.NoError(t, err)

	err = w.Write(0, make([]complex64, 4), 1.0)
	require.Error(t, err)
}

func TestDefaultWriterTarsBatches(t *testing.T) {
	dir := t.TempDir()
	w, err := NewDefaultWriter(dir, 1, true)
	require.NoError(t, err)
	require.NoError(t, w.Start("ovro", 100, 24, 4, 23925.78125, 4, []string{"XX", "XY", "YX", "YY"}))
	require.NoError(t, w.Write(0, make([]complex64, 4), 1.0))
	require.NoError(t, w.Stop())
	require.NoError(t, w.Close())

	require.FileExists(t, filepath.Join(dir, "recording.tar"))
	require.NoFileExists(t, filepath.Join(dir, "batch-00000.dat"))
}
