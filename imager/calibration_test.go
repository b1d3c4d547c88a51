package imager

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func fakeTable(freq0 float64, nstand int) *Table {
	freq := []float64{freq0, freq0 + 1e3}
	antennas := make([]AntennaGain, nstand)
	for i := range antennas {
		antennas[i] = AntennaGain{
			GainX: []complex128{1, 1},
			GainY: []complex128{1, 1},
			FlagX: []bool{false, false},
			FlagY: []bool{false, false},
		}
	}
	return &Table{Freq: freq, Antennas: antennas}
}

func TestCacheProductKeysByRoundedFirstChannelFrequency(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.bcal"), []byte("x"), 0o644))

	loaded := 0
	loader := func(path string) (*Table, error) {
		loaded++
		return fakeTable(50000000.4, 3), nil
	}

	cache := NewCache(dir, loader)
	product, err := cache.Product(3, 6, []float64{50000000.4, 50001000})
	require.NoError(t, err)
	require.NotNil(t, product)
	require.Equal(t, 1, loaded)

	// Same caltag (round(50000000.4) == 50000000): memoized, no reload.
	product2, err := cache.Product(3, 6, []float64{50000000.1, 50001000})
	require.NoError(t, err)
	require.Same(t, &product[0], &product2[0])
	require.Equal(t, 1, loaded)
}

func TestCacheReloadsOnDirMtimeAdvance(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.bcal"), []byte("x"), 0o644))

	loaded := 0
	loader := func(path string) (*Table, error) {
		loaded++
		return fakeTable(50000000, 2), nil
	}

	cache := NewCache(dir, loader)
	_, err := cache.Product(2, 3, []float64{50000000})
	require.NoError(t, err)
	require.Equal(t, 1, loaded)

	// Touch the directory mtime forward and add a new table file.
	future := time.Now().Add(time.Hour)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.bcal"), []byte("y"), 0o644))
	require.NoError(t, os.Chtimes(dir, future, future))

	_, err = cache.Product(2, 3, []float64{50000000})
	require.NoError(t, err)
	require.Equal(t, 3, loaded, "expected reload after mtime advance")
}

func TestCacheReloadLogsReloadingMessage(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.bcal"), []byte("x"), 0o644))

	core, logs := observer.New(zap.InfoLevel)
	cache := NewCache(dir, func(path string) (*Table, error) { return fakeTable(50000000, 2), nil })
	cache.Log = zap.New(core).Sugar()

	_, err := cache.Product(2, 3, []float64{50000000})
	require.NoError(t, err)

	found := false
	for _, entry := range logs.All() {
		if entry.Message == "Image: Reloading calibration tables..." {
			found = true
		}
	}
	require.True(t, found, "expected a reload log line")
}

func TestCacheReturnsNilWithoutCalDir(t *testing.T) {
	cache := NewCache("", func(path string) (*Table, error) { return nil, nil })
	product, err := cache.Product(3, 6, []float64{50000000})
	require.NoError(t, err)
	require.Nil(t, product)
}

func TestBuildProductMirrorsConjugateIntoSecondHalf(t *testing.T) {
	tbl := fakeTable(50000000, 2)
	nbl := 3 // nstand=2 -> autos+cross = 3 baselines
	product := buildProduct(tbl, 2, nbl, len(tbl.Freq))

	base := (0*len(tbl.Freq) + 0) * 4
	mirror := ((nbl+0)*len(tbl.Freq) + 0) * 4
	require.InDelta(t, real(product[base]), real(product[mirror]), 1e-9)
	require.InDelta(t, -imag(product[base]), imag(product[mirror]), 1e-9)
}

func TestCmplxIsNaNOrInfDetectsDivisionByZero(t *testing.T) {
	zero := complex(0, 0)
	require.True(t, cmplxIsNaNOrInf(complex(1, 0)/zero))
}
