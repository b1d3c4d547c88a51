package imager

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
)

// AntennaGain is one antenna's per-channel, per-polarization complex
// bandpass gain and flag, the two columns a .bcal table carries
// (CPARAM/FLAG in the retrieved source's casacore table read).
type AntennaGain struct {
	GainX []complex128
	GainY []complex128
	FlagX []bool
	FlagY []bool
}

// Table is one loaded calibration table: per-antenna gains plus the
// channel-frequency axis it was solved against.
type Table struct {
	Freq     []float64
	Antennas []AntennaGain
}

// TableLoader reads a single calibration table directory (a ".bcal"
// table in the retrieved source) into a Table. Reading casacore tables is
// out of scope for this repository; TableLoader is the seam a real
// reader plugs into.
type TableLoader func(path string) (*Table, error)

// Cache is the caltag-keyed calibration cache of spec.md §4.8: reloaded
// whenever the calibration directory's mtime advances, and memoizing the
// per-baseline product matrix for repeated use within one caltag.
type Cache struct {
	Dir    string
	Loader TableLoader
	Log    *zap.SugaredLogger

	mu            sync.Mutex
	lastUpdate    float64
	tables        map[int64]*Table // keyed by caltag = round(first_freq_Hz)
	activeCaltag  int64
	activeProduct []complex128 // cached [2*nbl, nchan, 4] product for activeCaltag
	activeNBl     int
	activeNChan   int
}

// NewCache creates an empty Cache rooted at dir. If dir is empty, the
// cache always returns nil (no calibration applied) -- the `cal_dir`
// optional configuration of spec.md §4.8.
func NewCache(dir string, loader TableLoader) *Cache {
	return &Cache{Dir: dir, Loader: loader, tables: map[int64]*Table{}}
}

// reload re-reads every *.bcal table under Dir if its mtime has advanced
// since the last reload.
func (c *Cache) reload() error {
	if c.Dir == "" {
		return nil
	}
	info, err := os.Stat(c.Dir)
	if err != nil {
		return err
	}
	mtime := float64(info.ModTime().UnixNano()) / 1e9
	if mtime <= c.lastUpdate {
		return nil
	}

	if c.Log != nil {
		c.Log.Info("Image: Reloading calibration tables...")
	}

	matches, err := filepath.Glob(filepath.Join(c.Dir, "*.bcal"))
	if err != nil {
		return err
	}

	tables := map[int64]*Table{}
	for _, m := range matches {
		tbl, err := c.Loader(m)
		if err != nil {
			return fmt.Errorf("imager: loading calibration table %s: %w", m, err)
		}
		if len(tbl.Freq) == 0 {
			continue
		}
		caltag := int64(math.Round(tbl.Freq[0]))
		tables[caltag] = tbl
	}

	c.tables = tables
	c.lastUpdate = mtime
	c.activeCaltag = -1
	c.activeProduct = nil
	return nil
}

// Product returns the per-baseline, per-channel, per-polarization
// calibration product for the caltag equal to freq[0] rounded to the
// nearest integer (an exact table-key match), sized
// [2*nbl, nchan, 4] to match the mirrored (conjugate-doubled) baseline
// layout the imager grids. It returns nil if no cal_dir is configured or
// no table matches the caltag.
func (c *Cache) Product(nstand, nbl int, freq []float64) ([]complex128, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.Dir == "" {
		return nil, nil
	}
	if err := c.reload(); err != nil {
		return nil, err
	}
	if len(freq) == 0 {
		return nil, nil
	}

	caltag := int64(math.Round(freq[0]))
	if caltag == c.activeCaltag && c.activeProduct != nil {
		return c.activeProduct, nil
	}

	tbl, ok := c.tables[caltag]
	if !ok {
		return nil, nil
	}

	product := buildProduct(tbl, nstand, nbl, len(freq))
	c.activeCaltag = caltag
	c.activeProduct = product
	c.activeNBl = nbl
	c.activeNChan = len(freq)
	return product, nil
}

// buildProduct computes `cal[k] = gi * conj(gj)` per polarization product
// for every baseline k, where gi = (1-flag)/gain with non-finite entries
// zeroed, then mirrors it into the second half for the conjugate-doubled
// baseline set -- exactly ImageOp._load_calibration's per-baseline loop.
func buildProduct(tbl *Table, nstand, nbl, nchan int) []complex128 {
	product := make([]complex128, 2*nbl*nchan*4)

	invGain := func(gain []complex128, flag []bool, c int) complex128 {
		if c >= len(gain) || gain[c] == 0 {
			return 0
		}
		f := 0.0
		if c < len(flag) && flag[c] {
			f = 1.0
		}
		g := complex(1-f, 0) / gain[c]
		if cmplxIsNaNOrInf(g) {
			return 0
		}
		return g
	}

	k := 0
	for i := 0; i < nstand && i < len(tbl.Antennas); i++ {
		ai := tbl.Antennas[i]
		for j := i; j < nstand && j < len(tbl.Antennas); j++ {
			aj := tbl.Antennas[j]
			for c := 0; c < nchan; c++ {
				gix := invGain(ai.GainX, ai.FlagX, c)
				giy := invGain(ai.GainY, ai.FlagY, c)
				gjx := invGain(aj.GainX, aj.FlagX, c)
				gjy := invGain(aj.GainY, aj.FlagY, c)

				base := (k*nchan + c) * 4
				product[base+0] = gix * cmplxConj(gjx) // XX
				product[base+1] = gix * cmplxConj(gjy) // XY
				product[base+2] = giy * cmplxConj(gjx) // YX
				product[base+3] = giy * cmplxConj(gjy) // YY

				mirror := ((nbl+k)*nchan + c) * 4
				for p := 0; p < 4; p++ {
					product[mirror+p] = cmplxConj(product[base+p])
				}
			}
			k++
		}
	}
	return product
}

func cmplxConj(v complex128) complex128 {
	return complex(real(v), -imag(v))
}

func cmplxIsNaNOrInf(v complex128) bool {
	re, im := real(v), imag(v)
	return math.IsNaN(re) || math.IsInf(re, 0) || math.IsNaN(im) || math.IsInf(im, 0)
}
