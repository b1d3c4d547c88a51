package offline

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"
)

// npyHeaderRe extracts the 'descr', 'fortran_order' and 'shape' fields from
// a .npy header dict. A full tokenizer is unwarranted for the narrow set of
// dtypes this reader accepts (REDESIGN FLAGS: the sky model ships as a
// NumPy array, not a pickled Python object, so a small regex-based parse of
// the fixed-format header is sufficient).
var npyHeaderRe = regexp.MustCompile(`'descr':\s*'([^']+)'.*'fortran_order':\s*(True|False).*'shape':\s*\(([^)]*)\)`)

// SkyModel is a loaded sky-model visibility cube: one complex128 sample per
// (baseline, channel, polarization), flattened in that order.
type SkyModel struct {
	Shape []int
	Data  []complex128
}

// LoadNpy reads a .npy file holding a complex64 or complex128 array into a
// SkyModel. It supports only the single dtype/byte-order combinations the
// sky-model export pipeline actually produces.
func LoadNpy(path string) (*SkyModel, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := bufio.NewReader(f)

	magic := make([]byte, 6)
	if _, err := io.ReadFull(r, magic); err != nil {
		return nil, err
	}
	if string(magic) != "\x93NUMPY" {
		return nil, fmt.Errorf("offline: %s is not a .npy file", path)
	}
	ver := make([]byte, 2)
	if _, err := io.ReadFull(r, ver); err != nil {
		return nil, err
	}

	var headerLen int
	if ver[0] == 1 {
		var l16 uint16
		if err := binary.Read(r, binary.LittleEndian, &l16); err != nil {
			return nil, err
		}
		headerLen = int(l16)
	} else {
		var l32 uint32
		if err := binary.Read(r, binary.LittleEndian, &l32); err != nil {
			return nil, err
		}
		headerLen = int(l32)
	}

	headerBuf := make([]byte, headerLen)
	if _, err := io.ReadFull(r, headerBuf); err != nil {
		return nil, err
	}
	header := string(headerBuf)

	m := npyHeaderRe.FindStringSubmatch(header)
	if m == nil {
		return nil, fmt.Errorf("offline: could not parse .npy header %q", header)
	}
	descr := m[1]
	fortran := m[2] == "True"
	if fortran {
		return nil, fmt.Errorf("offline: fortran-ordered .npy arrays are not supported")
	}

	shape := []int{}
	for _, tok := range strings.Split(m[3], ",") {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		n, err := strconv.Atoi(tok)
		if err != nil {
			return nil, fmt.Errorf("offline: bad shape token %q: %w", tok, err)
		}
		shape = append(shape, n)
	}

	total := 1
	for _, s := range shape {
		total *= s
	}

	data := make([]complex128, total)
	switch descr {
	case "<c8":
		for i := range data {
			var re, im float32
			if err := binary.Read(r, binary.LittleEndian, &re); err != nil {
				return nil, err
			}
			if err := binary.Read(r, binary.LittleEndian, &im); err != nil {
				return nil, err
			}
			data[i] = complex(float64(re), float64(im))
		}
	case "<c16":
		for i := range data {
			var re, im float64
			if err := binary.Read(r, binary.LittleEndian, &re); err != nil {
				return nil, err
			}
			if err := binary.Read(r, binary.LittleEndian, &im); err != nil {
				return nil, err
			}
			data[i] = complex(re, im)
		}
	default:
		return nil, fmt.Errorf("offline: unsupported .npy dtype %q", descr)
	}

	return &SkyModel{Shape: shape, Data: data}, nil
}

// zeroModel returns the cmplx.Abs(0) placeholder sky model used when no
// sky-model file is configured or it fails to load.
func zeroModel(nbl, nchan, npol int) *SkyModel {
	return &SkyModel{
		Shape: []int{nbl, nchan, npol},
		Data:  make([]complex128, nbl*nchan*npol),
	}
}
