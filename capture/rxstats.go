package capture

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// FileRxStatsSource reads cumulative "good_bytes missing_bytes" counters
// from a text file, the on-disk shape the retrieved source's capture
// device exposes under its shared-memory stats directory. It is the
// default, working RxStatsSource so the capture producer has a
// functioning fill-level signal without a real packet-capture device
// wired in.
type FileRxStatsSource struct {
	Path string
}

// Sample reads and parses the two whitespace-separated integers on the
// first line of Path.
func (f FileRxStatsSource) Sample() (good, missing int64, err error) {
	file, err := os.Open(f.Path)
	if err != nil {
		return 0, 0, err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	if !scanner.Scan() {
		return 0, 0, fmt.Errorf("capture: rx stats file %s is empty", f.Path)
	}

	fields := strings.Fields(scanner.Text())
	if len(fields) != 2 {
		return 0, 0, fmt.Errorf("capture: rx stats file %s: expected 2 fields, got %d", f.Path, len(fields))
	}

	good, err = strconv.ParseInt(fields[0], 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("capture: rx stats file %s: bad good-byte count: %w", f.Path, err)
	}
	missing, err = strconv.ParseInt(fields[1], 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("capture: rx stats file %s: bad missing-byte count: %w", f.Path, err)
	}
	return good, missing, nil
}

// ConnRxStatsSource derives good/missing byte counters purely from the
// number of bytes the UDPPacketSource has successfully read, for setups
// with no shared-memory stats file: every received packet counts fully
// good, since UDPPacketSource cannot observe gaps in a connectionless
// socket beyond what the correlator's own "cor" header framing reports.
type ConnRxStatsSource struct {
	Source *UDPPacketSource
}

// Sample returns the source's cumulative good-byte count and a missing
// count of zero.
func (c ConnRxStatsSource) Sample() (good, missing int64, err error) {
	if c.Source == nil {
		return 0, 0, fmt.Errorf("capture: nil UDPPacketSource")
	}
	return c.Source.BytesRead(), 0, nil
}
