// Package quota implements the Quota manager of spec.md §4.9: it watches
// the recording directory's total size and, when over budget, deletes the
// oldest complete recordings first -- never the one the writer currently
// has open.
//
// Grounded on the disk-usage/eviction loop of the original's
// DiskQuotaControl, generalized to operate over the measurement-set
// writer's batch files (measurementset.DefaultWriter) rather than a
// specific casacore directory layout.
package quota

import (
	"os"
	"path/filepath"
	"sort"
	"time"

	"go.uber.org/zap"
)

// ActiveQuery reports the path of the recording directory entry the
// writer currently has open, so the manager never evicts it.
type ActiveQuery func() (active string, ok bool)

// Config configures a Manager.
type Config struct {
	Dir          string
	QuotaBytes   int64
	ScanInterval time.Duration
}

// Manager periodically scans Dir and evicts the oldest complete
// recordings until usage is back under quota.
type Manager struct {
	Config Config
	Active ActiveQuery
	Log    *zap.SugaredLogger
	Done   chan struct{}
}

// entry is one top-level recording directory entry (a batch file, a
// tarball, or a per-operation subdirectory) with its aggregate size and
// the entry's own modification time.
type entry struct {
	path    string
	size    int64
	modTime time.Time
}

// Run scans the recording directory every ScanInterval until Done is
// closed. It never blocks the writer: all work here only ever removes
// files other than the active operation's.
func (m *Manager) Run() error {
	interval := m.Config.ScanInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.Done:
			return nil
		case <-ticker.C:
			if err := m.scanAndEvict(); err != nil {
				m.Log.Errorw("quota scan failed", "error", err)
			}
		}
	}
}

func (m *Manager) scanAndEvict() error {
	entries, err := listEntries(m.Config.Dir)
	if err != nil {
		return err
	}

	var activePath string
	if m.Active != nil {
		activePath, _ = m.Active()
	}

	total := int64(0)
	for _, e := range entries {
		total += e.size
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].modTime.Before(entries[j].modTime) })

	for _, e := range entries {
		if total <= m.Config.QuotaBytes {
			break
		}
		if activePath != "" && e.path == activePath {
			continue // never evict the active recording
		}
		if err := os.RemoveAll(e.path); err != nil {
			m.Log.Errorw("failed to evict recording", "path", e.path, "error", err)
			continue
		}
		m.Log.Infow("evicted recording over quota", "path", e.path, "size", e.size)
		total -= e.size
	}
	return nil
}

// listEntries enumerates the direct children of dir, each with the total
// size of its subtree and the modification time of the entry itself
// (oldest-first eviction ordering, spec.md §4.9).
func listEntries(dir string) ([]entry, error) {
	items, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	out := make([]entry, 0, len(items))
	for _, item := range items {
		path := filepath.Join(dir, item.Name())
		info, err := item.Info()
		if err != nil {
			continue
		}
		size, err := dirSize(path)
		if err != nil {
			continue
		}
		out = append(out, entry{path: path, size: size, modTime: info.ModTime()})
	}
	return out, nil
}

func dirSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	if !info.IsDir() {
		return info.Size(), nil
	}

	var total int64
	err = filepath.Walk(path, func(p string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !fi.IsDir() {
			total += fi.Size()
		}
		return nil
	})
	return total, err
}
