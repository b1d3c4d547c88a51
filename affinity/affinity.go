// Package affinity pins the calling goroutine's OS thread to a configured
// CPU core, the per-stage pinning spec.md §5 requires ("Each stage pins
// itself to a configured CPU core on startup").
//
// Grounded on ehrlich-b-go-ublk's Runner.ioLoop: runtime.LockOSThread
// followed by unix.SchedSetaffinity on a single-bit CPUSet, with affinity
// failures logged and treated as non-fatal rather than aborting the
// calling stage.
package affinity

import (
	"fmt"
	"runtime"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// Pin locks the calling goroutine to its current OS thread and attempts to
// set that thread's CPU affinity to the single core cpu. The goroutine
// must not migrate OS threads afterward (the caller is expected to run its
// entire stage loop from here without yielding the thread back).
//
// Failures are logged at WARN and are not fatal, matching spec.md's
// fail-soft philosophy for non-essential setup steps.
func Pin(cpu int, log *zap.SugaredLogger) {
	runtime.LockOSThread()

	if cpu < 0 {
		return
	}

	var mask unix.CPUSet
	mask.Set(cpu)
	if err := unix.SchedSetaffinity(0, &mask); err != nil {
		if log != nil {
			log.Warnw("failed to set CPU affinity", "cpu", cpu, "error", err)
		}
		return
	}
	if log != nil {
		log.Debugw("pinned stage to CPU core", "cpu", cpu)
	}
}

// ParseCores validates a CSV-parsed core list against the host's CPU
// count, returning an error only if a core index is out of range -- the
// `--cores` flag's values are otherwise opaque integers to this package.
func ParseCores(cores []int) error {
	n := runtime.NumCPU()
	for _, c := range cores {
		if c < 0 || c >= n {
			return fmt.Errorf("affinity: core %d is out of range for a %d-CPU host", c, n)
		}
	}
	return nil
}
