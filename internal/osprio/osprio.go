// Package osprio requests elevated OS scheduling priority for the two
// pipeline worker goroutines. Best-effort: failure (e.g. missing
// CAP_SYS_NICE) is logged, never fatal.
package osprio

import (
	"golang.org/x/sys/unix"

	"github.com/rjboer/pulseradar/internal/logging"
)

// Elevate lowers the nice value of the calling process, biasing the
// Linux scheduler toward this goroutine's OS thread. Call after
// runtime.LockOSThread so the effect is scoped to the worker.
func Elevate(log logging.Logger) {
	if log == nil {
		log = logging.Default()
	}
	if err := unix.Setpriority(unix.PRIO_PROCESS, 0, -10); err != nil {
		log.Debug("could not elevate scheduling priority", logging.Field{Key: "err", Value: err.Error()})
	}
}
