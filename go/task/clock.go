package task

import (
	"time"

	"golang.org/x/sys/unix"
)

var bootTime = time.Now()

// ticks returns monotonic-real seconds. Deltas between two readings
// are wall-clock elapsed time.
func ticks() float64 {
	return time.Since(bootTime).Seconds()
}

// virtualTicks returns CPU seconds consumed by the process.
func virtualTicks() float64 {
	var ru unix.Rusage
	if err := unix.Getrusage(unix.RUSAGE_SELF, &ru); err != nil {
		return 0
	}
	var usec = ru.Utime.Sec + ru.Stime.Sec
	var unsec = ru.Utime.Usec + ru.Stime.Usec
	return float64(usec) + float64(unsec)/1e6
}

// Ticks exposes the monotonic clock to the log formatter.
func Ticks() float64 { return ticks() }

// VirtualTicks exposes the CPU clock to the log formatter.
func VirtualTicks() float64 { return virtualTicks() }
