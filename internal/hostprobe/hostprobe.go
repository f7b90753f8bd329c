// Package hostprobe implements spec.md §4.H's initialize-time host
// probing: decide whether this host supports kernel async I/O at all,
// and whether NON_BUFFERED (O_DIRECT) file access is viable, so the
// subsystem can pick safe defaults instead of failing at first use.
// Grounded on the teacher's internal/ctrl.NewController, which probes
// availability by attempting the real resource open and classifying
// the resulting errno, logging the outcome either way.
package hostprobe

import (
	"os"

	"github.com/behrlich/go-aiocompl/internal/ioring"
	"github.com/behrlich/go-aiocompl/internal/logging"
	"golang.org/x/sys/unix"
)

// Capabilities is the result of probing this host.
type Capabilities struct {
	AsyncIOSupported    bool
	NonBufferedSupported bool
}

// Probe attempts to create a throwaway kernel ring and a throwaway
// O_DIRECT file in dir, classifying failures the way the teacher's
// controller classifies ADD_DEV failures: try the real operation,
// degrade on error, log what happened.
func Probe(dir string, logger *logging.Logger) Capabilities {
	if logger == nil {
		logger = logging.Default()
	}

	caps := Capabilities{}

	ring, err := ioring.New(ioring.Config{Entries: 8})
	if err != nil {
		logger.Warn("kernel async I/O unavailable, defaulting to Simple io manager", "error", err)
	} else {
		caps.AsyncIOSupported = true
		ring.Close()
	}

	probePath := dir + "/.aiocompl-probe"
	f, err := os.OpenFile(probePath, os.O_RDWR|os.O_CREATE|unix.O_DIRECT, 0o600)
	if err != nil {
		logger.Warn("O_DIRECT unavailable, defaulting to Buffered file backend", "error", err)
	} else {
		caps.NonBufferedSupported = true
		f.Close()
		os.Remove(probePath)
	}

	return caps
}
