//go:build !windows

package lifecycle

import (
	"os"
	"syscall"
)

// TerminationSignals includes SIGHUP so closing the terminal that started
// the bridge stops it cleanly instead of leaving relays half-open.
func TerminationSignals() []os.Signal {
	return []os.Signal{os.Interrupt, syscall.SIGTERM, syscall.SIGHUP}
}
