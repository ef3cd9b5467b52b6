//go:build windows

package lifecycle

import "os"

// TerminationSignals is Ctrl+C only; Windows services stop through the SCM.
func TerminationSignals() []os.Signal {
	return []os.Signal{os.Interrupt}
}
