//go:build windows

package supervisor

import (
	"os"
)

// sendStopSignal has no equivalent of SIGTERM for console-less children on
// Windows. Closing stdin is the only stop request; the caller still waits the
// grace period before killing.
func sendStopSignal(p *os.Process) bool {
	return false
}
