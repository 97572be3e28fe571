//go:build !windows

package supervisor

import (
	"os"
	"syscall"
)

// sendStopSignal asks the child to exit. It reports whether the request was
// delivered.
func sendStopSignal(p *os.Process) bool {
	return p.Signal(syscall.SIGTERM) == nil
}
