package runner

import "syscall"

// syscallSignal0 returns the null signal used to probe whether a pid is
// still alive without actually signaling it (os.Process.Signal(0) on
// Unix succeeds iff the process exists and is reachable).
func syscallSignal0() syscall.Signal {
	return syscall.Signal(0)
}
