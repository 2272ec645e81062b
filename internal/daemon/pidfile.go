package daemon

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
)

// acquirePIDFile claims path for this process. An existing file pointing at a
// live process means another daemon owns the data dir; a stale file (dead PID)
// is replaced.
func acquirePIDFile(path string) error {
	if raw, err := os.ReadFile(path); err == nil {
		pid, err := strconv.Atoi(strings.TrimSpace(string(raw)))
		if err == nil && pid > 0 && processAlive(pid) {
			return fmt.Errorf("daemon already running with pid %d (per %s)", pid, path)
		}
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644)
}

// releasePIDFile removes the file only when it still holds our PID, so a
// newer daemon's claim is never deleted by a straggling shutdown.
func releasePIDFile(path string) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return
	}
	if pid, err := strconv.Atoi(strings.TrimSpace(string(raw))); err != nil || pid != os.Getpid() {
		return
	}
	_ = os.Remove(path)
}

// processAlive probes a PID with signal 0.
func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}
