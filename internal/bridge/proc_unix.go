//go:build unix

package bridge

import (
	"errors"
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// configureProcess puts the worker in its own process group so termination
// reaches any children it spawned.
func configureProcess(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// signalWorker signals the worker's process group. A group that is already
// gone is not an error.
func signalWorker(p *os.Process, sig syscall.Signal) error {
	err := syscall.Kill(-p.Pid, sig)
	if err == nil || errors.Is(err, syscall.ESRCH) {
		return nil
	}
	// Fall back to the leader alone, e.g. when the group could not be created.
	if perr := p.Signal(sig); perr != nil && !errors.Is(perr, os.ErrProcessDone) {
		return perr
	}
	return nil
}

// exitSignal names the signal that ended the process, e.g. "SIGKILL", or ""
// if it exited normally or has not been reaped.
func exitSignal(ps *os.ProcessState) string {
	if ps == nil {
		return ""
	}
	ws, ok := ps.Sys().(syscall.WaitStatus)
	if !ok || !ws.Signaled() {
		return ""
	}
	if name := unix.SignalName(ws.Signal()); name != "" {
		return name
	}
	return ws.Signal().String()
}
