package dnsmasq

import (
	"os"
	"strconv"
	"strings"
	"syscall"
)

// Resolver abstracts discovery and signalling of the external dnsmasq
// process, so tests can substitute a fake.
type Resolver interface {
	// FindPid returns the resolver's process id, or false when it is not
	// discoverable (typically: not started yet).
	FindPid() (int, bool)
	// Signal delivers a reload signal to the given pid.
	Signal(pid int) error
}

// PidfileResolver discovers dnsmasq through its pid file and reloads it with
// SIGHUP. dnsmasq writes the pid file itself once started by the supervisor.
type PidfileResolver struct {
	Path string
}

func (r *PidfileResolver) FindPid() (int, bool) {
	data, err := os.ReadFile(r.Path)
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, false
	}
	return pid, true
}

func (r *PidfileResolver) Signal(pid int) error {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return proc.Signal(syscall.SIGHUP)
}
