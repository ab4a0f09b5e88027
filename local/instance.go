package local

import (
	"os/exec"
	"sync"
	"syscall"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// InstanceStatus is the local server state machine. Transitions within one
// instance are forward-only: starting -> running -> stopped|error. A fresh
// start always creates a new instance rather than resurrecting an old one.
type InstanceStatus string

const (
	StatusStarting InstanceStatus = "starting"
	StatusRunning  InstanceStatus = "running"
	StatusStopped  InstanceStatus = "stopped"
	StatusError    InstanceStatus = "error"
)

// rank orders statuses so transitions can only move forward.
func (s InstanceStatus) rank() int {
	switch s {
	case StatusStarting:
		return 0
	case StatusRunning:
		return 1
	case StatusStopped, StatusError:
		return 2
	default:
		return -1
	}
}

// ServerInstance is the arena slot for the one live local server process. The
// manager acquires a new instance per start and disposes the previous one.
type ServerInstance struct {
	ID        string
	PID       int
	Port      int
	StartTime time.Time
	LogPath   string

	cmd     *exec.Cmd
	logSink *lumberjack.Logger
	exited  chan struct{}
	exitErr error

	ready     chan struct{}
	readyOnce sync.Once

	mux    sync.RWMutex
	status InstanceStatus
}

// readyCh closes once the process printed a readiness line.
func (i *ServerInstance) readyCh() <-chan struct{} {
	return i.ready
}

func (i *ServerInstance) signalReady() {
	i.readyOnce.Do(func() {
		close(i.ready)
	})
}

// Status returns the current lifecycle state.
func (i *ServerInstance) Status() InstanceStatus {
	i.mux.RLock()
	defer i.mux.RUnlock()
	return i.status
}

// setStatus advances the state machine; backward transitions are ignored.
func (i *ServerInstance) setStatus(next InstanceStatus) bool {
	i.mux.Lock()
	defer i.mux.Unlock()
	if next.rank() < i.status.rank() {
		return false
	}
	if i.status.rank() == 2 && next != i.status {
		return false
	}
	i.status = next
	return true
}

// Alive probes the recorded pid at OS level without reaping it.
func (i *ServerInstance) Alive() bool {
	if i == nil || i.cmd == nil || i.cmd.Process == nil {
		return false
	}
	select {
	case <-i.exited:
		return false
	default:
	}
	return i.cmd.Process.Signal(syscall.Signal(0)) == nil
}

// ExitError returns the process exit error once the exited channel closed.
func (i *ServerInstance) ExitError() error {
	i.mux.RLock()
	defer i.mux.RUnlock()
	return i.exitErr
}

// dispose closes the instance log sink and force-kills a still-running
// process. Cleanup failures are swallowed: the slot is being abandoned.
func (i *ServerInstance) dispose() {
	if i == nil {
		return
	}
	if i.Alive() {
		_ = i.cmd.Process.Kill()
	}
	if i.logSink != nil {
		_ = i.logSink.Close()
	}
}
