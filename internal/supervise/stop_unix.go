//go:build !windows

package supervise

import (
	"errors"
	"fmt"
	"syscall"
)

// terminate asks the child's process group to exit gracefully.
func (h *handle) terminate() error {
	return h.signalGroup(syscall.SIGTERM)
}

// kill forcibly ends the child's process group.
func (h *handle) kill() error {
	return h.signalGroup(syscall.SIGKILL)
}

func (h *handle) signalGroup(sig syscall.Signal) error {
	pid := h.pid()
	if pid == 0 {
		return nil
	}
	if err := syscall.Kill(-pid, sig); err != nil && !errors.Is(err, syscall.ESRCH) {
		return fmt.Errorf("signal process group %d: %w", pid, err)
	}
	return nil
}
