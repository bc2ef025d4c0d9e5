//go:build windows

package supervise

import (
	"errors"
	"fmt"
	"os"
)

// terminate asks the direct child to exit. Windows has no process group
// signal, so grandchildren are not reached.
func (h *handle) terminate() error {
	if h.cmd == nil || h.cmd.Process == nil {
		return nil
	}
	if err := h.cmd.Process.Signal(os.Interrupt); err != nil {
		// Interrupt is unsupported for most Windows processes; fall back to Kill.
		return h.kill()
	}
	return nil
}

func (h *handle) kill() error {
	if h.cmd == nil || h.cmd.Process == nil {
		return nil
	}
	if err := h.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("kill process %d: %w", h.pid(), err)
	}
	return nil
}
