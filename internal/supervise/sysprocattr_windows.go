//go:build windows

package supervise

import "os/exec"

func configureCmdSysProcAttr(cmd *exec.Cmd) {}
