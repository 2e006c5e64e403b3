//go:build windows

package audit

import "os/exec"

func configureSysProcAttr(cmd *exec.Cmd) {}

func exitCode(exitErr *exec.ExitError) int { return exitErr.ExitCode() }
