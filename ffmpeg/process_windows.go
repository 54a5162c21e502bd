//go:build windows

package ffmpeg

import "os/exec"

func setProcessGroup(*exec.Cmd) {}

// Windows has no SIGTERM; terminating is killing.
func terminate(cmd *exec.Cmd) error {
	return cmd.Process.Kill()
}

func kill(cmd *exec.Cmd) error {
	return cmd.Process.Kill()
}
