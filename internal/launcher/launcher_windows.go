//go:build windows

package launcher

import "os/exec"

func setProcessGroup(cmd *exec.Cmd) {}

// terminate kills the subprocess. Child processes are not tracked on
// Windows; termination of the tree is best-effort only.
func terminate(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	return cmd.Process.Kill()
}
