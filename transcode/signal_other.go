//go:build !unix

package transcode

import (
	"os"
	"os/exec"
)

func setProcessGroup(cmd *exec.Cmd) {}

// no graceful termination without signals
func terminate(p *os.Process) error {
	return p.Kill()
}

func kill(p *os.Process) error {
	return p.Kill()
}
