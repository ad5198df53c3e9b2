//go:build windows

package spawner

import (
	"os/exec"
	"strconv"
	"syscall"
)

// ResolveCommand maps an agent to its Windows invocation. The claude CLI is a
// native install; the npm-installed agents ship .cmd shims that must run
// through cmd /c.
func ResolveCommand(agent string) (string, []string) {
	if agent == "claude" {
		return "claude", nil
	}
	return "cmd", []string{"/c", agent + ".cmd"}
}

func configureCmd(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{HideWindow: true}
}

// escalate force-kills the whole process tree. Windows has no graceful
// signal tree, so there is no SIGTERM step.
func (s *Spawner) escalate(p *Process) {
	s.forceKill(p)
}

// forceKill runs taskkill on the process tree.
func (s *Spawner) forceKill(p *Process) {
	pid, ok := p.PID()
	if !ok {
		return
	}
	kill := exec.Command("taskkill", "/PID", strconv.Itoa(pid), "/T", "/F")
	kill.SysProcAttr = &syscall.SysProcAttr{HideWindow: true}
	go func() {
		if err := kill.Run(); err != nil {
			// Already gone.
			s.logger.Debug("taskkill failed", "agent", p.agent, "pid", pid, "error", err)
			return
		}
		s.logger.Info("process tree killed", "agent", p.agent, "pid", pid)
	}()
}
