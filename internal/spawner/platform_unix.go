//go:build !windows

package spawner

import (
	"os/exec"
	"syscall"
	"time"
)

// ResolveCommand runs the agent binary directly.
func ResolveCommand(agent string) (string, []string) {
	return agent, nil
}

func configureCmd(cmd *exec.Cmd) {}

// escalate sends SIGTERM and schedules SIGKILL after grace unless the
// process exits first.
func (s *Spawner) escalate(p *Process) {
	pid, ok := p.PID()
	if !ok {
		return
	}
	logger := s.logger.With("agent", p.agent, "pid", pid)

	if err := p.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		logger.Debug("SIGTERM not delivered", "error", err)
		return
	}
	logger.Info("sent SIGTERM", "grace", s.cfg.GracePeriod)

	p.setKillTimer(time.AfterFunc(s.cfg.GracePeriod, func() {
		if p.Exited() {
			return
		}
		logger.Warn("process did not exit after SIGTERM, sending SIGKILL")
		s.forceKill(p)
	}))
}

// forceKill sends SIGKILL without a grace period.
func (s *Spawner) forceKill(p *Process) {
	pid, ok := p.PID()
	if !ok {
		return
	}
	if err := p.cmd.Process.Kill(); err != nil {
		s.logger.Debug("SIGKILL not delivered", "agent", p.agent, "pid", pid, "error", err)
		return
	}
	s.logger.Info("sent SIGKILL", "agent", p.agent, "pid", pid)
}
