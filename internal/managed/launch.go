package managed

import (
	"fmt"
	"os/exec"
	"path/filepath"

	"pkt.systems/pslog"
)

// LaunchDetached starts path in its own process group with no stdio attached
// and reaps it in the background so it never lingers as a zombie.
func LaunchDetached(path string, logger pslog.Logger) error {
	if logger == nil {
		logger = pslog.NoopLogger()
	}
	cmd := exec.Command(path)
	cmd.Dir = filepath.Dir(path)
	cmd.SysProcAttr = detachedAttr()
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start: %w", err)
	}
	pid := cmd.Process.Pid
	go func() {
		err := cmd.Wait()
		logger.Debug("managed.process.exited", "pid", pid, "error", err)
	}()
	return nil
}
