// Package procprobe answers whether the managed process is running by
// enumerating OS processes. Every call is a fresh OS query.
package procprobe

import (
	"context"
	"strings"

	"github.com/shirou/gopsutil/v4/process"

	"pkt.systems/pslog"
)

// NamedProcess is the slice of *process.Process the probe relies on.
type NamedProcess interface {
	NameWithContext(ctx context.Context) (string, error)
}

// Lister enumerates running processes.
type Lister interface {
	Processes(ctx context.Context) ([]NamedProcess, error)
}

// SystemLister enumerates processes through gopsutil.
type SystemLister struct{}

// Processes implements Lister.
func (SystemLister) Processes(ctx context.Context) ([]NamedProcess, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]NamedProcess, len(procs))
	for i, p := range procs {
		out[i] = p
	}
	return out, nil
}

// Probe matches running processes against one executable name.
type Probe struct {
	name   string
	lister Lister
	logger pslog.Logger
}

// New returns a Probe for the executable name (for example "qbittorrent.exe").
// A nil lister uses SystemLister.
func New(name string, lister Lister, logger pslog.Logger) *Probe {
	if lister == nil {
		lister = SystemLister{}
	}
	if logger == nil {
		logger = pslog.NoopLogger()
	}
	return &Probe{name: strings.TrimSpace(name), lister: lister, logger: logger}
}

// Running reports whether any process name equals the configured name,
// ignoring case. Enumeration failures are logged and read as not running;
// processes whose name cannot be read are skipped.
func (p *Probe) Running(ctx context.Context) bool {
	if p.name == "" {
		return false
	}
	procs, err := p.lister.Processes(ctx)
	if err != nil {
		p.logger.Warn("probe.enumerate.failed", "name", p.name, "error", err)
		return false
	}
	for _, proc := range procs {
		name, err := proc.NameWithContext(ctx)
		if err != nil {
			continue
		}
		if strings.EqualFold(name, p.name) {
			return true
		}
	}
	return false
}
