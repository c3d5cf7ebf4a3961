// Package managed starts qBittorrent when it is absent and asks it to exit
// through its WebUI when the supervisor shuts down.
package managed

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"pkt.systems/abtray/internal/clock"
	"pkt.systems/abtray/internal/downloader"
	"pkt.systems/abtray/internal/pathutil"
	"pkt.systems/abtray/internal/qbit"
	"pkt.systems/pslog"
)

// DefaultGracePeriod is the wait between a successful shutdown command and
// the single follow-up probe.
const DefaultGracePeriod = 5 * time.Second

// ErrNoExecutable reports that neither the configured nor the default
// executable path exists.
var ErrNoExecutable = errors.New("managed: no executable to launch")

// Probe reports whether the managed process is running.
type Probe interface {
	Running(ctx context.Context) bool
}

// PathSource yields the user-configured executable path, or "".
type PathSource interface {
	ExecutablePath() string
}

// ControlClient is the slice of the WebUI API used for termination.
type ControlClient interface {
	Authenticate(ctx context.Context) error
	RequestShutdown(ctx context.Context) error
}

// ClientFactory builds a ControlClient for the given connection settings.
type ClientFactory func(downloader.Settings) (ControlClient, error)

// Launcher starts the executable at path without waiting for it.
type Launcher func(path string) error

// Config wires a Controller.
type Config struct {
	Probe        Probe
	Paths        PathSource
	DefaultPath  string
	SettingsPath string
	// LoadSettings overrides reading SettingsPath.
	LoadSettings   func() (downloader.Settings, error)
	NewClient      ClientFactory
	Launch         Launcher
	Clock          clock.Clock
	GracePeriod    time.Duration
	ControlTimeout time.Duration
	Logger         pslog.Logger
	// ControlLogger is handed to the default control client; defaults to Logger.
	ControlLogger pslog.Logger
}

// Controller implements EnsureStarted and TerminateGracefully.
type Controller struct {
	probe        Probe
	paths        PathSource
	defaultPath  string
	loadSettings func() (downloader.Settings, error)
	newClient    ClientFactory
	launch       Launcher
	clock        clock.Clock
	grace        time.Duration
	logger       pslog.Logger
}

// New constructs a Controller. Probe is required.
func New(cfg Config) (*Controller, error) {
	if cfg.Probe == nil {
		return nil, fmt.Errorf("managed: probe required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = pslog.NoopLogger()
	}
	c := &Controller{
		probe:        cfg.Probe,
		paths:        cfg.Paths,
		defaultPath:  strings.TrimSpace(cfg.DefaultPath),
		loadSettings: cfg.LoadSettings,
		newClient:    cfg.NewClient,
		launch:       cfg.Launch,
		clock:        clock.Or(cfg.Clock),
		grace:        cfg.GracePeriod,
		logger:       logger,
	}
	if c.grace <= 0 {
		c.grace = DefaultGracePeriod
	}
	if c.loadSettings == nil {
		path := cfg.SettingsPath
		c.loadSettings = func() (downloader.Settings, error) { return downloader.Load(path) }
	}
	if c.newClient == nil {
		timeout := cfg.ControlTimeout
		controlLogger := cfg.ControlLogger
		if controlLogger == nil {
			controlLogger = logger
		}
		c.newClient = func(s downloader.Settings) (ControlClient, error) {
			return qbit.New(s.BaseURL(),
				qbit.Credentials{Username: s.Username, Password: s.Password},
				qbit.WithTimeout(timeout),
				qbit.WithLogger(controlLogger),
			)
		}
	}
	if c.launch == nil {
		c.launch = func(path string) error { return LaunchDetached(path, logger) }
	}
	return c, nil
}

// ResolveExecutable returns the configured path when it exists, else the
// default path when it exists, else "".
func (c *Controller) ResolveExecutable() string {
	if c.paths != nil {
		if configured := strings.TrimSpace(c.paths.ExecutablePath()); configured != "" {
			expanded, err := pathutil.ExpandUserAndEnv(configured)
			if err == nil && pathutil.IsFile(expanded) {
				return expanded
			}
			c.logger.Warn("managed.path.configured_missing", "path", configured)
		}
	}
	if pathutil.IsFile(c.defaultPath) {
		return c.defaultPath
	}
	return ""
}

// EnsureStarted launches the managed process when the probe does not see it.
// It does not wait for the process to come up.
func (c *Controller) EnsureStarted(ctx context.Context) error {
	if c.probe.Running(ctx) {
		c.logger.Debug("managed.start.already_running")
		return nil
	}
	path := c.ResolveExecutable()
	if path == "" {
		c.logger.Warn("managed.start.no_executable", "default_path", c.defaultPath)
		return ErrNoExecutable
	}
	if err := c.launch(path); err != nil {
		c.logger.Error("managed.start.failed", "path", path, "error", err)
		return fmt.Errorf("managed: launch %s: %w", path, err)
	}
	c.logger.Info("managed.start.launched", "path", path)
	return nil
}

// TerminateGracefully asks the managed process to exit through its control
// API. Any failure before the command is accepted yields ControlError without
// waiting. Otherwise it waits the grace period and probes exactly once.
func (c *Controller) TerminateGracefully(ctx context.Context) Outcome {
	settings, err := c.loadSettings()
	if err != nil {
		c.logger.Error("managed.terminate.settings_failed", "error", err)
		return ControlError
	}
	client, err := c.newClient(settings)
	if err != nil {
		c.logger.Error("managed.terminate.client_failed", "base_url", settings.BaseURL(), "error", err)
		return ControlError
	}
	if err := client.Authenticate(ctx); err != nil {
		c.logger.Error("managed.terminate.auth_failed", "base_url", settings.BaseURL(), "error", err)
		return ControlError
	}
	if err := client.RequestShutdown(ctx); err != nil {
		c.logger.Error("managed.terminate.command_failed", "base_url", settings.BaseURL(), "error", err)
		return ControlError
	}
	c.logger.Info("managed.terminate.requested", "grace", c.grace)
	c.clock.Sleep(c.grace)
	if c.probe.Running(ctx) {
		c.logger.Warn("managed.terminate.still_running", "grace", c.grace)
		return StillRunning
	}
	c.logger.Info("managed.terminate.stopped")
	return StoppedGracefully
}
