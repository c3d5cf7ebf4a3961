package abtray

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"pkt.systems/abtray/internal/lifecycle"
	"pkt.systems/abtray/internal/managed"
	"pkt.systems/abtray/internal/pathutil"
)

const (
	// DefaultAppName is the display name used in notifications and the tray.
	DefaultAppName = "AutoBangumi"
	// DefaultPort is the web UI port.
	DefaultPort = 7892
	// DefaultHost is the bind host when neither HOST nor IPV6 is set.
	DefaultHost = "0.0.0.0"
	// DefaultIPv6Host is the bind host when IPV6 is set.
	DefaultIPv6Host = "::"
	// DefaultDistDir holds the built web UI; absent means development mode.
	DefaultDistDir = "dist"
	// DefaultPostersDir is served under /posters/.
	DefaultPostersDir = "data/posters"
	// DefaultPrefsPath is the shared JSON document holding exit_close_qbit and path.
	DefaultPrefsPath = "config/qbitpath.json"
	// DefaultDownloaderConfigPath holds the downloader connection settings.
	DefaultDownloaderConfigPath = "config/config.json"
	// DefaultTrayIcon is loaded for the tray when present.
	DefaultTrayIcon = "app.png"
	// DefaultNotifyIcon is attached to notifications when present.
	DefaultNotifyIcon = "app.ico"
	// DefaultInstanceName names the OS-wide single-instance guard.
	DefaultInstanceName = lifecycle.DefaultInstanceName
	// DefaultGracePeriod is the wait after a graceful shutdown request before re-probing.
	DefaultGracePeriod = managed.DefaultGracePeriod
	// DefaultSettleDelay lets notifications and the server stop signal land before teardown.
	DefaultSettleDelay = lifecycle.DefaultSettleDelay
	// DefaultHardDeadline bounds the whole shutdown sequence before a forced exit.
	DefaultHardDeadline = lifecycle.DefaultHardDeadline
	// DefaultControlTimeout bounds each control API request.
	DefaultControlTimeout = 10 * time.Second
	// DefaultServerStopTimeout bounds the HTTP server drain after a stop request.
	DefaultServerStopTimeout = 5 * time.Second
	// DefaultConfigFileName is the config file searched for when --config is omitted.
	DefaultConfigFileName = "config.yaml"
)

// Config captures the supervisor's runtime configuration.
type Config struct {
	// AppName is shown in notifications and the tray tooltip.
	AppName string
	// Listen is the web server bind address (for example "0.0.0.0:7892").
	Listen string
	// DistDir is the built web UI directory.
	DistDir string
	// PostersDir is served under /posters/.
	PostersDir string
	// PrefsPath is the JSON document holding exit_close_qbit and the executable path.
	PrefsPath string
	// DownloaderConfigPath is the JSON document holding downloader.{host,ssl,username,password}.
	DownloaderConfigPath string
	// ManagedProcessName is matched case-insensitively against running process names.
	ManagedProcessName string
	// ManagedDefaultPath is used when PrefsPath carries no usable executable path.
	ManagedDefaultPath string
	// TrayIcon is the PNG used for the tray icon when it exists.
	TrayIcon string
	// NotifyIcon is attached to notifications when it exists.
	NotifyIcon string
	// InstanceName names the single-instance guard.
	InstanceName string
	// DisableTray runs a headless presence instead of the system tray.
	DisableTray bool
	// WatchDownloaderConfig logs reloads and invalid edits of DownloaderConfigPath.
	WatchDownloaderConfig bool
	// GracePeriod is the wait between a graceful shutdown request and the re-probe.
	GracePeriod time.Duration
	// SettleDelay is the pause after stopping the server, before the tray is removed.
	SettleDelay time.Duration
	// HardDeadline forces process exit when the shutdown sequence takes longer.
	HardDeadline time.Duration
	// ControlTimeout bounds each request to the control API.
	ControlTimeout time.Duration
	// ServerStopTimeout bounds the HTTP drain after a stop request.
	ServerStopTimeout time.Duration
	// OTLPEndpoint enables trace export (host:port, grpc://, grpcs://, http:// or https://).
	OTLPEndpoint string
	// RuntimeMetrics adds OpenTelemetry Go runtime metrics to /metrics.
	RuntimeMetrics bool
}

// Validate fills defaults and rejects inconsistent settings.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.AppName) == "" {
		c.AppName = DefaultAppName
	}
	if strings.TrimSpace(c.Listen) == "" {
		c.Listen = DefaultListen()
	}
	if _, _, err := net.SplitHostPort(c.Listen); err != nil {
		return fmt.Errorf("config: listen %q: %w", c.Listen, err)
	}
	if c.DistDir == "" {
		c.DistDir = DefaultDistDir
	}
	if c.PostersDir == "" {
		c.PostersDir = DefaultPostersDir
	}
	if c.PrefsPath == "" {
		c.PrefsPath = DefaultPrefsPath
	}
	if c.DownloaderConfigPath == "" {
		c.DownloaderConfigPath = DefaultDownloaderConfigPath
	}
	for _, p := range []*string{&c.DistDir, &c.PostersDir, &c.PrefsPath, &c.DownloaderConfigPath, &c.ManagedDefaultPath} {
		expanded, err := pathutil.ExpandUserAndEnv(*p)
		if err != nil {
			return fmt.Errorf("config: expand path %q: %w", *p, err)
		}
		*p = expanded
	}
	if strings.TrimSpace(c.ManagedProcessName) == "" {
		c.ManagedProcessName = DefaultManagedProcessName()
	}
	if c.ManagedDefaultPath == "" {
		c.ManagedDefaultPath = DefaultManagedPath()
	}
	if c.TrayIcon == "" {
		c.TrayIcon = DefaultTrayIcon
	}
	if c.NotifyIcon == "" {
		c.NotifyIcon = DefaultNotifyIcon
	}
	if strings.TrimSpace(c.InstanceName) == "" {
		c.InstanceName = DefaultInstanceName
	}
	if strings.ContainsAny(c.InstanceName, `/\`) {
		return fmt.Errorf("config: instance name %q must not contain path separators", c.InstanceName)
	}
	durations := []struct {
		name string
		val  *time.Duration
		def  time.Duration
	}{
		{"grace period", &c.GracePeriod, DefaultGracePeriod},
		{"settle delay", &c.SettleDelay, DefaultSettleDelay},
		{"hard deadline", &c.HardDeadline, DefaultHardDeadline},
		{"control timeout", &c.ControlTimeout, DefaultControlTimeout},
		{"server stop timeout", &c.ServerStopTimeout, DefaultServerStopTimeout},
	}
	for _, d := range durations {
		if *d.val < 0 {
			return fmt.Errorf("config: %s must be >= 0", d.name)
		}
		if *d.val == 0 {
			*d.val = d.def
		}
	}
	if c.OTLPEndpoint != "" {
		if _, err := resolveOTLPTarget(strings.TrimSpace(c.OTLPEndpoint)); err != nil {
			return fmt.Errorf("config: otlp endpoint: %w", err)
		}
	}
	if worst := c.WorstCaseShutdown(); c.HardDeadline <= worst {
		return fmt.Errorf("config: hard deadline %s must exceed the worst-case shutdown sequence %s (grace period + 2*control timeout + settle delay)", c.HardDeadline, worst)
	}
	return nil
}

// WorstCaseShutdown is the longest a shutdown sequence waits before the
// process exits: one control request to log in, one to request shutdown,
// the grace period and the settle delay.
func (c Config) WorstCaseShutdown() time.Duration {
	return c.GracePeriod + 2*c.ControlTimeout + c.SettleDelay
}

// Port returns the numeric port of Listen, or 0 when it cannot be parsed.
func (c Config) Port() int {
	_, port, err := net.SplitHostPort(c.Listen)
	if err != nil {
		return 0
	}
	n, err := strconv.Atoi(port)
	if err != nil {
		return 0
	}
	return n
}

// WebURL is the local address opened by the tray and advertised in notifications.
func (c Config) WebURL() string {
	return fmt.Sprintf("http://localhost:%d", c.Port())
}

// DefaultListen derives the bind address from the HOST and IPV6 environment
// variables, falling back to all IPv4 interfaces.
func DefaultListen() string {
	host := DefaultHost
	if os.Getenv("IPV6") != "" {
		host = DefaultIPv6Host
	} else if h := strings.TrimSpace(os.Getenv("HOST")); h != "" {
		host = h
	}
	return net.JoinHostPort(host, strconv.Itoa(DefaultPort))
}

// DefaultManagedProcessName is the qBittorrent executable name for this platform.
func DefaultManagedProcessName() string {
	if runtime.GOOS == "windows" {
		return "qbittorrent.exe"
	}
	return "qbittorrent"
}

// DefaultManagedPath is the conventional qBittorrent install location for this platform.
func DefaultManagedPath() string {
	switch runtime.GOOS {
	case "windows":
		return `C:\Program Files\qBittorrent\qbittorrent.exe`
	case "darwin":
		return "/Applications/qbittorrent.app/Contents/MacOS/qbittorrent"
	default:
		return "/usr/bin/qbittorrent"
	}
}

// DefaultConfigDir returns the default configuration directory ($HOME/.abtray).
func DefaultConfigDir() (string, error) {
	if override := strings.TrimSpace(os.Getenv("ABTRAY_CONFIG_DIR")); override != "" {
		if filepath.IsAbs(override) {
			return override, nil
		}
		abs, err := filepath.Abs(override)
		if err != nil {
			return "", err
		}
		return abs, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".abtray"), nil
}
