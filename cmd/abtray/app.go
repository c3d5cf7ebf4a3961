package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"pkt.systems/abtray"
	"pkt.systems/abtray/internal/downloader"
	"pkt.systems/abtray/internal/instance"
	"pkt.systems/abtray/internal/lifecycle"
	"pkt.systems/abtray/internal/managed"
	"pkt.systems/abtray/internal/notify"
	"pkt.systems/abtray/internal/pathutil"
	"pkt.systems/abtray/internal/prefs"
	"pkt.systems/abtray/internal/procprobe"
	"pkt.systems/abtray/internal/svcfields"
	"pkt.systems/abtray/internal/tray"
	"pkt.systems/pslog"
)

func submain(ctx context.Context) int {
	baseLogger := pslog.LoggerFromEnv(context.Background(),
		pslog.WithEnvPrefix("ABTRAY_LOG_"),
		pslog.WithEnvOptions(pslog.Options{Mode: pslog.ModeStructured, MinLevel: pslog.InfoLevel}),
		pslog.WithEnvWriter(os.Stderr),
	).With("app", "abtray")
	cmd := newRootCommand(baseLogger)
	rootInvocation := invocationTargetsRootCommand(cmd, os.Args[1:])
	if _, err := cmd.ExecuteContextC(ctx); err != nil {
		if err != context.Canceled {
			if rootInvocation {
				svcfields.WithSubsystem(baseLogger, svcfields.CLIRoot).Error("command failed", "error", err)
			} else {
				fmt.Fprintf(os.Stderr, "%s\n", err)
			}
		}
		return 1
	}
	return 0
}

func invocationTargetsRootCommand(root *cobra.Command, args []string) bool {
	if len(args) == 0 {
		return true
	}
	lookupLong := func(name string) *pflag.Flag {
		flag := root.Flags().Lookup(name)
		if flag == nil {
			flag = root.PersistentFlags().Lookup(name)
		}
		return flag
	}
	lookupShort := func(shorthand string) *pflag.Flag {
		flag := root.Flags().ShorthandLookup(shorthand)
		if flag == nil {
			flag = root.PersistentFlags().ShorthandLookup(shorthand)
		}
		return flag
	}
	remainingHasSubcommand := func(rest []string) bool {
		for _, tok := range rest {
			if isSubcommandToken(root, tok) {
				return true
			}
		}
		return false
	}
	for i := 0; i < len(args); {
		arg := args[i]
		if arg == "--" {
			return true
		}
		if strings.HasPrefix(arg, "--") {
			if strings.IndexByte(arg, '=') >= 0 {
				i++
				continue
			}
			flag := lookupLong(strings.TrimPrefix(arg, "--"))
			if flag == nil {
				return !remainingHasSubcommand(args[i+1:])
			}
			i++
			if flag.NoOptDefVal == "" && i < len(args) {
				i++
			}
			continue
		}
		if strings.HasPrefix(arg, "-") && arg != "-" {
			sh := strings.TrimPrefix(arg, "-")
			consumeNext := false
			for idx, ch := range sh {
				flag := lookupShort(string(ch))
				if flag == nil {
					return !remainingHasSubcommand(args[i+1:])
				}
				if flag.NoOptDefVal == "" {
					if idx == len(sh)-1 {
						consumeNext = true
					}
					break
				}
			}
			i++
			if consumeNext && i < len(args) {
				i++
			}
			continue
		}
		return !isSubcommandToken(root, arg)
	}
	return true
}

func isSubcommandToken(root *cobra.Command, token string) bool {
	for _, sub := range root.Commands() {
		if token == sub.Name() {
			return true
		}
		for _, alias := range sub.Aliases {
			if token == alias {
				return true
			}
		}
	}
	return false
}

func loadConfigFile() (string, error) {
	cfgPath := strings.TrimSpace(viper.GetString("config"))
	explicit := cfgPath != ""

	if cfgPath == "" {
		if dir, err := abtray.DefaultConfigDir(); err == nil {
			candidate := filepath.Join(dir, abtray.DefaultConfigFileName)
			if _, err := os.Stat(candidate); err == nil {
				cfgPath = candidate
			}
		}
	}
	if cfgPath == "" {
		return "", nil
	}

	expanded, err := expandPath(cfgPath)
	if err != nil {
		return "", fmt.Errorf("expand config path %q: %w", cfgPath, err)
	}
	info, err := os.Stat(expanded)
	if err != nil {
		if os.IsNotExist(err) && !explicit {
			return "", nil
		}
		return "", fmt.Errorf("config file %q: %w", expanded, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("config file %q is a directory", expanded)
	}

	viper.SetConfigFile(expanded)
	if err := viper.ReadInConfig(); err != nil {
		return "", fmt.Errorf("read config file %q: %w", expanded, err)
	}
	return expanded, nil
}

func expandPath(p string) (string, error) {
	if p == "" {
		return "", nil
	}
	expanded, err := pathutil.ExpandUserAndEnv(p)
	if err != nil {
		return "", err
	}
	return filepath.Abs(expanded)
}

func newRootCommand(baseLogger pslog.Logger) *cobra.Command {
	var cfg abtray.Config

	cmd := &cobra.Command{
		Use:           "abtray",
		Short:         "abtray runs the AutoBangumi web UI from the system tray and supervises qBittorrent",
		SilenceErrors: true,
		Example: `
  # Serve the web UI on the default port with a tray icon
  abtray

  # Headless, bound to loopback, leaving qBittorrent alone on exit unless the preference says otherwise
  abtray --no-tray --listen 127.0.0.1:7892

  # Explicit qBittorrent location and a longer grace period
  ABTRAY_MANAGED_PATH=/opt/qbittorrent/bin/qbittorrent abtray --grace-period 10s
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := baseLogger
			cliLogger := svcfields.WithSubsystem(logger, svcfields.CLIRoot)
			ctx := cmd.Context()
			cmd.SilenceUsage = true

			configFile, err := loadConfigFile()
			if err != nil {
				return err
			}
			if configFile != "" {
				cliLogger.Info("loaded config file", "path", configFile)
			}
			if err := bindConfig(&cfg); err != nil {
				return err
			}
			logLevel := strings.TrimSpace(viper.GetString("log-level"))
			if logLevel == "" {
				logLevel = "info"
			}
			if level, ok := pslog.ParseLevel(logLevel); ok {
				logger = logger.LogLevel(level)
				cliLogger = svcfields.WithSubsystem(logger, svcfields.CLIRoot)
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			svcfields.WithSubsystem(logger, svcfields.LifecycleInit).Info(
				"welcome to abtray",
				"pid", os.Getpid(),
				"listen", cfg.Listen,
				"managed_process", cfg.ManagedProcessName,
			)

			err = runSupervisor(ctx, cfg, logger)
			if errors.Is(err, lifecycle.ErrAlreadyRunning) {
				_, werr := fmt.Fprintf(cmd.OutOrStdout(), "%s is already running\n", cfg.AppName)
				return werr
			}
			return err
		},
	}

	persistentFlags := cmd.PersistentFlags()
	persistentFlags.StringP("config", "c", "", "path to YAML config file (defaults to $HOME/.abtray/"+abtray.DefaultConfigFileName+")")
	persistentFlags.String("log-level", "info", "log level (trace, debug, info, warn, error)")

	flags := cmd.Flags()
	flags.String("app-name", abtray.DefaultAppName, "display name used in notifications and the tray tooltip")
	flags.String("listen", "", "web server listen address (defaults to HOST or IPV6 with port 7892)")
	flags.String("dist-dir", abtray.DefaultDistDir, "directory holding the built web UI (absent means development mode)")
	flags.String("posters-dir", abtray.DefaultPostersDir, "directory served under /posters/")
	flags.String("prefs-path", abtray.DefaultPrefsPath, "JSON document holding exit_close_qbit and the qBittorrent path")
	flags.String("downloader-config", abtray.DefaultDownloaderConfigPath, "JSON document holding the downloader connection settings")
	flags.String("managed-process-name", abtray.DefaultManagedProcessName(), "qBittorrent executable name matched against running processes")
	flags.String("managed-path", abtray.DefaultManagedPath(), "qBittorrent executable used when the preferences carry no usable path")
	flags.String("tray-icon", abtray.DefaultTrayIcon, "PNG used for the tray icon when present")
	flags.String("notify-icon", abtray.DefaultNotifyIcon, "icon attached to notifications when present")
	flags.String("instance-name", abtray.DefaultInstanceName, "name of the single-instance guard")
	flags.Bool("no-tray", false, "run without a system tray icon")
	flags.Bool("watch-downloader-config", false, "log reloads and invalid edits of the downloader config")
	flags.Duration("grace-period", abtray.DefaultGracePeriod, "wait after asking qBittorrent to shut down before re-checking")
	flags.Duration("settle-delay", abtray.DefaultSettleDelay, "pause after stopping the server before removing the tray")
	flags.Duration("hard-deadline", abtray.DefaultHardDeadline, "force exit when shutdown takes longer than this")
	flags.Duration("control-timeout", abtray.DefaultControlTimeout, "timeout for each qBittorrent control API request")
	flags.Duration("server-stop-timeout", abtray.DefaultServerStopTimeout, "drain timeout for the web server")
	flags.String("otlp-endpoint", "", "OTLP collector endpoint for traces (e.g. grpc://localhost:4317)")
	flags.Bool("runtime-metrics", false, "add OpenTelemetry Go runtime metrics to /metrics")

	bindFlag := func(name string) {
		flag := flags.Lookup(name)
		if flag == nil {
			flag = persistentFlags.Lookup(name)
		}
		if flag == nil {
			panic(fmt.Sprintf("flag %q not found", name))
		}
		if err := viper.BindPFlag(name, flag); err != nil {
			panic(err)
		}
	}

	viper.SetEnvPrefix("ABTRAY")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	names := []string{
		"config", "log-level",
		"app-name", "listen", "dist-dir", "posters-dir", "prefs-path", "downloader-config",
		"managed-process-name", "managed-path", "tray-icon", "notify-icon", "instance-name",
		"no-tray", "watch-downloader-config",
		"grace-period", "settle-delay", "hard-deadline", "control-timeout", "server-stop-timeout",
		"otlp-endpoint", "runtime-metrics",
	}
	for _, name := range names {
		bindFlag(name)
	}

	cmd.AddCommand(newConfigCommand())
	cmd.AddCommand(newVersionCommand())
	return cmd
}

func bindConfig(cfg *abtray.Config) error {
	cfg.AppName = viper.GetString("app-name")
	cfg.Listen = viper.GetString("listen")
	cfg.DistDir = viper.GetString("dist-dir")
	cfg.PostersDir = viper.GetString("posters-dir")
	cfg.PrefsPath = viper.GetString("prefs-path")
	cfg.DownloaderConfigPath = viper.GetString("downloader-config")
	cfg.ManagedProcessName = viper.GetString("managed-process-name")
	cfg.ManagedDefaultPath = viper.GetString("managed-path")
	cfg.TrayIcon = viper.GetString("tray-icon")
	cfg.NotifyIcon = viper.GetString("notify-icon")
	cfg.InstanceName = viper.GetString("instance-name")
	cfg.DisableTray = viper.GetBool("no-tray")
	cfg.WatchDownloaderConfig = viper.GetBool("watch-downloader-config")
	cfg.GracePeriod = viper.GetDuration("grace-period")
	cfg.SettleDelay = viper.GetDuration("settle-delay")
	cfg.HardDeadline = viper.GetDuration("hard-deadline")
	cfg.ControlTimeout = viper.GetDuration("control-timeout")
	cfg.ServerStopTimeout = viper.GetDuration("server-stop-timeout")
	cfg.OTLPEndpoint = viper.GetString("otlp-endpoint")
	cfg.RuntimeMetrics = viper.GetBool("runtime-metrics")
	if strings.TrimSpace(cfg.Listen) == "" {
		cfg.Listen = abtray.DefaultListen()
	}
	return nil
}

// runSupervisor wires the collaborators and hands control to the lifecycle
// coordinator. Telemetry and the settings watcher start only once the guard
// is held. It returns lifecycle.ErrAlreadyRunning when another instance holds
// the guard; otherwise the process ends inside the coordinator.
func runSupervisor(ctx context.Context, cfg abtray.Config, logger pslog.Logger) error {
	store := prefs.New(cfg.PrefsPath, svcfields.WithSubsystem(logger, svcfields.PrefsStore))
	probe := procprobe.New(cfg.ManagedProcessName, nil, svcfields.WithSubsystem(logger, svcfields.ManagedProbe))

	controller, err := managed.New(managed.Config{
		Probe:          probe,
		Paths:          store,
		DefaultPath:    cfg.ManagedDefaultPath,
		SettingsPath:   cfg.DownloaderConfigPath,
		GracePeriod:    cfg.GracePeriod,
		ControlTimeout: cfg.ControlTimeout,
		Logger:         svcfields.WithSubsystem(logger, svcfields.ManagedController),
		ControlLogger:  svcfields.WithSubsystem(logger, svcfields.ManagedControlAPI),
	})
	if err != nil {
		return err
	}

	notifier := notify.New(cfg.AppName, cfg.NotifyIcon, notify.DesktopSender{}, svcfields.WithSubsystem(logger, svcfields.Notifier))

	registry, err := abtray.NewMetricsRegistry()
	if err != nil {
		return fmt.Errorf("metrics registry: %w", err)
	}
	metrics, err := lifecycle.NewMetrics(registry, probe)
	if err != nil {
		return fmt.Errorf("lifecycle metrics: %w", err)
	}

	var telemetry *abtray.Telemetry
	var coord *lifecycle.Coordinator
	server, err := abtray.NewServer(cfg,
		abtray.WithLogger(svcfields.WithSubsystem(logger, svcfields.ServerHTTP)),
		abtray.WithRegistry(registry),
		abtray.WithStatus(func(ctx context.Context) abtray.Status {
			return abtray.Status{
				State:           coord.State().String(),
				StartedAt:       coord.StartedAt(),
				Uptime:          coord.Uptime(),
				ManagedRunning:  coord.ManagedRunning(ctx),
				TerminateOnExit: coord.TerminateOnExit(),
			}
		}),
	)
	if err != nil {
		return err
	}

	var presence lifecycle.Presence
	if cfg.DisableTray {
		presence = tray.NewHeadless()
	} else {
		presence = tray.New(tray.Config{
			Title:    cfg.AppName,
			Port:     cfg.Port(),
			URL:      cfg.WebURL(),
			IconPath: cfg.TrayIcon,
			Actions: tray.Actions{
				TerminateOnExit:       func() bool { return coord.TerminateOnExit() },
				ToggleTerminateOnExit: func() bool { return coord.ToggleTerminateOnExit() },
				Quit:                  func() { go coord.RequestShutdown(lifecycle.TriggerUser) },
			},
			Logger: svcfields.WithSubsystem(logger, svcfields.Tray),
		})
	}

	instanceLogger := svcfields.WithSubsystem(logger, svcfields.Instance)
	coord, err = lifecycle.New(lifecycle.Config{
		Server:     server,
		Presence:   presence,
		Probe:      probe,
		Controller: controller,
		Notifier:   notifier,
		Prefs:      store,
		Acquire: func(name string) (instance.Release, bool, error) {
			release, acquired, err := instance.Acquire(name)
			instanceLogger.Debug("instance.acquire", "name", name, "acquired", acquired, "error", err)
			return release, acquired, err
		},
		Started: func(ctx context.Context) error {
			var err error
			telemetry, err = abtray.SetupTelemetry(ctx, cfg, registry, svcfields.WithSubsystem(logger, svcfields.Telemetry))
			if err != nil {
				return err
			}
			if cfg.WatchDownloaderConfig {
				watchDownloaderConfig(coord.Done(), cfg.DownloaderConfigPath, svcfields.WithSubsystem(logger, svcfields.DownloaderSettings))
			}
			return nil
		},
		InstanceName: cfg.InstanceName,
		Port:         cfg.Port(),
		URL:          cfg.WebURL(),
		SettleDelay:  cfg.SettleDelay,
		HardDeadline: cfg.HardDeadline,
		Metrics:      metrics,
		Exit: func(code int) {
			flushCtx, cancel := context.WithTimeout(context.Background(), cfg.SettleDelay)
			_ = telemetry.Shutdown(flushCtx)
			cancel()
			os.Exit(code)
		},
		Logger: svcfields.WithSubsystem(logger, svcfields.LifecycleShutdown),
	})
	if err != nil {
		return err
	}

	return coord.Start(ctx)
}

// watchDownloaderConfig logs downloader settings edits until done closes.
func watchDownloaderConfig(done <-chan struct{}, path string, logger pslog.Logger) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-done
		cancel()
	}()
	go func() {
		err := downloader.Watch(ctx, path, logger, func(s downloader.Settings, err error) {
			if err == nil {
				logger.Debug("settings.applied", "base_url", s.BaseURL())
			}
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn("settings.watch.stopped", "error", err)
		}
	}()
}
