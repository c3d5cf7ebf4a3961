package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"pkt.systems/abtray"
)

func newConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage abtray configuration files",
	}
	cmd.AddCommand(newConfigGenCommand())
	return cmd
}

func newConfigGenCommand() *cobra.Command {
	var outPath string
	var force bool
	var stdout bool
	defaultOutput := "$HOME/.abtray/" + abtray.DefaultConfigFileName
	if dir, err := abtray.DefaultConfigDir(); err == nil {
		defaultOutput = filepath.Join(dir, abtray.DefaultConfigFileName)
	}

	cmd := &cobra.Command{
		Use:   "gen",
		Short: "Generate a default abtray configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if stdout && outPath != "" {
				return fmt.Errorf("--stdout and --out are mutually exclusive")
			}
			if outPath == "" && !stdout {
				dir, err := abtray.DefaultConfigDir()
				if err != nil {
					return fmt.Errorf("resolve config dir: %w", err)
				}
				outPath = filepath.Join(dir, abtray.DefaultConfigFileName)
			}

			data, err := defaultConfigYAML()
			if err != nil {
				return err
			}
			if stdout {
				_, err := cmd.OutOrStdout().Write(data)
				return err
			}

			if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
				return fmt.Errorf("create config dir: %w", err)
			}
			if !force {
				if _, err := os.Stat(outPath); err == nil {
					return fmt.Errorf("config file %s already exists (use --force to overwrite)", outPath)
				} else if !errors.Is(err, os.ErrNotExist) {
					return fmt.Errorf("stat config file: %w", err)
				}
			}
			if err := os.WriteFile(outPath, data, 0o600); err != nil {
				return fmt.Errorf("write config file: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote default config to %s\n", outPath)
			return nil
		},
	}

	cmd.Flags().StringVar(&outPath, "out", "", fmt.Sprintf("output path for generated config (defaults to %s)", defaultOutput))
	cmd.Flags().BoolVar(&force, "force", false, "overwrite the target file if it already exists")
	cmd.Flags().BoolVar(&stdout, "stdout", false, "print the config to stdout instead of writing a file")
	return cmd
}

type configDefaults struct {
	AppName               string `yaml:"app-name"`
	Listen                string `yaml:"listen"`
	DistDir               string `yaml:"dist-dir"`
	PostersDir            string `yaml:"posters-dir"`
	PrefsPath             string `yaml:"prefs-path"`
	DownloaderConfig      string `yaml:"downloader-config"`
	ManagedProcessName    string `yaml:"managed-process-name"`
	ManagedPath           string `yaml:"managed-path"`
	TrayIcon              string `yaml:"tray-icon"`
	NotifyIcon            string `yaml:"notify-icon"`
	InstanceName          string `yaml:"instance-name"`
	NoTray                bool   `yaml:"no-tray"`
	WatchDownloaderConfig bool   `yaml:"watch-downloader-config"`
	GracePeriod           string `yaml:"grace-period"`
	SettleDelay           string `yaml:"settle-delay"`
	HardDeadline          string `yaml:"hard-deadline"`
	ControlTimeout        string `yaml:"control-timeout"`
	ServerStopTimeout     string `yaml:"server-stop-timeout"`
	OTLPEndpoint          string `yaml:"otlp-endpoint"`
	RuntimeMetrics        bool   `yaml:"runtime-metrics"`
	LogLevel              string `yaml:"log-level"`
}

// defaultConfigYAML renders the unexpanded defaults so relative paths stay
// relative to the working directory abtray is started from.
func defaultConfigYAML() ([]byte, error) {
	defaults := configDefaults{
		AppName:            abtray.DefaultAppName,
		Listen:             abtray.DefaultListen(),
		DistDir:            abtray.DefaultDistDir,
		PostersDir:         abtray.DefaultPostersDir,
		PrefsPath:          abtray.DefaultPrefsPath,
		DownloaderConfig:   abtray.DefaultDownloaderConfigPath,
		ManagedProcessName: abtray.DefaultManagedProcessName(),
		ManagedPath:        abtray.DefaultManagedPath(),
		TrayIcon:           abtray.DefaultTrayIcon,
		NotifyIcon:         abtray.DefaultNotifyIcon,
		InstanceName:       abtray.DefaultInstanceName,
		GracePeriod:        abtray.DefaultGracePeriod.String(),
		SettleDelay:        abtray.DefaultSettleDelay.String(),
		HardDeadline:       abtray.DefaultHardDeadline.String(),
		ControlTimeout:     abtray.DefaultControlTimeout.String(),
		ServerStopTimeout:  abtray.DefaultServerStopTimeout.String(),
		LogLevel:           "info",
	}
	data, err := yaml.Marshal(defaults)
	if err != nil {
		return nil, fmt.Errorf("marshal default config: %w", err)
	}
	return data, nil
}
