package abtray

import (
	"strings"
	"testing"
	"time"

	"pkt.systems/abtray/internal/lifecycle"
	"pkt.systems/abtray/internal/managed"
)

func TestConfigValidateDefaults(t *testing.T) {
	t.Setenv("HOST", "")
	t.Setenv("IPV6", "")
	var cfg Config
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if cfg.Listen != "0.0.0.0:7892" {
		t.Fatalf("expected listen default, got %q", cfg.Listen)
	}
	if cfg.Port() != DefaultPort {
		t.Fatalf("expected port %d, got %d", DefaultPort, cfg.Port())
	}
	if cfg.GracePeriod != DefaultGracePeriod {
		t.Fatalf("expected grace period %s, got %s", DefaultGracePeriod, cfg.GracePeriod)
	}
	if cfg.SettleDelay != DefaultSettleDelay {
		t.Fatalf("expected settle delay %s, got %s", DefaultSettleDelay, cfg.SettleDelay)
	}
	if cfg.PrefsPath != DefaultPrefsPath {
		t.Fatalf("expected prefs path %q, got %q", DefaultPrefsPath, cfg.PrefsPath)
	}
	if cfg.ManagedProcessName == "" || cfg.ManagedDefaultPath == "" {
		t.Fatal("expected managed process defaults")
	}
	if cfg.InstanceName != DefaultInstanceName {
		t.Fatalf("expected instance name %q, got %q", DefaultInstanceName, cfg.InstanceName)
	}
	if cfg.WebURL() != "http://localhost:7892" {
		t.Fatalf("unexpected web url %q", cfg.WebURL())
	}
}

func TestDefaultListenHonoursEnvironment(t *testing.T) {
	t.Setenv("IPV6", "")
	t.Setenv("HOST", "127.0.0.1")
	if got := DefaultListen(); got != "127.0.0.1:7892" {
		t.Fatalf("HOST: got %q", got)
	}
	t.Setenv("IPV6", "1")
	if got := DefaultListen(); got != "[::]:7892" {
		t.Fatalf("IPV6: got %q", got)
	}
}

func TestConfigDefaultsMatchComponentDefaults(t *testing.T) {
	var cfg Config
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if cfg.SettleDelay != lifecycle.DefaultSettleDelay || cfg.HardDeadline != lifecycle.DefaultHardDeadline {
		t.Fatalf("settle=%s hard=%s", cfg.SettleDelay, cfg.HardDeadline)
	}
	if cfg.InstanceName != lifecycle.DefaultInstanceName {
		t.Fatalf("instance name=%q", cfg.InstanceName)
	}
	if cfg.GracePeriod != managed.DefaultGracePeriod {
		t.Fatalf("grace period=%s", cfg.GracePeriod)
	}
}

func TestWorstCaseShutdownCountsBothControlRequests(t *testing.T) {
	cfg := Config{Listen: ":1", ControlTimeout: 20 * time.Second, HardDeadline: 60 * time.Second}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	want := DefaultGracePeriod + 40*time.Second + DefaultSettleDelay
	if got := cfg.WorstCaseShutdown(); got != want {
		t.Fatalf("worst case=%s want %s", got, want)
	}
	var defaults Config
	if err := defaults.Validate(); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}
	if defaults.WorstCaseShutdown() >= defaults.HardDeadline {
		t.Fatalf("default deadline %s does not cover %s", defaults.HardDeadline, defaults.WorstCaseShutdown())
	}
}

func TestConfigValidateErrors(t *testing.T) {
	cases := []struct {
		name string
		cfg  Config
		want string
	}{
		{name: "bad listen", cfg: Config{Listen: "nope"}, want: "listen"},
		{name: "negative grace", cfg: Config{Listen: ":1", GracePeriod: -time.Second}, want: "grace period"},
		{name: "deadline too short", cfg: Config{Listen: ":1", HardDeadline: 2 * time.Second}, want: "hard deadline"},
		{name: "deadline below control timeouts", cfg: Config{Listen: ":1", ControlTimeout: 20 * time.Second}, want: "2*control timeout"},
		{name: "instance separator", cfg: Config{Listen: ":1", InstanceName: "a/b"}, want: "instance name"},
		{name: "otlp scheme", cfg: Config{Listen: ":1", OTLPEndpoint: "ftp://collector"}, want: "otlp endpoint"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := tc.cfg
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected %q in error, got %v", tc.want, err)
			}
		})
	}
}
