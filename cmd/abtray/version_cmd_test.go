package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/spf13/viper"

	"pkt.systems/abtray/internal/version"
	"pkt.systems/pslog"
)

func resetViper(t *testing.T) {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)
}

func executeRootCommand(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	resetViper(t)
	t.Setenv("ABTRAY_CONFIG", "")
	t.Setenv("ABTRAY_CONFIG_DIR", t.TempDir())
	cmd := newRootCommand(pslog.NoopLogger())
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func TestVersionCommandPrintsCurrentVersion(t *testing.T) {
	stdout, stderr, err := executeRootCommand(t, "version")
	if err != nil {
		t.Fatalf("version command failed: %v", err)
	}
	if stderr != "" {
		t.Fatalf("expected empty stderr, got %q", stderr)
	}
	want := version.Module() + " " + version.Current() + "\n"
	if stdout != want {
		t.Fatalf("unexpected stdout: got %q want %q", stdout, want)
	}
}

func TestVersionCommandVersionFlagPrintsCurrentVersion(t *testing.T) {
	stdout, _, err := executeRootCommand(t, "version", "--version")
	if err != nil {
		t.Fatalf("version --version failed: %v", err)
	}
	if want := version.Current() + "\n"; stdout != want {
		t.Fatalf("unexpected stdout: got %q want %q", stdout, want)
	}
}

func TestVersionCommandSemverFlagPrintsCurrentSemver(t *testing.T) {
	stdout, _, err := executeRootCommand(t, "version", "--semver")
	if err != nil {
		t.Fatalf("version --semver failed: %v", err)
	}
	if want := version.CurrentSemver() + "\n"; stdout != want {
		t.Fatalf("unexpected stdout: got %q want %q", stdout, want)
	}
}

func TestVersionCommandFlagsAreMutuallyExclusive(t *testing.T) {
	_, _, err := executeRootCommand(t, "version", "--version", "--semver")
	if err == nil {
		t.Fatal("expected error when both --version and --semver are set")
	}
	if !strings.Contains(err.Error(), "mutually exclusive") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRootVersionFlagIsUnknown(t *testing.T) {
	_, _, err := executeRootCommand(t, "--version")
	if err == nil {
		t.Fatal("expected unknown flag error for root --version")
	}
	if !strings.Contains(err.Error(), "unknown flag") {
		t.Fatalf("unexpected error: %v", err)
	}
}
