package notify

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"pkt.systems/abtray/internal/managed"
)

func TestExitMessageThemes(t *testing.T) {
	t.Parallel()
	cases := []struct {
		wasRunning bool
		outcome    managed.Outcome
		want       Theme
		line       string
	}{
		{wasRunning: false, outcome: managed.AlreadyStopped, want: ThemeAlreadyStopped, line: "already stopped"},
		{wasRunning: false, outcome: managed.ControlError, want: ThemeAlreadyStopped, line: "already stopped"},
		{wasRunning: true, outcome: managed.StoppedGracefully, want: ThemeStopped, line: "qBittorrent stopped"},
		{wasRunning: true, outcome: managed.ControlError, want: ThemeExitError, line: "exit error"},
		{wasRunning: true, outcome: managed.StillRunning, want: ThemeStillRunning, line: "still running"},
	}
	for _, tc := range cases {
		msg := ExitMessage(tc.wasRunning, tc.outcome)
		if msg.Theme != tc.want {
			t.Fatalf("ExitMessage(%v,%s) theme=%s want %s", tc.wasRunning, tc.outcome, msg.Theme, tc.want)
		}
		if !strings.Contains(strings.Join(msg.Lines, "\n"), tc.line) {
			t.Fatalf("theme %s lines %q missing %q", msg.Theme, msg.Lines, tc.line)
		}
		if !msg.WithIcon || msg.Expiration <= 0 {
			t.Fatalf("exit message should carry icon and expiration: %+v", msg)
		}
	}
}

func TestStartupMessagesMentionPort(t *testing.T) {
	t.Parallel()
	for _, msg := range []Message{ReadyMessage(7892, "http://localhost:7892"), StartedMessage(7892, "http://localhost:7892")} {
		if !strings.Contains(strings.Join(msg.Lines, " "), "port 7892") {
			t.Fatalf("%s missing port: %q", msg.Theme, msg.Lines)
		}
		if msg.OpenURL != "http://localhost:7892" {
			t.Fatalf("%s OpenURL=%q", msg.Theme, msg.OpenURL)
		}
	}
	if StartingMessage().WithIcon || WaitingMessage().WithIcon {
		t.Fatal("progress messages carry no icon")
	}
	if StartFailedMessage().Theme != ThemeStartFailed {
		t.Fatal("unexpected start failed theme")
	}
}

type captured struct {
	title, body, icon string
}

func TestShowAttachesIconOnlyWhenPresent(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	icon := filepath.Join(dir, "app.ico")
	var got []captured
	sender := SenderFunc(func(title, body, iconPath string) error {
		got = append(got, captured{title, body, iconPath})
		return nil
	})

	New("AutoBangumi", icon, sender, nil).Show(ExitMessage(true, managed.StoppedGracefully))
	if err := os.WriteFile(icon, []byte{0}, 0o644); err != nil {
		t.Fatalf("write icon: %v", err)
	}
	n := New("AutoBangumi", icon, sender, nil)
	n.Show(ExitMessage(true, managed.StoppedGracefully))
	n.Show(WaitingMessage())

	if len(got) != 3 {
		t.Fatalf("expected 3 sends, got %d", len(got))
	}
	if got[0].icon != "" {
		t.Fatalf("missing icon should not be attached, got %q", got[0].icon)
	}
	if got[1].icon != icon {
		t.Fatalf("expected icon %q, got %q", icon, got[1].icon)
	}
	if got[2].icon != "" {
		t.Fatalf("waiting message should not carry icon, got %q", got[2].icon)
	}
	if got[1].title != "AutoBangumi" || !strings.Contains(got[1].body, "\n") {
		t.Fatalf("unexpected rendering %+v", got[1])
	}
}

func TestShowSwallowsErrorsAndPanics(t *testing.T) {
	t.Parallel()
	failing := SenderFunc(func(string, string, string) error { return errors.New("no dbus") })
	New("AutoBangumi", "", failing, nil).Show(WaitingMessage())

	panicking := SenderFunc(func(string, string, string) error { panic("renderer crashed") })
	New("AutoBangumi", "", panicking, nil).Show(ExitMessage(false, managed.AlreadyStopped))

	var nilNotifier *Notifier
	nilNotifier.Show(WaitingMessage())
}
