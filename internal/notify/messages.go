// Package notify selects and shows the desktop notifications the supervisor
// emits at startup and shutdown. Showing a notification is best effort.
package notify

import (
	"fmt"
	"time"

	"pkt.systems/abtray/internal/managed"
)

// Theme names the message set a notification belongs to.
type Theme string

const (
	ThemeReady          Theme = "ready"
	ThemeStarting       Theme = "starting"
	ThemeStarted        Theme = "started"
	ThemeStartFailed    Theme = "start_failed"
	ThemeWaiting        Theme = "waiting"
	ThemeAlreadyStopped Theme = "exit_already_stopped"
	ThemeStopped        Theme = "exit_stopped"
	ThemeExitError      Theme = "exit_error"
	ThemeStillRunning   Theme = "exit_still_running"
)

// Message is one notification.
type Message struct {
	Theme Theme
	Lines []string
	// Expiration is how long the notification should stay visible where the
	// platform lets the sender choose.
	Expiration time.Duration
	// WithIcon attaches the configured icon when it exists.
	WithIcon bool
	// OpenURL is opened when the notification is activated, if supported.
	OpenURL string
}

const (
	finalExpiration    = 3 * time.Second
	waitingExpiration  = 5 * time.Second
	startingExpiration = time.Second
)

// ExitMessage selects the final shutdown notification. A process that was
// not running when shutdown began always yields the already-stopped theme.
func ExitMessage(wasRunning bool, outcome managed.Outcome) Message {
	msg := Message{Expiration: finalExpiration, WithIcon: true}
	switch {
	case !wasRunning || outcome == managed.AlreadyStopped:
		msg.Theme = ThemeAlreadyStopped
		msg.Lines = []string{"♻️ AutoBangumi exited", "qBittorrent was already stopped"}
	case outcome == managed.StoppedGracefully:
		msg.Theme = ThemeStopped
		msg.Lines = []string{"♻️ AutoBangumi exited", "qBittorrent stopped"}
	case outcome == managed.ControlError:
		msg.Theme = ThemeExitError
		msg.Lines = []string{"⏏️ AutoBangumi exited", "❌ qBittorrent exit error"}
	default:
		msg.Theme = ThemeStillRunning
		msg.Lines = []string{"⏏️ AutoBangumi exited", "qBittorrent is still running"}
	}
	return msg
}

// WaitingMessage is shown while the supervisor waits for qBittorrent to exit.
func WaitingMessage() Message {
	return Message{
		Theme:      ThemeWaiting,
		Lines:      []string{"Waiting for qBittorrent to exit"},
		Expiration: waitingExpiration,
	}
}

// ReadyMessage announces that the web UI is up and qBittorrent was found.
func ReadyMessage(port int, url string) Message {
	return Message{
		Theme:      ThemeReady,
		Lines:      []string{"✅ AutoBangumi is ready", openLine(port)},
		Expiration: finalExpiration,
		WithIcon:   true,
		OpenURL:    url,
	}
}

// StartingMessage is shown before launching qBittorrent.
func StartingMessage() Message {
	return Message{
		Theme:      ThemeStarting,
		Lines:      []string{"🔄 Starting qBittorrent"},
		Expiration: startingExpiration,
	}
}

// StartedMessage reports a successful launch of qBittorrent.
func StartedMessage(port int, url string) Message {
	return Message{
		Theme:      ThemeStarted,
		Lines:      []string{"✅ qBittorrent started", "✅ AutoBangumi is ready", openLine(port)},
		Expiration: finalExpiration,
		WithIcon:   true,
		OpenURL:    url,
	}
}

// StartFailedMessage reports that qBittorrent could not be started.
func StartFailedMessage() Message {
	return Message{
		Theme:      ThemeStartFailed,
		Lines:      []string{"❌ qBittorrent failed to start", "Check the configuration or start it manually"},
		Expiration: finalExpiration,
		WithIcon:   true,
	}
}

func openLine(port int) string {
	return fmt.Sprintf("Click to open the control panel (port %d)", port)
}
