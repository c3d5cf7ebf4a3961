package notify

import (
	"fmt"
	"strings"

	"github.com/gen2brain/beeep"

	"pkt.systems/abtray/internal/pathutil"
	"pkt.systems/pslog"
)

// Sender puts a notification on screen.
type Sender interface {
	Send(title, body, iconPath string) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(title, body, iconPath string) error

// Send implements Sender.
func (f SenderFunc) Send(title, body, iconPath string) error {
	return f(title, body, iconPath)
}

// DesktopSender shows notifications through the OS notification service.
// beeep cannot set an expiration or an activation action, so Message.Expiration
// and Message.OpenURL are advisory here.
type DesktopSender struct{}

// Send implements Sender.
func (DesktopSender) Send(title, body, iconPath string) error {
	var icon any
	if iconPath != "" {
		icon = iconPath
	}
	return beeep.Notify(title, body, icon)
}

// Notifier renders Messages through a Sender and swallows every failure.
type Notifier struct {
	title    string
	iconPath string
	sender   Sender
	logger   pslog.Logger
}

// New constructs a Notifier. A nil sender uses DesktopSender.
func New(title, iconPath string, sender Sender, logger pslog.Logger) *Notifier {
	if sender == nil {
		sender = DesktopSender{}
	}
	if logger == nil {
		logger = pslog.NoopLogger()
	}
	return &Notifier{title: title, iconPath: iconPath, sender: sender, logger: logger}
}

// Show displays msg. Errors and panics from the sender are logged and dropped.
func (n *Notifier) Show(msg Message) {
	if n == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			n.logger.Error("notify.panic", "theme", string(msg.Theme), "panic", fmt.Sprint(r))
		}
	}()
	icon := ""
	if msg.WithIcon {
		if pathutil.IsFile(n.iconPath) {
			icon = n.iconPath
		} else if n.iconPath != "" {
			n.logger.Debug("notify.icon.missing", "path", n.iconPath)
		}
	}
	body := strings.Join(msg.Lines, "\n")
	if err := n.sender.Send(n.title, body, icon); err != nil {
		n.logger.Warn("notify.failed", "theme", string(msg.Theme), "error", err)
		return
	}
	n.logger.Debug("notify.shown", "theme", string(msg.Theme))
}
