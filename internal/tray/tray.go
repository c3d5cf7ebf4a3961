// Package tray is the supervisor's on-screen presence: a system tray icon with
// open, toggle and quit actions, or a headless stand-in.
package tray

import (
	"fmt"
	"sync"
	"sync/atomic"

	"fyne.io/systray"
	"github.com/pkg/browser"

	"pkt.systems/pslog"
)

// Presence is the lifecycle the coordinator drives. Run blocks; Stop is
// idempotent and safe before, during or after Run.
type Presence interface {
	Run()
	Stop()
}

// Actions are the callbacks behind the menu.
type Actions struct {
	// TerminateOnExit reads the current exit preference.
	TerminateOnExit func() bool
	// ToggleTerminateOnExit flips the preference and returns the new value.
	ToggleTerminateOnExit func() bool
	// Quit starts the shutdown sequence.
	Quit func()
}

// Config describes the tray.
type Config struct {
	Title    string
	Port     int
	URL      string
	IconPath string
	Actions  Actions
	// OpenURL overrides the browser launcher.
	OpenURL func(url string) error
	Logger  pslog.Logger
}

// Menu labels.
const (
	LabelOpen   = "Open control panel"
	LabelToggle = "Quit qBittorrent on exit"
	LabelQuit   = "Quit AutoBangumi"
)

// Tray renders the menu through fyne.io/systray.
type Tray struct {
	cfg     Config
	logger  pslog.Logger
	stopped atomic.Bool
	ready   atomic.Bool
	once    sync.Once
	done    chan struct{}
}

// New constructs a Tray.
func New(cfg Config) *Tray {
	logger := cfg.Logger
	if logger == nil {
		logger = pslog.NoopLogger()
	}
	if cfg.OpenURL == nil {
		cfg.OpenURL = browser.OpenURL
	}
	return &Tray{cfg: cfg, logger: logger, done: make(chan struct{})}
}

// Tooltip is the hover text, naming the web UI port.
func (t *Tray) Tooltip() string {
	return fmt.Sprintf("%s (port %d)", t.cfg.Title, t.cfg.Port)
}

// Run shows the icon and blocks until Stop.
func (t *Tray) Run() {
	if t.stopped.Load() {
		return
	}
	systray.Run(t.onReady, t.onExit)
}

// Stop removes the icon and unblocks Run.
func (t *Tray) Stop() {
	t.once.Do(func() {
		t.stopped.Store(true)
		close(t.done)
		if t.ready.Load() {
			systray.Quit()
		}
	})
}

func (t *Tray) onReady() {
	img, err := LoadIcon(t.cfg.IconPath)
	if err != nil {
		t.logger.Warn("tray.icon.fallback", "path", t.cfg.IconPath, "error", err)
	}
	if data, err := Encode(img); err != nil {
		t.logger.Warn("tray.icon.encode_failed", "error", err)
	} else {
		systray.SetIcon(data)
	}
	systray.SetTitle(t.cfg.Title)
	systray.SetTooltip(t.Tooltip())

	open := systray.AddMenuItem(LabelOpen, t.cfg.URL)
	systray.AddSeparator()
	toggle := systray.AddMenuItemCheckbox(LabelToggle, "", t.terminateOnExit())
	systray.AddSeparator()
	quit := systray.AddMenuItem(LabelQuit, "")

	t.ready.Store(true)
	if t.stopped.Load() {
		systray.Quit()
		return
	}
	t.logger.Info("tray.ready", "tooltip", t.Tooltip())
	go t.loop(open.ClickedCh, toggle.ClickedCh, quit.ClickedCh, toggle)
}

func (t *Tray) onExit() {
	t.logger.Debug("tray.exit")
}

// checkable is the part of *systray.MenuItem the toggle handler updates.
type checkable interface {
	Check()
	Uncheck()
}

func (t *Tray) loop(open, toggle, quit <-chan struct{}, box checkable) {
	for {
		select {
		case <-t.done:
			return
		case <-open:
			t.openPanel()
		case <-toggle:
			t.toggle(box)
		case <-quit:
			t.quit()
		}
	}
}

func (t *Tray) openPanel() {
	if err := t.cfg.OpenURL(t.cfg.URL); err != nil {
		t.logger.Warn("tray.open.failed", "url", t.cfg.URL, "error", err)
	}
}

func (t *Tray) terminateOnExit() bool {
	if t.cfg.Actions.TerminateOnExit == nil {
		return false
	}
	return t.cfg.Actions.TerminateOnExit()
}

func (t *Tray) toggle(box checkable) {
	if t.cfg.Actions.ToggleTerminateOnExit == nil {
		return
	}
	if t.cfg.Actions.ToggleTerminateOnExit() {
		box.Check()
	} else {
		box.Uncheck()
	}
	t.logger.Info("tray.toggle", "terminate_on_exit", t.terminateOnExit())
}

func (t *Tray) quit() {
	t.logger.Info("tray.quit")
	if t.cfg.Actions.Quit != nil {
		t.cfg.Actions.Quit()
	}
}

// Headless satisfies Presence without any UI.
type Headless struct {
	once sync.Once
	done chan struct{}
}

// NewHeadless returns a presence that only blocks until Stop.
func NewHeadless() *Headless {
	return &Headless{done: make(chan struct{})}
}

// Run blocks until Stop.
func (h *Headless) Run() {
	<-h.done
}

// Stop unblocks Run.
func (h *Headless) Stop() {
	h.once.Do(func() { close(h.done) })
}
