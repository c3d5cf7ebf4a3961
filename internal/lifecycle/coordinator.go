// Package lifecycle owns the supervisor's state machine: startup, the single
// shutdown sequence shared by every trigger, and the guarantee that the
// process exits once shutdown has begun.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/rs/xid"

	"pkt.systems/abtray/internal/clock"
	"pkt.systems/abtray/internal/instance"
	"pkt.systems/abtray/internal/managed"
	"pkt.systems/abtray/internal/notify"
	"pkt.systems/pslog"
)

const (
	// DefaultSettleDelay is the pause between stopping the server and
	// removing the tray, and between launching qBittorrent and re-probing.
	DefaultSettleDelay = time.Second
	// DefaultHardDeadline bounds the whole shutdown sequence.
	DefaultHardDeadline = 30 * time.Second
	// DefaultInstanceName is the OS-wide guard name.
	DefaultInstanceName = "AutoBangumi_Mutex_1234"

	exitOK      = 0
	exitTimeout = 1
)

// ErrAlreadyRunning reports that another supervisor holds the instance guard.
var ErrAlreadyRunning = errors.New("lifecycle: already running")

// Server is the web server handle. Run blocks until the server stops.
type Server interface {
	Run() error
	RequestStop()
	Stopped() bool
}

// Presence is the UI presence; Stop must be idempotent.
type Presence interface {
	Run()
	Stop()
}

// Probe reports whether the managed process is running.
type Probe interface {
	Running(ctx context.Context) bool
}

// Controller starts and stops the managed process.
type Controller interface {
	EnsureStarted(ctx context.Context) error
	TerminateGracefully(ctx context.Context) managed.Outcome
}

// Notifier shows best-effort notifications.
type Notifier interface {
	Show(notify.Message)
}

// PreferenceStore persists the exit preference.
type PreferenceStore interface {
	Load() bool
	Save(bool) error
}

// AcquireFunc takes the named single-instance guard.
type AcquireFunc func(name string) (instance.Release, bool, error)

// Config wires a Coordinator.
type Config struct {
	Server     Server
	Presence   Presence
	Probe      Probe
	Controller Controller
	Notifier   Notifier
	Prefs      PreferenceStore

	// Acquire defaults to instance.Acquire.
	Acquire      AcquireFunc
	InstanceName string
	// Started runs once the guard is held and before anything else. An
	// error releases the guard and is returned from Start.
	Started func(ctx context.Context) error

	// Port and URL locate the web UI in readiness notifications.
	Port int
	URL  string

	Clock        clock.Clock
	SettleDelay  time.Duration
	HardDeadline time.Duration
	// Exit terminates the process; defaults to os.Exit.
	Exit    func(code int)
	Signals []os.Signal
	Metrics *Metrics
	Logger  pslog.Logger
}

// Coordinator sequences startup and shutdown. Create it with New.
type Coordinator struct {
	server     Server
	presence   Presence
	probe      Probe
	controller Controller
	notifier   Notifier
	prefs      PreferenceStore

	acquire      AcquireFunc
	started      func(context.Context) error
	instanceName string
	port         int
	url          string

	clock        clock.Clock
	settle       time.Duration
	hardDeadline time.Duration
	exitFn       func(int)
	signals      []os.Signal
	metrics      *Metrics
	logger       pslog.Logger

	// mu guards state only and is held for the check-and-set alone.
	mu    sync.Mutex
	state State

	terminate  atomic.Bool
	outcome    atomic.Int32
	hasOutcome atomic.Bool
	startedAt  atomic.Int64
	baseCtx    context.Context
	release    instance.Release

	done       chan struct{}
	doneOnce   sync.Once
	terminated chan struct{}
	exitOnce   sync.Once
}

// New validates cfg and returns a Coordinator in state Starting.
func New(cfg Config) (*Coordinator, error) {
	switch {
	case cfg.Server == nil:
		return nil, fmt.Errorf("lifecycle: server required")
	case cfg.Presence == nil:
		return nil, fmt.Errorf("lifecycle: presence required")
	case cfg.Probe == nil:
		return nil, fmt.Errorf("lifecycle: probe required")
	case cfg.Controller == nil:
		return nil, fmt.Errorf("lifecycle: controller required")
	case cfg.Prefs == nil:
		return nil, fmt.Errorf("lifecycle: preference store required")
	}
	c := &Coordinator{
		server:       cfg.Server,
		presence:     cfg.Presence,
		probe:        cfg.Probe,
		controller:   cfg.Controller,
		notifier:     cfg.Notifier,
		prefs:        cfg.Prefs,
		acquire:      cfg.Acquire,
		started:      cfg.Started,
		instanceName: cfg.InstanceName,
		port:         cfg.Port,
		url:          cfg.URL,
		clock:        clock.Or(cfg.Clock),
		settle:       cfg.SettleDelay,
		hardDeadline: cfg.HardDeadline,
		exitFn:       cfg.Exit,
		signals:      cfg.Signals,
		metrics:      cfg.Metrics,
		logger:       cfg.Logger,
		baseCtx:      context.Background(),
		done:         make(chan struct{}),
		terminated:   make(chan struct{}),
	}
	if c.notifier == nil {
		c.notifier = notify.New("", "", notify.SenderFunc(func(string, string, string) error { return nil }), nil)
	}
	if c.acquire == nil {
		c.acquire = instance.Acquire
	}
	if c.instanceName == "" {
		c.instanceName = DefaultInstanceName
	}
	if c.settle < 0 {
		return nil, fmt.Errorf("lifecycle: settle delay must be >= 0")
	}
	if c.settle == 0 {
		c.settle = DefaultSettleDelay
	}
	if c.hardDeadline <= 0 {
		c.hardDeadline = DefaultHardDeadline
	}
	if c.exitFn == nil {
		c.exitFn = os.Exit
	}
	if len(c.signals) == 0 {
		c.signals = []os.Signal{os.Interrupt, syscall.SIGTERM}
	}
	if c.logger == nil {
		c.logger = pslog.NoopLogger()
	}
	return c, nil
}

// Start acquires the instance guard and runs the supervisor on the calling
// goroutine. It returns ErrAlreadyRunning, without touching any other
// collaborator, when the guard is held elsewhere, and the hook error when
// Config.Started fails. Otherwise it only returns after the exit function has
// run, which in production never returns.
func (c *Coordinator) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	release, acquired, err := c.acquire(c.instanceName)
	if err != nil {
		return fmt.Errorf("lifecycle: instance guard: %w", err)
	}
	if !acquired {
		c.logger.Info("lifecycle.instance.held", "name", c.instanceName)
		return ErrAlreadyRunning
	}
	if c.started != nil {
		if err := c.started(ctx); err != nil {
			if release != nil {
				release()
			}
			return fmt.Errorf("lifecycle: start hook: %w", err)
		}
	}
	c.release = release
	c.baseCtx = context.WithoutCancel(ctx)
	c.startedAt.Store(c.clock.Now().UnixNano())

	c.terminate.Store(c.prefs.Load())
	c.mu.Lock()
	if c.state == Starting {
		c.state = Running
	}
	c.mu.Unlock()
	c.logger.Info("lifecycle.start", "terminate_on_exit", c.terminate.Load(), "port", c.port)

	c.announceReady(c.baseCtx)
	c.watchSignals(ctx)
	go c.runPresence()

	if err := c.runServer(); err != nil {
		c.logger.Error("lifecycle.server.failed", "error", err)
	} else {
		c.logger.Info("lifecycle.server.stopped")
	}
	c.RequestShutdown(TriggerServerExit)
	<-c.terminated
	return nil
}

// RequestShutdown is the single shutdown entry point. The first caller runs
// the sequence and ends the process; every other caller returns false
// immediately.
func (c *Coordinator) RequestShutdown(trigger Trigger) bool {
	c.metrics.request(trigger)
	c.mu.Lock()
	if c.state == ShuttingDown || c.state == Terminated {
		c.mu.Unlock()
		c.logger.Debug("lifecycle.shutdown.ignored", "trigger", string(trigger))
		return false
	}
	c.state = ShuttingDown
	c.mu.Unlock()

	logger := c.logger.With("shutdown_id", xid.New().String(), "trigger", string(trigger))
	logger.Info("lifecycle.shutdown.begin")
	c.metrics.sequence()
	go c.watchdog(logger)
	defer c.exit(exitOK, logger)
	c.runSequence(logger)
	return true
}

func (c *Coordinator) runSequence(logger pslog.Logger) {
	ctx := c.baseCtx
	terminate := c.terminate.Load()

	c.step(logger, "persist_preference", func() error {
		return c.prefs.Save(terminate)
	})

	wasRunning := false
	c.step(logger, "probe", func() error {
		wasRunning = c.probe.Running(ctx)
		return nil
	})

	outcome := managed.AlreadyStopped
	if wasRunning {
		c.step(logger, "notify_waiting", func() error {
			c.notifier.Show(notify.WaitingMessage())
			return nil
		})
		if terminate {
			outcome = managed.ControlError
			c.step(logger, "terminate_managed", func() error {
				outcome = c.controller.TerminateGracefully(ctx)
				return nil
			})
		} else {
			outcome = managed.StillRunning
		}
	}
	c.outcome.Store(int32(outcome))
	c.hasOutcome.Store(true)
	c.metrics.outcome(outcome)
	logger.Info("lifecycle.shutdown.outcome", "was_running", wasRunning, "terminate_on_exit", terminate, "outcome", outcome.String())

	c.step(logger, "notify_outcome", func() error {
		c.notifier.Show(notify.ExitMessage(wasRunning, outcome))
		return nil
	})
	c.step(logger, "stop_server", func() error {
		c.server.RequestStop()
		return nil
	})
	c.doneOnce.Do(func() { close(c.done) })
	c.step(logger, "settle", func() error {
		c.clock.Sleep(c.settle)
		return nil
	})
	logger.Debug("lifecycle.server.state", "stopped", c.server.Stopped())
	c.step(logger, "stop_presence", func() error {
		c.presence.Stop()
		return nil
	})
}

// step runs fn and converts an error or panic into a log entry so later
// steps still run.
func (c *Coordinator) step(logger pslog.Logger, name string, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("lifecycle.shutdown.step.panic", "step", name, "panic", fmt.Sprint(r))
		}
	}()
	if err := fn(); err != nil {
		logger.Error("lifecycle.shutdown.step.failed", "step", name, "error", err)
		return
	}
	logger.Debug("lifecycle.shutdown.step.done", "step", name)
}

func (c *Coordinator) watchdog(logger pslog.Logger) {
	select {
	case <-c.clock.After(c.hardDeadline):
		logger.Error("lifecycle.shutdown.deadline_exceeded", "deadline", c.hardDeadline)
		c.exit(exitTimeout, logger)
	case <-c.terminated:
	}
}

// exit is the final step. It runs at most once, from the sequence or the
// watchdog, whichever comes first.
func (c *Coordinator) exit(code int, logger pslog.Logger) {
	c.exitOnce.Do(func() {
		c.mu.Lock()
		c.state = Terminated
		c.mu.Unlock()
		c.doneOnce.Do(func() { close(c.done) })
		if c.release != nil {
			c.release()
		}
		logger.Info("lifecycle.exit", "code", code)
		c.exitFn(code)
		close(c.terminated)
	})
}

// watchSignals feeds OS signals and cancellation of the start context into
// RequestShutdown.
func (c *Coordinator) watchSignals(ctx context.Context) {
	ch := make(chan os.Signal, len(c.signals))
	signal.Notify(ch, c.signals...)
	logger := c.logger
	go func() {
		defer signal.Stop(ch)
		ctxDone := ctx.Done()
		for {
			select {
			case sig := <-ch:
				logger.Info("lifecycle.signal.received", "signal", sig.String())
				c.RequestShutdown(TriggerSignal)
			case <-ctxDone:
				ctxDone = nil
				logger.Info("lifecycle.context.cancelled", "error", ctx.Err())
				c.RequestShutdown(TriggerSignal)
			case <-c.terminated:
				return
			}
		}
	}()
}

func (c *Coordinator) runPresence() {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("lifecycle.presence.panic", "panic", fmt.Sprint(r))
		}
	}()
	c.presence.Run()
	c.logger.Debug("lifecycle.presence.stopped")
}

func (c *Coordinator) runServer() (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("lifecycle: server panic: %v", r)
		}
	}()
	return c.server.Run()
}

// announceReady shows the startup notification, launching the managed
// process first when it is absent.
func (c *Coordinator) announceReady(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Warn("lifecycle.ready.panic", "panic", fmt.Sprint(r))
		}
	}()
	if c.probe.Running(ctx) {
		c.notifier.Show(notify.ReadyMessage(c.port, c.url))
		return
	}
	c.notifier.Show(notify.StartingMessage())
	if err := c.controller.EnsureStarted(ctx); err != nil {
		c.logger.Warn("lifecycle.ready.start_failed", "error", err)
	}
	c.clock.Sleep(c.settle)
	if c.probe.Running(ctx) {
		c.notifier.Show(notify.StartedMessage(c.port, c.url))
		return
	}
	c.notifier.Show(notify.StartFailedMessage())
}

// TerminateOnExit reports the in-memory exit preference.
func (c *Coordinator) TerminateOnExit() bool {
	return c.terminate.Load()
}

// ToggleTerminateOnExit flips the in-memory preference and returns the new
// value. It is persisted only when shutdown begins.
func (c *Coordinator) ToggleTerminateOnExit() bool {
	for {
		old := c.terminate.Load()
		if c.terminate.CompareAndSwap(old, !old) {
			return !old
		}
	}
}

// State returns the current lifecycle state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Done is closed when the server has been told to stop. Background work
// tied to the supervisor's lifetime waits on it.
func (c *Coordinator) Done() <-chan struct{} {
	return c.done
}

// Outcome returns the managed-process outcome once shutdown has classified it.
func (c *Coordinator) Outcome() (managed.Outcome, bool) {
	if !c.hasOutcome.Load() {
		return 0, false
	}
	return managed.Outcome(c.outcome.Load()), true
}

// Uptime is the time since Start, or zero before Start.
func (c *Coordinator) Uptime() time.Duration {
	started := c.startedAt.Load()
	if started == 0 {
		return 0
	}
	return c.clock.Now().Sub(time.Unix(0, started))
}

// ManagedRunning is a fresh probe of the managed process.
func (c *Coordinator) ManagedRunning(ctx context.Context) bool {
	return c.probe.Running(ctx)
}

// StartedAt is when Start acquired the guard, or the zero time before Start.
func (c *Coordinator) StartedAt() time.Time {
	started := c.startedAt.Load()
	if started == 0 {
		return time.Time{}
	}
	return time.Unix(0, started)
}
