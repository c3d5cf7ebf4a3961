package lifecycle

// State is the coordinator's position in its forward-only lifecycle.
type State int32

const (
	// Starting is the state before Start has initialised the supervisor.
	Starting State = iota
	// Running means no shutdown has been requested.
	Running
	// ShuttingDown means the single shutdown sequence is in progress.
	ShuttingDown
	// Terminated is set immediately before the exit function runs.
	Terminated
)

func (s State) String() string {
	switch s {
	case Starting:
		return "starting"
	case Running:
		return "running"
	case ShuttingDown:
		return "shutting_down"
	case Terminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Trigger names what asked for the shutdown.
type Trigger string

const (
	TriggerSignal     Trigger = "signal"
	TriggerUser       Trigger = "user"
	TriggerServerExit Trigger = "server_exit"
)
