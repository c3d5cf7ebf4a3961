package managed

// Outcome classifies what happened to the managed process during shutdown.
type Outcome int

const (
	// AlreadyStopped means the process was not running when shutdown began.
	AlreadyStopped Outcome = iota
	// StoppedGracefully means the shutdown command was accepted and the
	// process was gone after the grace period.
	StoppedGracefully
	// StillRunning means the process outlived the grace period or was left
	// running by preference.
	StillRunning
	// ControlError means authentication or command dispatch failed.
	ControlError
)

// String returns a stable snake_case label.
func (o Outcome) String() string {
	switch o {
	case AlreadyStopped:
		return "already_stopped"
	case StoppedGracefully:
		return "stopped_gracefully"
	case StillRunning:
		return "still_running"
	case ControlError:
		return "control_error"
	default:
		return "unknown"
	}
}

// Outcomes lists every outcome in declaration order.
func Outcomes() []Outcome {
	return []Outcome{AlreadyStopped, StoppedGracefully, StillRunning, ControlError}
}
