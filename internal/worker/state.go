package worker

// State is the lifecycle of an isolated context.
type State int32

const (
	StateIdle State = iota
	StateJobAssigned
	StateExecuting
	StateReady
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateJobAssigned:
		return "job_assigned"
	case StateExecuting:
		return "executing"
	case StateReady:
		return "ready"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}
