package watcher

// State is the loop's current phase.
type State int

const (
	Idle State = iota
	Debouncing
	Scanning
	Publishing
	WaitingForNext
)

func (s State) String() string {
	switch s {
	case Idle:
		return "IDLE"
	case Debouncing:
		return "DEBOUNCING"
	case Scanning:
		return "SCANNING"
	case Publishing:
		return "PUBLISHING"
	case WaitingForNext:
		return "WAITING_FOR_NEXT"
	default:
		return "UNKNOWN"
	}
}
