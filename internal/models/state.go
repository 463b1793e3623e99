package models

// SessionState is a step of the search and download state machine.
type SessionState int

const (
	StateIdle SessionState = iota
	StateResolving
	StateCounting
	StatePaginating
	StateDownloading
	StateComplete
	StateError
)

var stateNames = map[SessionState]string{
	StateIdle:        "Idle",
	StateResolving:   "Resolving",
	StateCounting:    "Counting",
	StatePaginating:  "Paginating",
	StateDownloading: "Downloading",
	StateComplete:    "Complete",
	StateError:       "Error",
}

func (s SessionState) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "Unknown"
}

// Terminal reports whether no further transition can happen in this session.
func (s SessionState) Terminal() bool {
	return s == StateComplete || s == StateError
}
