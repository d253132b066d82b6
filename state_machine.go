package auth

// Phase is the coordinator lifecycle state.
type Phase string

const (
	PhaseUninitialized   Phase = "uninitialized"
	PhaseInitializing    Phase = "initializing"
	PhaseAuthenticated   Phase = "authenticated"
	PhaseUnauthenticated Phase = "unauthenticated"
	PhaseRefreshing      Phase = "refreshing"
	PhaseClosed          Phase = "closed"
)

// phaseTransitions lists the allowed moves. Closed is terminal.
// Authenticated to Authenticated is a re-resolution of the same or a newer
// session; Unauthenticated is re-enterable.
var phaseTransitions = map[Phase]map[Phase]struct{}{
	PhaseUninitialized: {
		PhaseInitializing: {},
		PhaseClosed:       {},
	},
	PhaseInitializing: {
		PhaseAuthenticated:   {},
		PhaseUnauthenticated: {},
		PhaseClosed:          {},
	},
	PhaseAuthenticated: {
		PhaseAuthenticated:   {},
		PhaseRefreshing:      {},
		PhaseUnauthenticated: {},
		PhaseClosed:          {},
	},
	PhaseRefreshing: {
		PhaseAuthenticated:   {},
		PhaseUnauthenticated: {},
		PhaseClosed:          {},
	},
	PhaseUnauthenticated: {
		PhaseAuthenticated:   {},
		PhaseUnauthenticated: {},
		PhaseClosed:          {},
	},
}

func canTransition(from, to Phase) bool {
	if allowed, ok := phaseTransitions[from]; ok {
		_, exists := allowed[to]
		return exists
	}
	return false
}

func (p Phase) IsTerminal() bool {
	return p == PhaseClosed
}

// AcceptsCommands reports whether login, register, logout and refresh may
// run in this phase.
func (p Phase) AcceptsCommands() bool {
	switch p {
	case PhaseInitializing, PhaseAuthenticated, PhaseUnauthenticated, PhaseRefreshing:
		return true
	default:
		return false
	}
}
