package voting

import "time"

// Phase is the lifecycle stage of a session at a given instant. It is never
// stored; it is derived from the session dates and the wall clock on every
// read, so there are no background timers to drift.
type Phase string

const (
	PhaseNotStarted       Phase = "not_started"
	PhaseOpen             Phase = "open"
	PhaseEnded            Phase = "ended"
	PhaseResultsAvailable Phase = "results_available"
	PhaseClosed           Phase = "closed"
)

// PhaseOf computes the phase of s at instant now. Closed is absorbing: a
// deactivated session is Closed regardless of its dates. Both boundaries of
// the voting window are inclusive.
func PhaseOf(s Session, now time.Time) Phase {
	if !s.Active {
		return PhaseClosed
	}
	switch {
	case now.Before(s.StartDate):
		return PhaseNotStarted
	case !now.After(s.EndDate):
		return PhaseOpen
	case now.Before(s.ResultDate):
		return PhaseEnded
	default:
		return PhaseResultsAvailable
	}
}

// resultsVisible reports whether results may be served in the given phase.
func resultsVisible(p Phase) bool {
	return p == PhaseResultsAvailable || p == PhaseClosed
}
