// Package login runs the Nextcloud login flow v2: request a challenge, show
// the login page, watch for the grant, then poll until the server hands out
// an app password.
package login

// State is a step of the login flow.
type State int

const (
	Idle State = iota
	ChallengeRequested
	Presenting
	GrantObserved
	TokenObserved
	SessionIDCaptured
	Polling
	Succeeded
	Failed
	TimedOut
	Cancelled
)

var stateNames = [...]string{
	Idle:               "idle",
	ChallengeRequested: "challenge-requested",
	Presenting:         "presenting",
	GrantObserved:      "grant-observed",
	TokenObserved:      "token-observed",
	SessionIDCaptured:  "session-id-captured",
	Polling:            "polling",
	Succeeded:          "succeeded",
	Failed:             "failed",
	TimedOut:           "timed-out",
	Cancelled:          "cancelled",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool {
	switch s {
	case Succeeded, Failed, TimedOut, Cancelled:
		return true
	default:
		return false
	}
}
