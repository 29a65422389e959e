package conversation

import "errors"

var (
	// ErrNoAgents is returned when a group chat is built without participants.
	ErrNoAgents = errors.New("no agents available")

	// ErrAgentBusy is returned when Invoke is called while a run is in progress.
	ErrAgentBusy = errors.New("group chat is busy")

	// ErrUnknownAgent is returned for a target that is not in the roster.
	ErrUnknownAgent = errors.New("unknown agent")

	// ErrAwaitingUser stops a run when the facilitator's plan needs user confirmation.
	ErrAwaitingUser = errors.New("awaiting user confirmation")
)
