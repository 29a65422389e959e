package orchestrator

import (
	"errors"

	"github.com/BaSui01/careflow/agent/conversation"
	"github.com/BaSui01/careflow/types"
)

// User-facing replies.
const (
	BusyReply           = "Please wait for the current agent to finish."
	UnauthorizedReply   = "You are not authorized to access this agent."
	GenericErrorReply   = "Orchestrator encountered an error. Please retry your request."
	ClearReply          = "The conversation has been cleared. How can I assist you today?"
	NeedsPatientIDReply = "I need a patient ID to proceed. Provide one like 'patient_4'."
)

// SystemSender is the speaker of replies the orchestrator produces itself.
const SystemSender = "Orchestrator"

// ErrNotAuthorized is returned when the tenant check fails.
var ErrNotAuthorized = types.NewUnauthorizedError("tenant is not allowed to access this agent")

// UserMessage maps err onto one of the fixed user-facing replies.
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case IsBusy(err):
		return BusyReply
	case errors.Is(err, ErrNotAuthorized),
		types.IsErrorCode(err, types.ErrUnauthorized),
		types.IsErrorCode(err, types.ErrForbidden):
		return UnauthorizedReply
	default:
		return GenericErrorReply
	}
}

// IsBusy reports whether err means another turn is running.
func IsBusy(err error) bool {
	return errors.Is(err, conversation.ErrAgentBusy) || types.IsErrorCode(err, types.ErrAgentBusy)
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return "ok"
	case IsBusy(err):
		return "busy"
	case UserMessage(err) == UnauthorizedReply:
		return "unauthorized"
	case types.IsErrorCode(err, types.ErrInvalidRequest), types.IsErrorCode(err, types.ErrInvalidPatientID):
		return "invalid"
	default:
		return "error"
	}
}
