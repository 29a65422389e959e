package patient

import (
	"errors"
	"time"
)

// ErrInvalidPatientID is returned when an id fails the configured pattern.
var ErrInvalidPatientID = errors.New("invalid patient id")

// Decision is the outcome of one patient-context turn.
type Decision string

const (
	DecisionNone           Decision = "NONE"
	DecisionUnchanged      Decision = "UNCHANGED"
	DecisionNewBlank       Decision = "NEW_BLANK"
	DecisionSwitchExisting Decision = "SWITCH_EXISTING"
	DecisionClear          Decision = "CLEAR"
	DecisionRestored       Decision = "RESTORED_FROM_STORAGE"
	DecisionNeedsPatientID Decision = "NEEDS_PATIENT_ID"
)

// AllDecisions lists every Decision value.
func AllDecisions() []Decision {
	return []Decision{
		DecisionNone, DecisionUnchanged, DecisionNewBlank, DecisionSwitchExisting,
		DecisionClear, DecisionRestored, DecisionNeedsPatientID,
	}
}

// Valid reports whether d is one of the seven decisions.
func (d Decision) Valid() bool {
	for _, v := range AllDecisions() {
		if d == v {
			return true
		}
	}
	return false
}

// Action is the analyzer's intent classification.
type Action string

const (
	ActionNone           Action = "NONE"
	ActionClear          Action = "CLEAR"
	ActionActivateNew    Action = "ACTIVATE_NEW"
	ActionSwitchExisting Action = "SWITCH_EXISTING"
	ActionUnchanged      Action = "UNCHANGED"
)

// AllActions lists every Action value.
func AllActions() []Action {
	return []Action{ActionNone, ActionClear, ActionActivateNew, ActionSwitchExisting, ActionUnchanged}
}

// CarriesPatientID reports whether a patient id may accompany a.
func (a Action) CarriesPatientID() bool {
	return a == ActionActivateNew || a == ActionSwitchExisting
}

// AnalyzerResult is the structured output of one classification.
type AnalyzerResult struct {
	Action    Action  `json:"action"`
	PatientID *string `json:"patient_id"`
	Reasoning string  `json:"reasoning"`
}

// PatientIDOrEmpty dereferences PatientID.
func (r AnalyzerResult) PatientIDOrEmpty() string {
	if r.PatientID == nil {
		return ""
	}
	return *r.PatientID
}

func noneResult(reason string) AnalyzerResult {
	return AnalyzerResult{Action: ActionNone, Reasoning: reason}
}

// TimingInfo carries per-stage latency of one DecideAndApply call.
type TimingInfo struct {
	Analyzer        time.Duration `json:"analyzer"`
	StorageFallback time.Duration `json:"storage_fallback"`
	Service         time.Duration `json:"service"`
}

// Seconds renders the timings the way the snapshot payload reports them.
func (t TimingInfo) Seconds() map[string]float64 {
	return map[string]float64{
		"analyzer":         t.Analyzer.Seconds(),
		"storage_fallback": t.StorageFallback.Seconds(),
		"service":          t.Service.Seconds(),
	}
}
