// Package guide implements the step-by-step guidance workflow: a fixed state
// machine that classifies a query, checks edition compatibility, retrieves
// documentation, generates a plan, and walks the user through it one step at
// a time.
package guide

import "guidance/pkg/session"

// State is the session workflow state.
type State = session.State

// Workflow states.
const (
	StateDetectIntent      State = "DETECT_INTENT"
	StateCheckVersion      State = "CHECK_VERSION"
	StateWaitVersionChoice State = "WAIT_VERSION_CHOICE"
	StateRetrieve          State = "RETRIEVE"
	StateGenerateAnswer    State = "GENERATE_ANSWER"
	StateWaitStepChoice    State = "WAIT_STEP_CHOICE"
	StateStepAgentStart    State = "STEP_AGENT_START"
	StateDetectInteraction State = "DETECT_INTERACTION"
	StateAnalyzeScreenshot State = "ANALYZE_SCREENSHOT"
	StateWaitUserAction    State = "WAIT_USER_ACTION"
	StateValidateStep      State = "VALIDATE_STEP"
	StateNextStep          State = "NEXT_STEP"
	StateFinalConfirmation State = "FINAL_CONFIRMATION"
	StateFallbackReview    State = "FALLBACK_REVIEW"
	StateDone              State = "DONE"
)

// ValidTransitions defines allowed state transitions for each state.
var ValidTransitions = map[State][]State{
	StateDetectIntent:      {StateCheckVersion, StateDone},
	StateCheckVersion:      {StateRetrieve, StateWaitVersionChoice},
	StateWaitVersionChoice: {StateRetrieve, StateDone},
	StateRetrieve:          {StateGenerateAnswer},
	StateGenerateAnswer:    {StateWaitStepChoice},
	StateWaitStepChoice:    {StateStepAgentStart, StateDone},
	StateStepAgentStart:    {StateDetectInteraction, StateDone},
	StateDetectInteraction: {StateAnalyzeScreenshot, StateWaitUserAction},
	StateAnalyzeScreenshot: {StateWaitUserAction},
	StateWaitUserAction:    {StateValidateStep, StateNextStep, StateAnalyzeScreenshot, StateDone},
	StateValidateStep:      {StateNextStep},
	StateNextStep:          {StateDetectInteraction, StateFinalConfirmation},
	StateFinalConfirmation: {StateDone, StateFallbackReview},
	StateFallbackReview:    {StateStepAgentStart, StateDone},

	// A finished task can take a fresh query.
	StateDone: {StateDetectIntent},
}

// IsValidTransition checks if a state transition is allowed.
func IsValidTransition(from, to State) bool {
	allowed, ok := ValidTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// IsWaitState reports whether the state parks the session for user input.
func IsWaitState(s State) bool {
	switch s {
	case StateWaitVersionChoice, StateWaitStepChoice, StateWaitUserAction, StateFinalConfirmation:
		return true
	default:
		return false
	}
}

// PendingFor returns the pending action a wait state parks on.
func PendingFor(s State) session.PendingAction {
	switch s {
	case StateWaitVersionChoice:
		return session.PendingVersionChoice
	case StateWaitStepChoice:
		return session.PendingStepChoice
	case StateWaitUserAction:
		return session.PendingUserAction
	case StateFinalConfirmation:
		return session.PendingTaskCompletionChoice
	default:
		return session.PendingNone
	}
}
