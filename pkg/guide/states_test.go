package guide

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"guidance/pkg/session"
)

func TestIsValidTransition(t *testing.T) {
	assert.True(t, IsValidTransition(StateDetectIntent, StateCheckVersion))
	assert.True(t, IsValidTransition(StateDetectIntent, StateDone))
	assert.True(t, IsValidTransition(StateCheckVersion, StateWaitVersionChoice))
	assert.True(t, IsValidTransition(StateWaitUserAction, StateValidateStep))
	assert.True(t, IsValidTransition(StateWaitUserAction, StateNextStep))
	assert.True(t, IsValidTransition(StateFinalConfirmation, StateFallbackReview))
	assert.True(t, IsValidTransition(StateFallbackReview, StateStepAgentStart))
	assert.True(t, IsValidTransition(StateDone, StateDetectIntent))

	assert.False(t, IsValidTransition(StateDetectIntent, StateRetrieve))
	assert.False(t, IsValidTransition(StateRetrieve, StateDone))
	assert.False(t, IsValidTransition(StateValidateStep, StateDetectInteraction))
	assert.False(t, IsValidTransition(StateDone, StateStepAgentStart))
	assert.False(t, IsValidTransition("BOGUS", StateDone))
}

func TestWaitStatesParkOnMatchingPending(t *testing.T) {
	wantPending := map[State]session.PendingAction{
		StateWaitVersionChoice: session.PendingVersionChoice,
		StateWaitStepChoice:    session.PendingStepChoice,
		StateWaitUserAction:    session.PendingUserAction,
		StateFinalConfirmation: session.PendingTaskCompletionChoice,
	}

	for state, pending := range wantPending {
		assert.True(t, IsWaitState(state), "state %s", state)
		assert.Equal(t, pending, PendingFor(state), "state %s", state)
	}

	for state := range ValidTransitions {
		if _, ok := wantPending[state]; ok {
			continue
		}
		assert.False(t, IsWaitState(state), "state %s", state)
		assert.Equal(t, session.PendingNone, PendingFor(state), "state %s", state)
	}
}

func TestEveryStateHasTransitionsExceptNone(t *testing.T) {
	// Every state routes somewhere; Done routes back to a fresh task.
	for state, next := range ValidTransitions {
		assert.NotEmpty(t, next, "state %s has no transitions", state)
	}
}
