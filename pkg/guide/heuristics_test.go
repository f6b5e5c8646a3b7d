package guide

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChoiceTokenHeuristics(t *testing.T) {
	assert.True(t, isAffirmative("yes"))
	assert.True(t, isAffirmative("Yes, show me"))
	assert.True(t, isAffirmative("I managed to do it"))
	assert.False(t, isAffirmative("no thanks"))
	assert.False(t, isAffirmative("not solved"))

	assert.True(t, isNegative("no"))
	assert.True(t, isNegative("I couldn't do it"))
	assert.True(t, isNegative("not solved yet"))
	assert.False(t, isNegative("yes"))

	assert.True(t, isProceedAnyway("try anyway"))
	assert.True(t, isProceedAnyway("Proceed please"))
	assert.False(t, isProceedAnyway("new task"))

	assert.True(t, isCancel("cancel"))
	assert.True(t, isCancel("let's do a new task"))
	assert.False(t, isCancel("next"))

	assert.True(t, isSkip("skip this one"))
	assert.True(t, isLocateRequest("show_button"))
	assert.True(t, isLocateRequest("where is it"))
	assert.False(t, isLocateRequest("next"))
}

func TestRequiresInteractionHeuristic(t *testing.T) {
	assert.True(t, requiresInteractionHeuristic("Click the Warp button"))
	assert.True(t, requiresInteractionHeuristic("Open the Preferences menu"))
	assert.False(t, requiresInteractionHeuristic("Listen to the playback"))
}

func TestExtractJSON(t *testing.T) {
	var coords struct {
		X int `json:"x"`
		Y int `json:"y"`
	}

	assert.True(t, extractJSON(`{"x": 10, "y": 20}`, &coords))
	assert.Equal(t, 10, coords.X)

	// JSON wrapped in prose still parses.
	assert.True(t, extractJSON(`The element is here: {"x": 5, "y": 7} as requested.`, &coords))
	assert.Equal(t, 5, coords.X)

	assert.False(t, extractJSON(`no json here`, &coords))
}
