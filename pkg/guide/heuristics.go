package guide

import (
	"encoding/json"
	"regexp"
	"strings"
)

// Keyword sets for interpreting user choice tokens. Matching is substring
// based so "yes please" and "no thanks" resolve the way a user expects.
var (
	affirmativeWords = []string{"yes", "show", "start", "sure", "ok", "solved", "done", "completed", "finished", "managed", "succeeded"}
	negativeWords    = []string{"no", "thanks", "thank you", "failed", "didn't", "couldn't", "unable", "not solved"}
	proceedWords     = []string{"try anyway", "all the same", "proceed"}
	cancelWords      = []string{"cancel", "new task"}
	clickWords       = []string{"click", "press", "select", "choose", "open", "button", "menu"}
)

func containsAny(text string, words []string) bool {
	lower := strings.ToLower(text)
	for _, w := range words {
		if strings.Contains(lower, w) {
			return true
		}
	}
	return false
}

// isAffirmative reports whether the token reads as a yes.
func isAffirmative(token string) bool {
	// Negative words win: "not solved" contains "solved".
	return !containsAny(token, negativeWords) && containsAny(token, affirmativeWords)
}

func isNegative(token string) bool {
	return containsAny(token, negativeWords)
}

func isProceedAnyway(token string) bool {
	return containsAny(token, proceedWords)
}

func isCancel(token string) bool {
	return containsAny(token, cancelWords)
}

func isSkip(token string) bool {
	return containsAny(token, []string{"skip"})
}

func isLocateRequest(token string) bool {
	return containsAny(token, []string{"show_button", "locate", "show the button", "where"})
}

// requiresInteractionHeuristic guesses whether a step needs a UI action from
// its wording. Used when the classifier is unavailable.
func requiresInteractionHeuristic(stepText string) bool {
	return containsAny(stepText, clickWords)
}

var jsonObjectPattern = regexp.MustCompile(`\{[^{}]*\}`)

// extractJSON unmarshals the first JSON object found in free-form model
// output. Vision models wrap their JSON in prose often enough that strict
// parsing alone loses results.
func extractJSON(text string, v any) bool {
	if err := json.Unmarshal([]byte(text), v); err == nil {
		return true
	}
	match := jsonObjectPattern.FindString(text)
	if match == "" {
		return false
	}
	return json.Unmarshal([]byte(match), v) == nil
}
