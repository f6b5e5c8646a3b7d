package guide

import (
	"context"

	"guidance/pkg/session"
)

// Compat is the outcome of an edition compatibility check.
type Compat struct {
	Allowed     bool
	Explanation string
}

// PlanStep is one instruction parsed from the plan generator's output.
type PlanStep struct {
	Text                string `json:"text"`
	RequiresInteraction bool   `json:"requires_click"`
}

// Plan is the generated explanation plus its ordered steps.
type Plan struct {
	Explanation string     `json:"explanation"`
	Steps       []PlanStep `json:"steps"`
}

// PlanInput carries everything the plan generator needs.
type PlanInput struct {
	Query      string
	Edition    string
	Context    string
	Allowed    bool
	CompatNote string
}

// Verdict is the outcome of a step completion check.
type Verdict struct {
	Valid       bool   `json:"valid"`
	Explanation string `json:"explanation"`
}

// IntentClassifier decides whether a query is a task for the assistant.
type IntentClassifier interface {
	Classify(ctx context.Context, query string) (session.Intent, error)
}

// CompatibilityChecker decides whether the query's task works in the user's
// edition, given version compatibility notes.
type CompatibilityChecker interface {
	Check(ctx context.Context, query, edition, versionNotes string) (Compat, error)
}

// PlanGenerator produces an answer and a step plan. Generate builds both from
// retrieved documentation; Extract splits an existing answer into steps
// without rewriting it.
type PlanGenerator interface {
	Generate(ctx context.Context, in PlanInput) (Plan, error)
	Extract(ctx context.Context, query, answer string) (Plan, error)
}

// InteractionClassifier decides whether a step needs the user to operate the
// application UI.
type InteractionClassifier interface {
	RequiresInteraction(ctx context.Context, stepText string) (bool, error)
}

// VisualLocator finds the UI element a step refers to in a screenshot.
// A nil region with a nil error means the element was not found.
type VisualLocator interface {
	Locate(ctx context.Context, stepText, screenshot string) (*session.Region, error)
}

// StepValidator checks a screenshot for evidence the step was completed.
type StepValidator interface {
	Validate(ctx context.Context, stepText, screenshot string) (Verdict, error)
}

// StepReviewer identifies the earliest step likely not completed. Returns the
// zero-based index, or -1 when every step looks done.
type StepReviewer interface {
	Review(ctx context.Context, query string, steps []*session.Step) (int, error)
}

// ScreenshotSource resolves a screenshot reference to base64 PNG data.
type ScreenshotSource interface {
	Load(ref string) (string, error)
}
