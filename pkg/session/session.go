// Package session holds the state for an in-flight guidance conversation and
// the process-wide manager that owns all live sessions.
package session

import (
	"time"

	"guidance/pkg/rag"
)

// State identifies where a session is in the guidance workflow. The state
// constants and transition table live in pkg/guide.
type State string

// Intent is the classified purpose of a user query.
type Intent string

const (
	IntentUnknown    Intent = ""
	IntentTask       Intent = "task"
	IntentIrrelevant Intent = "irrelevant"
)

// Mode selects between a single generated answer and interactive steps.
type Mode string

const (
	ModeSimple     Mode = "simple"
	ModeStepByStep Mode = "step_by_step"
)

// PendingAction names the user input a parked session is waiting for.
type PendingAction string

// PendingNone is the zero value so a zero-value Session is not parked.
const (
	PendingNone                 PendingAction = ""
	PendingVersionChoice        PendingAction = "version_choice"
	PendingStepChoice           PendingAction = "step_choice"
	PendingUserAction           PendingAction = "user_action"
	PendingTaskCompletionChoice PendingAction = "task_completion_choice"
)

// Turn is one message in the session transcript.
type Turn struct {
	Role          string    `json:"role"`
	Text          string    `json:"text"`
	ScreenshotRef string    `json:"screenshot_ref,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// Region is a located UI element in screenshot pixel coordinates.
type Region struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Step is a single instruction in a generated plan. Region and Validated
// stay nil until localization and validation have run.
type Step struct {
	Text                string  `json:"text"`
	RequiresInteraction bool    `json:"requires_interaction"`
	Region              *Region `json:"region,omitempty"`
	Validated           *bool   `json:"validated,omitempty"`
}

// Session is the full state of one guidance conversation. All access goes
// through Manager.WithSession, which serializes requests per session.
type Session struct {
	ID      string
	Query   string
	Edition string
	History []Turn

	Intent     Intent
	Allowed    *bool
	CompatNote string
	Passages   []rag.Passage
	Answer     string

	Steps     []*Step
	Mode      Mode
	StepIndex int
	Pending   PendingAction
	State     State

	ScreenshotRef string
	FallbackCount int
	Unresolved    bool
	Warnings      []string

	CreatedAt  time.Time
	LastActive time.Time
}

// AppendTurn records a transcript entry.
func (s *Session) AppendTurn(role, text, screenshotRef string) {
	s.History = append(s.History, Turn{
		Role:          role,
		Text:          text,
		ScreenshotRef: screenshotRef,
		Timestamp:     time.Now().UTC(),
	})
}

// AddWarning records a degradation notice for the current request.
func (s *Session) AddWarning(warning string) {
	s.Warnings = append(s.Warnings, warning)
}

// ClearWarnings drops warnings carried over from the previous request.
func (s *Session) ClearWarnings() {
	s.Warnings = nil
}

// CurrentStep returns the step at StepIndex, or nil when the plan is
// exhausted or empty.
func (s *Session) CurrentStep() *Step {
	if s.StepIndex < 0 || s.StepIndex >= len(s.Steps) {
		return nil
	}
	return s.Steps[s.StepIndex]
}

// Parked reports whether the session is waiting on user input.
func (s *Session) Parked() bool {
	return s.Pending != PendingNone
}

// ResetTask clears task state so a finished session can take a new query.
// Identity, edition and transcript survive the reset.
func (s *Session) ResetTask(query string) {
	s.Query = query
	s.Intent = IntentUnknown
	s.Allowed = nil
	s.CompatNote = ""
	s.Passages = nil
	s.Answer = ""
	s.Steps = nil
	s.Mode = ModeSimple
	s.StepIndex = 0
	s.Pending = PendingNone
	s.ScreenshotRef = ""
	s.FallbackCount = 0
	s.Unresolved = false
	s.Warnings = nil
}
