package guide

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"guidance/pkg/llm"
	"guidance/pkg/llm/middleware/metrics"
	"guidance/pkg/logx"
	"guidance/pkg/rag"
	"guidance/pkg/session"
)

// ErrUnexpectedAction is returned when a resume token is not valid for the
// session's pending action. The session is left unchanged.
var ErrUnexpectedAction = errors.New("unexpected action")

// ErrInvalidStepIndex is returned by ValidateExternally for an out-of-range
// step index.
var ErrInvalidStepIndex = errors.New("invalid step index")

// Config holds the driver's tunables.
type Config struct {
	TopK               int
	MaxFallbacks       int
	ContextTokenBudget int
}

// Nodes bundles the workflow's node implementations. Tests swap in
// deterministic stubs; production wiring uses the LLM implementations.
type Nodes struct {
	Intents      IntentClassifier
	Compat       CompatibilityChecker
	Planner      PlanGenerator
	Interactions InteractionClassifier
	Locator      VisualLocator
	Validator    StepValidator
	Reviewer     StepReviewer
}

// NewLLMNodes wires every node to its LLM implementation. Vision nodes use
// the vision client; the rest share the text client.
func NewLLMNodes(client, vision llm.LLMClient) Nodes {
	return Nodes{
		Intents:      NewLLMIntentClassifier(client),
		Compat:       NewLLMCompatibilityChecker(client),
		Planner:      NewLLMPlanGenerator(client),
		Interactions: NewLLMInteractionClassifier(client),
		Locator:      NewLLMVisualLocator(vision),
		Validator:    NewLLMStepValidator(vision),
		Reviewer:     NewLLMStepReviewer(client),
	}
}

// Driver executes the guidance state machine over a session. The driver
// itself is stateless; all workflow state lives on the session, so one driver
// serves every session in the process.
type Driver struct {
	nodes       Nodes
	store       *rag.Store
	embedder    rag.Embedder
	screenshots ScreenshotSource
	recorder    metrics.Recorder
	cfg         Config
	logger      *logx.Logger
}

// NewDriver creates a guidance driver.
func NewDriver(nodes Nodes, store *rag.Store, embedder rag.Embedder, screenshots ScreenshotSource, recorder metrics.Recorder, cfg Config) *Driver {
	if recorder == nil {
		recorder = metrics.Nop()
	}
	if screenshots == nil {
		screenshots = FileScreenshotSource{}
	}
	return &Driver{
		nodes:       nodes,
		store:       store,
		embedder:    embedder,
		screenshots: screenshots,
		recorder:    recorder,
		cfg:         cfg,
		logger:      logx.NewLogger("guide"),
	}
}

// Advance processes a chat message: a new query enters at intent detection,
// a message for a session parked on a version or step choice is interpreted
// as the choice token.
func (d *Driver) Advance(ctx context.Context, s *session.Session, message, edition, screenshotRef string) (string, error) {
	// Request attachments are applied only once the message is accepted, so
	// a rejected resume token leaves the session untouched.
	accept := func() {
		if edition != "" {
			s.Edition = edition
		}
		if screenshotRef != "" {
			s.ScreenshotRef = screenshotRef
		}
		s.ClearWarnings()
		s.AppendTurn("user", message, screenshotRef)
	}

	// Locate request while stepping: re-run screenshot analysis for the
	// current step without advancing.
	if s.Pending == session.PendingUserAction && isLocateRequest(message) {
		accept()
		return d.relocate(ctx, s)
	}

	switch s.Pending {
	case session.PendingVersionChoice:
		switch {
		case isProceedAnyway(message):
			accept()
			allowed := true
			s.Allowed = &allowed
			s.Pending = session.PendingNone
			s.State = StateRetrieve
			return d.run(ctx, s)
		case isCancel(message) || isNegative(message):
			accept()
			s.Pending = session.PendingNone
			s.State = StateDone
			return d.respond(s, "Okay, feel free to ask if you need help!"), nil
		default:
			return "", ErrUnexpectedAction
		}

	case session.PendingStepChoice:
		switch {
		case isNegative(message):
			accept()
			s.Pending = session.PendingNone
			s.Mode = session.ModeSimple
			s.State = StateDone
			return d.respond(s, "Okay, feel free to ask if you need help!"), nil
		case isAffirmative(message):
			accept()
			s.Pending = session.PendingNone
			s.State = StateStepAgentStart
			return d.run(ctx, s)
		default:
			return "", ErrUnexpectedAction
		}

	case session.PendingUserAction, session.PendingTaskCompletionChoice:
		// Step flow resumes through StepAction; a chat message here is
		// not a valid resume token.
		return "", ErrUnexpectedAction

	default:
		// New query. A finished or fresh session starts a new run.
		if edition != "" {
			s.Edition = edition
		}
		if screenshotRef != "" {
			s.ScreenshotRef = screenshotRef
		}
		s.ClearWarnings()
		if s.State != "" {
			s.ResetTask(message)
		} else {
			s.Query = message
		}
		s.AppendTurn("user", message, screenshotRef)
		s.State = StateDetectIntent
		return d.run(ctx, s)
	}
}

// StepAction resumes a session parked in the step loop with one of the step
// action tokens (next, skip, cancel, locate, or free text counted as next).
func (d *Driver) StepAction(ctx context.Context, s *session.Session, token, screenshotRef string) (string, error) {
	// As in Advance, mutate only on an accepted action.
	accept := func() {
		if screenshotRef != "" {
			s.ScreenshotRef = screenshotRef
		}
		s.ClearWarnings()
		s.AppendTurn("user", token, screenshotRef)
	}

	switch s.Pending {
	case session.PendingUserAction:
		// Any token is a valid step action; free text counts as next.
		accept()
		switch {
		case isCancel(token):
			s.Pending = session.PendingNone
			s.State = StateDone
			return d.respond(s, "Task cancelled."), nil
		case isLocateRequest(token):
			return d.relocate(ctx, s)
		case isSkip(token):
			// Skip bypasses validation entirely.
			s.Pending = session.PendingNone
			s.State = StateNextStep
			return d.run(ctx, s)
		default:
			s.Pending = session.PendingNone
			s.State = StateValidateStep
			return d.run(ctx, s)
		}

	case session.PendingTaskCompletionChoice:
		switch {
		case isNegative(token):
			accept()
			s.Pending = session.PendingNone
			s.State = StateFallbackReview
			return d.run(ctx, s)
		case isAffirmative(token):
			accept()
			s.Pending = session.PendingNone
			s.Mode = session.ModeSimple
			s.State = StateDone
			return d.respond(s, "Great! Task completed. If you need help with anything else, just ask!"), nil
		default:
			return "", ErrUnexpectedAction
		}

	default:
		return "", ErrUnexpectedAction
	}
}

// StartFromAnswer enters step mode from a pre-generated answer, skipping
// intent detection, the version check, and retrieval. The answer's own
// wording becomes the step plan.
func (d *Driver) StartFromAnswer(ctx context.Context, s *session.Session, query, answer string) (string, error) {
	s.ClearWarnings()
	if s.State != "" {
		s.ResetTask(query)
	} else {
		s.Query = query
	}
	s.AppendTurn("user", query, "")

	s.Intent = session.IntentTask
	allowed := true
	s.Allowed = &allowed
	s.Answer = answer

	plan, err := d.nodes.Planner.Extract(ctx, query, answer)
	if err != nil {
		d.degrade(s, StateGenerateAnswer, "step extraction unavailable")
		plan = Plan{}
	}
	if len(plan.Steps) == 0 {
		s.State = StateDone
		return d.respond(s, "Failed to extract steps from the answer. Please try again."), nil
	}

	s.Steps = make([]*session.Step, len(plan.Steps))
	for i, p := range plan.Steps {
		s.Steps[i] = &session.Step{Text: p.Text, RequiresInteraction: p.RequiresInteraction}
	}

	// The caller already chose step mode, so skip the step choice park.
	s.State = StateStepAgentStart
	return d.run(ctx, s)
}

// ValidateExternally checks one step against a screenshot on demand, outside
// the automatic validation node. It never mutates workflow state beyond the
// step's Validated annotation.
func (d *Driver) ValidateExternally(ctx context.Context, s *session.Session, stepIndex int, screenshotRef string) (Verdict, error) {
	if stepIndex < 0 || stepIndex >= len(s.Steps) {
		return Verdict{}, ErrInvalidStepIndex
	}
	step := s.Steps[stepIndex]
	ctx = metrics.WithSessionLabels(ctx, s.ID, string(StateValidateStep))

	screenshot, err := d.screenshots.Load(screenshotRef)
	if err != nil {
		return Verdict{}, fmt.Errorf("failed to load screenshot: %w", err)
	}

	verdict, err := d.nodes.Validator.Validate(ctx, step.Text, screenshot)
	if err != nil {
		// Provider failure degrades to valid, same as the automatic node.
		d.recorder.IncFallback(string(StateValidateStep), "provider_error")
		return Verdict{Valid: true}, nil
	}

	step.Validated = &verdict.Valid
	return verdict, nil
}

// relocate re-runs screenshot analysis for the current step and re-parks.
func (d *Driver) relocate(ctx context.Context, s *session.Session) (string, error) {
	if s.CurrentStep() == nil {
		return "", ErrUnexpectedAction
	}
	s.Pending = session.PendingNone
	s.State = StateAnalyzeScreenshot
	return d.run(ctx, s)
}

// runOutput accumulates response text across the states one run visits.
type runOutput struct {
	parts []string
}

func (o *runOutput) add(text string) {
	if text != "" {
		o.parts = append(o.parts, text)
	}
}

func (o *runOutput) text() string {
	return strings.Join(o.parts, "\n\n")
}

// run executes states from s.State until the machine parks or finishes.
func (d *Driver) run(ctx context.Context, s *session.Session) (string, error) {
	out := &runOutput{}

	// Generous bound: the longest legal run visits a handful of states per
	// step plus the fixed front half.
	maxIterations := 4*len(s.Steps) + 20

	for i := 0; i < maxIterations; i++ {
		current := s.State
		next, err := d.executeState(ctx, s, out)
		if err != nil {
			return "", err
		}

		if next != current {
			if !IsValidTransition(current, next) {
				d.logger.Error("Invalid state transition: %s -> %s, forcing %s", current, next, StateDone)
				next = StateDone
			}
			d.logger.Debug("State transition: %s -> %s (session %s)", current, next, s.ID)
			s.State = next
		}

		if s.Parked() {
			return d.respond(s, out.text()), nil
		}
		if s.State == StateDone {
			return d.respond(s, out.text()), nil
		}
		if next == current {
			d.logger.Error("State %s neither parked nor advanced, forcing %s", current, StateDone)
			s.State = StateDone
			return d.respond(s, out.text()), nil
		}
	}

	d.logger.Error("Iteration guard tripped for session %s in state %s", s.ID, s.State)
	s.State = StateDone
	return d.respond(s, out.text()), nil
}

// respond finalizes the response text, appending degradation warnings and
// recording the assistant turn.
func (d *Driver) respond(s *session.Session, text string) string {
	if text == "" {
		text = s.Answer
	}
	if text == "" {
		text = "No response generated."
	}
	for _, w := range s.Warnings {
		text += "\n\n⚠️ " + w
	}
	s.AppendTurn("assistant", text, "")
	return text
}

// degrade records a conservative-default fallback for a node failure.
func (d *Driver) degrade(s *session.Session, state State, warning string) {
	s.AddWarning(warning)
	d.recorder.IncFallback(string(state), "provider_error")
	d.logger.Warn("Degraded %s for session %s: %s", state, s.ID, warning)
}

// executeState runs the current state's handler and returns the next state.
func (d *Driver) executeState(ctx context.Context, s *session.Session, out *runOutput) (State, error) {
	// Label downstream LLM calls with the session and state they serve.
	ctx = metrics.WithSessionLabels(ctx, s.ID, string(s.State))

	switch s.State {
	case StateDetectIntent:
		return d.handleDetectIntent(ctx, s, out)
	case StateCheckVersion:
		return d.handleCheckVersion(ctx, s)
	case StateWaitVersionChoice:
		return d.handleWaitVersionChoice(s, out)
	case StateRetrieve:
		return d.handleRetrieve(ctx, s)
	case StateGenerateAnswer:
		return d.handleGenerateAnswer(ctx, s)
	case StateWaitStepChoice:
		return d.handleWaitStepChoice(s, out)
	case StateStepAgentStart:
		return d.handleStepAgentStart(s, out)
	case StateDetectInteraction:
		return d.handleDetectInteraction(ctx, s)
	case StateAnalyzeScreenshot:
		return d.handleAnalyzeScreenshot(ctx, s)
	case StateWaitUserAction:
		return d.handleWaitUserAction(s, out)
	case StateValidateStep:
		return d.handleValidateStep(ctx, s, out)
	case StateNextStep:
		return d.handleNextStep(s)
	case StateFinalConfirmation:
		return d.handleFinalConfirmation(s, out)
	case StateFallbackReview:
		return d.handleFallbackReview(ctx, s, out)
	default:
		return StateDone, fmt.Errorf("unknown state: %s", s.State)
	}
}

func (d *Driver) handleDetectIntent(ctx context.Context, s *session.Session, out *runOutput) (State, error) {
	intent, err := d.nodes.Intents.Classify(ctx, s.Query)
	if err != nil {
		// Assume the query is on topic rather than turning the user away.
		d.degrade(s, StateDetectIntent, "intent check unavailable, assuming a task request")
		intent = session.IntentTask
	}
	s.Intent = intent

	if intent == session.IntentIrrelevant {
		out.add("I can help with tasks in your music application. Ask me how to do something there.")
		return StateDone, nil
	}
	return StateCheckVersion, nil
}

func (d *Driver) handleCheckVersion(ctx context.Context, s *session.Session) (State, error) {
	// Already decided, either on a prior pass or by "try anyway".
	if s.Allowed != nil {
		if *s.Allowed {
			return StateRetrieve, nil
		}
		return StateWaitVersionChoice, nil
	}

	allowed := true
	embedding, err := d.embedder.Embed(ctx, s.Query)
	if err != nil {
		d.degrade(s, StateCheckVersion, "compatibility check unavailable, proceeding")
		s.Allowed = &allowed
		return StateRetrieve, nil
	}

	versions := d.store.Retrieve(embedding, d.cfg.TopK).Versions
	if len(versions) == 0 {
		s.Allowed = &allowed
		return StateRetrieve, nil
	}

	notes := make([]string, len(versions))
	for i, p := range versions {
		notes[i] = p.Content
	}

	compat, err := d.nodes.Compat.Check(ctx, s.Query, s.Edition, strings.Join(notes, "\n\n"))
	if err != nil {
		d.degrade(s, StateCheckVersion, "compatibility check unavailable, proceeding")
		s.Allowed = &allowed
		return StateRetrieve, nil
	}

	s.Allowed = &compat.Allowed
	s.CompatNote = compat.Explanation
	if compat.Allowed {
		return StateRetrieve, nil
	}
	return StateWaitVersionChoice, nil
}

func (d *Driver) handleWaitVersionChoice(s *session.Session, out *runOutput) (State, error) {
	explanation := s.CompatNote
	if explanation == "" {
		explanation = "This feature may not be available in your edition."
	}
	out.add(fmt.Sprintf(
		"⚠️ In the current version (%s) this will likely not work due to limitations: %s\n\n"+
			"Choose an action:\n1. Try anyway\n2. Formulate a new task",
		s.Edition, explanation))
	s.Pending = session.PendingVersionChoice
	return StateWaitVersionChoice, nil
}

func (d *Driver) handleRetrieve(ctx context.Context, s *session.Session) (State, error) {
	embedding, err := d.embedder.Embed(ctx, s.Query)
	if err != nil {
		d.degrade(s, StateRetrieve, "documentation lookup unavailable, answering without references")
		s.Passages = nil
		return StateGenerateAnswer, nil
	}
	s.Passages = d.store.Retrieve(embedding, d.cfg.TopK).Full
	return StateGenerateAnswer, nil
}

func (d *Driver) handleGenerateAnswer(ctx context.Context, s *session.Session) (State, error) {
	allowed := s.Allowed == nil || *s.Allowed
	plan, err := d.nodes.Planner.Generate(ctx, PlanInput{
		Query:      s.Query,
		Edition:    s.Edition,
		Context:    rag.BuildContext(s.Passages, d.cfg.ContextTokenBudget),
		Allowed:    allowed,
		CompatNote: s.CompatNote,
	})
	if err != nil {
		d.degrade(s, StateGenerateAnswer, "answer generation unavailable, please try again")
		s.Answer = ""
		s.Steps = nil
		return StateWaitStepChoice, nil
	}

	s.Answer = plan.Explanation
	s.Steps = make([]*session.Step, len(plan.Steps))
	for i, p := range plan.Steps {
		s.Steps[i] = &session.Step{Text: p.Text, RequiresInteraction: p.RequiresInteraction}
	}
	return StateWaitStepChoice, nil
}

func (d *Driver) handleWaitStepChoice(s *session.Session, out *runOutput) (State, error) {
	// An empty plan has nothing to walk through; skip the park.
	if len(s.Steps) == 0 {
		out.add(s.Answer)
		return StateDone, nil
	}
	out.add(fmt.Sprintf("%s\n\nWould you like me to show this step-by-step? (yes/no)", s.Answer))
	s.Pending = session.PendingStepChoice
	return StateWaitStepChoice, nil
}

func (d *Driver) handleStepAgentStart(s *session.Session, out *runOutput) (State, error) {
	if len(s.Steps) == 0 {
		out.add("No steps to execute.")
		return StateDone, nil
	}
	s.Mode = session.ModeStepByStep
	// A fallback review may have rewound the cursor; only reset it when it
	// points past the plan.
	if s.StepIndex < 0 || s.StepIndex >= len(s.Steps) {
		s.StepIndex = 0
	}
	return StateDetectInteraction, nil
}

func (d *Driver) handleDetectInteraction(ctx context.Context, s *session.Session) (State, error) {
	step := s.CurrentStep()
	if step == nil {
		return StateWaitUserAction, nil
	}

	requires, err := d.nodes.Interactions.RequiresInteraction(ctx, step.Text)
	if err != nil {
		d.degrade(s, StateDetectInteraction, "interaction check unavailable, guessing from the step wording")
		requires = requiresInteractionHeuristic(step.Text)
	}
	step.RequiresInteraction = requires

	if requires {
		return StateAnalyzeScreenshot, nil
	}
	return StateWaitUserAction, nil
}

func (d *Driver) handleAnalyzeScreenshot(ctx context.Context, s *session.Session) (State, error) {
	step := s.CurrentStep()
	if step == nil || s.ScreenshotRef == "" {
		return StateWaitUserAction, nil
	}

	screenshot, err := d.screenshots.Load(s.ScreenshotRef)
	if err != nil {
		d.degrade(s, StateAnalyzeScreenshot, "screenshot unavailable, continuing without element location")
		return StateWaitUserAction, nil
	}

	region, err := d.nodes.Locator.Locate(ctx, step.Text, screenshot)
	if err != nil {
		d.degrade(s, StateAnalyzeScreenshot, "element lookup unavailable, continuing without location")
		return StateWaitUserAction, nil
	}
	// Absence is not an error; the region simply stays unset.
	if region != nil {
		step.Region = region
	}
	return StateWaitUserAction, nil
}

func (d *Driver) handleWaitUserAction(s *session.Session, out *runOutput) (State, error) {
	step := s.CurrentStep()
	if step == nil {
		out.add("All steps completed.")
	} else {
		text := fmt.Sprintf("Step %d of %d:\n%s", s.StepIndex+1, len(s.Steps), step.Text)
		if step.Region != nil {
			text += fmt.Sprintf("\nButton coordinates: x=%d, y=%d", step.Region.X, step.Region.Y)
		}
		out.add(text)
	}
	s.Pending = session.PendingUserAction
	return StateWaitUserAction, nil
}

func (d *Driver) handleValidateStep(ctx context.Context, s *session.Session, out *runOutput) (State, error) {
	step := s.CurrentStep()
	if step == nil || !step.RequiresInteraction || s.ScreenshotRef == "" {
		return StateNextStep, nil
	}

	screenshot, err := d.screenshots.Load(s.ScreenshotRef)
	if err != nil {
		d.degrade(s, StateValidateStep, "screenshot unavailable, skipping validation")
		return StateNextStep, nil
	}

	verdict, err := d.nodes.Validator.Validate(ctx, step.Text, screenshot)
	if err != nil {
		d.degrade(s, StateValidateStep, "step validation unavailable, continuing")
		return StateNextStep, nil
	}

	step.Validated = &verdict.Valid
	if !verdict.Valid {
		// Annotate only; a failed check never blocks progress.
		out.add("⚠️ " + verdict.Explanation)
	}
	return StateNextStep, nil
}

func (d *Driver) handleNextStep(s *session.Session) (State, error) {
	if s.StepIndex+1 < len(s.Steps) {
		s.StepIndex++
		return StateDetectInteraction, nil
	}
	return StateFinalConfirmation, nil
}

func (d *Driver) handleFinalConfirmation(s *session.Session, out *runOutput) (State, error) {
	question := "Did you manage to solve the task?"
	if step := s.CurrentStep(); step != nil {
		out.add(fmt.Sprintf("Step %d of %d:\n%s\n\n%s", s.StepIndex+1, len(s.Steps), step.Text, question))
	} else {
		out.add(question)
	}
	s.Pending = session.PendingTaskCompletionChoice
	return StateFinalConfirmation, nil
}

func (d *Driver) handleFallbackReview(ctx context.Context, s *session.Session, out *runOutput) (State, error) {
	s.FallbackCount++
	if s.FallbackCount > d.cfg.MaxFallbacks {
		s.Unresolved = true
		s.Mode = session.ModeSimple
		out.add("We couldn't resolve this task after several attempts. Please try rephrasing your request.")
		d.recorder.IncFallback(string(StateFallbackReview), "cap_exceeded")
		return StateDone, nil
	}

	first, err := d.nodes.Reviewer.Review(ctx, s.Query, s.Steps)
	if err != nil {
		d.degrade(s, StateFallbackReview, "step review unavailable, restarting from the first step")
		first = -1
	}
	if first < 0 {
		first = 0
	}
	s.StepIndex = first
	out.add(fmt.Sprintf("Let's start from step %d.", first+1))
	return StateStepAgentStart, nil
}
