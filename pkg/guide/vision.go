package guide

import (
	"context"
	"fmt"

	"guidance/pkg/llm"
	"guidance/pkg/session"
)

// LLMVisualLocator finds UI elements in screenshots with a vision model.
type LLMVisualLocator struct {
	client llm.LLMClient
}

// NewLLMVisualLocator creates a visual locator backed by the vision client.
func NewLLMVisualLocator(client llm.LLMClient) *LLMVisualLocator {
	return &LLMVisualLocator{client: client}
}

type locateResult struct {
	Found  *bool `json:"found"`
	X      *int  `json:"x"`
	Y      *int  `json:"y"`
	Width  int   `json:"width"`
	Height int   `json:"height"`
}

// Locate asks the vision model for the bounding box of the element the step
// refers to. A missing element returns (nil, nil).
func (l *LLMVisualLocator) Locate(ctx context.Context, stepText, screenshot string) (*session.Region, error) {
	prompt := fmt.Sprintf(
		"Analyze the application screenshot and find the coordinates of the button or UI element corresponding to the instruction: %s\n\n"+
			`Return JSON with coordinates: {"x": number, "y": number, "width": number, "height": number} or {"found": false} if element not found.`, stepText)

	req := llm.NewCompletionRequest([]llm.CompletionMessage{
		llm.NewUserImageMessage(prompt, screenshot),
	})
	req.Temperature = llm.TemperatureDeterministic
	req.MaxTokens = 200

	resp, err := l.client.Complete(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("screenshot analysis failed: %w", err)
	}

	var result locateResult
	if !extractJSON(resp.Content, &result) {
		return nil, nil
	}
	if result.Found != nil && !*result.Found {
		return nil, nil
	}
	if result.X == nil || result.Y == nil {
		return nil, nil
	}

	region := &session.Region{X: *result.X, Y: *result.Y, Width: result.Width, Height: result.Height}
	if region.Width == 0 {
		region.Width = 50
	}
	if region.Height == 0 {
		region.Height = 50
	}
	return region, nil
}

// LLMStepValidator checks screenshots for step completion with a vision model.
type LLMStepValidator struct {
	client llm.LLMClient
}

// NewLLMStepValidator creates a step validator backed by the vision client.
func NewLLMStepValidator(client llm.LLMClient) *LLMStepValidator {
	return &LLMStepValidator{client: client}
}

// Validate asks the vision model whether the screenshot shows the state after
// the step. Unparseable output counts as valid.
func (v *LLMStepValidator) Validate(ctx context.Context, stepText, screenshot string) (Verdict, error) {
	prompt := fmt.Sprintf(
		"Do you see the state after completing the step: %s? "+
			`Return JSON: {"valid": true/false, "explanation": "brief explanation"}`, stepText)

	req := llm.NewCompletionRequest([]llm.CompletionMessage{
		llm.NewUserImageMessage(prompt, screenshot),
	})
	req.Temperature = llm.TemperatureDeterministic
	req.MaxTokens = 200

	resp, err := v.client.Complete(ctx, req)
	if err != nil {
		return Verdict{}, fmt.Errorf("step validation failed: %w", err)
	}

	var result struct {
		Valid       *bool  `json:"valid"`
		Explanation string `json:"explanation"`
	}
	if !extractJSON(resp.Content, &result) || result.Valid == nil {
		return Verdict{Valid: true}, nil
	}

	verdict := Verdict{Valid: *result.Valid, Explanation: result.Explanation}
	if !verdict.Valid && verdict.Explanation == "" {
		verdict.Explanation = "Step was not completed correctly."
	}
	return verdict, nil
}
