package guide

import (
	"context"
	"fmt"

	"guidance/pkg/llm"
)

const interactionSystemPrompt = `Analyze if this step requires clicking a button or UI element in the music production application. Respond with JSON: {"requires_click": true/false}`

// LLMInteractionClassifier decides per step whether the user must operate
// the application UI.
type LLMInteractionClassifier struct {
	client llm.LLMClient
}

// NewLLMInteractionClassifier creates an interaction classifier backed by the client.
func NewLLMInteractionClassifier(client llm.LLMClient) *LLMInteractionClassifier {
	return &LLMInteractionClassifier{client: client}
}

type interactionResult struct {
	RequiresClick bool `json:"requires_click"`
}

// RequiresInteraction classifies the step text.
func (c *LLMInteractionClassifier) RequiresInteraction(ctx context.Context, stepText string) (bool, error) {
	req := llm.NewCompletionRequest([]llm.CompletionMessage{
		llm.NewSystemMessage(interactionSystemPrompt),
		llm.NewUserMessage(fmt.Sprintf("Step: %s", stepText)),
	})
	req.Temperature = llm.TemperatureDeterministic
	req.JSONMode = true

	resp, err := c.client.Complete(ctx, req)
	if err != nil {
		return false, fmt.Errorf("interaction classification failed: %w", err)
	}

	var result interactionResult
	if !extractJSON(resp.Content, &result) {
		return requiresInteractionHeuristic(stepText), nil
	}
	return result.RequiresClick, nil
}
