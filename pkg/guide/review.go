package guide

import (
	"context"
	"fmt"
	"strings"

	"guidance/pkg/llm"
	"guidance/pkg/session"
)

const reviewSystemPrompt = `Analyze which steps from the list were likely not completed. Return JSON with problematic step indices (0-based): {"problematic_steps": [0, 2, ...]}`

// LLMStepReviewer identifies incomplete steps after a failed task.
type LLMStepReviewer struct {
	client llm.LLMClient
}

// NewLLMStepReviewer creates a step reviewer backed by the client.
func NewLLMStepReviewer(client llm.LLMClient) *LLMStepReviewer {
	return &LLMStepReviewer{client: client}
}

// Review returns the earliest step index judged not completed, or -1 when
// the model flags none.
func (r *LLMStepReviewer) Review(ctx context.Context, query string, steps []*session.Step) (int, error) {
	var list strings.Builder
	for i, step := range steps {
		fmt.Fprintf(&list, "%d. %s\n", i+1, step.Text)
	}

	req := llm.NewCompletionRequest([]llm.CompletionMessage{
		llm.NewSystemMessage(reviewSystemPrompt),
		llm.NewUserMessage(fmt.Sprintf("Original task: %s\n\nSteps:\n%s", query, list.String())),
	})
	req.JSONMode = true

	resp, err := r.client.Complete(ctx, req)
	if err != nil {
		return -1, fmt.Errorf("step review failed: %w", err)
	}

	var result struct {
		ProblematicSteps []int `json:"problematic_steps"`
	}
	if !extractJSON(resp.Content, &result) || len(result.ProblematicSteps) == 0 {
		return -1, nil
	}

	first := result.ProblematicSteps[0]
	if first < 0 || first >= len(steps) {
		return -1, nil
	}
	return first, nil
}
