package guide

import (
	"context"
	"fmt"

	"guidance/pkg/llm"
)

// LLMPlanGenerator generates answers with step plans, and extracts step plans
// from pre-generated answers.
type LLMPlanGenerator struct {
	client llm.LLMClient
}

// NewLLMPlanGenerator creates a plan generator backed by the client.
func NewLLMPlanGenerator(client llm.LLMClient) *LLMPlanGenerator {
	return &LLMPlanGenerator{client: client}
}

const planContract = `{
  "explanation": "Full explanation text",
  "steps": [
    {
      "text": "Step description",
      "requires_click": true/false
    }
  ]
}`

// Generate produces an explanation and step plan from retrieved documentation.
// Unparseable output degrades to an empty plan rather than an error: only
// provider failures propagate.
func (g *LLMPlanGenerator) Generate(ctx context.Context, in PlanInput) (Plan, error) {
	system := fmt.Sprintf("You are a guidance assistant for a music production application. Reference the documentation snippets when answering.\nUser's edition: %s\n", in.Edition)
	if !in.Allowed && in.CompatNote != "" {
		system += fmt.Sprintf("\nNote: The user is attempting something that may not be fully compatible with their edition: %s", in.CompatNote)
	}

	user := fmt.Sprintf(`User question: %s

Documentation context:
%s

Please provide:
1. A clear explanation of how to accomplish this task
2. A step-by-step guide in JSON format with the following structure:
%s

Make sure the steps are actionable and specific.`, in.Query, in.Context, planContract)

	req := llm.NewCompletionRequest([]llm.CompletionMessage{
		llm.NewSystemMessage(system),
		llm.NewUserMessage(user),
	})
	req.JSONMode = true

	resp, err := g.client.Complete(ctx, req)
	if err != nil {
		return Plan{}, fmt.Errorf("plan generation failed: %w", err)
	}

	var plan Plan
	if !extractJSON(resp.Content, &plan) {
		return Plan{}, nil
	}
	return plan, nil
}

// Extract splits an existing answer into steps, keeping the answer's own
// wording. The answer itself is never replaced.
func (g *LLMPlanGenerator) Extract(ctx context.Context, query, answer string) (Plan, error) {
	system := `You are a guidance assistant for a music production application. Break down the provided answer into actionable steps.

Analyze the answer and extract step-by-step instructions. For each step, determine if it requires clicking a button or UI element.
Words like click, press, select, choose, open indicate requires_click=true.

IMPORTANT: Extract steps EXACTLY from the original answer. Use THE EXACT SAME wording as in the original answer. Don't create new steps, don't rewrite text. Keep the same language as the answer.`

	user := fmt.Sprintf(`Extract step-by-step instructions from your previous answer in JSON format:
%s

CRITICAL REQUIREMENTS:
- Extract steps in the EXACT order they appear in the answer
- Use the EXACT wording from the original answer, do NOT rewrite or rephrase
- Do NOT create new steps, only extract what's already in the answer
- If a step mentions clicking, pressing, selecting buttons or UI elements, set requires_click=true`, planContract)

	// The answer being split is prior assistant output, so it is replayed as
	// an assistant turn rather than pasted into the user prompt.
	req := llm.NewCompletionRequest([]llm.CompletionMessage{
		llm.NewSystemMessage(system),
		llm.NewUserMessage(query),
		llm.NewAssistantMessage(answer),
		llm.NewUserMessage(user),
	})
	req.Temperature = llm.TemperatureDeterministic
	req.JSONMode = true

	resp, err := g.client.Complete(ctx, req)
	if err != nil {
		return Plan{}, fmt.Errorf("step extraction failed: %w", err)
	}

	var plan Plan
	if !extractJSON(resp.Content, &plan) {
		return Plan{}, nil
	}
	// Extraction keeps the original answer.
	plan.Explanation = answer

	// Steps missing the flag fall back to the wording heuristic.
	for i := range plan.Steps {
		if !plan.Steps[i].RequiresInteraction && requiresInteractionHeuristic(plan.Steps[i].Text) {
			plan.Steps[i].RequiresInteraction = true
		}
	}
	return plan, nil
}
