package guide

import (
	"context"
	"fmt"

	"guidance/pkg/llm"
)

// LLMCompatibilityChecker judges edition compatibility from version notes.
type LLMCompatibilityChecker struct {
	client llm.LLMClient
}

// NewLLMCompatibilityChecker creates a compatibility checker backed by the client.
func NewLLMCompatibilityChecker(client llm.LLMClient) *LLMCompatibilityChecker {
	return &LLMCompatibilityChecker{client: client}
}

type compatResult struct {
	Allowed     *bool  `json:"allowed"`
	Explanation string `json:"explanation"`
}

// Check asks for a JSON verdict over the version notes. Ambiguous or
// unparseable output resolves to allowed, never to a silent block.
func (c *LLMCompatibilityChecker) Check(ctx context.Context, query, edition, versionNotes string) (Compat, error) {
	system := fmt.Sprintf(
		"You are analyzing version compatibility for the %s edition. "+
			"Based on the version information provided, determine if the user's request is compatible with their edition. "+
			`Respond with JSON: {"allowed": true/false, "explanation": "brief explanation"}`, edition)

	req := llm.NewCompletionRequest([]llm.CompletionMessage{
		llm.NewSystemMessage(system),
		llm.NewUserMessage(fmt.Sprintf("User query: %s\n\nVersion information:\n%s", query, versionNotes)),
	})
	req.JSONMode = true

	resp, err := c.client.Complete(ctx, req)
	if err != nil {
		return Compat{}, fmt.Errorf("compatibility check failed: %w", err)
	}

	var result compatResult
	if !extractJSON(resp.Content, &result) || result.Allowed == nil {
		return Compat{Allowed: true}, nil
	}

	compat := Compat{Allowed: *result.Allowed}
	if !compat.Allowed {
		compat.Explanation = result.Explanation
	}
	return compat, nil
}
