package guide

import (
	"context"
	"fmt"
	"strings"

	"guidance/pkg/llm"
	"guidance/pkg/session"
)

const intentSystemPrompt = "You are a classifier. Determine if the user's question is about the music production application or something else. Respond with only 'task' or 'other'."

// LLMIntentClassifier classifies queries with a one-word completion.
type LLMIntentClassifier struct {
	client llm.LLMClient
}

// NewLLMIntentClassifier creates an intent classifier backed by the client.
func NewLLMIntentClassifier(client llm.LLMClient) *LLMIntentClassifier {
	return &LLMIntentClassifier{client: client}
}

// Classify returns IntentTask when the query is about the application.
func (c *LLMIntentClassifier) Classify(ctx context.Context, query string) (session.Intent, error) {
	req := llm.NewCompletionRequest([]llm.CompletionMessage{
		llm.NewSystemMessage(intentSystemPrompt),
		llm.NewUserMessage(fmt.Sprintf("Question: %s", query)),
	})
	req.Temperature = llm.TemperatureDeterministic
	req.MaxTokens = 10

	resp, err := c.client.Complete(ctx, req)
	if err != nil {
		return session.IntentUnknown, fmt.Errorf("intent classification failed: %w", err)
	}

	verdict := strings.ToLower(strings.TrimSpace(resp.Content))
	if strings.Contains(verdict, "task") {
		return session.IntentTask, nil
	}
	return session.IntentIrrelevant, nil
}
