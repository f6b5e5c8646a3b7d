package metrics

import "context"

type sessionLabelsKey struct{}

type sessionLabels struct {
	sessionID string
	state     string
}

// WithSessionLabels annotates a context with the session and workflow state
// an LLM call is made on behalf of. The metrics middleware picks these up,
// which lets one shared client serve many concurrent sessions.
func WithSessionLabels(ctx context.Context, sessionID, state string) context.Context {
	return context.WithValue(ctx, sessionLabelsKey{}, sessionLabels{sessionID: sessionID, state: state})
}

// labelsFrom extracts session labels from the context, consulting the
// optional provider as a fallback.
func labelsFrom(ctx context.Context, provider SessionProvider) (sessionID, state string) {
	if labels, ok := ctx.Value(sessionLabelsKey{}).(sessionLabels); ok {
		return labels.sessionID, labels.state
	}
	if provider != nil {
		return provider.GetSessionID(), provider.GetCurrentState()
	}
	return "", ""
}
