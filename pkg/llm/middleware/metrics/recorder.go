// Package metrics provides metrics recording for LLM client operations.
package metrics

import (
	"time"
)

// SessionProvider provides access to session state for metrics collection.
type SessionProvider interface {
	// GetCurrentState returns the workflow state the session is executing (DetectIntent, Retrieve, etc).
	GetCurrentState() string
	// GetSessionID returns the guidance session ID being served.
	GetSessionID() string
}

// Recorder defines the interface for recording LLM operation metrics.
type Recorder interface {
	// ObserveRequest records metrics for a completed LLM request.
	ObserveRequest(
		model, sessionID, state string,
		promptTokens, completionTokens int,
		success bool,
		errorType string,
		duration time.Duration,
	)

	// IncFallback increments the fallback counter for degraded node executions.
	IncFallback(state, reason string)
}

// NoopRecorder implements Recorder with no-op behavior for when metrics are disabled.
type NoopRecorder struct{}

// Nop returns a no-op metrics recorder that discards all metrics.
func Nop() Recorder {
	return &NoopRecorder{}
}

// ObserveRequest does nothing in the no-op recorder.
func (n *NoopRecorder) ObserveRequest(
	_, _, _ string,
	_, _ int,
	_ bool,
	_ string,
	_ time.Duration,
) {
	// No-op
}

// IncFallback does nothing in the no-op recorder.
func (n *NoopRecorder) IncFallback(_, _ string) {
	// No-op
}
