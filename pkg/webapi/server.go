// Package webapi exposes the guidance workflow over HTTP. All session
// mutation goes through session.Manager.WithSession so concurrent requests
// against the same session are serialized.
package webapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"guidance/pkg/guide"
	"guidance/pkg/logx"
	"guidance/pkg/metrics"
	"guidance/pkg/persistence"
	"guidance/pkg/session"
	"guidance/pkg/version"
)

// Server wires the HTTP routes to the guidance driver and session manager.
type Server struct {
	manager     *session.Manager
	driver      *guide.Driver
	transcripts *persistence.Store   // optional, nil disables recording
	usage       *metrics.QueryService // optional, nil disables /admin/sessions/{id}/usage
	adminHash   string
	timeout     time.Duration
	logger      *logx.Logger
}

// Options holds the optional dependencies of the server.
type Options struct {
	Transcripts       *persistence.Store
	Usage             *metrics.QueryService
	AdminPasswordHash string
	RequestTimeout    time.Duration
}

// NewServer creates the HTTP server front end.
func NewServer(manager *session.Manager, driver *guide.Driver, opts Options) *Server {
	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Server{
		manager:     manager,
		driver:      driver,
		transcripts: opts.Transcripts,
		usage:       opts.Usage,
		adminHash:   opts.AdminPasswordHash,
		timeout:     timeout,
		logger:      logx.NewLogger("webapi"),
	}
}

// Router builds the chi router with all routes and middleware attached.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(s.logger))
	r.Use(TimeoutMiddleware(s.timeout))
	r.Use(middleware.Recoverer)

	r.Post("/chat", s.handleChat)
	r.Post("/chat/step-by-step", s.handleChatStepByStep)
	r.Post("/step", s.handleStep)
	r.Post("/step/validate", s.handleStepValidate)
	r.Get("/session/{id}/status", s.handleSessionStatus)

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Get("/admin/logs", s.requireAdmin(s.handleAdminLogs))
	r.Get("/admin/sessions/{id}/usage", s.requireAdmin(s.handleSessionUsage))
	r.Get("/admin/sessions/{id}/transcript", s.requireAdmin(s.handleSessionTranscript))

	return r
}

type chatRequest struct {
	Message       string `json:"message"`
	SessionID     string `json:"session_id,omitempty"`
	Edition       string `json:"edition,omitempty"`
	ScreenshotURL string `json:"screenshot_url,omitempty"`
}

type chatResponse struct {
	Response       string          `json:"response"`
	SessionID      string          `json:"session_id"`
	Mode           string          `json:"mode"`
	Steps          []*session.Step `json:"steps,omitempty"`
	ActionRequired string          `json:"action_required,omitempty"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Message == "" {
		s.writeError(w, http.StatusBadRequest, "message is required")
		return
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sess := s.manager.Create(req.Message, req.Edition)
		sessionID = sess.ID
		s.recordSession(r, sess.ID, req.Message, req.Edition)
	}

	var resp chatResponse
	err := s.manager.WithSession(sessionID, func(sess *session.Session) error {
		text, err := s.driver.Advance(r.Context(), sess, req.Message, req.Edition, req.ScreenshotURL)
		if err != nil {
			return err
		}
		resp = s.chatResponseFrom(sess, text)
		s.recordTurns(r, sess, req.Message, text)
		return nil
	})
	if err != nil {
		s.writeDriverError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, resp)
}

type stepByStepRequest struct {
	Message   string `json:"message"`
	RAGAnswer string `json:"rag_answer"`
	SessionID string `json:"session_id,omitempty"`
	Edition   string `json:"edition,omitempty"`
}

// handleChatStepByStep starts step mode from an answer produced elsewhere,
// skipping intent detection, version checking and retrieval.
func (s *Server) handleChatStepByStep(w http.ResponseWriter, r *http.Request) {
	var req stepByStepRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Message == "" || req.RAGAnswer == "" {
		s.writeError(w, http.StatusBadRequest, "message and rag_answer are required")
		return
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sess := s.manager.Create(req.Message, req.Edition)
		sessionID = sess.ID
		s.recordSession(r, sess.ID, req.Message, req.Edition)
	}

	var resp chatResponse
	err := s.manager.WithSession(sessionID, func(sess *session.Session) error {
		text, err := s.driver.StartFromAnswer(r.Context(), sess, req.Message, req.RAGAnswer)
		if err != nil {
			return err
		}
		resp = s.chatResponseFrom(sess, text)
		s.recordTurns(r, sess, req.Message, text)
		return nil
	})
	if err != nil {
		s.writeDriverError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, resp)
}

type stepRequest struct {
	SessionID     string `json:"session_id"`
	UserAction    string `json:"user_action"`
	ScreenshotURL string `json:"screenshot_url,omitempty"`
}

type stepResponse struct {
	Response            string          `json:"response"`
	StepText            string          `json:"step_text,omitempty"`
	StepIndex           int             `json:"step_index"`
	TotalSteps          int             `json:"total_steps"`
	RequiresInteraction bool            `json:"requires_interaction"`
	LocatedRegion       *session.Region `json:"located_region,omitempty"`
	ActionRequired      string          `json:"action_required,omitempty"`
}

func (s *Server) handleStep(w http.ResponseWriter, r *http.Request) {
	var req stepRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.SessionID == "" {
		s.writeError(w, http.StatusBadRequest, "session_id is required")
		return
	}

	var resp stepResponse
	err := s.manager.WithSession(req.SessionID, func(sess *session.Session) error {
		text, err := s.driver.StepAction(r.Context(), sess, req.UserAction, req.ScreenshotURL)
		if err != nil {
			return err
		}
		resp = stepResponse{
			Response:   text,
			StepIndex:  sess.StepIndex,
			TotalSteps: len(sess.Steps),
		}
		if step := sess.CurrentStep(); step != nil {
			resp.StepText = step.Text
			resp.RequiresInteraction = step.RequiresInteraction
			if step.Region != nil {
				region := *step.Region
				resp.LocatedRegion = &region
			}
		}
		if sess.Pending != session.PendingNone {
			resp.ActionRequired = string(sess.Pending)
		}
		s.recordTurns(r, sess, req.UserAction, text)
		return nil
	})
	if err != nil {
		s.writeDriverError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, resp)
}

type validateRequest struct {
	SessionID     string `json:"session_id"`
	ScreenshotURL string `json:"screenshot_url"`
	StepIndex     int    `json:"step_index"`
}

type validateResponse struct {
	Valid       bool   `json:"valid"`
	Explanation string `json:"explanation,omitempty"`
}

func (s *Server) handleStepValidate(w http.ResponseWriter, r *http.Request) {
	var req validateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.SessionID == "" || req.ScreenshotURL == "" {
		s.writeError(w, http.StatusBadRequest, "session_id and screenshot_url are required")
		return
	}

	var resp validateResponse
	err := s.manager.WithSession(req.SessionID, func(sess *session.Session) error {
		verdict, err := s.driver.ValidateExternally(r.Context(), sess, req.StepIndex, req.ScreenshotURL)
		if err != nil {
			return err
		}
		resp = validateResponse{Valid: verdict.Valid, Explanation: verdict.Explanation}
		return nil
	})
	if err != nil {
		s.writeDriverError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, resp)
}

type statusResponse struct {
	SessionID      string          `json:"session_id"`
	State          string          `json:"state"`
	Mode           string          `json:"mode"`
	Query          string          `json:"query"`
	Edition        string          `json:"edition,omitempty"`
	StepIndex      int             `json:"step_index"`
	TotalSteps     int             `json:"total_steps"`
	Steps          []*session.Step `json:"steps,omitempty"`
	ActionRequired string          `json:"action_required,omitempty"`
	Unresolved     bool            `json:"unresolved"`
	Turns          int             `json:"turns"`
	CreatedAt      time.Time       `json:"created_at"`
	LastActive     time.Time       `json:"last_active"`
}

// handleSessionStatus returns a read-only snapshot. It never advances the
// workflow, so polling it is safe.
func (s *Server) handleSessionStatus(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	snap, err := s.manager.Snapshot(id)
	if err != nil {
		s.writeDriverError(w, err)
		return
	}

	resp := statusResponse{
		SessionID:  snap.ID,
		State:      string(snap.State),
		Mode:       string(snap.Mode),
		Query:      snap.Query,
		Edition:    snap.Edition,
		StepIndex:  snap.StepIndex,
		TotalSteps: len(snap.Steps),
		Steps:      snap.Steps, // Snapshot already deep-copied
		Unresolved: snap.Unresolved,
		Turns:      len(snap.History),
		CreatedAt:  snap.CreatedAt,
		LastActive: snap.LastActive,
	}
	if snap.Pending != session.PendingNone {
		resp.ActionRequired = string(snap.Pending)
	}

	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"version":  version.Version,
		"sessions": s.manager.Count(),
	})
}

// handleAdminLogs serves recent in-memory log entries. Query params: domain
// filters by component, since is an RFC 3339 timestamp (default one hour ago).
func (s *Server) handleAdminLogs(w http.ResponseWriter, r *http.Request) {
	domain := r.URL.Query().Get("domain")
	since := time.Now().Add(-time.Hour)
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid since timestamp")
			return
		}
		since = parsed
	}

	entries := logx.GetRecentLogEntries(domain, since)
	s.writeJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"count":   len(entries),
	})
}

func (s *Server) handleSessionUsage(w http.ResponseWriter, r *http.Request) {
	if s.usage == nil {
		s.writeError(w, http.StatusServiceUnavailable, "metrics query service not configured")
		return
	}

	id := chi.URLParam(r, "id")
	if _, err := s.manager.Snapshot(id); err != nil {
		s.writeDriverError(w, err)
		return
	}

	sessionMetrics, err := s.usage.GetSessionMetrics(r.Context(), id)
	if err != nil {
		s.logger.Error("Usage query failed for session %s: %v", id, err)
		s.writeError(w, http.StatusBadGateway, "usage query failed")
		return
	}

	byModel, err := s.usage.GetSessionMetricsByModel(r.Context(), id)
	if err != nil {
		s.logger.Warn("Per-model usage query failed for session %s: %v", id, err)
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"session":  sessionMetrics,
		"by_model": byModel,
	})
}

// handleSessionTranscript serves the persisted conversation for a session.
// Unlike /session/{id}/status this reads the durable store, so transcripts of
// evicted and expired sessions remain reachable.
func (s *Server) handleSessionTranscript(w http.ResponseWriter, r *http.Request) {
	if s.transcripts == nil {
		s.writeError(w, http.StatusServiceUnavailable, "transcript store not configured")
		return
	}

	id := chi.URLParam(r, "id")
	turns, err := s.transcripts.Transcript(r.Context(), id)
	if err != nil {
		s.logger.Error("Transcript query failed for session %s: %v", id, err)
		s.writeError(w, http.StatusInternalServerError, "transcript query failed")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"session_id": id,
		"turns":      turns,
		"count":      len(turns),
	})
}

func (s *Server) chatResponseFrom(sess *session.Session, text string) chatResponse {
	resp := chatResponse{
		Response:  text,
		SessionID: sess.ID,
		Mode:      string(sess.Mode),
	}
	if sess.Mode == session.ModeStepByStep {
		resp.Steps = copySteps(sess.Steps)
	}
	if sess.Pending != session.PendingNone {
		resp.ActionRequired = string(sess.Pending)
	}
	return resp
}

// copySteps copies the plan while the session lock is held, so encoding the
// response after the lock is released cannot race a concurrent request.
func copySteps(steps []*session.Step) []*session.Step {
	if len(steps) == 0 {
		return nil
	}
	out := make([]*session.Step, len(steps))
	for i, s := range steps {
		c := *s
		out[i] = &c
	}
	return out
}

// recordSession persists the session row. Failures are logged, never surfaced.
func (s *Server) recordSession(r *http.Request, id, query, edition string) {
	if s.transcripts == nil {
		return
	}
	if err := s.transcripts.RecordSession(r.Context(), id, query, edition); err != nil {
		s.logger.Warn("Failed to persist session %s: %v", id, err)
	}
}

// recordTurns persists the user message and assistant response.
func (s *Server) recordTurns(r *http.Request, sess *session.Session, userText, assistantText string) {
	if s.transcripts == nil {
		return
	}
	state := string(sess.State)
	if err := s.transcripts.RecordTurn(r.Context(), sess.ID, "user", userText, state); err != nil {
		s.logger.Warn("Failed to persist turn for session %s: %v", sess.ID, err)
		return
	}
	if err := s.transcripts.RecordTurn(r.Context(), sess.ID, "assistant", assistantText, state); err != nil {
		s.logger.Warn("Failed to persist turn for session %s: %v", sess.ID, err)
	}
}

func (s *Server) writeDriverError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrNotFound):
		s.writeError(w, http.StatusNotFound, "session not found")
	case errors.Is(err, guide.ErrUnexpectedAction):
		s.writeError(w, http.StatusConflict, "unexpected action")
	case errors.Is(err, guide.ErrInvalidStepIndex):
		s.writeError(w, http.StatusBadRequest, "invalid step index")
	default:
		s.logger.Error("Request failed: %v", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to encode response: %v", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

// ListenAddr formats a host/port pair for http.Server.
func ListenAddr(host string, port int) string {
	return fmt.Sprintf("%s:%d", host, port)
}
