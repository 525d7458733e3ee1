package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/ent0n29/cleo/internal/collab"
	"github.com/ent0n29/cleo/internal/policy"
	"github.com/ent0n29/cleo/internal/protocol"
	"github.com/ent0n29/cleo/internal/relay"
	"github.com/ent0n29/cleo/internal/session"
	"github.com/ent0n29/cleo/internal/store"
)

const (
	defaultInstructions = "You are Cleo, a warm and concise voice assistant. Keep answers short and speak naturally."
	contextTurns        = 10
	maxContextRunes     = 2000
)

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	var req collab.ConfigRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	instructions := strings.TrimSpace(s.cfg.Client.Instructions)
	if instructions == "" {
		instructions = defaultInstructions
	}
	if id := strings.TrimSpace(req.ConversationID); id != "" {
		recent, err := s.store.RecentTranscripts(r.Context(), id, contextTurns)
		if err != nil {
			respondError(w, http.StatusInternalServerError, "store_error", err.Error())
			return
		}
		instructions += conversationContext(recent)
	}

	respondJSON(w, http.StatusOK, collab.HandshakeConfig{
		Model:        s.cfg.Client.Model,
		Voice:        s.cfg.Client.Voice,
		Instructions: instructions,
		Tools:        s.tools,
	})
}

// conversationContext renders earlier turns, newest kept when the block is
// over budget.
func conversationContext(recent []store.TranscriptRecord) string {
	if len(recent) == 0 {
		return ""
	}
	lines := make([]string, 0, len(recent))
	budget := maxContextRunes
	for i := len(recent) - 1; i >= 0; i-- {
		line := fmt.Sprintf("%s: %s", recent[i].Role, strings.TrimSpace(recent[i].Content))
		n := len([]rune(line))
		if n > budget {
			break
		}
		budget -= n
		lines = append(lines, line)
	}
	if len(lines) == 0 {
		return ""
	}
	for i, j := 0, len(lines)-1; i < j; i, j = i+1, j-1 {
		lines[i], lines[j] = lines[j], lines[i]
	}
	return "\n\nEarlier in this conversation:\n" + strings.Join(lines, "\n")
}

func (s *Server) handleRegisterSession(w http.ResponseWriter, r *http.Request) {
	var req collab.RegisterRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	provider := strings.TrimSpace(req.Provider)
	if _, err := s.upstreams.Select(provider); err != nil && !errors.Is(err, relay.ErrNoUpstream) {
		respondError(w, http.StatusBadRequest, "invalid_provider", err.Error())
		return
	}
	if provider == "" {
		provider = "primary"
	}

	sess := s.sessions.Create("", strings.TrimSpace(req.ConversationID), provider)
	err := s.store.CreateSession(r.Context(), store.SessionRecord{
		ID:             sess.ID,
		ConversationID: sess.ConversationID,
		Provider:       sess.Provider,
		Status:         store.StatusActive,
		StartedAt:      sess.StartedAt,
	})
	if err != nil {
		_, _ = s.sessions.End(sess.ID)
		s.logger.Error("persist session failed", "session_id", sess.ID, "error", err)
		respondError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	s.metrics.SetActiveSessions(s.sessions.ActiveCount())
	s.metrics.ObserveSessionEvent("created")
	s.logger.Info("voice session registered", "session_id", sess.ID, "conversation_id", sess.ConversationID, "provider", provider)

	respondJSON(w, http.StatusCreated, collab.RegisterResponse{SessionID: sess.ID})
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "sessionId"))
	if id == "" {
		respondError(w, http.StatusBadRequest, "invalid_session_id", "missing session id")
		return
	}
	var report collab.SessionReport
	if err := decodeJSON(r, &report); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	prev, err := s.store.GetSession(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, http.StatusNotFound, "session_not_found", err.Error())
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}

	estimate := s.rates.Estimate(report)
	if _, err := s.store.EndSession(r.Context(), id, store.EndReport{
		DurationSeconds:   report.DurationSeconds,
		AudioInputTokens:  report.AudioInputTokens,
		AudioOutputTokens: report.AudioOutputTokens,
		TextInputTokens:   report.TextInputTokens,
		TextOutputTokens:  report.TextOutputTokens,
		Cost:              estimate,
		EndedAt:           time.Now().UTC(),
	}); err != nil {
		respondError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	if _, err := s.sessions.End(id); err != nil && !errors.Is(err, session.ErrNotFound) {
		s.logger.Warn("end live session failed", "session_id", id, "error", err)
	}

	if prev.Status == store.StatusActive {
		s.metrics.AddSessionCost(estimate)
		s.metrics.ObserveSessionEvent("ended")
	}
	s.metrics.SetActiveSessions(s.sessions.ActiveCount())
	s.logger.Info("voice session ended", "session_id", id, "duration_seconds", report.DurationSeconds, "cost", estimate)

	respondJSON(w, http.StatusOK, collab.ReportResponse{Cost: estimate})
}

func (s *Server) handleTranscript(w http.ResponseWriter, r *http.Request) {
	var req collab.Transcript
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	req.ConversationID = strings.TrimSpace(req.ConversationID)
	req.Role = strings.ToLower(strings.TrimSpace(req.Role))
	switch {
	case req.ConversationID == "":
		respondError(w, http.StatusBadRequest, "invalid_request", "conversationId is required")
		return
	case req.Role != "user" && req.Role != "assistant":
		respondError(w, http.StatusBadRequest, "invalid_request", "role must be user or assistant")
		return
	case strings.TrimSpace(req.Content) == "":
		respondError(w, http.StatusBadRequest, "invalid_request", "content is required")
		return
	}

	redacted := policy.Redact(req.Content)
	record := store.TranscriptRecord{
		ID:             uuid.NewString(),
		ConversationID: req.ConversationID,
		SessionID:      req.SessionID,
		Role:           req.Role,
		Content:        redacted.Text,
		PIIRedacted:    len(redacted.Kinds) > 0,
		CreatedAt:      time.Now().UTC(),
	}
	if err := s.store.SaveTranscript(r.Context(), record); err != nil {
		respondError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	if req.SessionID != "" {
		_ = s.sessions.Touch(req.SessionID)
	}
	if record.PIIRedacted {
		s.logger.Info("transcript redacted", "conversation_id", record.ConversationID, "kinds", redacted.Kinds)
	}
	respondJSON(w, http.StatusCreated, map[string]any{"id": record.ID, "pii_redacted": record.PIIRedacted})
}

func (s *Server) handleOffer(w http.ResponseWriter, r *http.Request) {
	var req collab.OfferRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.SDP) == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "sdp is required")
		return
	}
	if req.SessionID != "" {
		if err := s.sessions.Touch(req.SessionID); err != nil {
			respondError(w, http.StatusNotFound, "session_not_found", err.Error())
			return
		}
	}
	up, err := s.upstreams.Select(req.Provider)
	if err != nil {
		respondError(w, http.StatusServiceUnavailable, "no_upstream", err.Error())
		return
	}

	answer, err := s.sdp.Exchange(r.Context(), up, relay.Offer{
		SDP:       req.SDP,
		SessionID: req.SessionID,
		Model:     req.Model,
		Session:   req.Session,
	})
	if err != nil {
		var upErr *relay.UpstreamError
		switch {
		case errors.As(err, &upErr):
			s.metrics.ObserveProviderError(up.Name, "sdp_rejected")
			respondError(w, http.StatusBadGateway, "upstream_rejected", err.Error())
		case errors.Is(err, relay.ErrNoUpstream):
			respondError(w, http.StatusServiceUnavailable, "no_upstream", err.Error())
		case errors.Is(err, protocol.ErrMissingSDP):
			respondError(w, http.StatusBadGateway, "empty_answer", err.Error())
		default:
			s.metrics.ObserveProviderError(up.Name, "sdp_failed")
			respondError(w, http.StatusBadGateway, "upstream_unavailable", err.Error())
		}
		return
	}
	s.metrics.ObserveSessionEvent("sdp_exchanged")

	w.Header().Set("Content-Type", "application/sdp")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(answer))
}
