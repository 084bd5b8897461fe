package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/knollbase/knoll/internal/chat"
	"github.com/knollbase/knoll/internal/chatlog"
	"github.com/knollbase/knoll/internal/log"
)

const (
	maxQuestionLength = 4000
	maxSessionIDLen   = 200

	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

// chatHandler answers questions and serves conversation history.
type chatHandler struct {
	answerer Answerer
	recorder ExchangeLog
	logger   log.Logger
}

type chatRequest struct {
	SessionID        string `json:"session_id"`
	UserID           string `json:"user_id"`
	Question         string `json:"question"`
	IncludeCitations bool   `json:"include_citations"`
}

// sourceJSON is one retrieved snippet reference in a chat response.
type sourceJSON struct {
	DocumentRef string  `json:"document_ref"`
	Distance    float64 `json:"distance"`
}

type chatResponse struct {
	Answer     string       `json:"answer"`
	Sources    []sourceJSON `json:"sources,omitempty"`
	TokensUsed int          `json:"tokens_used"`
	LatencyMS  int64        `json:"latency_ms"`
}

// send runs one chat turn and records it. A recording failure is
// logged but never masks the answer the user already paid for.
func (h *chatHandler) send(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantIDFromPath(w, r, h.logger)
	if !ok {
		return
	}

	var req chatRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "invalid request body", h.logger)
		return
	}
	req.SessionID = strings.TrimSpace(req.SessionID)
	if req.SessionID == "" || len(req.SessionID) > maxSessionIDLen {
		writeError(w, http.StatusBadRequest, "invalid_session", "session_id must be 1-200 characters", h.logger)
		return
	}
	if len(req.Question) > maxQuestionLength {
		writeError(w, http.StatusBadRequest, "question_too_long", "question must be 4000 characters or fewer", h.logger)
		return
	}

	resp, err := h.answerer.Answer(r.Context(), chat.Request{
		TenantID:         tenantID,
		SessionID:        req.SessionID,
		UserID:           req.UserID,
		Question:         req.Question,
		IncludeCitations: req.IncludeCitations,
	})
	if err != nil {
		if errors.Is(err, chat.ErrEmptyQuestion) {
			writeError(w, http.StatusBadRequest, "empty_question", "question is required", h.logger)
			return
		}
		h.logger.Error("chat turn failed", "error", err, "tenant", tenantID, "session", req.SessionID)
		h.record(r, tenantID, req, chat.Response{}, true)
		writeError(w, http.StatusBadGateway, "generation_failed", "failed to generate an answer", h.logger)
		return
	}

	h.record(r, tenantID, req, resp, false)

	var sources []sourceJSON
	if req.IncludeCitations {
		sources = make([]sourceJSON, 0, len(resp.Sources))
		for _, s := range resp.Sources {
			sources = append(sources, sourceJSON{DocumentRef: s.DocumentRef, Distance: s.Distance})
		}
	}
	writeJSON(w, http.StatusOK, chatResponse{
		Answer:     resp.Answer,
		Sources:    sources,
		TokensUsed: resp.TokensUsed,
		LatencyMS:  resp.LatencyMS,
	}, h.logger)
}

// record appends the exchange to the chat log. ContextRefs is logged
// regardless of whether the caller asked for citations on the wire.
func (h *chatHandler) record(r *http.Request, tenantID uuid.UUID, req chatRequest, resp chat.Response, failed bool) {
	contextUsed := make([]string, 0, len(resp.ContextRefs))
	contextUsed = append(contextUsed, resp.ContextRefs...)
	err := h.recorder.Append(r.Context(), chatlog.Exchange{
		TenantID:    tenantID,
		UserID:      req.UserID,
		SessionID:   req.SessionID,
		UserMessage: req.Question,
		Answer:      resp.Answer,
		ContextUsed: contextUsed,
		TokensUsed:  resp.TokensUsed,
		Failed:      failed,
	})
	if err != nil {
		h.logger.Error("failed to record chat exchange",
			"error", err,
			"tenant", tenantID,
			"session", req.SessionID,
		)
	}
}

// exchangeJSON is the wire form of a logged exchange.
type exchangeJSON struct {
	UserMessage string    `json:"user_message"`
	Answer      string    `json:"answer"`
	ContextUsed []string  `json:"context_used"`
	TokensUsed  int       `json:"tokens_used"`
	Failed      bool      `json:"failed"`
	CreatedAt   time.Time `json:"created_at"`
}

// history returns the logged exchanges of one session, oldest first.
func (h *chatHandler) history(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := tenantIDFromPath(w, r, h.logger)
	if !ok {
		return
	}
	sessionID := strings.TrimSpace(r.URL.Query().Get("session"))
	if sessionID == "" {
		writeError(w, http.StatusBadRequest, "missing_session", "query parameter 'session' is required", h.logger)
		return
	}
	limit := parseIntParam(r, "limit", defaultHistoryLimit, 1, maxHistoryLimit)

	exchanges, err := h.recorder.History(r.Context(), tenantID, sessionID, limit)
	if err != nil {
		h.logger.Error("failed to load chat history", "error", err, "tenant", tenantID, "session", sessionID)
		writeError(w, http.StatusInternalServerError, "history_failed", "failed to load chat history", h.logger)
		return
	}

	out := make([]exchangeJSON, 0, len(exchanges))
	for _, e := range exchanges {
		out = append(out, exchangeJSON{
			UserMessage: e.UserMessage,
			Answer:      e.Answer,
			ContextUsed: e.ContextUsed,
			TokensUsed:  e.TokensUsed,
			Failed:      e.Failed,
			CreatedAt:   e.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"exchanges": out, "total": len(out)}, h.logger)
}

// parseIntParam parses an integer query parameter with bounds checking.
func parseIntParam(r *http.Request, name string, defaultVal, min, max int) int {
	str := r.URL.Query().Get(name)
	if str == "" {
		return defaultVal
	}
	val, err := strconv.Atoi(str)
	if err != nil {
		return defaultVal
	}
	if val < min {
		return min
	}
	if val > max {
		return max
	}
	return val
}
