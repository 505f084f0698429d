package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"turnpipe/internal/domain"
	"turnpipe/internal/domain/model"
	"turnpipe/internal/infra/logging"
	"turnpipe/internal/usecase"
)

const maxBodySize = 1 << 20

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.Health != nil {
		if err := s.deps.Health(r.Context()); err != nil {
			httpError(w, http.StatusServiceUnavailable, "unavailable", "%v", err)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

type pollRequest struct {
	Budget int `json:"budget"`
}

func (s *Server) handlePoll(w http.ResponseWriter, r *http.Request) {
	budget := s.cfg.PollBudget
	if q := r.URL.Query().Get("budget"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil || n <= 0 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "budget must be a positive integer")
			return
		}
		budget = n
	} else if r.ContentLength > 0 {
		var req pollRequest
		if !decode(w, r, &req) {
			return
		}
		if req.Budget > 0 {
			budget = req.Budget
		}
	}

	start := time.Now()
	n, err := s.deps.Poller.RunOnce(r.Context(), budget)
	resp := map[string]any{
		"processed":  n,
		"budget":     budget,
		"durationMs": time.Since(start).Milliseconds(),
	}
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrJobFailed):
		// A job that failed for good ends the batch; the trigger still gets the count.
		s.log.Warn().Err(err).Int("processed", n).Msg("poll stopped by a failed job")
		resp["stoppedBy"] = "job_failed"
		resp["failed"] = err.Error()
	default:
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

type ingestRequest struct {
	ID             string              `json:"id"`
	ConversationID string              `json:"conversationId"`
	SessionID      string              `json:"sessionId"`
	UserID         string              `json:"userId"`
	Channel        string              `json:"channel"`
	Text           string              `json:"text"`
	Source         model.MessageSource `json:"source"`
	Timestamp      time.Time           `json:"timestamp"`
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if !decode(w, r, &req) {
		return
	}
	if req.Channel == "" {
		req.Channel = model.ChannelSimulation
	}
	m, err := s.deps.Ingest.Accept(r.Context(), usecase.IngestInput(req))
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"id": m.ID, "conversationId": m.ConversationID})
}

func (s *Server) handleGetTurn(w http.ResponseWriter, r *http.Request) {
	t, err := s.deps.Monitor.Turn(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTurnDTO(t))
}

func (s *Server) handleConversationTurns(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	turns, err := s.deps.Monitor.ConversationTurns(r.Context(), chi.URLParam(r, "id"), limit)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	out := make([]turnDTO, 0, len(turns))
	for _, t := range turns {
		out = append(out, toTurnDTO(t))
	}
	writeJSON(w, http.StatusOK, map[string]any{"turns": out})
}

func (s *Server) handleGetAgentRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.deps.Monitor.AgentRun(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAgentRunDTO(run))
}

func (s *Server) handleJobStats(w http.ResponseWriter, r *http.Request) {
	counts, err := s.deps.Monitor.JobCounts(r.Context())
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	out := make(map[string]int, len(counts))
	for st, n := range counts {
		out[string(st)] = n
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	res, err := s.deps.Reset.Reset(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"conversationId":    res.ConversationID,
		"messagesDiscarded": res.MessagesDiscarded,
	})
}

type responsesRequest struct {
	Enabled         *bool      `json:"enabled"`
	DisabledUntil   *time.Time `json:"disabledUntil"`
	CooldownSeconds int        `json:"cooldownSeconds"`
	ClearCooldown   bool       `json:"clearCooldown"`
}

func (s *Server) handleGetResponses(w http.ResponseWriter, r *http.Request) {
	st, err := s.deps.Responses.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toResponsesDTO(st))
}

func (s *Server) handlePutResponses(w http.ResponseWriter, r *http.Request) {
	var req responsesRequest
	if !decode(w, r, &req) {
		return
	}
	if req.CooldownSeconds < 0 {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "cooldownSeconds must not be negative")
		return
	}
	st, err := s.deps.Responses.Update(r.Context(), chi.URLParam(r, "id"), usecase.ResponsesUpdate{
		Enabled:       req.Enabled,
		DisabledUntil: req.DisabledUntil,
		Cooldown:      time.Duration(req.CooldownSeconds) * time.Second,
		ClearCooldown: req.ClearCooldown,
	})
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toResponsesDTO(st))
}

func (s *Server) handleGetFlow(w http.ResponseWriter, r *http.Request) {
	status := model.FlowStatus(r.URL.Query().Get("status"))
	switch status {
	case "":
		status = model.FlowStatusPublished
	case model.FlowStatusDraft, model.FlowStatusPublished:
	default:
		httpError(w, http.StatusBadRequest, "invalid_request_error", "status must be draft or published")
		return
	}
	doc, err := s.deps.Flows.Get(r.Context(), chi.URLParam(r, "id"), status)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toFlowDTO(doc))
}

func (s *Server) handleSaveDraft(w http.ResponseWriter, r *http.Request) {
	var cfg model.FlowConfig
	if !decode(w, r, &cfg) {
		return
	}
	doc, err := s.deps.Flows.SaveDraft(r.Context(), chi.URLParam(r, "id"), cfg)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toFlowDTO(doc))
}

func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	doc, err := s.deps.Flows.Publish(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toFlowDTO(doc))
}

type runtimeRequest struct {
	Mode string `json:"mode"`
}

func (s *Server) handleSetRuntime(w http.ResponseWriter, r *http.Request) {
	var req runtimeRequest
	if !decode(w, r, &req) {
		return
	}
	rc, err := s.deps.Flows.SetRuntimeMode(r.Context(), chi.URLParam(r, "id"), req.Mode)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sessionId": rc.SessionID,
		"mode":      rc.Mode,
		"updatedAt": rc.UpdatedAt,
	})
}

// writeErr maps domain errors onto status codes. Unexpected errors are
// logged and hidden from the caller.
func (s *Server) writeErr(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrFlowNotFound):
		httpError(w, http.StatusNotFound, "not_found", "%v", err)
	case errors.Is(err, domain.ErrInvalidArgument), errors.Is(err, domain.ErrInvalidFlow),
		errors.Is(err, domain.ErrUnknownAgent):
		httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
	case errors.Is(err, domain.ErrAlreadyExists):
		httpError(w, http.StatusConflict, "conflict", "%v", err)
	case errors.Is(err, domain.ErrLockNotAcquired):
		httpError(w, http.StatusConflict, "busy", "conversation is busy, retry shortly")
	default:
		l := logging.With(r.Context(), s.log)
		l.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		httpError(w, http.StatusInternalServerError, "internal_error", "internal error")
	}
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	writeJSON(w, code, map[string]any{
		"error": map[string]any{
			"message": fmt.Sprintf(format, args...),
			"type":    errType,
		},
	})
}
