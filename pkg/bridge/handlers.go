package bridge

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/vyvo/pixelflow/pkg/form"
	"github.com/vyvo/pixelflow/pkg/jobs"
	"github.com/vyvo/pixelflow/pkg/modelregistry"
	"github.com/vyvo/pixelflow/pkg/payload"
	"github.com/vyvo/pixelflow/pkg/shell"
)

const defaultHistoryLimit = 50

func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"models":  s.session.Models(),
		"current": s.session.Model().ID,
	})
}

func (s *Server) handleGetModel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "*")
	for _, m := range s.session.Models() {
		if m.ID == id {
			writeJSON(w, http.StatusOK, m)
			return
		}
	}
	writeError(w, http.StatusNotFound, "not_found", "unknown model "+strconv.Quote(id))
}

type sessionView struct {
	Model       modelregistry.ModelDescriptor `json:"model"`
	Values      form.State                    `json:"values"`
	Fields      []shell.Field                 `json:"fields"`
	Submittable bool                          `json:"submittable"`
	Active      *jobs.Job                     `json:"active,omitempty"`
	Last        *shell.Result                 `json:"last,omitempty"`
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	view := sessionView{
		Model:       s.session.Model(),
		Values:      s.session.Values(),
		Fields:      s.session.Fields(),
		Submittable: s.session.Submittable(),
	}
	if job, ok := s.session.Active(); ok {
		job = s.sanitizeJob(job)
		view.Active = &job
	}
	if last, ok := s.session.Last(); ok {
		last.Job = s.sanitizeJob(last.Job)
		last.Message = s.policy.Sanitize(last.Message)
		view.Last = &last
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleGetKeys(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.session.Keys().Masked())
}

type keysRequest struct {
	Replicate *string `json:"replicate"`
	Gemini    *string `json:"gemini"`
}

func (s *Server) handlePutKeys(w http.ResponseWriter, r *http.Request) {
	var req keysRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "request body is not valid JSON")
		return
	}
	keys := s.session.Keys()
	if req.Replicate != nil {
		keys.Replicate = *req.Replicate
	}
	if req.Gemini != nil {
		keys.Gemini = *req.Gemini
	}
	if err := s.session.SaveKeys(keys); err != nil {
		s.logger.Error().Err(err).Msg("save keys failed")
		writeError(w, http.StatusInternalServerError, "save_failed", "could not save keys")
		return
	}
	writeJSON(w, http.StatusOK, s.session.Keys().Masked())
}

func (s *Server) handleValidateKey(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Key string `json:"key"`
	}
	// An empty body checks the stored key.
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid_json", "request body is not valid JSON")
		return
	}
	key := strings.TrimSpace(req.Key)
	if key == "" {
		key = s.session.Keys().Replicate
	}
	valid := key != "" && s.session.ValidateKey(r.Context(), key)
	writeJSON(w, http.StatusOK, map[string]bool{"valid": valid})
}

type generateRequest struct {
	Model  string         `json:"model"`
	Values map[string]any `json:"values"`
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "request body is not valid JSON")
		return
	}
	// Refuse before editing so a busy request leaves the form untouched.
	if _, busy := s.session.Active(); busy {
		writeError(w, http.StatusConflict, "job_active", shell.UserMessage(jobs.ErrJobActive))
		return
	}

	if req.Model != "" && req.Model != s.session.Model().ID {
		if err := s.session.SelectModel(req.Model); err != nil {
			writeError(w, http.StatusNotFound, "unknown_model", err.Error())
			return
		}
	}
	for id, value := range req.Values {
		if err := s.session.Edit(id, value); err != nil {
			writeError(w, http.StatusBadRequest, "unknown_field", err.Error())
			return
		}
	}
	if problems := s.session.Validate(); len(problems) > 0 {
		body := errorBody{Error: "validation_failed", Message: "Some fields need attention"}
		for _, p := range problems {
			body.Fields = append(body.Fields, fieldProblem{Field: p.Field, Message: p.Message})
		}
		writeJSON(w, http.StatusUnprocessableEntity, body)
		return
	}

	sub, err := s.session.Generate(s.jobCtx)
	if err != nil {
		var cfgErr *payload.ConfigurationError
		switch {
		case errors.Is(err, jobs.ErrJobActive):
			writeError(w, http.StatusConflict, "job_active", shell.UserMessage(err))
		case errors.As(err, &cfgErr):
			writeError(w, http.StatusBadRequest, "configuration", shell.UserMessage(err))
		default:
			s.logger.Error().Err(err).Msg("generate failed")
			writeError(w, http.StatusInternalServerError, "internal", shell.UserMessage(err))
		}
		return
	}
	go s.pump(sub)

	resp := map[string]any{"status": "started", "model": s.session.Model().ID}
	if job, ok := s.session.Active(); ok {
		resp["job"] = s.sanitizeJob(job)
	}
	writeJSON(w, http.StatusAccepted, resp)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
			return
		}
		limit = n
	}
	entries, err := s.session.History(r.Context(), limit)
	if err != nil {
		s.logger.Error().Err(err).Msg("history lookup failed")
		writeError(w, http.StatusInternalServerError, "history_unavailable", "could not load history")
		return
	}
	for i := range entries {
		entries[i].Error = s.policy.Sanitize(entries[i].Error)
	}
	writeJSON(w, http.StatusOK, map[string]any{"generations": entries})
}

func (s *Server) handleActive(w http.ResponseWriter, r *http.Request) {
	job, ok := s.session.Active()
	if !ok {
		writeJSON(w, http.StatusOK, map[string]any{"active": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"active": true, "job": s.sanitizeJob(job)})
}

// sanitizeJob strips markup from text that originates from the remote API.
func (s *Server) sanitizeJob(job jobs.Job) jobs.Job {
	job.StatusMessage = s.policy.Sanitize(job.StatusMessage)
	job.Error = s.policy.Sanitize(job.Error)
	return job
}
