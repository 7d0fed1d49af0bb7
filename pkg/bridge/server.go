package bridge

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog"

	"github.com/vyvo/pixelflow/pkg/auth"
	"github.com/vyvo/pixelflow/pkg/form"
	"github.com/vyvo/pixelflow/pkg/history"
	"github.com/vyvo/pixelflow/pkg/jobs"
	"github.com/vyvo/pixelflow/pkg/keystore"
	"github.com/vyvo/pixelflow/pkg/modelregistry"
	"github.com/vyvo/pixelflow/pkg/shell"
)

// Session is the shell surface exposed over HTTP.
type Session interface {
	Models() []modelregistry.ModelDescriptor
	Model() modelregistry.ModelDescriptor
	SelectModel(id string) error
	Edit(paramID string, raw any) error
	Values() form.State
	Fields() []shell.Field
	Submittable() bool
	Validate() []form.FieldError
	Generate(ctx context.Context) (*jobs.Subscription, error)
	Active() (jobs.Job, bool)
	Last() (shell.Result, bool)
	ValidateKey(ctx context.Context, key string) bool
	Keys() keystore.Keys
	SaveKeys(keys keystore.Keys) error
	History(ctx context.Context, limit int) ([]history.Entry, error)
}

// Server exposes a Session to a local web or desktop frontend.
type Server struct {
	session Session
	logger  zerolog.Logger
	policy  *bluemonday.Policy
	hub     *hub
	token   string
	// jobCtx outlives individual requests so a job keeps running after the
	// POST that started it returns.
	jobCtx context.Context
}

// Option configures a Server.
type Option func(*Server)

// WithAccessToken requires a bearer token on every /api route.
func WithAccessToken(token string) Option {
	return func(s *Server) {
		s.token = token
	}
}

// NewServer builds a bridge for session. ctx bounds the jobs it starts.
func NewServer(ctx context.Context, session Session, logger zerolog.Logger, opts ...Option) *Server {
	s := &Server{
		session: session,
		logger:  logger,
		policy:  bluemonday.StrictPolicy(),
		hub:     newHub(),
		jobCtx:  ctx,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router returns the HTTP routes.
func (s *Server) Router() http.Handler {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(s.requestLogger)
	router.Use(middleware.Recoverer)

	router.Get("/healthz", healthzHandler)

	router.Route("/api", func(r chi.Router) {
		r.Use(auth.Require(s.token, s.deny))

		r.Get("/models", s.handleListModels)
		// Model ids contain a slash.
		r.Get("/models/*", s.handleGetModel)

		r.Get("/session", s.handleGetSession)

		r.Route("/settings/keys", func(r chi.Router) {
			r.Get("/", s.handleGetKeys)
			r.Put("/", s.handlePutKeys)
			r.Post("/validate", s.handleValidateKey)
		})

		r.Route("/generations", func(r chi.Router) {
			r.Get("/", s.handleHistory)
			r.Post("/", s.handleGenerate)
			r.Get("/active", s.handleActive)
			r.Get("/events", s.handleEvents)
		})
	})
	return router
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("elapsed", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("bridge request")
	})
}

func (s *Server) deny(w http.ResponseWriter, r *http.Request, err error) {
	s.logger.Warn().Err(err).Str("path", r.URL.Path).Msg("bridge request rejected")
	writeError(w, http.StatusUnauthorized, "unauthorized", err.Error())
}

func healthzHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

type fieldProblem struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type errorBody struct {
	Error   string         `json:"error"`
	Message string         `json:"message"`
	Fields  []fieldProblem `json:"fields,omitempty"`
}

func writeError(w http.ResponseWriter, code int, kind, message string) {
	writeJSON(w, code, errorBody{Error: kind, Message: message})
}
