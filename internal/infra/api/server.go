// Package api is the HTTP surface: the poll trigger and inbound webhook for
// machines, and the monitor/admin API for operators.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"turnpipe/internal/infra/logging"
	"turnpipe/internal/usecase"
)

// Poller runs due jobs on demand; worker.Scheduler implements it.
type Poller interface {
	RunOnce(ctx context.Context, budget int) (int, error)
}

// Deps are the use cases behind the routes. Health and Metrics may be nil.
type Deps struct {
	Monitor   usecase.MonitorUseCase
	Ingest    usecase.IngestUseCase
	Reset     usecase.ResetUseCase
	Responses usecase.ResponsesUseCase
	Flows     usecase.FlowAdminUseCase
	Poller    Poller
	Health    func(ctx context.Context) error
	Metrics   http.Handler
}

type Config struct {
	Addr           string
	PollSecret     string
	RequestTimeout time.Duration
	PollTimeout    time.Duration
	PollBudget     int
}

type Server struct {
	cfg  Config
	deps Deps
	auth *AuthManager
	log  *zerolog.Logger
	srv  *http.Server
}

func NewServer(cfg Config, deps Deps, auth *AuthManager, logger *zerolog.Logger) *Server {
	if cfg.PollBudget <= 0 {
		cfg.PollBudget = 25
	}
	s := &Server{cfg: cfg, deps: deps, auth: auth, log: logging.Component(logger, "HTTP")}
	s.srv = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(TraceID(), Recover(s.log), RequestLog(s.log))

	r.Get("/health", s.handleHealth)
	if s.deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.deps.Metrics)
	}

	r.Route("/api/v1", func(r chi.Router) {
		// Machine endpoints. The poll trigger gets its own, longer deadline.
		r.Group(func(r chi.Router) {
			r.Use(BearerSecret(s.cfg.PollSecret))
			r.With(Timeout(s.cfg.PollTimeout)).Post("/jobs/poll", s.handlePoll)
			r.With(Timeout(s.cfg.RequestTimeout)).Post("/messages", s.handleIngest)
		})

		r.Group(func(r chi.Router) {
			r.Use(RequireJWT(s.auth), Timeout(s.cfg.RequestTimeout))
			r.Get("/turns/{id}", s.handleGetTurn)
			r.Get("/agent-runs/{id}", s.handleGetAgentRun)
			r.Get("/jobs/stats", s.handleJobStats)

			r.Get("/conversations/{id}/turns", s.handleConversationTurns)
			r.Post("/conversations/{id}/reset", s.handleReset)
			r.Get("/conversations/{id}/responses", s.handleGetResponses)
			r.Put("/conversations/{id}/responses", s.handlePutResponses)

			r.Get("/sessions/{id}/flow", s.handleGetFlow)
			r.Put("/sessions/{id}/flow/draft", s.handleSaveDraft)
			r.Post("/sessions/{id}/flow/publish", s.handlePublish)
			r.Put("/sessions/{id}/runtime", s.handleSetRuntime)
		})
	})
	return r
}

// Start blocks serving until Shutdown. A Shutdown that lands first makes
// Start return at once.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.cfg.Addr).Msg("HTTP server listening")
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
