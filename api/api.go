// Package api exposes the operational HTTP surface of a courier node:
// persisted counts, sending agent state, and dead-letter inspection and
// replay.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/xraph/courier"
	"github.com/xraph/courier/engine"
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

// API wires the HTTP handlers for one engine.
type API struct {
	eng    *engine.Engine
	logger *slog.Logger
}

// New creates an API over eng.
func New(eng *engine.Engine, logger *slog.Logger) *API {
	if logger == nil {
		logger = slog.Default()
	}
	return &API{eng: eng, logger: logger}
}

// Handler returns a router with every route registered.
func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID, chimw.Recoverer)
	a.RegisterRoutes(r)
	return r
}

// RegisterRoutes mounts the API on router.
func (a *API) RegisterRoutes(router chi.Router) {
	router.Get("/healthz", a.health)

	router.Route("/v1", func(r chi.Router) {
		r.Get("/counts", a.counts)
		r.Get("/agents", a.agents)
		r.Get("/handlers", a.handlers)
		r.Delete("/destinations", a.removeDestination)

		r.Route("/dead-letters", func(r chi.Router) {
			r.Get("/", a.listDeadLetters)
			r.Get("/{id}", a.getDeadLetter)
			r.Post("/{id}/replay", a.replayDeadLetter)
			r.Delete("/{id}", a.deleteDeadLetter)
		})
	})
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}

func (a *API) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.logger.Warn("api: encode response", slog.String("error", err.Error()))
	}
}

// writeError maps courier sentinel errors to HTTP status codes.
func (a *API) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, courier.ErrDeadLetterNotFound), errors.Is(err, courier.ErrEnvelopeNotFound):
		status = http.StatusNotFound
	case errors.Is(err, courier.ErrEnvelopeAlreadyExists):
		status = http.StatusConflict
	case errors.Is(err, courier.ErrStoreClosed):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		a.logger.ErrorContext(r.Context(), "api: request failed",
			slog.String("path", r.URL.Path),
			slog.String("request_id", chimw.GetReqID(r.Context())),
			slog.String("error", err.Error()),
		)
	}
	a.writeJSON(w, status, ErrorResponse{Error: err.Error()})
}

func (a *API) badRequest(w http.ResponseWriter, msg string) {
	a.writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: msg})
}

// queryInt reads a non-negative integer query parameter.
func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, errors.New("invalid " + name)
	}
	return n, nil
}

func (a *API) health(w http.ResponseWriter, r *http.Request) {
	if err := a.eng.Store().Ping(r.Context()); err != nil {
		a.writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: err.Error()})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
