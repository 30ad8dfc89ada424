package evidence

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/hazyhaar/factcheck/idgen"
	"github.com/hazyhaar/factcheck/kit"
	"github.com/hazyhaar/factcheck/shield"
)

// HistoryRequest lists recent runs.
type HistoryRequest struct {
	Limit int `json:"limit,omitempty"`
}

// RunRequest reads one run.
type RunRequest struct {
	ID string `json:"id"`
}

// endpoints are the transport-neutral operations shared by HTTP and MCP.
type endpoints struct {
	retrieve kit.Endpoint
	history  kit.Endpoint
	run      kit.Endpoint
}

func (s *Service) endpoints() endpoints {
	return endpoints{
		retrieve: kit.Chain(
			kit.Logging(s.logger, "evidence_retrieve"),
			kit.Timeout(s.config.Retrieval.Timeout.Std()),
		)(func(ctx context.Context, req any) (any, error) {
			return s.RetrieveWith(ctx, *req.(*Request))
		}),
		history: kit.Logging(s.logger, "evidence_history")(func(ctx context.Context, req any) (any, error) {
			runs, err := s.History(ctx, req.(*HistoryRequest).Limit)
			if err != nil {
				return nil, err
			}
			if runs == nil {
				runs = []Run{}
			}
			return runs, nil
		}),
		run: kit.Logging(s.logger, "evidence_run")(func(ctx context.Context, req any) (any, error) {
			id, err := idgen.Parse(req.(*RunRequest).ID)
			if err != nil {
				return nil, errors.Join(ErrInvalidInput, err)
			}
			return s.Run(ctx, id)
		}),
	}
}

// Handler returns the HTTP API:
//
//	POST /retrieve      body: Request        → Evidence
//	GET  /runs?limit=N                       → []Run
//	GET  /runs/{id}                          → Run with sources
//	GET  /health
func (s *Service) Handler() http.Handler {
	ep := s.endpoints()
	r := chi.NewRouter()
	for _, mw := range shield.Stack(shield.Config{MaxBody: s.config.HTTP.MaxBodyBytes}) {
		r.Use(mw)
	}
	limiter := shield.NewRateLimiter(s.config.HTTP.RateLimit, s.config.HTTP.RateWindow.Std(), s.logger)
	if err := limiter.TrustProxies(s.config.HTTP.TrustedProxies); err != nil {
		s.logger.Error("evidence: trusted proxies ignored", "error", err)
	}

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, s.Health())
	})

	r.With(limiter.Middleware).Post("/retrieve", func(w http.ResponseWriter, r *http.Request) {
		var req Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			jsonErr(w, "invalid request body", http.StatusBadRequest)
			return
		}
		resp, err := ep.retrieve(r.Context(), &req)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	})

	r.Get("/runs", func(w http.ResponseWriter, r *http.Request) {
		limit := 50
		if v := r.URL.Query().Get("limit"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
				limit = n
			}
		}
		resp, err := ep.history(r.Context(), &HistoryRequest{Limit: limit})
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	})

	r.Get("/runs/{id}", func(w http.ResponseWriter, r *http.Request) {
		resp, err := ep.run(r.Context(), &RunRequest{ID: chi.URLParam(r, "id")})
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	})

	return r
}

// writeError maps service errors to HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	var insufficient *InsufficientEvidenceError
	var limited *RateLimitError
	var searchErr *SearchError
	switch {
	case errors.Is(err, ErrInvalidInput):
		jsonErr(w, err.Error(), http.StatusBadRequest)
	case errors.As(err, &insufficient):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":    err.Error(),
			"found":    insufficient.Found,
			"required": insufficient.Required,
			"attempts": insufficient.Attempts,
		})
	case errors.As(err, &limited):
		w.Header().Set("Retry-After", "30")
		jsonErr(w, err.Error(), http.StatusServiceUnavailable)
	case errors.As(err, &searchErr):
		jsonErr(w, err.Error(), http.StatusBadGateway)
	case errors.Is(err, ErrCancelled):
		jsonErr(w, err.Error(), http.StatusRequestTimeout)
	case errors.Is(err, ErrRunNotFound):
		jsonErr(w, "run not found", http.StatusNotFound)
	case errors.Is(err, ErrNoRunLog):
		jsonErr(w, err.Error(), http.StatusNotImplemented)
	default:
		jsonErr(w, "internal error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func jsonErr(w http.ResponseWriter, msg string, code int) {
	writeJSON(w, code, map[string]string{"error": msg})
}
