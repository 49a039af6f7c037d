package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kalambet/fitreg/internal/extract"
	"github.com/kalambet/fitreg/internal/profile"
	"github.com/kalambet/fitreg/internal/registration"
	"github.com/kalambet/fitreg/internal/storage"
)

const maxRequestBodySize = 1 << 20 // 1MB

// ProfileReader serves cached profile reads. Implemented by profile.Manager.
type ProfileReader interface {
	GetUser(ctx context.Context, id string) (profile.Profile, error)
	Invalidate(id string)
}

// UserStore lists and deletes users and their turns.
type UserStore interface {
	ListUsers(ctx context.Context, limit, offset int) ([]profile.Profile, error)
	DeleteUser(ctx context.Context, id string) error
	ListTurns(ctx context.Context, userID string, limit, offset int) ([]profile.Turn, error)
	CountUsers(ctx context.Context) (map[profile.Step]int, error)
}

// Deps holds what the HTTP and MCP surfaces need.
type Deps struct {
	Service  *registration.Service
	Profiles ProfileReader
	Users    UserStore
}

// NewHandler returns the fitreg HTTP API. /health and /metrics are public;
// everything else requires token.
func NewHandler(deps Deps, token string) http.Handler {
	r := chi.NewRouter()
	r.Use(instrument)

	r.Get("/health", handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(token))

		r.Get("/stats", handleStats(deps))
		r.Post("/users", handleCreateUser(deps))
		r.Get("/users", handleListUsers(deps))
		r.Route("/users/{id}", func(r chi.Router) {
			r.Get("/", handleGetUser(deps))
			r.Delete("/", handleDeleteUser(deps))
			r.Post("/messages", handleMessage(deps))
			r.Post("/edit", handleEdit(deps))
			r.Get("/turns", handleListTurns(deps))
		})
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func handleStats(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		counts, err := deps.Users.CountUsers(r.Context())
		if err != nil {
			writeServiceError(w, err)
			return
		}
		total := 0
		for _, n := range counts {
			total += n
		}
		writeJSON(w, http.StatusOK, map[string]any{"total": total, "by_step": counts})
	}
}

type createUserRequest struct {
	ExternalID string `json:"external_id"`
}

func handleCreateUser(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createUserRequest
		if err := decodeBody(w, r, &req); err != nil && !errors.Is(err, io.EOF) {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		p, created, err := deps.Service.Register(r.Context(), strings.TrimSpace(req.ExternalID))
		if err != nil {
			writeServiceError(w, err)
			return
		}
		status := http.StatusOK
		if created {
			status = http.StatusCreated
		}
		writeJSON(w, status, p)
	}
}

func handleListUsers(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, offset, err := pageParams(r)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}
		users, err := deps.Users.ListUsers(r.Context(), limit, offset)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		if users == nil {
			users = []profile.Profile{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"users": users})
	}
}

func handleGetUser(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := deps.Profiles.GetUser(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, p)
	}
}

func handleDeleteUser(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if err := deps.Users.DeleteUser(r.Context(), id); err != nil {
			writeServiceError(w, err)
			return
		}
		deps.Profiles.Invalidate(id)
		slog.Info("user deleted", "user_id", id)
		w.WriteHeader(http.StatusNoContent)
	}
}

type messageRequest struct {
	Text string `json:"text"`
}

func handleMessage(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req messageRequest
		if err := decodeBody(w, r, &req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if strings.TrimSpace(req.Text) == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "text is required and must not be empty")
			return
		}

		res, err := deps.Service.HandleMessage(r.Context(), chi.URLParam(r, "id"), req.Text)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func handleEdit(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := deps.Service.BeginEdit(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func handleListTurns(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, offset, err := pageParams(r)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}
		id := chi.URLParam(r, "id")
		if _, err := deps.Profiles.GetUser(r.Context(), id); err != nil {
			writeServiceError(w, err)
			return
		}
		turns, err := deps.Users.ListTurns(r.Context(), id, limit, offset)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		if turns == nil {
			turns = []profile.Turn{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"turns": turns})
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

func pageParams(r *http.Request) (limit, offset int, err error) {
	q := r.URL.Query()
	if v := q.Get("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil || limit < 0 {
			return 0, 0, fmt.Errorf("invalid limit %q", v)
		}
	}
	if v := q.Get("offset"); v != "" {
		if offset, err = strconv.Atoi(v); err != nil || offset < 0 {
			return 0, 0, fmt.Errorf("invalid offset %q", v)
		}
	}
	return limit, offset, nil
}

// writeServiceError maps domain errors to HTTP statuses.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		httpError(w, http.StatusNotFound, "not_found_error", "user not found")
	case errors.Is(err, storage.ErrConflict):
		httpError(w, http.StatusConflict, "invalid_request_error", "%v", err)
	case errors.Is(err, registration.ErrInvalidInput),
		errors.Is(err, registration.ErrInvalidProfile),
		errors.Is(err, extract.ErrInvalidInput):
		httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
	case errors.Is(err, context.DeadlineExceeded):
		httpError(w, http.StatusGatewayTimeout, "api_error", "request timed out")
	default:
		slog.Error("request failed", "error", err)
		httpError(w, http.StatusInternalServerError, "api_error", "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("encoding response", "error", err)
	}
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
