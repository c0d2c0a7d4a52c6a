package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"catersync/internal/auth"
	"catersync/internal/orders"
)

const maxBodyBytes = 1 << 20

// Problem represents an RFC7807 problem details response body.
type Problem struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeProblem(w http.ResponseWriter, status int, title, detail, instance string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Problem{
		Type:     "about:blank",
		Title:    title,
		Status:   status,
		Detail:   detail,
		Instance: instance,
	})
}

// decodeJSON reads a single JSON object from the request body.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is empty")
		}
		return err
	}
	if dec.More() {
		return fmt.Errorf("request body must contain a single JSON object")
	}
	return nil
}

// writeError maps auth and controller errors onto problem responses.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, title, detail := classify(err)
	if status >= 500 {
		s.Log.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "status", status, "error", err)
	}
	writeProblem(w, status, title, detail, r.URL.Path)
}

func classify(err error) (status int, title, detail string) {
	var oe *orders.Error
	if errors.As(err, &oe) {
		detail = oe.Msg
	}
	switch {
	case errors.Is(err, auth.ErrNotConfigured):
		return http.StatusServiceUnavailable, "Not Configured", "credentials are not configured on this server"
	case errors.Is(err, auth.ErrUnauthenticated):
		return http.StatusUnauthorized, "Unauthorized", "missing or invalid credentials"
	case errors.Is(err, auth.ErrForbidden):
		return http.StatusForbidden, "Forbidden", err.Error()
	case errors.Is(err, orders.ErrValidation):
		return http.StatusBadRequest, "Validation Failed", detail
	case errors.Is(err, orders.ErrNotFound):
		return http.StatusNotFound, "Not Found", detail
	case errors.Is(err, orders.ErrConflict):
		return http.StatusConflict, "Conflict", detail
	case errors.Is(err, orders.ErrUpstream):
		return http.StatusBadGateway, "Upstream Unavailable", detail
	default:
		return http.StatusInternalServerError, "Internal Error", "the request could not be completed"
	}
}
