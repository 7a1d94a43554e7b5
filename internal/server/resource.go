package server

import (
	"encoding/json"
	"io"
	"io/fs"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/alexjbarnes/apikit/internal/auth"
)

const maxEchoBody = 1 << 20

type meResponse struct {
	UserID    string    `json:"user_id"`
	ClientID  string    `json:"client_id"`
	Scopes    []string  `json:"scopes"`
	ExpiresAt time.Time `json:"expires_at"`
}

type echoResponse struct {
	Method  string              `json:"method"`
	Path    string              `json:"path"`
	Query   map[string][]string `json:"query,omitempty"`
	Headers map[string]string   `json:"headers"`
	Body    string              `json:"body,omitempty"`
	UserID  string              `json:"user_id"`
}

// newResourceMux serves the protected API. Every route runs behind the
// bearer middleware.
func newResourceMux(files fs.FS) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/me", handleMe)
	mux.HandleFunc("/api/echo", handleEcho)
	mux.HandleFunc("/api/status/{code}", handleStatus)

	if files != nil {
		mux.HandleFunc("GET /api/files/{name...}", func(w http.ResponseWriter, r *http.Request) {
			name := r.PathValue("name")
			if !fs.ValidPath(name) {
				http.Error(w, "invalid file name", http.StatusBadRequest)
				return
			}

			http.ServeFileFS(w, r, files, name)
		})
	}

	return mux
}

func handleMe(w http.ResponseWriter, r *http.Request) {
	ti := auth.RequestToken(r.Context())

	writeJSON(w, http.StatusOK, meResponse{
		UserID:    ti.UserID,
		ClientID:  ti.ClientID,
		Scopes:    ti.Scopes,
		ExpiresAt: ti.ExpiresAt,
	})
}

// handleEcho reflects the request back. The Authorization header is
// reported by scheme only.
func handleEcho(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxEchoBody))
	if err != nil {
		http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
		return
	}

	headers := make(map[string]string, len(r.Header))
	for k := range r.Header {
		headers[k] = r.Header.Get(k)
	}

	if v, ok := headers["Authorization"]; ok {
		scheme, _, _ := strings.Cut(v, " ")
		headers["Authorization"] = scheme + " [redacted]"
	}

	resp := echoResponse{
		Method:  r.Method,
		Path:    r.URL.Path,
		Headers: headers,
		Body:    string(body),
		UserID:  auth.RequestToken(r.Context()).UserID,
	}

	if q := r.URL.Query(); len(q) > 0 {
		resp.Query = q
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleStatus answers with the status code in the path, for exercising
// client error handling.
func handleStatus(w http.ResponseWriter, r *http.Request) {
	code, err := strconv.Atoi(r.PathValue("code"))
	if err != nil || code < 200 || code > 599 {
		http.Error(w, "status must be between 200 and 599", http.StatusBadRequest)
		return
	}

	writeJSON(w, code, map[string]any{
		"status": code,
		"text":   http.StatusText(code),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
