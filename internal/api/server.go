package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"os"

	"golang.org/x/time/rate"

	"github.com/benaskins/easykey/internal/secmem"
	"github.com/benaskins/easykey/internal/vault"
)

// maxBodyBytes bounds PUT bodies: a maximal value plus JSON overhead.
const maxBodyBytes = 2*vault.MaxValueSize + 4096

// Server serves the easykey REST API over a Unix socket.
//
// Every endpoint that can raise an authentication prompt shares one token
// bucket, so a local client cannot flood the user with prompts.
type Server struct {
	vault    *vault.Vault
	limiter  *rate.Limiter
	listener net.Listener
	server   *http.Server
	logger   *slog.Logger
}

// NewServer creates an API server backed by v, allowing limit prompting
// requests per second with the given burst.
func NewServer(v *vault.Vault, limit float64, burst int) *Server {
	s := &Server{
		vault:   v,
		limiter: rate.NewLimiter(rate.Limit(limit), burst),
		logger:  slog.With("component", "api"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/health", s.health)
	mux.HandleFunc("GET /v1/status", s.status)
	mux.HandleFunc("GET /v1/secrets", s.limited(s.listSecrets))
	mux.HandleFunc("GET /v1/secrets/{name}", s.limited(s.getSecret))
	mux.HandleFunc("PUT /v1/secrets/{name}", s.limited(s.putSecret))
	mux.HandleFunc("DELETE /v1/secrets/{name}", s.limited(s.deleteSecret))
	mux.HandleFunc("POST /v1/cleanup", s.limited(s.requestCleanup))
	mux.HandleFunc("POST /v1/cleanup/{token}", s.limited(s.cleanup))

	s.server = &http.Server{Handler: mux}
	return s
}

// SetRateLimit replaces the prompt rate limit.
func (s *Server) SetRateLimit(limit float64, burst int) {
	s.limiter.SetLimit(rate.Limit(limit))
	s.limiter.SetBurst(burst)
}

// ListenUnix starts the server on a Unix socket readable only by the
// current user. A stale socket file at path is replaced.
func (s *Server) ListenUnix(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("removing stale socket: %w", err)
	}
	ln, err := net.Listen("unix", path)
	if err != nil {
		return err
	}
	if err := os.Chmod(path, 0600); err != nil {
		ln.Close()
		return fmt.Errorf("restricting socket permissions: %w", err)
	}
	s.listener = ln
	s.logger.Info("API listening", "socket", path)
	return s.server.Serve(ln)
}

// Shutdown gracefully shuts down the API server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) limited(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.limiter.Allow() {
			s.logger.Warn("request rate limited", "method", r.Method, "path", r.URL.Path)
			writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "too many authentication requests"})
			return
		}
		h(w, r)
	}
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	st, err := s.vault.Status()
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) listSecrets(w http.ResponseWriter, r *http.Request) {
	records, err := s.vault.List(r.Context(), r.URL.Query().Get("reason"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

// Values are opaque bytes and travel base64-encoded.
type secretResponse struct {
	Name  string `json:"name"`
	Value []byte `json:"value"`
}

func (s *Server) getSecret(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	value, err := s.vault.Get(r.Context(), name, r.URL.Query().Get("reason"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	release := secmem.Lock(value)
	defer release()

	writeJSON(w, http.StatusOK, secretResponse{Name: name, Value: value})
}

type putRequest struct {
	Value  []byte `json:"value"`
	Reason string `json:"reason"`
}

func (s *Server) putSecret(w http.ResponseWriter, r *http.Request) {
	var req putRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": fmt.Sprintf("invalid request body: %v", err)})
		return
	}
	value := req.Value
	defer secmem.Wipe(value)

	name := r.PathValue("name")
	if err := s.vault.Set(r.Context(), name, value, req.Reason); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"name": name, "status": "stored"})
}

func (s *Server) deleteSecret(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := s.vault.Remove(r.Context(), name, r.URL.Query().Get("reason")); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"name": name, "status": "removed"})
}

func (s *Server) requestCleanup(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"token": s.vault.RequestCleanup()})
}

func (s *Server) cleanup(w http.ResponseWriter, r *http.Request) {
	report, err := s.vault.Cleanup(r.Context(), r.PathValue("token"), r.URL.Query().Get("reason"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// StatusCode maps a vault error to its HTTP status.
func StatusCode(err error) int {
	switch {
	case errors.Is(err, vault.ErrInvalidArguments):
		return http.StatusBadRequest
	case errors.Is(err, vault.ErrAuthentication):
		return http.StatusUnauthorized
	case errors.Is(err, vault.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	code := StatusCode(err)
	if code == http.StatusInternalServerError {
		s.logger.Error("request failed", "error", err)
	}
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
