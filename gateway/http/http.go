// Package http provides the HTTP administration API and WebSocket feed for
// the topic view service.
package http

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360/topicviews/errors"
	"github.com/c360/topicviews/gateway"
	"github.com/c360/topicviews/registry"
)

// getOrGenerateRequestID extracts request ID from headers or generates a new
// one for tracing a request across the gateway and the registry logs.
func getOrGenerateRequestID(r *http.Request) string {
	if reqID := r.Header.Get("X-Request-ID"); reqID != "" {
		return reqID
	}

	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("req-%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
}

// createViewRequest is the body of POST /views
type createViewRequest struct {
	Name string `json:"name"`
	Spec string `json:"spec"`
}

// Server exposes view administration over HTTP and reference topic changes
// over a WebSocket feed.
type Server struct {
	registry *registry.Registry
	config   gateway.Config
	feed     *Feed
	logger   *slog.Logger

	mu        sync.RWMutex
	startTime time.Time

	requestsTotal   atomic.Uint64
	requestsSuccess atomic.Uint64
	requestsFailed  atomic.Uint64
	lastActivity    atomic.Int64
}

// NewServer creates the admin server. The feed is optional: without one the
// /feed endpoint responds 404.
func NewServer(reg *registry.Registry, config gateway.Config, feed *Feed, logger *slog.Logger) (*Server, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if reg == nil {
		return nil, errors.WrapFatal(errors.ErrMissingConfig, "Server", "NewServer",
			"registry is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		registry:  reg,
		config:    config,
		feed:      feed,
		logger:    logger,
		startTime: time.Now(),
	}, nil
}

// RegisterHTTPHandlers registers the admin routes with the HTTP mux
func (s *Server) RegisterHTTPHandlers(prefix string, mux *http.ServeMux) {
	prefix = strings.TrimSuffix(prefix, "/")

	mux.HandleFunc(prefix+"/views", s.wrap(s.handleViews))
	mux.HandleFunc(prefix+"/views/", s.wrap(s.handleView))
	mux.HandleFunc(prefix+"/paths", s.wrap(s.handlePaths))
	if s.feed != nil {
		mux.HandleFunc(prefix+"/feed", s.feed.ServeHTTP)
	}
}

// wrap applies the cross-cutting request handling: request ID, CORS, and
// activity accounting.
func (s *Server) wrap(handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requestID := getOrGenerateRequestID(r)
		w.Header().Set("X-Request-ID", requestID)

		s.requestsTotal.Add(1)
		s.lastActivity.Store(time.Now().UnixNano())

		if s.config.EnableCORS {
			s.applyCORS(w, r)
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
		}

		handler(w, r)
	}
}

// handleViews serves GET /views (list) and POST /views (create or replace)
func (s *Server) handleViews(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.writeJSON(w, http.StatusOK, s.registry.ListViews())

	case http.MethodPost:
		defer r.Body.Close()
		body, err := io.ReadAll(io.LimitReader(r.Body, s.config.MaxRequestSize+1))
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "failed to read request body")
			return
		}
		if int64(len(body)) > s.config.MaxRequestSize {
			s.writeError(w, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("request body exceeds maximum size of %d bytes", s.config.MaxRequestSize))
			return
		}

		var req createViewRequest
		if err := json.Unmarshal(body, &req); err != nil {
			s.writeError(w, http.StatusBadRequest, "request body is not valid JSON")
			return
		}

		info, err := s.registry.CreateView(r.Context(), req.Name, req.Spec)
		if err != nil {
			s.writeRegistryError(w, err)
			return
		}
		s.writeJSON(w, http.StatusCreated, info)

	default:
		s.writeError(w, http.StatusMethodNotAllowed,
			fmt.Sprintf("method %s not allowed", r.Method))
	}
}

// handleView serves GET and DELETE on /views/{name}
func (s *Server) handleView(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Path[strings.LastIndex(r.URL.Path, "/views/")+len("/views/"):]
	if name == "" || strings.Contains(name, "/") {
		s.writeError(w, http.StatusNotFound, "resource not found")
		return
	}

	switch r.Method {
	case http.MethodGet:
		info, err := s.registry.GetView(name)
		if err != nil {
			s.writeRegistryError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, info)

	case http.MethodDelete:
		if err := s.registry.RemoveView(r.Context(), name); err != nil {
			s.writeRegistryError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
		s.requestsSuccess.Add(1)

	default:
		s.writeError(w, http.StatusMethodNotAllowed,
			fmt.Sprintf("method %s not allowed", r.Method))
	}
}

// handlePaths serves GET /paths: the currently bound reference topic paths
func (s *Server) handlePaths(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed,
			fmt.Sprintf("method %s not allowed", r.Method))
		return
	}
	s.writeJSON(w, http.StatusOK, s.registry.ReferencePaths())
}

// applyCORS applies CORS headers to the response
func (s *Server) applyCORS(w http.ResponseWriter, r *http.Request) {
	origin := r.Header.Get("Origin")

	allowed := false
	for _, allowedOrigin := range s.config.CORSOrigins {
		if allowedOrigin == "*" || allowedOrigin == origin {
			allowed = true
			break
		}
	}

	if allowed {
		if origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
		} else {
			w.Header().Set("Access-Control-Allow-Origin", "*")
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "3600")
	}
}

// writeRegistryError maps a registry error to an HTTP status and a message
// safe to expose to clients.
func (s *Server) writeRegistryError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errors.ErrViewNotFound):
		s.writeError(w, http.StatusNotFound, "view not found")
	case errors.Is(err, errors.ErrShuttingDown):
		s.writeError(w, http.StatusServiceUnavailable, "service shutting down")
	case errors.IsInvalid(err):
		// parse errors are safe and useful to surface verbatim
		s.writeError(w, http.StatusBadRequest, err.Error())
	case errors.IsTransient(err):
		s.writeError(w, http.StatusServiceUnavailable, "service temporarily unavailable")
	default:
		s.logger.Error("request failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

// writeJSON writes a success response
func (s *Server) writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.requestsFailed.Add(1)
		return
	}
	s.requestsSuccess.Add(1)
}

// writeError writes an error response
func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	s.requestsFailed.Add(1)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := map[string]any{
		"error":  message,
		"status": statusCode,
	}
	data, _ := json.Marshal(response)
	_, _ = w.Write(data)
}
