// Package server provides an HTTP JSON API over the vdt service, exposing
// the same session, analysis and reasoner operations as the CLI.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/dairui1/vdt/internal/fault"
	"github.com/dairui1/vdt/internal/model"
	"github.com/dairui1/vdt/internal/service"
)

// writeTimeout bounds a whole response. A reason call may retry and fall
// back across several backend timeouts, so this is far above the read side.
const writeTimeout = 10 * time.Minute

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

// Server wraps a service.Service and exposes it over HTTP.
type Server struct {
	svc *service.Service
	mux *http.ServeMux
	srv *http.Server
}

// New creates a Server that delegates to the given service.
func New(svc *service.Service) *Server {
	srv := &Server{svc: svc, mux: http.NewServeMux()}
	srv.routes()
	return srv
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /api/v1/health", s.handleHealth)
	s.mux.HandleFunc("POST /api/v1/sessions", s.handleStartSession)
	s.mux.HandleFunc("GET /api/v1/sessions", s.handleListSessions)
	s.mux.HandleFunc("GET /api/v1/sessions/{sid}", s.handleGetSession)
	s.mux.HandleFunc("POST /api/v1/sessions/{sid}/analyze", s.handleAnalyze)
	s.mux.HandleFunc("GET /api/v1/sessions/{sid}/chunks", s.handleChunks)
	s.mux.HandleFunc("POST /api/v1/sessions/{sid}/clarify", s.handleClarify)
	s.mux.HandleFunc("GET /api/v1/sessions/{sid}/score", s.handleScore)
	s.mux.HandleFunc("POST /api/v1/sessions/{sid}/reason", s.handleReason)
	s.mux.HandleFunc("GET /api/v1/sessions/{sid}/errors", s.handleErrors)
	s.mux.HandleFunc("POST /api/v1/sessions/{sid}/end", s.handleEndSession)
	s.mux.HandleFunc("GET /api/v1/backends", s.handleBackends)
	s.mux.HandleFunc("GET /api/v1/backends/history", s.handleHistory)
}

// ListenAndServe starts the HTTP server on the given address.
func (s *Server) ListenAndServe(addr string) error {
	s.srv = s.httpServer()
	s.srv.Addr = addr
	return s.srv.ListenAndServe()
}

// Serve accepts connections on the given listener.
func (s *Server) Serve(ln net.Listener) error {
	s.srv = s.httpServer()
	return s.srv.Serve(ln)
}

func (s *Server) httpServer() *http.Server {
	return &http.Server{
		Handler:      s.mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: writeTimeout,
	}
}

// Handler returns the HTTP handler for use with httptest.Server or custom listeners.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	var req service.StartRequest
	if !decodeBody(w, r, &req, true) {
		return
	}
	info, err := s.svc.StartSession(r.Context(), req)
	respond(w, http.StatusCreated, info, err)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	opts, err := parseSessionOpts(r)
	if err != nil {
		writeErr(w, http.StatusBadRequest, "%v", err)
		return
	}
	list, err := s.svc.ListSessions(r.Context(), opts)
	respond(w, http.StatusOK, list, err)
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	info, err := s.svc.GetSession(r.Context(), r.PathValue("sid"))
	respond(w, http.StatusOK, info, err)
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var focus model.Focus
	if !decodeBody(w, r, &focus, true) {
		return
	}
	res, err := s.svc.Analyze(r.Context(), service.AnalyzeRequest{SessionID: r.PathValue("sid"), Focus: focus})
	respond(w, http.StatusOK, res, err)
}

func (s *Server) handleChunks(w http.ResponseWriter, r *http.Request) {
	res, err := s.svc.Chunks(r.Context(), r.PathValue("sid"))
	respond(w, http.StatusOK, res, err)
}

func (s *Server) handleClarify(w http.ResponseWriter, r *http.Request) {
	var req service.ClarifyRequest
	if !decodeBody(w, r, &req, false) {
		return
	}
	req.SessionID = r.PathValue("sid")
	res, err := s.svc.Clarify(r.Context(), req)
	respond(w, http.StatusOK, res, err)
}

func (s *Server) handleScore(w http.ResponseWriter, r *http.Request) {
	res, err := s.svc.Score(r.Context(), r.PathValue("sid"))
	respond(w, http.StatusOK, res, err)
}

func (s *Server) handleReason(w http.ResponseWriter, r *http.Request) {
	var req service.ReasonRequest
	if !decodeBody(w, r, &req, false) {
		return
	}
	req.SessionID = r.PathValue("sid")
	out, err := s.svc.Reason(r.Context(), req)
	respond(w, http.StatusOK, out, err)
}

func (s *Server) handleErrors(w http.ResponseWriter, r *http.Request) {
	limit, err := parseInt(r, "limit")
	if err != nil {
		writeErr(w, http.StatusBadRequest, "%v", err)
		return
	}
	list, err := s.svc.Errors(r.Context(), r.PathValue("sid"), limit)
	respond(w, http.StatusOK, list, err)
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	var req service.EndRequest
	if !decodeBody(w, r, &req, true) {
		return
	}
	req.SessionID = r.PathValue("sid")
	res, err := s.svc.EndSession(r.Context(), req)
	respond(w, http.StatusOK, res, err)
}

func (s *Server) handleBackends(w http.ResponseWriter, r *http.Request) {
	res, err := s.svc.Backends(r.Context())
	respond(w, http.StatusOK, res, err)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	req, err := parseHistoryRequest(r)
	if err != nil {
		writeErr(w, http.StatusBadRequest, "%v", err)
		return
	}
	res, err := s.svc.History(r.Context(), req)
	respond(w, http.StatusOK, res, err)
}

// decodeBody decodes a JSON request body into v. An empty body is accepted
// when optional is set.
func decodeBody(w http.ResponseWriter, r *http.Request, v any, optional bool) bool {
	err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(v)
	if err == nil || (optional && errors.Is(err, io.EOF)) {
		return true
	}
	writeErr(w, http.StatusBadRequest, "invalid request body: %v", err)
	return false
}

// respond writes data in a success envelope, or err as a failure envelope
// with a status derived from its code.
func respond(w http.ResponseWriter, status int, data any, err error) {
	if err != nil {
		writeJSON(w, statusFor(err), service.Respond(nil, err))
		return
	}
	writeJSON(w, status, service.Respond(data, nil))
}

func statusFor(err error) int {
	switch fault.CodeOf(err) {
	case fault.SessionNotFound, fault.ArtifactMissing:
		return http.StatusNotFound
	case fault.InvalidInput, fault.UnknownChunk:
		return http.StatusBadRequest
	case fault.MalformedRecord, fault.ResultMalformed:
		return http.StatusUnprocessableEntity
	case fault.BackendUnavailable:
		return http.StatusServiceUnavailable
	case fault.BackendTimeout:
		return http.StatusGatewayTimeout
	case fault.BackendExecutionFailed, fault.BackendExhausted:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// writeJSON encodes v as JSON and writes it to w with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.Encode(v)
}

// writeErr writes a failure envelope for a request the service never saw.
func writeErr(w http.ResponseWriter, status int, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	writeJSON(w, status, model.ToolResponse{IsError: true, Message: msg, Hint: fault.Hint(fault.InvalidInput)})
}
