// Package httpapi serves read-only supervisor status over HTTP.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/BrandonDHaskell/biogate/internal/biogate/service"
	"github.com/BrandonDHaskell/biogate/internal/clock"
)

// StatusSource is satisfied by *service.Supervisor.
type StatusSource interface {
	Snapshot() service.Snapshot
}

type Dependencies struct {
	Logger logrus.FieldLogger
	Addr   string
	Status StatusSource
	Clock  clock.Clock
}

type Server struct {
	httpServer *http.Server
	logger     logrus.FieldLogger
	status     StatusSource
	clock      clock.Clock
}

func NewServer(d Dependencies) *Server {
	if d.Clock == nil {
		d.Clock = clock.Real()
	}
	mux := http.NewServeMux()

	s := &Server{
		logger: d.Logger,
		status: d.Status,
		clock:  d.Clock,
	}

	mux.HandleFunc("GET /v1/status", s.handleStatus)
	mux.HandleFunc("GET /v1/healthz", s.handleHealthz)

	s.httpServer = &http.Server{
		Addr:              d.Addr,
		Handler:           loggingMiddleware(d.Logger, mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Start blocks until the listener fails or Shutdown is called, in which
// case it returns http.ErrServerClosed.
func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	view := statusFromSnapshot(s.status.Snapshot(), s.clock.Now())

	if wantsProtobuf(r) {
		msg, err := statusToProto(view)
		if err != nil {
			s.logger.WithError(err).Error("encode status")
			writeError(w, http.StatusInternalServerError, "internal_error", "unexpected server error")
			return
		}
		writeProto(w, http.StatusOK, msg)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	snap := s.status.Snapshot()
	code := http.StatusOK
	if snap.State != service.StateMonitoring {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]string{"state": snap.State.String()})
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorBody{Error: code, Message: msg})
}
