// Package httpapi is the action boundary: it translates inbound actor calls
// into typed engine invocations and maps core failures onto HTTP status
// codes. All domain decisions live below it.
package httpapi

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/nurse-dispatch/internal/engine"
	"github.com/example/nurse-dispatch/internal/ingest"
	"github.com/example/nurse-dispatch/internal/location"
	"github.com/example/nurse-dispatch/internal/match"
	"github.com/example/nurse-dispatch/internal/notify"
	"github.com/example/nurse-dispatch/internal/request"
)

// Deps are the collaborators the boundary dispatches into.
type Deps struct {
	Auth      AuthProvider
	Locations location.Store
	Requests  request.Store
	Engine    *engine.Engine
	Matcher   *match.Service
	Sessions  *notify.WSRegistry

	// Producer republishes accepted location reports to Kafka; nil
	// disables the pipeline.
	Producer *ingest.LocationProducer
}

type Server struct {
	deps   Deps
	logger *slog.Logger
	mux    *mux.Router
}

func NewServer(logger *slog.Logger, deps Deps) *Server {
	s := &Server{deps: deps, logger: logger, mux: mux.NewRouter()}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/api/v1/nurses/{nurse_id}/location", s.handleLocationUpdate).Methods(http.MethodPost)
	s.mux.HandleFunc("/api/v1/requests", s.handleCreateRequest).Methods(http.MethodPost)
	s.mux.HandleFunc("/api/v1/requests/{id}", s.handleGetRequest).Methods(http.MethodGet)
	s.mux.HandleFunc("/api/v1/requests/{id}/actions", s.handleRequestAction).Methods(http.MethodPost)
	s.mux.HandleFunc("/api/v1/requests/{id}/candidates", s.handleCandidates).Methods(http.MethodGet)
	s.mux.HandleFunc("/api/v1/admin/ping", s.handleAdminPing).Methods(http.MethodGet)
	s.mux.HandleFunc("/ws/nurses/{nurse_id}", s.handleWS)
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)
	s.mux.Handle("/metrics", promhttp.Handler())
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }
