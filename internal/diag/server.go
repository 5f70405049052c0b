package diag

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/hdds-go/hdds/internal/discovery"
)

// ParticipantsFunc returns the current snapshot of known participants,
// typically discovery.Engine.Participants.
type ParticipantsFunc func() []discovery.ParticipantRecord

// EndpointsFunc returns the current snapshot of known remote endpoints,
// typically discovery.Engine.RemoteEndpoints.
type EndpointsFunc func() []discovery.EndpointRecord

// Server is the operator-facing diagnostics HTTP server: /metrics, a
// small set of read-only debug endpoints, and the live event websocket.
// It is deliberately separate from any public DDS API surface.
type Server struct {
	hub            *Hub
	metricsHandler http.Handler
	participants   ParticipantsFunc
	endpoints      EndpointsFunc
	log            *slog.Logger
}

// NewServer builds a Server. metricsHandler is typically a
// metrics.Registry's Handler(); participants/endpoints may be nil, in
// which case their endpoints respond with a JSON null.
func NewServer(metricsHandler http.Handler, hub *Hub, participants ParticipantsFunc, endpoints EndpointsFunc, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		hub:            hub,
		metricsHandler: metricsHandler,
		participants:   participants,
		endpoints:      endpoints,
		log:            log.With("component", "diag.server"),
	}
}

// Router builds the gorilla/mux router backing this server, following
// the reference codebase's api/server.go CORS-then-routes shape.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()

	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET")
			if req.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}
			next.ServeHTTP(w, req)
		})
	})

	if s.metricsHandler != nil {
		r.Handle("/metrics", s.metricsHandler).Methods(http.MethodGet)
	}
	r.HandleFunc("/debug/participants", s.handleParticipants).Methods(http.MethodGet)
	r.HandleFunc("/debug/endpoints", s.handleEndpoints).Methods(http.MethodGet)
	if s.hub != nil {
		r.HandleFunc("/debug/events", s.hub.HandleWS)
	}

	return r
}

// ListenAndServe starts the HTTP server on addr. It blocks until the
// server stops, matching http.Server.ListenAndServe's contract.
func (s *Server) ListenAndServe(addr string) error {
	s.log.Info("diagnostics server listening", "addr", addr)
	return http.ListenAndServe(addr, s.Router())
}

func (s *Server) handleParticipants(w http.ResponseWriter, r *http.Request) {
	var out []discovery.ParticipantRecord
	if s.participants != nil {
		out = s.participants()
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(out); err != nil {
		s.log.Warn("failed to encode participants response", "error", err)
	}
}

func (s *Server) handleEndpoints(w http.ResponseWriter, r *http.Request) {
	var out []discovery.EndpointRecord
	if s.endpoints != nil {
		out = s.endpoints()
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(out); err != nil {
		s.log.Warn("failed to encode endpoints response", "error", err)
	}
}
