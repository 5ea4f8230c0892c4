package restapi

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"
	"k8s.io/klog/v2"

	"github.com/microfe-scout/app/backend/monitor"
)

const (
	// CorrelationIDHeader is the HTTP header used for request correlation.
	CorrelationIDHeader = "X-Correlation-ID"
)

// Directory is the catalog surface the HTTP layer reads from.
type Directory interface {
	GetAll() []monitor.EntrySnapshot
	IsStarted() bool
	IsReady() bool
	IsLive() bool
}

// Server exposes the entrypoint catalog and the health endpoints.
type Server struct {
	directory Directory
	metrics   http.Handler
	upgrader  websocketUpgrader
}

// NewServer constructs an API server instance. metricsHandler may be nil to
// skip the /metrics route.
func NewServer(directory Directory, metricsHandler http.Handler) *Server {
	return &Server{
		directory: directory,
		metrics:   metricsHandler,
		upgrader:  newUpgrader(),
	}
}

// Register attaches the API routes to the provided mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/v1/all", s.handleAll)
	mux.HandleFunc("/api/v1/stream", s.handleStream)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/health/ready", s.handleHealthReady)
	mux.HandleFunc("/health/live", s.handleHealthLive)
	mux.HandleFunc("/health/started", s.handleHealthStarted)
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics)
	}
}

func (s *Server) handleAll(w http.ResponseWriter, r *http.Request) {
	correlationID := getCorrelationID(r)
	if r.Method != http.MethodGet {
		setCorrelationID(w, correlationID)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	entries := s.directory.GetAll()
	setCorrelationID(w, correlationID)
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(entries); err != nil {
		klog.V(2).Infof("Encoding /api/v1/all response failed: %v", err)
	}
}

// healthResponse is the body of every health endpoint.
type healthResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeHealth(w, r, s.directory.IsStarted() && s.directory.IsReady() && s.directory.IsLive())
}

func (s *Server) handleHealthReady(w http.ResponseWriter, r *http.Request) {
	s.writeHealth(w, r, s.directory.IsReady())
}

func (s *Server) handleHealthLive(w http.ResponseWriter, r *http.Request) {
	s.writeHealth(w, r, s.directory.IsLive())
}

func (s *Server) handleHealthStarted(w http.ResponseWriter, r *http.Request) {
	s.writeHealth(w, r, s.directory.IsStarted())
}

func (s *Server) writeHealth(w http.ResponseWriter, r *http.Request, up bool) {
	setCorrelationID(w, getCorrelationID(r))
	w.Header().Set("Content-Type", "application/json")
	status := "UP"
	code := http.StatusOK
	if !up {
		status = "DOWN"
		code = http.StatusServiceUnavailable
	}
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(healthResponse{Status: status})
}

func getCorrelationID(r *http.Request) string {
	if id := r.Header.Get(CorrelationIDHeader); id != "" {
		return id
	}
	return uuid.NewString()
}

func setCorrelationID(w http.ResponseWriter, id string) {
	w.Header().Set(CorrelationIDHeader, id)
}
