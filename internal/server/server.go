// Package server exposes the read-only JSON API over the live store plus
// the archive partitions, cycle status, and Prometheus metrics. Handlers
// only ever read; all writes go through the orchestrator.
package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/vincentlarkin/Caddo911-Monitor/internal/archive"
	"github.com/vincentlarkin/Caddo911-Monitor/internal/incident"
	"github.com/vincentlarkin/Caddo911-Monitor/internal/orchestrator"
	"github.com/vincentlarkin/Caddo911-Monitor/internal/store"
)

// Server is the HTTP server for serving incident data.
type Server struct {
	store    *store.Store
	orch     *orchestrator.Orchestrator
	archiver *archive.Archiver
	interval time.Duration
	logger   *logrus.Logger
	mux      *http.ServeMux
}

// New creates a new Server.
func New(st *store.Store, orch *orchestrator.Orchestrator, archiver *archive.Archiver, scrapeInterval time.Duration, logger *logrus.Logger) *Server {
	s := &Server{
		store:    st,
		orch:     orch,
		archiver: archiver,
		interval: scrapeInterval,
		logger:   logger,
		mux:      http.NewServeMux(),
	}
	s.routes()
	return s
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// ListenAndServe starts the server on the given port (blocking).
func (s *Server) ListenAndServe(port int) error {
	return http.ListenAndServe(fmt.Sprintf(":%d", port), s.mux)
}

func (s *Server) routes() {
	s.mux.HandleFunc("/api/incidents/active", s.handleActive)
	s.mux.HandleFunc("/api/incidents/history", s.handleHistory)
	s.mux.HandleFunc("/api/archive", s.handleArchive)
	s.mux.HandleFunc("/api/stats", s.handleStats)
	s.mux.HandleFunc("/api/status", s.handleStatus)
	s.mux.HandleFunc("/api/refresh", s.handleRefresh)
	s.mux.Handle("/metrics", promhttp.Handler())
	s.mux.HandleFunc("/healthz", s.handleHealthz)
}

// incidentJSON is the wire shape for one incident.
type incidentJSON struct {
	Fingerprint  string   `json:"fingerprint"`
	Source       string   `json:"source"`
	Agency       string   `json:"agency"`
	ReportedTime string   `json:"time"`
	Units        int      `json:"units"`
	Description  string   `json:"description"`
	Street       string   `json:"street"`
	CrossStreets string   `json:"crossStreets"`
	Municipality string   `json:"municipality"`
	Latitude     *float64 `json:"latitude"`
	Longitude    *float64 `json:"longitude"`
	GeoSource    string   `json:"geocodeSource,omitempty"`
	GeoQuality   string   `json:"geocodeQuality,omitempty"`
	FirstSeen    string   `json:"firstSeen"`
	LastSeen     string   `json:"lastSeen"`
	IsActive     bool     `json:"isActive"`
}

func toJSON(inc incident.Incident) incidentJSON {
	out := incidentJSON{
		Fingerprint:  inc.Fingerprint,
		Source:       string(inc.Source),
		Agency:       inc.Agency,
		ReportedTime: inc.ReportedTime,
		Units:        inc.Units,
		Description:  inc.Description,
		Street:       inc.Street,
		CrossStreets: inc.CrossStreets,
		Municipality: inc.Municipality,
		FirstSeen:    inc.FirstSeen.Format(time.RFC3339),
		LastSeen:     inc.LastSeen.Format(time.RFC3339),
		IsActive:     inc.IsActive,
	}
	if inc.Geocode != nil {
		out.Latitude = &inc.Geocode.Latitude
		out.Longitude = &inc.Geocode.Longitude
		out.GeoSource = inc.Geocode.Source
		out.GeoQuality = string(inc.Geocode.Quality)
	}
	return out
}

func toJSONList(incidents []incident.Incident) []incidentJSON {
	out := make([]incidentJSON, len(incidents))
	for i, inc := range incidents {
		out[i] = toJSON(inc)
	}
	return out
}

func (s *Server) handleActive(w http.ResponseWriter, r *http.Request) {
	var (
		incidents []incident.Incident
		err       error
	)
	if srcParam := r.URL.Query().Get("source"); srcParam != "" {
		src, perr := incident.ParseSource(srcParam)
		if perr != nil {
			s.writeError(w, http.StatusBadRequest, perr)
			return
		}
		incidents, err = s.store.ActiveIncidents(src)
	} else {
		incidents, err = s.store.AllActive()
	}
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, toJSONList(incidents))
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 100)
	offset := queryInt(r, "offset", 0)
	date := r.URL.Query().Get("date")

	incidents, total, err := s.store.History(limit, offset, date)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, map[string]any{
		"incidents": toJSONList(incidents),
		"total":     total,
	})
}

var monthRe = regexp.MustCompile(`^\d{4}-\d{2}$`)

func (s *Server) handleArchive(w http.ResponseWriter, r *http.Request) {
	month := r.URL.Query().Get("month")
	if !monthRe.MatchString(month) {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("month must be YYYY-MM"))
		return
	}

	incidents, err := s.archiver.ReadMonth(month)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, map[string]any{
		"month":     month,
		"incidents": toJSONList(incidents),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.GetStats()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, stats)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := s.orch.Status()
	s.writeJSON(w, map[string]any{
		"cycle":            status,
		"scrapeIntervalMs": s.interval.Milliseconds(),
	})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, fmt.Errorf("POST required"))
		return
	}

	started := s.orch.RunCycle(r.Context())
	s.writeJSON(w, map[string]any{
		"success": started,
		"dropped": !started,
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.WithError(err).Warn("writing response failed")
	}
}

func (s *Server) writeError(w http.ResponseWriter, code int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

func queryInt(r *http.Request, key string, fallback int) int {
	if raw := r.URL.Query().Get(key); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n >= 0 {
			return n
		}
	}
	return fallback
}
