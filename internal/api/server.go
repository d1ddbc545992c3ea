// Package api serves the detector's state, settings and evidence log over HTTP.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/gridwatch/internal/grid"
	"github.com/banshee-data/gridwatch/internal/grid/pipeline"
	"github.com/banshee-data/gridwatch/internal/grid/storage/sqlite"
	"github.com/banshee-data/gridwatch/internal/httputil"
	"github.com/banshee-data/gridwatch/internal/monitoring"
)

const defaultListLimit = 100

// EvidenceStore is the read side of the disturbance evidence log.
type EvidenceStore interface {
	Get(disturbanceID string) (*sqlite.Record, error)
	ListSince(since time.Time, limit int) ([]*sqlite.Record, error)
	CountByType(since time.Time) (map[grid.DisturbanceType]int, error)
}

// Server exposes a detector over HTTP. The store is optional; without it
// the disturbance endpoints read the detector's in-memory history.
type Server struct {
	detector *pipeline.Detector
	store    EvidenceStore
}

func NewServer(detector *pipeline.Detector, store EvidenceStore) *Server {
	return &Server{detector: detector, store: store}
}

// Status is the /api/status response body.
type Status struct {
	FrameCount  int64               `json:"frame_count"`
	Calibrated  bool                `json:"calibrated"`
	Alignment   *grid.GridAlignment `json:"alignment,omitempty"`
	Listeners   int                 `json:"listeners"`
	Disturbance int                 `json:"disturbances_in_memory"`
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

// LoggingMiddleware logs one diag line per request.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(lrw, r)
		monitoring.Diagf("http %s %s %d %v", r.Method, r.URL.RequestURI(), lrw.statusCode, time.Since(start))
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", s.showStatus)
	mux.HandleFunc("/api/settings", s.handleSettings)
	mux.HandleFunc("/api/reset", s.resetDetector)
	mux.HandleFunc("/api/disturbances", s.listDisturbances)
	mux.HandleFunc("/api/disturbances/counts", s.countDisturbances)
	mux.HandleFunc("/api/disturbances/{id}", s.showDisturbance)
	return mux
}

func (s *Server) showStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w, http.MethodGet)
		return
	}
	httputil.WriteJSONOK(w, Status{
		FrameCount:  s.detector.FrameCount(),
		Calibrated:  s.detector.IsCalibrated(),
		Alignment:   s.detector.Alignment(),
		Listeners:   s.detector.ListenerCount(),
		Disturbance: len(s.detector.DisturbanceHistory()),
	})
}

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		httputil.WriteJSONOK(w, s.detector.Settings().Tuning())
	case http.MethodPatch, http.MethodPost:
		var patch grid.SettingsPatch
		dec := json.NewDecoder(r.Body)
		dec.DisallowUnknownFields()
		if err := dec.Decode(&patch); err != nil {
			httputil.BadRequest(w, fmt.Sprintf("invalid settings patch: %v", err))
			return
		}
		if err := s.detector.UpdateSettings(patch); err != nil {
			httputil.BadRequest(w, err.Error())
			return
		}
		httputil.WriteJSONOK(w, s.detector.Settings().Tuning())
	default:
		httputil.MethodNotAllowed(w, http.MethodGet, http.MethodPatch)
	}
}

func (s *Server) resetDetector(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w, http.MethodPost)
		return
	}
	s.detector.Reset()
	monitoring.Opsf("detector reset over http")
	httputil.WriteJSONOK(w, map[string]string{"status": "reset"})
}

// parseWindow reads the optional since (RFC 3339) and limit query parameters.
func parseWindow(r *http.Request) (since time.Time, limit int, err error) {
	limit = defaultListLimit
	q := r.URL.Query()
	if v := q.Get("since"); v != "" {
		if since, err = time.Parse(time.RFC3339Nano, v); err != nil {
			return since, 0, fmt.Errorf("since must be RFC 3339: %v", err)
		}
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return since, 0, fmt.Errorf("limit must be a positive integer")
		}
		limit = n
	}
	return since, limit, nil
}

func (s *Server) listDisturbances(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w, http.MethodGet)
		return
	}
	since, limit, err := parseWindow(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}

	out := []grid.GridDisturbance{}
	if s.store == nil {
		for _, d := range s.detector.DisturbanceHistory() {
			if d.Timestamp.Before(since) {
				continue
			}
			if len(out) == limit {
				break
			}
			out = append(out, d)
		}
		httputil.WriteJSONOK(w, out)
		return
	}

	records, err := s.store.ListSince(since, limit)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to list disturbances: %v", err))
		return
	}
	for _, rec := range records {
		out = append(out, rec.Disturbance)
	}
	httputil.WriteJSONOK(w, out)
}

func (s *Server) countDisturbances(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w, http.MethodGet)
		return
	}
	since, _, err := parseWindow(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}

	if s.store == nil {
		counts := make(map[grid.DisturbanceType]int)
		for _, d := range s.detector.DisturbanceHistory() {
			if !d.Timestamp.Before(since) {
				counts[d.Type]++
			}
		}
		httputil.WriteJSONOK(w, counts)
		return
	}

	counts, err := s.store.CountByType(since)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to count disturbances: %v", err))
		return
	}
	httputil.WriteJSONOK(w, counts)
}

func (s *Server) showDisturbance(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w, http.MethodGet)
		return
	}
	id := r.PathValue("id")

	if s.store == nil {
		for _, d := range s.detector.DisturbanceHistory() {
			if d.ID == id {
				httputil.WriteJSONOK(w, d)
				return
			}
		}
		httputil.NotFound(w, fmt.Sprintf("disturbance %s not found", id))
		return
	}

	rec, err := s.store.Get(id)
	if errors.Is(err, sqlite.ErrNotFound) {
		httputil.NotFound(w, fmt.Sprintf("disturbance %s not found", id))
		return
	}
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	httputil.WriteJSONOK(w, rec.Disturbance)
}
