package api

import (
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/banshee-data/lightpos/internal/config"
	"github.com/banshee-data/lightpos/internal/db"
	"github.com/banshee-data/lightpos/internal/httputil"
	"github.com/banshee-data/lightpos/internal/pipeline"
	"github.com/banshee-data/lightpos/internal/version"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

const (
	defaultCentroidLimit = 100
	maxCentroidLimit     = 10000
)

// Server serves the light position API.
type Server struct {
	latest *pipeline.Latest
	stats  *pipeline.Stats
	params *config.ParamStore
	db     *db.DB
	runID  string

	// sourceStats reports counters of the frame source, if any.
	sourceStats func() interface{}
}

// NewServer returns a Server. db may be nil, in which case the history
// endpoints report 503.
func NewServer(latest *pipeline.Latest, stats *pipeline.Stats, params *config.ParamStore, database *db.DB, runID string) *Server {
	return &Server{
		latest: latest,
		stats:  stats,
		params: params,
		db:     database,
		runID:  runID,
	}
}

// SetSourceStats registers a function whose result is included in /api/stats.
func (s *Server) SetSourceStats(fn func() interface{}) {
	s.sourceStats = fn
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Printf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

// ServeMux returns a mux with every API route registered under /api/.
func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/centroid", s.showCentroid)
	mux.HandleFunc("/api/centroids", s.listCentroids)
	mux.HandleFunc("/api/params", s.handleParams)
	mux.HandleFunc("/api/params/changes", s.listParamChanges)
	mux.HandleFunc("/api/frame.png", s.showFrame)
	mux.HandleFunc("/api/stats", s.showStats)
	mux.HandleFunc("/api/charts/centroids", s.showCentroidChart)
	mux.HandleFunc("/api/plots/centroids.png", s.showCentroidPlot)
	mux.HandleFunc("/api/version", s.showVersion)
	return mux
}

// parseLimit reads the limit query parameter, defaulting to def.
func parseLimit(r *http.Request, def int) (int, bool) {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return def, true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 || n > maxCentroidLimit {
		return 0, false
	}
	return n, true
}

type centroidResponse struct {
	RunID         string    `json:"run_id"`
	FrameID       string    `json:"frame_id"`
	SourceFrameID string    `json:"source_frame_id"`
	Seq           uint32    `json:"seq"`
	Stamp         time.Time `json:"stamp"`
	X             int       `json:"x"`
	Y             int       `json:"y"`
	Found         bool      `json:"found"`
	BrightCount   int       `json:"bright_count"`
	Threshold     int       `json:"brightness_threshold"`
	ProcessingMs  float64   `json:"processing_ms"`
}

func (s *Server) showCentroid(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	out, ok := s.latest.Get()
	if !ok {
		httputil.NotFound(w, "no frame processed yet")
		return
	}
	httputil.WriteJSONOK(w, centroidResponse{
		RunID:         out.RunID,
		FrameID:       out.FrameID.String(),
		SourceFrameID: out.Header.FrameID,
		Seq:           out.Header.Seq,
		Stamp:         out.Header.Stamp,
		X:             out.Result.Centroid.X,
		Y:             out.Result.Centroid.Y,
		Found:         out.Result.Found,
		BrightCount:   out.Result.BrightCount,
		Threshold:     out.Params.Threshold,
		ProcessingMs:  float64(out.Duration.Nanoseconds()) / 1e6,
	})
}

func (s *Server) recentCentroids(w http.ResponseWriter, r *http.Request) ([]db.CentroidRecord, bool) {
	if s.db == nil {
		httputil.ServiceUnavailable(w, "no database configured")
		return nil, false
	}
	limit, ok := parseLimit(r, defaultCentroidLimit)
	if !ok {
		httputil.BadRequest(w, "invalid 'limit' parameter")
		return nil, false
	}
	recs, err := s.db.RecentCentroids(s.runID, limit)
	if err != nil {
		httputil.InternalServerError(w, "failed to retrieve centroids: "+err.Error())
		return nil, false
	}
	if recs == nil {
		recs = []db.CentroidRecord{}
	}
	return recs, true
}

func (s *Server) listCentroids(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	recs, ok := s.recentCentroids(w, r)
	if !ok {
		return
	}
	httputil.WriteJSONOK(w, recs)
}

type statsResponse struct {
	RunID    string           `json:"run_id"`
	Pipeline pipeline.Summary `json:"pipeline"`
	Source   interface{}      `json:"source,omitempty"`
}

func (s *Server) showStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	resp := statsResponse{RunID: s.runID}
	if s.stats != nil {
		resp.Pipeline = s.stats.Summary()
	}
	if s.sourceStats != nil {
		resp.Source = s.sourceStats()
	}
	httputil.WriteJSONOK(w, resp)
}

func (s *Server) showVersion(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSONOK(w, version.Current())
}
