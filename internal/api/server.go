package api

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/banshee-data/measurefirst/internal/db"
	"github.com/banshee-data/measurefirst/internal/display"
	"github.com/banshee-data/measurefirst/internal/feed"
	"github.com/banshee-data/measurefirst/internal/httputil"
	"github.com/banshee-data/measurefirst/internal/pipeline"
	"github.com/banshee-data/measurefirst/internal/units"
	"github.com/banshee-data/measurefirst/internal/version"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

const maxListLimit = 5000

// Server exposes the live board and the stored measurements over HTTP.
type Server struct {
	board     *display.Board
	db        *db.DB
	processor *pipeline.Processor
	feed      feed.Source
	units     string
}

// NewServer builds a Server. store may be nil when persistence is disabled;
// the history endpoints then answer 503.
func NewServer(board *display.Board, store *db.DB, proc *pipeline.Processor, src feed.Source, units string) *Server {
	return &Server{
		board:     board,
		db:        store,
		processor: proc,
		feed:      src,
		units:     units,
	}
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

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/latest", s.showLatest)
	mux.HandleFunc("/api/events", s.streamReadings)
	mux.HandleFunc("/api/heights", s.listHeights)
	mux.HandleFunc("/api/heights/summary", s.showHeightSummary)
	mux.HandleFunc("/api/speeds", s.listSpeeds)
	mux.HandleFunc("/api/speeds/summary", s.showSpeedSummary)
	mux.HandleFunc("/api/sessions", s.listSessions)
	mux.HandleFunc("/api/config", s.showConfig)
	mux.HandleFunc("/api/stats", s.showStats)
	mux.HandleFunc("/api/reset", s.resetSubjects)
	mux.HandleFunc("/command", s.sendCommandHandler)
	mux.HandleFunc("/charts/speed", s.handleSpeedChart)
	mux.HandleFunc("/charts/height", s.handleHeightChart)
	return mux
}

// requestUnits returns the ?units= override or the server default.
func (s *Server) requestUnits(r *http.Request) (string, error) {
	u := r.URL.Query().Get("units")
	if u == "" {
		return s.units, nil
	}
	if !units.IsValid(u) {
		return "", fmt.Errorf("invalid 'units' parameter: must be one of %s", units.GetValidUnitsString())
	}
	return u, nil
}

func (s *Server) requestFilter(r *http.Request) (db.Filter, error) {
	q := r.URL.Query()
	limit, err := httputil.QueryInt(r, "limit", 500, maxListLimit)
	if err != nil {
		return db.Filter{}, err
	}
	since, err := httputil.QueryFloat(r, "since", 0)
	if err != nil {
		return db.Filter{}, err
	}
	return db.Filter{
		SessionID: q.Get("session"),
		Subject:   q.Get("subject"),
		Since:     since,
		Limit:     limit,
	}, nil
}

func (s *Server) requireDB(w http.ResponseWriter) bool {
	if s.db == nil {
		httputil.WriteJSONError(w, http.StatusServiceUnavailable, "measurement database not configured")
		return false
	}
	return true
}

// latestReading is a board reading with its speed in the requested units.
type latestReading struct {
	display.Reading
	SpeedValue *float64 `json:"speed_value,omitempty"`
	Units      string   `json:"units"`
}

func (s *Server) toLatest(rd display.Reading, u string) latestReading {
	out := latestReading{Reading: rd, Units: u}
	if rd.Speed != nil {
		v := rd.Speed.In(u)
		out.SpeedValue = &v
	}
	return out
}

func (s *Server) showLatest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	u, err := s.requestUnits(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}

	if subject := r.URL.Query().Get("subject"); subject != "" {
		rd, ok := s.board.Latest(subject)
		if !ok {
			httputil.NotFound(w, fmt.Sprintf("no readings for subject %q", subject))
			return
		}
		httputil.WriteJSONOK(w, s.toLatest(rd, u))
		return
	}

	all := s.board.All()
	out := make([]latestReading, len(all))
	for i, rd := range all {
		out[i] = s.toLatest(rd, u)
	}
	httputil.WriteJSONOK(w, out)
}

// streamReadings pushes every board change as a Server-Sent Event.
func (s *Server) streamReadings(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	u, err := s.requestUnits(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		httputil.InternalServerError(w, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	id, c := s.board.Subscribe()
	defer s.board.Unsubscribe(id)

	w.Write([]byte(": ping\n\n"))
	flusher.Flush()

	for {
		select {
		case rd, ok := <-c:
			if !ok {
				return
			}
			payload, err := json.Marshal(s.toLatest(rd, u))
			if err != nil {
				return
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
				return
			}
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

func (s *Server) listHeights(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if !s.requireDB(w) {
		return
	}
	f, err := s.requestFilter(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	heights, err := s.db.RecentHeights(f)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("Failed to retrieve heights: %v", err))
		return
	}
	if heights == nil {
		heights = []db.HeightRecord{}
	}
	httputil.WriteJSONOK(w, heights)
}

// speedAPI is a stored speed expressed in the response units.
type speedAPI struct {
	db.SpeedRecord
	Speed float64 `json:"speed"`
	Units string  `json:"units"`
}

func (s *Server) listSpeeds(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if !s.requireDB(w) {
		return
	}
	u, err := s.requestUnits(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	f, err := s.requestFilter(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	speeds, err := s.db.RecentSpeeds(f)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("Failed to retrieve speeds: %v", err))
		return
	}
	out := make([]speedAPI, len(speeds))
	for i, rec := range speeds {
		out[i] = speedAPI{SpeedRecord: rec, Speed: units.ConvertSpeed(rec.MPS, u), Units: u}
	}
	httputil.WriteJSONOK(w, out)
}

// speedSummaryAPI is a SpeedSummary with the percentiles in response units.
type speedSummaryAPI struct {
	Count      int     `json:"count"`
	AtRest     int     `json:"at_rest"`
	Units      string  `json:"units"`
	P50        float64 `json:"p50"`
	P85        float64 `json:"p85"`
	P98        float64 `json:"p98"`
	Max        float64 `json:"max"`
	Mean       float64 `json:"mean"`
	StdDev     float64 `json:"stddev"`
	FirstFrame float64 `json:"first_frame_ts"`
	LastFrame  float64 `json:"last_frame_ts"`
}

func convertSummary(sum db.SpeedSummary, u string) speedSummaryAPI {
	return speedSummaryAPI{
		Count:      sum.Count,
		AtRest:     sum.AtRest,
		Units:      u,
		P50:        units.ConvertSpeed(sum.P50MPS, u),
		P85:        units.ConvertSpeed(sum.P85MPS, u),
		P98:        units.ConvertSpeed(sum.P98MPS, u),
		Max:        units.ConvertSpeed(sum.MaxMPS, u),
		Mean:       units.ConvertSpeed(sum.MeanMPS, u),
		StdDev:     units.ConvertSpeed(sum.StdDevMPS, u),
		FirstFrame: sum.FirstFrame,
		LastFrame:  sum.LastFrame,
	}
}

func (s *Server) showSpeedSummary(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if !s.requireDB(w) {
		return
	}
	u, err := s.requestUnits(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	f, err := s.requestFilter(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	sum, err := s.db.SummarizeSpeeds(f)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("Failed to summarize speeds: %v", err))
		return
	}
	httputil.WriteJSONOK(w, convertSummary(sum, u))
}

func (s *Server) showHeightSummary(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if !s.requireDB(w) {
		return
	}
	f, err := s.requestFilter(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	sum, err := s.db.SummarizeHeights(f)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("Failed to summarize heights: %v", err))
		return
	}
	httputil.WriteJSONOK(w, sum)
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	if !s.requireDB(w) {
		return
	}
	limit, err := httputil.QueryInt(r, "limit", 50, 1000)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	sessions, err := s.db.Sessions(limit)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("Failed to retrieve sessions: %v", err))
		return
	}
	if sessions == nil {
		sessions = []db.Session{}
	}
	httputil.WriteJSONOK(w, sessions)
}

func (s *Server) showConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	cfg := map[string]interface{}{
		"units":      s.units,
		"version":    version.Version,
		"git_sha":    version.GitSHA,
		"build_time": version.BuildTime,
	}
	if s.processor != nil {
		cfg["estimator"] = s.processor.Config()
	}
	if s.db != nil {
		cfg["session_id"] = s.db.CurrentSession()
	}
	httputil.WriteJSONOK(w, cfg)
}

func (s *Server) showStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	out := map[string]interface{}{}
	if s.processor != nil {
		out["pipeline"] = s.processor.Stats()
	}
	if s.feed != nil {
		out["feed"] = s.feed.Stats()
	}
	httputil.WriteJSONOK(w, out)
}

// resetSubjects clears motion state and, with ?subject=, the subject's
// displayed reading.
func (s *Server) resetSubjects(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	subject := r.URL.Query().Get("subject")
	if s.processor != nil {
		if subject != "" {
			s.processor.ResetSubject(subject)
		} else {
			s.processor.Reset()
		}
	}
	if subject != "" {
		s.board.Forget(subject)
	}
	httputil.WriteJSONOK(w, map[string]string{"status": "reset"})
}

func (s *Server) sendCommandHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.feed == nil {
		http.Error(w, "Feed not configured", http.StatusServiceUnavailable)
		return
	}

	command := strings.TrimSpace(r.FormValue("command"))
	if command == "" {
		http.Error(w, "Missing command", http.StatusBadRequest)
		return
	}
	if err := s.feed.SendCommand(command); err != nil {
		http.Error(w, "Failed to send command", http.StatusInternalServerError)
		return
	}
	io.WriteString(w, "Command sent successfully")
}
