package api

import (
	"bufio"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/measurefirst/internal/config"
	"github.com/banshee-data/measurefirst/internal/db"
	"github.com/banshee-data/measurefirst/internal/display"
	"github.com/banshee-data/measurefirst/internal/feed"
	"github.com/banshee-data/measurefirst/internal/measure"
	"github.com/banshee-data/measurefirst/internal/pipeline"
	"github.com/banshee-data/measurefirst/internal/testutil"
	"github.com/banshee-data/measurefirst/internal/timeutil"
	"github.com/banshee-data/measurefirst/internal/units"
	"github.com/banshee-data/measurefirst/internal/version"
)

type testEnv struct {
	server *Server
	board  *display.Board
	db     *db.DB
	proc   *pipeline.Processor
	mux    *http.ServeMux
}

func setupServer(t *testing.T) *testEnv {
	t.Helper()
	clock := timeutil.NewMockClock(time.Unix(1_700_000_000, 0))

	store, err := db.NewDB(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	store.SetClock(clock)
	_, err = store.StartSession("api-test", "{}")
	require.NoError(t, err)

	board := display.NewBoard(clock)
	proc := pipeline.NewProcessor(config.DefaultEstimatorConfig(), board, store)
	src := feed.NewDisabled()
	t.Cleanup(func() { src.Close() })

	s := NewServer(board, store, proc, src, units.MPS)
	return &testEnv{server: s, board: board, db: store, proc: proc, mux: s.ServeMux()}
}

func (e *testEnv) get(t *testing.T, target string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	e.mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, target, nil))
	return w
}

func seedSpeeds(t *testing.T, store *db.DB) {
	t.Helper()
	record := func(subject string, mps, ts float64, src measure.Source) {
		sp := measure.NewSpeed(mps, 0.1)
		sp.Source = src
		sp.Timestamp = ts
		require.NoError(t, store.RecordSpeed(subject, sp))
	}
	record("alice", 1, 1, measure.SourceJoints)
	record("alice", 2, 2, measure.SourceJoints)
	record("alice", 3, 3, measure.SourceJoints)
	record("bob", 0.01, 4, measure.SourceObject)
}

func TestShowLatest(t *testing.T) {
	env := setupServer(t)
	h := measure.Height{Centimeters: 175.9, Source: measure.SourceJoints, Timestamp: 1}
	sp := measure.Speed{MPS: 2, KMPH: 7.2, MPH: 4.474, Source: measure.SourceJoints, Timestamp: 1}
	env.board.Apply(display.Update{Subject: "alice", Timestamp: 1, Height: &h, Speed: &sp})

	w := env.get(t, "/api/latest?units=mph")
	require.Equal(t, http.StatusOK, w.Code)

	var out []latestReading
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	require.Len(t, out, 1)
	assert.Equal(t, "alice", out[0].Subject)
	assert.Equal(t, 175, out[0].HeightCM)
	assert.Equal(t, units.MPH, out[0].Units)
	require.NotNil(t, out[0].SpeedValue)
	assert.InDelta(t, 4.474, *out[0].SpeedValue, 1e-9)

	w = env.get(t, "/api/latest?subject=alice")
	require.Equal(t, http.StatusOK, w.Code)
	var one latestReading
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &one))
	assert.Equal(t, units.MPS, one.Units)
	assert.InDelta(t, 2.0, *one.SpeedValue, 1e-9)

	w = env.get(t, "/api/latest?subject=nobody")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestInvalidUnits(t *testing.T) {
	env := setupServer(t)
	for _, path := range []string{"/api/latest", "/api/speeds", "/api/speeds/summary", "/charts/speed"} {
		w := env.get(t, path+"?units=furlongs")
		assert.Equal(t, http.StatusBadRequest, w.Code, path)
		assert.Contains(t, w.Body.String(), "invalid 'units'", path)
	}
}

func TestInvalidLimit(t *testing.T) {
	env := setupServer(t)
	w := env.get(t, "/api/heights?limit=0")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = env.get(t, "/api/speeds?since=yesterday")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestListSpeeds(t *testing.T) {
	env := setupServer(t)
	seedSpeeds(t, env.db)

	w := env.get(t, "/api/speeds?units=kmph&subject=alice")
	require.Equal(t, http.StatusOK, w.Code)

	var out []speedAPI
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	require.Len(t, out, 3)
	for _, rec := range out {
		assert.Equal(t, "alice", rec.Subject)
		assert.Equal(t, units.KMPH, rec.Units)
		assert.InDelta(t, rec.MPS*3.6, rec.Speed, 1e-9)
	}
}

func TestSpeedSummary(t *testing.T) {
	env := setupServer(t)
	seedSpeeds(t, env.db)

	w := env.get(t, "/api/speeds/summary")
	require.Equal(t, http.StatusOK, w.Code)

	var sum speedSummaryAPI
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sum))
	assert.Equal(t, 4, sum.Count)
	assert.Equal(t, 1, sum.AtRest)
	assert.Equal(t, units.MPS, sum.Units)
	assert.InDelta(t, 3.0, sum.Max, 1e-9)
	assert.InDelta(t, 2.0, sum.Mean, 1e-9)

	w = env.get(t, "/api/speeds/summary?units=mph")
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sum))
	assert.InDelta(t, 3*units.MPHPerMPS, sum.Max, 1e-9)
}

func TestHeights(t *testing.T) {
	env := setupServer(t)
	for i, cm := range []float64{170, 172, 174} {
		require.NoError(t, env.db.RecordHeight("alice", measure.Height{Centimeters: cm, Source: measure.SourceKeypoints, Timestamp: float64(i)}))
	}

	w := env.get(t, "/api/heights?limit=2")
	require.Equal(t, http.StatusOK, w.Code)
	var recs []db.HeightRecord
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &recs))
	assert.Len(t, recs, 2)

	w = env.get(t, "/api/heights/summary")
	require.Equal(t, http.StatusOK, w.Code)
	var sum db.HeightSummary
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sum))
	assert.Equal(t, 3, sum.Count)
	assert.Equal(t, 172, sum.DisplayMedian)
}

func TestEmptyListsEncodeAsArrays(t *testing.T) {
	env := setupServer(t)
	for _, path := range []string{"/api/heights", "/api/speeds"} {
		w := env.get(t, path)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "[]", strings.TrimSpace(w.Body.String()), path)
	}
}

func TestListSessions(t *testing.T) {
	env := setupServer(t)
	w := env.get(t, "/api/sessions")
	require.Equal(t, http.StatusOK, w.Code)

	var sessions []db.Session
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sessions))
	require.Len(t, sessions, 1)
	assert.Equal(t, "api-test", sessions[0].Label)
}

func TestShowConfig(t *testing.T) {
	env := setupServer(t)
	w := env.get(t, "/api/config")
	require.Equal(t, http.StatusOK, w.Code)

	var cfg map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &cfg))
	assert.JSONEq(t, `"mps"`, string(cfg["units"]))
	assert.JSONEq(t, `"`+version.Version+`"`, string(cfg["version"]))
	assert.Contains(t, string(cfg["estimator"]), "speed_threshold_kmph")
	assert.JSONEq(t, `"`+env.db.CurrentSession()+`"`, string(cfg["session_id"]))
}

func TestShowStats(t *testing.T) {
	env := setupServer(t)
	env.proc.HandleLine("{not json")

	w := env.get(t, "/api/stats")
	require.Equal(t, http.StatusOK, w.Code)

	var out struct {
		Pipeline pipeline.Stats `json:"pipeline"`
		Feed     feed.Stats     `json:"feed"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	assert.Equal(t, uint64(1), out.Pipeline.Lines)
	assert.Equal(t, uint64(1), out.Pipeline.ParseErrors)
}

func TestResetSubjects(t *testing.T) {
	env := setupServer(t)
	for _, subject := range []string{"alice", "bob"} {
		env.proc.HandleLine(testutil.JointsFrame(subject, 0, 0, 1.8, 0))
	}
	require.Equal(t, 2, env.proc.Stats().Subjects)

	w := env.get(t, "/api/reset")
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)

	w = httptest.NewRecorder()
	env.mux.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/reset?subject=alice", nil))
	require.Equal(t, http.StatusOK, w.Code)
	_, ok := env.board.Latest("alice")
	assert.False(t, ok)
	_, ok = env.board.Latest("bob")
	assert.True(t, ok)
	assert.Equal(t, 1, env.proc.Stats().Subjects)

	// bob keeps the previous sample, alice starts over
	res, _ := env.proc.HandleLine(testutil.JointsFrame("bob", 1, 1, 1.8, 0))
	require.NotNil(t, res.Speed, "bob speed error: %v", res.SpeedErr)
	assert.InDelta(t, 1, res.Speed.MPS, 1e-9)
	res, _ = env.proc.HandleLine(testutil.JointsFrame("alice", 1, 1, 1.8, 0))
	assert.ErrorIs(t, res.SpeedErr, measure.ErrNoPriorSample)

	w = httptest.NewRecorder()
	env.mux.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/reset", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 0, env.proc.Stats().Subjects)
}

func TestHistoryWithoutDB(t *testing.T) {
	s := NewServer(display.NewBoard(nil), nil, nil, nil, units.MPS)
	mux := s.ServeMux()
	for _, path := range []string{"/api/heights", "/api/speeds", "/api/speeds/summary", "/api/heights/summary", "/api/sessions", "/charts/speed", "/charts/height"} {
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusServiceUnavailable, w.Code, path)
	}

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/stats", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "{}", strings.TrimSpace(w.Body.String()))
}

func TestMethodNotAllowed(t *testing.T) {
	env := setupServer(t)
	for _, path := range []string{"/api/latest", "/api/speeds", "/api/config", "/charts/height"} {
		w := httptest.NewRecorder()
		env.mux.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, path, nil))
		assert.Equal(t, http.StatusMethodNotAllowed, w.Code, path)
	}
}

func TestSendCommand(t *testing.T) {
	env := setupServer(t)

	w := httptest.NewRecorder()
	form := url.Values{"command": {"reset"}}
	req := httptest.NewRequest(http.MethodPost, "/command", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	env.mux.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	env.mux.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/command", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCharts(t *testing.T) {
	env := setupServer(t)
	seedSpeeds(t, env.db)
	require.NoError(t, env.db.RecordHeight("alice", measure.Height{Centimeters: 171, Timestamp: 1}))

	w := env.get(t, "/charts/speed?units=kmph")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/html; charset=utf-8", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Body.String(), "Recent Speeds")
	assert.Contains(t, w.Body.String(), "Speed Percentiles")

	w = env.get(t, "/charts/height")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Recent Heights")
}

func TestStreamReadings(t *testing.T) {
	env := setupServer(t)
	srv := httptest.NewServer(env.mux)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/events?units=kmph")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	r := bufio.NewReader(resp.Body)
	line, err := r.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, ": ping\n", line)

	sp := measure.Speed{MPS: 1, KMPH: 3.6, MPH: 2.237}
	env.board.Apply(display.Update{Subject: "alice", Speed: &sp})

	for {
		line, err = r.ReadString('\n')
		require.NoError(t, err)
		if strings.HasPrefix(line, "data: ") {
			break
		}
	}
	var rd latestReading
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(strings.TrimSpace(line), "data: ")), &rd))
	assert.Equal(t, "alice", rd.Subject)
	assert.Equal(t, units.KMPH, rd.Units)
	assert.InDelta(t, 3.6, *rd.SpeedValue, 1e-9)
}

func TestStatusCodeColor(t *testing.T) {
	assert.Equal(t, colorBoldGreen+"200"+colorReset, statusCodeColor(200))
	assert.Equal(t, colorYellow+"304"+colorReset, statusCodeColor(304))
	assert.Equal(t, colorBoldRed+"404"+colorReset, statusCodeColor(404))
	assert.Equal(t, colorBoldRed+"503"+colorReset, statusCodeColor(503))
	assert.Equal(t, "100", statusCodeColor(100))
}

func TestLoggingMiddlewarePreservesStatus(t *testing.T) {
	h := LoggingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.Equal(t, http.StatusTeapot, w.Code)
}
