package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/banshee-data/measurefirst/internal/config"
	"github.com/banshee-data/measurefirst/internal/db"
	"github.com/banshee-data/measurefirst/internal/display"
	"github.com/banshee-data/measurefirst/internal/feed"
	"github.com/banshee-data/measurefirst/internal/measure"
	"github.com/banshee-data/measurefirst/internal/pipeline"
	"github.com/banshee-data/measurefirst/internal/testutil"
	"github.com/banshee-data/measurefirst/internal/units"
)

func TestReplayEndToEnd(t *testing.T) {
	testingDir := t.TempDir()

	d, err := db.NewDB(filepath.Join(testingDir, "measurements.db"))
	if err != nil {
		t.Fatalf("Failed to connect to test database: %v", err)
	}
	defer func() {
		if err := d.Close(); err != nil {
			t.Errorf("Failed to close test database: %v", err)
		}
	}()

	cfg := config.DefaultEstimatorConfig()
	session, err := startSession(d, cfg, "")
	if err != nil {
		t.Fatalf("startSession: %v", err)
	}
	if session.Label == "" {
		t.Error("expected a generated session label")
	}
	if !strings.Contains(session.ConfigJSON, "speed_threshold_kmph") {
		t.Errorf("session config not stored: %s", session.ConfigJSON)
	}

	recording := testutil.WriteRecording(t,
		"detector ready",
		testutil.JointsFrame("p1", 10, 0, 1.75, 0),
		testutil.JointsFrame("p1", 10.5, 1, 1.75, 0),
	)
	src, err := openSource(sourceOptions{Replay: recording, Speedup: 0})
	if err != nil {
		t.Fatalf("openSource: %v", err)
	}
	defer src.Close()

	board := display.NewBoard(nil)
	proc := pipeline.NewProcessor(cfg, board, d)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- proc.Run(ctx, src) }()
	waitForSubscriber(ctx, src)

	if err := src.Monitor(ctx); err != nil {
		t.Fatalf("Monitor: %v", err)
	}
	if st := waitForDrain(ctx, src, proc); st.Lines != 3 {
		t.Fatalf("drained %d lines, want 3", st.Lines)
	}
	src.Close()
	if err := <-done; err != nil {
		t.Fatalf("Run: %v", err)
	}

	heights, err := d.RecentHeights(db.Filter{SessionID: session.ID})
	if err != nil {
		t.Fatalf("RecentHeights: %v", err)
	}
	wantHeights := []db.HeightRecord{
		{SessionID: session.ID, Subject: "p1", Centimeters: 175, Source: measure.SourceJoints, FrameTS: 10.5},
		{SessionID: session.ID, Subject: "p1", Centimeters: 175, Source: measure.SourceJoints, FrameTS: 10},
	}
	opts := []cmp.Option{
		cmpopts.IgnoreFields(db.HeightRecord{}, "RecordedAt"),
		cmpopts.EquateApprox(0, 1e-9),
	}
	if diff := cmp.Diff(wantHeights, heights, opts...); diff != "" {
		t.Errorf("heights mismatch (-want +got):\n%s", diff)
	}

	speeds, err := d.RecentSpeeds(db.Filter{SessionID: session.ID})
	if err != nil {
		t.Fatalf("RecentSpeeds: %v", err)
	}
	if len(speeds) != 1 {
		t.Fatalf("expected 1 speed, got %d", len(speeds))
	}
	if diff := cmp.Diff(2.0, speeds[0].MPS, cmpopts.EquateApprox(0, 1e-9)); diff != "" {
		t.Errorf("speed mismatch (-want +got):\n%s", diff)
	}

	st := proc.Stats()
	if st.IgnoredLines != 1 || st.Frames != 2 {
		t.Errorf("unexpected stats: %+v", st)
	}

	// plots for the session land in a per-session directory
	plotRoot := filepath.Join(testingDir, "plots")
	paths, err := writeSessionPlots(d, session.ID, plotRoot, units.KMPH)
	if err != nil {
		t.Fatalf("writeSessionPlots: %v", err)
	}
	if len(paths) != 3 {
		t.Fatalf("expected 3 plots, got %v", paths)
	}
	for _, p := range paths {
		if !strings.HasPrefix(p, filepath.Join(plotRoot, session.ID)) {
			t.Errorf("plot %s not under session directory", p)
		}
	}
}

func TestWriteSessionPlotsRejectsOutsideDirs(t *testing.T) {
	d, err := db.NewDB(filepath.Join(t.TempDir(), "measurements.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer d.Close()

	if _, err := writeSessionPlots(d, "s", "/proc/measure-plots", units.MPS); err == nil {
		t.Error("expected an error for a directory outside cwd and temp")
	}
}

func TestOpenSource(t *testing.T) {
	src, err := openSource(sourceOptions{Disabled: true, Replay: "ignored.jsonl"})
	if err != nil {
		t.Fatalf("openSource(disabled): %v", err)
	}
	if _, ok := src.(*feed.Disabled); !ok {
		t.Errorf("expected *feed.Disabled, got %T", src)
	}
	src.Close()

	if _, err := openSource(sourceOptions{Replay: filepath.Join(t.TempDir(), "missing.jsonl")}); err == nil {
		t.Error("expected error for a missing replay file")
	}
	if _, err := openSource(sourceOptions{}); err == nil {
		t.Error("expected error when no serial port is given")
	}
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	wd, _ := os.Getwd()
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Chdir(wd) })

	// the default path falls back to built-in values when absent
	cfg, err := loadConfig(config.DefaultConfigPath)
	if err != nil {
		t.Fatalf("loadConfig(default): %v", err)
	}
	if diff := cmp.Diff(config.DefaultEstimatorConfig(), cfg); diff != "" {
		t.Errorf("default config mismatch (-want +got):\n%s", diff)
	}

	// an explicit path must exist
	if _, err := loadConfig("custom.json"); err == nil {
		t.Error("expected error for a missing explicit config")
	}

	if err := os.WriteFile("custom.json", []byte(`{"object_distance_m": 3.5}`), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err = loadConfig("custom.json")
	if err != nil {
		t.Fatalf("loadConfig(custom): %v", err)
	}
	if got := cfg.GetObjectDistanceM(); got != 3.5 {
		t.Errorf("object distance = %v, want 3.5", got)
	}
}

func TestRunMigrate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "migrate.db")

	if err := runMigrate(path, nil); err == nil {
		t.Error("expected error without a subcommand")
	}
	if err := runMigrate(path, []string{"sideways"}); err == nil {
		t.Error("expected error for an unknown subcommand")
	}
	for _, cmd := range []string{"up", "version", "down", "version"} {
		if err := runMigrate(path, []string{cmd}); err != nil {
			t.Fatalf("migrate %s: %v", cmd, err)
		}
	}
}

func TestNewServeMuxMountsAdminRoutes(t *testing.T) {
	d, err := db.NewDB(filepath.Join(t.TempDir(), "measurements.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer d.Close()
	src := feed.NewDisabled()
	defer src.Close()

	board := display.NewBoard(nil)
	mux := newServeMux(board, d, pipeline.NewProcessor(config.DefaultEstimatorConfig(), board, d), src, units.MPS)

	for _, path := range []string{"/api/config", "/api/stats", "/debug/feed-disabled"} {
		w := httptest.NewRecorder()
		mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		testutil.AssertStatusCode(t, w.Code, http.StatusOK)
	}
}

func TestWaitForDrainStopsOnCancel(t *testing.T) {
	testutil.QuietLogs(t)
	src := feed.NewMux(feed.NewReplayPort(strings.NewReader(testutil.Recording(
		testutil.JointsFrame("p1", 0, 0, 1.7, 0),
	)), feed.ReplayOptions{}))
	defer src.Close()
	_, _ = src.Subscribe()
	if err := src.Monitor(context.Background()); err != nil {
		t.Fatalf("Monitor: %v", err)
	}

	// nothing consumes the feed, so only the context ends the wait
	proc := pipeline.NewProcessor(config.DefaultEstimatorConfig(), nil, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if st := waitForDrain(ctx, src, proc); st.Lines != 0 {
		t.Errorf("Lines = %d, want 0", st.Lines)
	}
}
