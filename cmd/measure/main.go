package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/measurefirst/internal/api"
	"github.com/banshee-data/measurefirst/internal/config"
	"github.com/banshee-data/measurefirst/internal/db"
	"github.com/banshee-data/measurefirst/internal/display"
	"github.com/banshee-data/measurefirst/internal/feed"
	"github.com/banshee-data/measurefirst/internal/monitoring"
	"github.com/banshee-data/measurefirst/internal/pipeline"
	"github.com/banshee-data/measurefirst/internal/report"
	"github.com/banshee-data/measurefirst/internal/security"
	"github.com/banshee-data/measurefirst/internal/units"
	"github.com/banshee-data/measurefirst/internal/version"
)

var (
	listen      = flag.String("listen", ":8080", "Listen address")
	port        = flag.String("port", "/dev/ttyUSB0", "Serial port of the detector")
	baud        = flag.Int("baud", feed.DefaultBaudRate, "Serial baud rate")
	replayFile  = flag.String("replay", "", "Replay a recorded JSON-lines feed instead of opening the serial port")
	speedup     = flag.Float64("speedup", 1, "Replay speed multiplier (0 = as fast as possible)")
	maxGap      = flag.Duration("max-gap", 2*time.Second, "Longest pause between replayed frames")
	exitOnEOF   = flag.Bool("exit-on-eof", false, "Shut down when the replayed feed ends")
	disableFeed = flag.Bool("disable-feed", false, "Serve stored history without a detector")
	dbPath      = flag.String("db-path", "measurements.db", "Path to the SQLite database")
	configPath  = flag.String("config", config.DefaultConfigPath, "Estimator calibration JSON")
	unitsFlag   = flag.String("units", units.KMPH, "Default speed units for the API ("+units.GetValidUnitsString()+")")
	label       = flag.String("label", "", "Label stored with this session")
	plotDir     = flag.String("plot-dir", "", "Write PNG charts of this session here on shutdown")
	debug       = flag.Bool("debug", false, "Enable per-frame debug logging")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

func usage() {
	fmt.Fprintf(os.Stderr, `measure - height and speed estimation service

Usage:
  measure [flags]                    run the service
  measure migrate up|down|version    manage the database schema

Flags:
`)
	flag.PrintDefaults()
}

func main() {
	flag.Usage = usage
	flag.Parse()

	if *showVersion {
		fmt.Printf("measure %s\n", version.String())
		return
	}
	if flag.NArg() > 0 {
		if flag.Arg(0) != "migrate" {
			usage()
			os.Exit(2)
		}
		if err := runMigrate(*dbPath, flag.Args()[1:]); err != nil {
			log.Fatalf("migrate: %v", err)
		}
		return
	}

	if *listen == "" {
		log.Fatal("Listen address is required")
	}
	if !units.IsValid(*unitsFlag) {
		log.Fatalf("invalid units %q: must be one of %s", *unitsFlag, units.GetValidUnitsString())
	}
	monitoring.SetDebug(*debug)
	log.Printf("measure %s starting", version.String())

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	src, err := openSource(sourceOptions{
		Disabled: *disableFeed,
		Replay:   *replayFile,
		Port:     *port,
		Baud:     *baud,
		Speedup:  *speedup,
		MaxGap:   *maxGap,
	})
	if err != nil {
		log.Fatalf("failed to open feed: %v", err)
	}
	defer src.Close()

	store, err := db.NewDB(*dbPath)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer store.Close()

	session, err := startSession(store, cfg, *label)
	if err != nil {
		log.Fatalf("failed to start session: %v", err)
	}
	log.Printf("session %s started", session.ID)

	board := display.NewBoard(nil)
	proc := pipeline.NewProcessor(cfg, board, store)

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// pipeline routine: subscribe before the monitor starts so a replay
	// does not lose its first frames
	wg.Add(1)
	procDone := make(chan struct{})
	go func() {
		defer wg.Done()
		defer close(procDone)
		if err := proc.Run(ctx, src); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("pipeline stopped: %v", err)
		}
		log.Print("pipeline routine terminated")
	}()
	waitForSubscriber(ctx, src)

	// monitor routine manages IO on the feed
	wg.Add(1)
	go func() {
		defer wg.Done()
		err := src.Monitor(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("failed to monitor feed: %v", err)
		}
		if err == nil && *replayFile != "" {
			st := waitForDrain(ctx, src, proc)
			log.Printf("replay finished: %d lines, %d frames, %d heights, %d speeds", st.Lines, st.Frames, st.Heights, st.Speeds)
			if *exitOnEOF {
				src.Close()
				<-procDone
				stop()
			}
		}
		log.Print("monitor routine terminated")
	}()

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		mux := newServeMux(board, store, proc, src, *unitsFlag)
		server := &http.Server{
			Addr:    *listen,
			Handler: api.LoggingMiddleware(mux),
		}

		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
			if err := server.Close(); err != nil {
				log.Printf("HTTP server force close error: %v", err)
			}
		}
		log.Printf("HTTP server routine stopped")
	}()

	wg.Wait()

	if err := store.EndSession(); err != nil {
		log.Printf("failed to end session: %v", err)
	}
	if *plotDir != "" {
		paths, err := writeSessionPlots(store, session.ID, *plotDir, *unitsFlag)
		if err != nil {
			log.Printf("failed to write plots: %v", err)
		}
		for _, p := range paths {
			log.Printf("wrote %s", p)
		}
	}
	log.Printf("Graceful shutdown complete")
}

// loadConfig reads the calibration file, falling back to the built-in
// defaults when the default path does not exist.
func loadConfig(path string) (*config.EstimatorConfig, error) {
	if path == config.DefaultConfigPath {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			log.Printf("%s not found, using built-in calibration", path)
			return config.DefaultEstimatorConfig(), nil
		}
	}
	return config.LoadEstimatorConfig(path)
}

type sourceOptions struct {
	Disabled bool
	Replay   string
	Port     string
	Baud     int
	Speedup  float64
	MaxGap   time.Duration
}

// openSource picks the feed: disabled, a replayed recording, or the
// detector's serial port.
func openSource(o sourceOptions) (feed.Source, error) {
	switch {
	case o.Disabled:
		return feed.NewDisabled(), nil
	case o.Replay != "":
		f, err := os.Open(filepath.Clean(o.Replay))
		if err != nil {
			return nil, fmt.Errorf("failed to open replay file: %w", err)
		}
		return feed.NewMux(feed.NewReplayPort(f, feed.ReplayOptions{Speedup: o.Speedup, MaxGap: o.MaxGap})), nil
	default:
		if o.Port == "" {
			return nil, errors.New("serial port is required")
		}
		m, err := feed.NewSerialMux(o.Port, feed.PortOptions{BaudRate: o.Baud})
		if err != nil {
			return nil, err
		}
		return m, nil
	}
}

func waitForSubscriber(ctx context.Context, src feed.Source) {
	t := time.NewTicker(time.Millisecond)
	defer t.Stop()
	for src.Stats().Subscribers == 0 {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

// waitForDrain blocks until the pipeline has handled every line the feed
// delivered, and returns the pipeline counters at that point.
func waitForDrain(ctx context.Context, src feed.Source, proc *pipeline.Processor) pipeline.Stats {
	t := time.NewTicker(time.Millisecond)
	defer t.Stop()
	for {
		st := proc.Stats()
		if st.Lines >= src.Stats().Lines {
			return st
		}
		select {
		case <-ctx.Done():
			return proc.Stats()
		case <-t.C:
		}
	}
}

func startSession(store *db.DB, cfg *config.EstimatorConfig, label string) (*db.Session, error) {
	cfgJSON, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	if label == "" {
		label = time.Now().Format(time.RFC3339)
	}
	return store.StartSession(label, string(cfgJSON))
}

// newServeMux mounts the API and the admin debugging routes.
func newServeMux(board *display.Board, store *db.DB, proc *pipeline.Processor, src feed.Source, unit string) *http.ServeMux {
	mux := api.NewServer(board, store, proc, src, unit).ServeMux()
	src.AttachAdminRoutes(mux)
	store.AttachAdminRoutes(mux)
	return mux
}

func writeSessionPlots(store *db.DB, sessionID, dir, unit string) ([]string, error) {
	if err := security.ValidateOutputDir(dir); err != nil {
		return nil, err
	}
	f := db.Filter{SessionID: sessionID, Limit: 100000}
	speeds, err := store.RecentSpeeds(f)
	if err != nil {
		return nil, err
	}
	heights, err := store.RecentHeights(f)
	if err != nil {
		return nil, err
	}
	paths, err := report.NewPlotter(filepath.Join(dir, security.SanitizeFilename(sessionID)), unit).WriteAll(speeds, heights)
	if errors.Is(err, report.ErrNoData) {
		log.Printf("session %s has no measurements to plot", sessionID)
		return nil, nil
	}
	return paths, err
}

func runMigrate(path string, args []string) error {
	if len(args) != 1 {
		return errors.New("expected one of: up, down, version")
	}
	store, err := db.OpenDB(path)
	if err != nil {
		return err
	}
	defer store.Close()

	switch args[0] {
	case "up":
		return store.MigrateUp()
	case "down":
		return store.MigrateDown()
	case "version":
		v, dirty, err := store.MigrateVersion()
		if err != nil {
			return err
		}
		latest, err := db.LatestMigrationVersion()
		if err != nil {
			return err
		}
		fmt.Printf("schema version %d (latest %d, dirty=%v)\n", v, latest, dirty)
		return nil
	default:
		return fmt.Errorf("unknown migrate command %q", args[0])
	}
}
