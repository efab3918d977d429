// Command plot-measurements renders stored height and speed estimates as
// PNG charts.
//
// Measurements are read either straight from a database file or from a
// running measure service over HTTP.
//
// Usage:
//
//	go run ./cmd/tools/plot-measurements [flags]
//
// Flags:
//
//	-db        Path to a measurements database
//	-url       Base URL of a running service (used when -db is empty)
//	-session   Session ID to plot (default: most recent session)
//	-subject   Only plot this subject
//	-units     Speed units (default: kmph)
//	-out       Output directory (default: plots)
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/url"
	"path/filepath"
	"strconv"
	"time"

	"github.com/banshee-data/measurefirst/internal/db"
	"github.com/banshee-data/measurefirst/internal/httputil"
	"github.com/banshee-data/measurefirst/internal/report"
	"github.com/banshee-data/measurefirst/internal/security"
	"github.com/banshee-data/measurefirst/internal/units"
)

const maxRecords = 5000

// measurementSource is where the tool reads measurements from.
type measurementSource interface {
	LatestSession(ctx context.Context) (string, error)
	Speeds(ctx context.Context, f db.Filter) ([]db.SpeedRecord, error)
	Heights(ctx context.Context, f db.Filter) ([]db.HeightRecord, error)
}

type dbSource struct{ d *db.DB }

func (s dbSource) LatestSession(ctx context.Context) (string, error) {
	sessions, err := s.d.Sessions(1)
	if err != nil {
		return "", err
	}
	if len(sessions) == 0 {
		return "", db.ErrNoSession
	}
	return sessions[0].ID, nil
}

func (s dbSource) Speeds(ctx context.Context, f db.Filter) ([]db.SpeedRecord, error) {
	return s.d.RecentSpeeds(f)
}

func (s dbSource) Heights(ctx context.Context, f db.Filter) ([]db.HeightRecord, error) {
	return s.d.RecentHeights(f)
}

type apiSource struct{ c *httputil.Client }

func filterQuery(f db.Filter) url.Values {
	q := url.Values{}
	if f.SessionID != "" {
		q.Set("session", f.SessionID)
	}
	if f.Subject != "" {
		q.Set("subject", f.Subject)
	}
	if f.Limit > 0 {
		q.Set("limit", strconv.Itoa(f.Limit))
	}
	return q
}

func (s apiSource) LatestSession(ctx context.Context) (string, error) {
	var sessions []db.Session
	if err := s.c.GetJSON(ctx, "/api/sessions", url.Values{"limit": {"1"}}, &sessions); err != nil {
		return "", err
	}
	if len(sessions) == 0 {
		return "", db.ErrNoSession
	}
	return sessions[0].ID, nil
}

func (s apiSource) Speeds(ctx context.Context, f db.Filter) ([]db.SpeedRecord, error) {
	var out []db.SpeedRecord
	err := s.c.GetJSON(ctx, "/api/speeds", filterQuery(f), &out)
	return out, err
}

func (s apiSource) Heights(ctx context.Context, f db.Filter) ([]db.HeightRecord, error) {
	var out []db.HeightRecord
	err := s.c.GetJSON(ctx, "/api/heights", filterQuery(f), &out)
	return out, err
}

// plotSession writes every chart with data for one session into
// outDir/<session>.
func plotSession(ctx context.Context, src measurementSource, sessionID, subject, outDir, unit string) ([]string, error) {
	if err := security.ValidateOutputDir(outDir); err != nil {
		return nil, err
	}
	if sessionID == "" {
		id, err := src.LatestSession(ctx)
		if err != nil {
			return nil, err
		}
		sessionID = id
	}

	f := db.Filter{SessionID: sessionID, Subject: subject, Limit: maxRecords}
	speeds, err := src.Speeds(ctx, f)
	if err != nil {
		return nil, err
	}
	heights, err := src.Heights(ctx, f)
	if err != nil {
		return nil, err
	}
	log.Printf("session %s: %d speeds, %d heights", sessionID, len(speeds), len(heights))

	p := report.NewPlotter(filepath.Join(outDir, security.SanitizeFilename(sessionID)), unit)
	return p.WriteAll(speeds, heights)
}

func main() {
	dbPath := flag.String("db", "", "Path to a measurements database")
	baseURL := flag.String("url", "http://localhost:8080", "Base URL of a running service (used when -db is empty)")
	session := flag.String("session", "", "Session ID to plot (default: most recent)")
	subject := flag.String("subject", "", "Only plot this subject")
	unit := flag.String("units", units.KMPH, "Speed units ("+units.GetValidUnitsString()+")")
	outDir := flag.String("out", "plots", "Output directory")
	timeout := flag.Duration("timeout", 30*time.Second, "Overall timeout")
	flag.Parse()

	if !units.IsValid(*unit) {
		log.Fatalf("Error: invalid -units %q: must be one of %s", *unit, units.GetValidUnitsString())
	}

	var src measurementSource
	if *dbPath != "" {
		d, err := db.OpenDB(*dbPath)
		if err != nil {
			log.Fatalf("Failed to open database: %v", err)
		}
		defer d.Close()
		src = dbSource{d: d}
	} else {
		src = apiSource{c: httputil.NewClient(*baseURL, nil)}
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	paths, err := plotSession(ctx, src, *session, *subject, *outDir, *unit)
	if errors.Is(err, report.ErrNoData) {
		log.Printf("nothing to plot")
		return
	}
	if err != nil {
		log.Fatalf("Failed to plot: %v", err)
	}
	for _, p := range paths {
		log.Printf("wrote %s", p)
	}
}
