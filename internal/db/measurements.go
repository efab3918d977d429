package db

import (
	"fmt"
	"sort"
	"strings"

	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/measurefirst/internal/measure"
)

// HeightRecord is a stored height estimate.
type HeightRecord struct {
	SessionID   string         `json:"session_id"`
	Subject     string         `json:"subject"`
	Centimeters float64        `json:"centimeters"`
	Source      measure.Source `json:"source"`
	FrameTS     float64        `json:"frame_ts"`
	RecordedAt  float64        `json:"recorded_at"`
}

// SpeedRecord is a stored speed estimate.
type SpeedRecord struct {
	SessionID  string         `json:"session_id"`
	Subject    string         `json:"subject"`
	MPS        float64        `json:"mps"`
	KMPH       float64        `json:"kmph"`
	MPH        float64        `json:"mph"`
	Suppressed bool           `json:"suppressed"`
	Source     measure.Source `json:"source"`
	FrameTS    float64        `json:"frame_ts"`
	RecordedAt float64        `json:"recorded_at"`
}

// Filter narrows the Recent* and summary queries. Zero values mean no
// restriction.
type Filter struct {
	SessionID string
	Subject   string
	// Since is a recorded_at lower bound in unix seconds.
	Since float64
	Limit int
}

func (f Filter) where() (string, []any) {
	var clauses []string
	var args []any
	if f.SessionID != "" {
		clauses = append(clauses, "session_id = ?")
		args = append(args, f.SessionID)
	}
	if f.Subject != "" {
		clauses = append(clauses, "subject = ?")
		args = append(args, f.Subject)
	}
	if f.Since > 0 {
		clauses = append(clauses, "recorded_at >= ?")
		args = append(args, f.Since)
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func (f Filter) limit() int {
	if f.Limit <= 0 {
		return 500
	}
	return f.Limit
}

// RecordHeight stores h for subject in the active session.
func (db *DB) RecordHeight(subject string, h measure.Height) error {
	session := db.CurrentSession()
	if session == "" {
		return ErrNoSession
	}
	_, err := db.Exec(
		`INSERT INTO heights (session_id, subject, centimeters, source, frame_ts, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		session, subject, h.Centimeters, string(h.Source), h.Timestamp, db.now(),
	)
	if err != nil {
		return fmt.Errorf("failed to record height: %w", err)
	}
	return nil
}

// RecordSpeed stores s for subject in the active session.
func (db *DB) RecordSpeed(subject string, s measure.Speed) error {
	session := db.CurrentSession()
	if session == "" {
		return ErrNoSession
	}
	suppressed := 0
	if s.Suppressed {
		suppressed = 1
	}
	_, err := db.Exec(
		`INSERT INTO speeds (session_id, subject, mps, kmph, mph, suppressed, source, frame_ts, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		session, subject, s.MPS, s.KMPH, s.MPH, suppressed, string(s.Source), s.Timestamp, db.now(),
	)
	if err != nil {
		return fmt.Errorf("failed to record speed: %w", err)
	}
	return nil
}

// RecentHeights returns matching heights, newest first.
func (db *DB) RecentHeights(f Filter) ([]HeightRecord, error) {
	where, args := f.where()
	rows, err := db.Query(
		`SELECT session_id, subject, centimeters, source, frame_ts, recorded_at FROM heights`+
			where+` ORDER BY recorded_at DESC, height_id DESC LIMIT ?`,
		append(args, f.limit())...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []HeightRecord
	for rows.Next() {
		var r HeightRecord
		var source string
		if err := rows.Scan(&r.SessionID, &r.Subject, &r.Centimeters, &source, &r.FrameTS, &r.RecordedAt); err != nil {
			return nil, err
		}
		r.Source = measure.Source(source)
		out = append(out, r)
	}
	return out, rows.Err()
}

// RecentSpeeds returns matching speeds, newest first.
func (db *DB) RecentSpeeds(f Filter) ([]SpeedRecord, error) {
	where, args := f.where()
	rows, err := db.Query(
		`SELECT session_id, subject, mps, kmph, mph, suppressed, source, frame_ts, recorded_at FROM speeds`+
			where+` ORDER BY recorded_at DESC, speed_id DESC LIMIT ?`,
		append(args, f.limit())...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SpeedRecord
	for rows.Next() {
		var r SpeedRecord
		var source string
		var suppressed int
		if err := rows.Scan(&r.SessionID, &r.Subject, &r.MPS, &r.KMPH, &r.MPH, &suppressed, &source, &r.FrameTS, &r.RecordedAt); err != nil {
			return nil, err
		}
		r.Suppressed = suppressed != 0
		r.Source = measure.Source(source)
		out = append(out, r)
	}
	return out, rows.Err()
}

// SpeedSummary aggregates moving speeds in meters per second. At-rest
// readings suppressed by the noise threshold are counted but excluded
// from the percentiles.
type SpeedSummary struct {
	Count      int     `json:"count"`
	AtRest     int     `json:"at_rest"`
	P50MPS     float64 `json:"p50_mps"`
	P85MPS     float64 `json:"p85_mps"`
	P98MPS     float64 `json:"p98_mps"`
	MaxMPS     float64 `json:"max_mps"`
	MeanMPS    float64 `json:"mean_mps"`
	StdDevMPS  float64 `json:"stddev_mps"`
	FirstFrame float64 `json:"first_frame_ts"`
	LastFrame  float64 `json:"last_frame_ts"`
}

// SummarizeSpeeds computes percentile statistics over matching speeds.
// The filter's limit does not apply.
func (db *DB) SummarizeSpeeds(f Filter) (SpeedSummary, error) {
	where, args := f.where()
	rows, err := db.Query(`SELECT mps, suppressed, frame_ts FROM speeds`+where, args...)
	if err != nil {
		return SpeedSummary{}, err
	}
	defer rows.Close()

	var sum SpeedSummary
	var moving []float64
	first := true
	for rows.Next() {
		var mps, ts float64
		var suppressed int
		if err := rows.Scan(&mps, &suppressed, &ts); err != nil {
			return SpeedSummary{}, err
		}
		sum.Count++
		if first || ts < sum.FirstFrame {
			sum.FirstFrame = ts
		}
		if first || ts > sum.LastFrame {
			sum.LastFrame = ts
		}
		first = false
		if suppressed != 0 {
			sum.AtRest++
			continue
		}
		moving = append(moving, mps)
	}
	if err := rows.Err(); err != nil {
		return SpeedSummary{}, err
	}

	if len(moving) == 0 {
		return sum, nil
	}
	sort.Float64s(moving)
	sum.P50MPS = stat.Quantile(0.50, stat.Empirical, moving, nil)
	sum.P85MPS = stat.Quantile(0.85, stat.Empirical, moving, nil)
	sum.P98MPS = stat.Quantile(0.98, stat.Empirical, moving, nil)
	sum.MaxMPS = moving[len(moving)-1]
	sum.MeanMPS, sum.StdDevMPS = meanStdDev(moving)
	return sum, nil
}

// HeightSummary aggregates height estimates in centimeters.
type HeightSummary struct {
	Count         int     `json:"count"`
	MedianCM      float64 `json:"median_cm"`
	MeanCM        float64 `json:"mean_cm"`
	StdDevCM      float64 `json:"stddev_cm"`
	DisplayMedian int     `json:"display_median_cm"`
}

// SummarizeHeights returns the median height over matching records, the
// most stable single figure for a standing subject.
func (db *DB) SummarizeHeights(f Filter) (HeightSummary, error) {
	where, args := f.where()
	rows, err := db.Query(`SELECT centimeters FROM heights`+where, args...)
	if err != nil {
		return HeightSummary{}, err
	}
	defer rows.Close()

	var cms []float64
	for rows.Next() {
		var cm float64
		if err := rows.Scan(&cm); err != nil {
			return HeightSummary{}, err
		}
		cms = append(cms, cm)
	}
	if err := rows.Err(); err != nil {
		return HeightSummary{}, err
	}

	sum := HeightSummary{Count: len(cms)}
	if len(cms) == 0 {
		return sum, nil
	}
	sort.Float64s(cms)
	sum.MedianCM = stat.Quantile(0.5, stat.Empirical, cms, nil)
	sum.MeanCM, sum.StdDevCM = meanStdDev(cms)
	sum.DisplayMedian = measure.Height{Centimeters: sum.MedianCM}.DisplayCentimeters()
	return sum, nil
}

// meanStdDev is stat.MeanStdDev with a zero deviation for a single value,
// which would otherwise be NaN and unencodable as JSON.
func meanStdDev(xs []float64) (mean, std float64) {
	if len(xs) < 2 {
		return stat.Mean(xs, nil), 0
	}
	return stat.MeanStdDev(xs, nil)
}
