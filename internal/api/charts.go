package api

import (
	"bytes"
	"fmt"
	"net/http"
	"sort"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/measurefirst/internal/httputil"
	"github.com/banshee-data/measurefirst/internal/units"
)

// chartPoint is one (frame time, value) pair of a subject's series.
type chartPoint struct {
	ts, v float64
}

// groupBySubject returns series keyed by subject, each sorted by frame time,
// plus the sorted subject names.
func groupBySubject(points map[string][]chartPoint) []string {
	names := make([]string, 0, len(points))
	for name, pts := range points {
		sort.Slice(pts, func(i, j int) bool { return pts[i].ts < pts[j].ts })
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func scatterData(pts []chartPoint) []opts.ScatterData {
	out := make([]opts.ScatterData, len(pts))
	for i, p := range pts {
		out[i] = opts.ScatterData{Value: []interface{}{p.ts, p.v}}
	}
	return out
}

func writeChartPage(w http.ResponseWriter, page *components.Page) {
	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("render error: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

// handleSpeedChart renders recent speeds per subject and the percentile
// summary of the same window.
func (s *Server) handleSpeedChart(w http.ResponseWriter, r *http.Request) {
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
		httputil.InternalServerError(w, fmt.Sprintf("failed to get speeds: %v", err))
		return
	}
	sum, err := s.db.SummarizeSpeeds(f)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to summarize speeds: %v", err))
		return
	}

	series := map[string][]chartPoint{}
	for _, rec := range speeds {
		series[rec.Subject] = append(series[rec.Subject], chartPoint{ts: rec.FrameTS, v: units.ConvertSpeed(rec.MPS, u)})
	}

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Speed", Theme: "dark", Width: "100%", Height: "540px"}),
		charts.WithTitleOpts(opts.Title{Title: "Recent Speeds", Subtitle: fmt.Sprintf("units=%s count=%d", u, len(speeds))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Type: "value", Scale: opts.Bool(true), Name: "frame time (s)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Type: "value", Name: u, NameLocation: "middle", NameGap: 30}),
	)
	for _, name := range groupBySubject(series) {
		scatter.AddSeries(name, scatterData(series[name]), charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 6}))
	}

	conv := convertSummary(sum, u)
	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Theme: "dark", Width: "100%", Height: "360px"}),
		charts.WithTitleOpts(opts.Title{Title: "Speed Percentiles", Subtitle: fmt.Sprintf("moving=%d at_rest=%d", sum.Count-sum.AtRest, sum.AtRest)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	bar.SetXAxis([]string{"p50", "p85", "p98", "max"}).
		AddSeries(u, []opts.BarData{
			{Value: conv.P50},
			{Value: conv.P85},
			{Value: conv.P98},
			{Value: conv.Max},
		}, charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"}))

	page := components.NewPage()
	page.PageTitle = "Speed"
	page.AddCharts(scatter, bar)
	writeChartPage(w, page)
}

// handleHeightChart renders recent heights per subject.
func (s *Server) handleHeightChart(w http.ResponseWriter, r *http.Request) {
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
		httputil.InternalServerError(w, fmt.Sprintf("failed to get heights: %v", err))
		return
	}
	sum, err := s.db.SummarizeHeights(f)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to summarize heights: %v", err))
		return
	}

	series := map[string][]chartPoint{}
	for _, rec := range heights {
		series[rec.Subject] = append(series[rec.Subject], chartPoint{ts: rec.FrameTS, v: rec.Centimeters})
	}

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Height", Theme: "dark", Width: "100%", Height: "540px"}),
		charts.WithTitleOpts(opts.Title{Title: "Recent Heights", Subtitle: fmt.Sprintf("count=%d median=%d cm", sum.Count, sum.DisplayMedian)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Type: "value", Scale: opts.Bool(true), Name: "frame time (s)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Type: "value", Scale: opts.Bool(true), Name: "cm", NameLocation: "middle", NameGap: 30}),
	)
	for _, name := range groupBySubject(series) {
		scatter.AddSeries(name, scatterData(series[name]), charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 6}))
	}

	page := components.NewPage()
	page.PageTitle = "Height"
	page.AddCharts(scatter)
	writeChartPage(w, page)
}
