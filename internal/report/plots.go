// Package report renders stored measurements as PNG charts.
package report

import (
	"errors"
	"fmt"
	"image/color"
	"os"
	"path/filepath"
	"sort"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/measurefirst/internal/db"
	"github.com/banshee-data/measurefirst/internal/units"
)

// ErrNoData is returned when there is nothing to plot.
var ErrNoData = errors.New("no data to plot")

const (
	plotWidth  = 14 * vg.Inch
	plotHeight = 6 * vg.Inch
)

// Plotter writes charts into a single output directory.
type Plotter struct {
	outputDir string
	units     string
}

// NewPlotter returns a Plotter writing into outputDir with speeds in unit.
// An unknown unit falls back to m/s.
func NewPlotter(outputDir, unit string) *Plotter {
	if !units.IsValid(unit) {
		unit = units.MPS
	}
	return &Plotter{outputDir: outputDir, units: unit}
}

// OutputDir returns the directory plots are written to.
func (p *Plotter) OutputDir() string { return p.outputDir }

func (p *Plotter) prepare() error {
	if err := os.MkdirAll(p.outputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output dir: %w", err)
	}
	return nil
}

func (p *Plotter) save(pl *plot.Plot, name string) (string, error) {
	if err := p.prepare(); err != nil {
		return "", err
	}
	path := filepath.Join(p.outputDir, name)
	if err := pl.Save(plotWidth, plotHeight, path); err != nil {
		return "", fmt.Errorf("failed to save %s: %w", name, err)
	}
	return path, nil
}

func topRightLegend(pl *plot.Plot) {
	pl.Legend.Top = true
	pl.Legend.Left = false
	pl.Legend.XOffs = -10
	pl.Legend.YOffs = -10
}

// bySubject groups (frame ts, value) points by subject, sorted by time.
func bySubject(n int, at func(i int) (string, plotter.XY)) ([]string, map[string]plotter.XYs) {
	series := make(map[string]plotter.XYs)
	for i := 0; i < n; i++ {
		subject, xy := at(i)
		series[subject] = append(series[subject], xy)
	}
	names := make([]string, 0, len(series))
	for name, pts := range series {
		sort.Slice(pts, func(i, j int) bool { return pts[i].X < pts[j].X })
		names = append(names, name)
	}
	sort.Strings(names)
	return names, series
}

// SpeedSeries plots each subject's speed over frame time as a line with
// point markers. At-rest readings are plotted at zero.
func (p *Plotter) SpeedSeries(speeds []db.SpeedRecord) (string, error) {
	if len(speeds) == 0 {
		return "", ErrNoData
	}
	names, series := bySubject(len(speeds), func(i int) (string, plotter.XY) {
		r := speeds[i]
		return r.Subject, plotter.XY{X: r.FrameTS, Y: units.ConvertSpeed(r.MPS, p.units)}
	})

	pl := plot.New()
	pl.Title.Text = "Speed"
	pl.X.Label.Text = "Frame time (s)"
	pl.Y.Label.Text = fmt.Sprintf("Speed (%s)", p.units)

	colors := generateColors(len(names))
	for i, name := range names {
		line, points, err := plotter.NewLinePoints(series[name])
		if err != nil {
			return "", err
		}
		line.Color = colors[i]
		line.Width = vg.Points(1)
		points.Color = colors[i]
		points.Radius = vg.Points(1.5)
		pl.Add(line, points)
		pl.Legend.Add(name, line, points)
	}
	topRightLegend(pl)
	return p.save(pl, fmt.Sprintf("speed_%s.png", p.units))
}

// SpeedHistogram plots the distribution of moving speeds. At-rest
// readings are excluded.
func (p *Plotter) SpeedHistogram(speeds []db.SpeedRecord, bins int) (string, error) {
	values := make(plotter.Values, 0, len(speeds))
	for _, r := range speeds {
		if r.Suppressed {
			continue
		}
		values = append(values, units.ConvertSpeed(r.MPS, p.units))
	}
	if len(values) == 0 {
		return "", ErrNoData
	}
	if bins <= 0 {
		bins = 20
	}

	pl := plot.New()
	pl.Title.Text = fmt.Sprintf("Speed distribution (n=%d)", len(values))
	pl.X.Label.Text = fmt.Sprintf("Speed (%s)", p.units)
	pl.Y.Label.Text = "Count"

	hist, err := plotter.NewHist(values, bins)
	if err != nil {
		return "", err
	}
	hist.FillColor = color.RGBA{R: 49, G: 104, B: 142, A: 255}
	pl.Add(hist)
	return p.save(pl, fmt.Sprintf("speed_hist_%s.png", p.units))
}

// HeightSeries plots each subject's height estimates over frame time.
func (p *Plotter) HeightSeries(heights []db.HeightRecord) (string, error) {
	if len(heights) == 0 {
		return "", ErrNoData
	}
	names, series := bySubject(len(heights), func(i int) (string, plotter.XY) {
		r := heights[i]
		return r.Subject, plotter.XY{X: r.FrameTS, Y: r.Centimeters}
	})

	pl := plot.New()
	pl.Title.Text = "Height"
	pl.X.Label.Text = "Frame time (s)"
	pl.Y.Label.Text = "Height (cm)"

	colors := generateColors(len(names))
	for i, name := range names {
		sc, err := plotter.NewScatter(series[name])
		if err != nil {
			return "", err
		}
		sc.GlyphStyle.Color = colors[i]
		sc.GlyphStyle.Radius = vg.Points(2)
		pl.Add(sc)
		pl.Legend.Add(name, sc)
	}
	topRightLegend(pl)
	return p.save(pl, "height.png")
}

// WriteAll renders every chart that has data and returns the written paths.
func (p *Plotter) WriteAll(speeds []db.SpeedRecord, heights []db.HeightRecord) ([]string, error) {
	var written []string
	steps := []func() (string, error){
		func() (string, error) { return p.SpeedSeries(speeds) },
		func() (string, error) { return p.SpeedHistogram(speeds, 0) },
		func() (string, error) { return p.HeightSeries(heights) },
	}
	for _, step := range steps {
		path, err := step()
		if errors.Is(err, ErrNoData) {
			continue
		}
		if err != nil {
			return written, err
		}
		written = append(written, path)
	}
	if len(written) == 0 {
		return nil, ErrNoData
	}
	return written, nil
}

// generateColors returns n evenly spaced hues.
func generateColors(n int) []color.Color {
	if n <= 0 {
		return nil
	}

	colors := make([]color.Color, n)
	for i := 0; i < n; i++ {
		hue := float64(i) / float64(n)
		r, g, b := hslToRGB(hue, 0.7, 0.5)
		colors[i] = color.RGBA{R: r, G: g, B: b, A: 255}
	}
	return colors
}

// hslToRGB converts HSL to RGB (0-255 range)
func hslToRGB(h, s, l float64) (r, g, b uint8) {
	var rf, gf, bf float64

	if s == 0 {
		rf, gf, bf = l, l, l
	} else {
		var q float64
		if l < 0.5 {
			q = l * (1 + s)
		} else {
			q = l + s - l*s
		}
		p := 2*l - q
		rf = hueToRGB(p, q, h+1.0/3.0)
		gf = hueToRGB(p, q, h)
		bf = hueToRGB(p, q, h-1.0/3.0)
	}

	return uint8(rf * 255), uint8(gf * 255), uint8(bf * 255)
}

func hueToRGB(p, q, t float64) float64 {
	if t < 0 {
		t += 1
	}
	if t > 1 {
		t -= 1
	}
	if t < 1.0/6.0 {
		return p + (q-p)*6*t
	}
	if t < 1.0/2.0 {
		return q
	}
	if t < 2.0/3.0 {
		return p + (q-p)*(2.0/3.0-t)*6
	}
	return p
}
