package pipeline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/banshee-data/measurefirst/internal/camera"
	"github.com/banshee-data/measurefirst/internal/config"
	"github.com/banshee-data/measurefirst/internal/display"
	"github.com/banshee-data/measurefirst/internal/distance"
	"github.com/banshee-data/measurefirst/internal/feed"
	"github.com/banshee-data/measurefirst/internal/geometry"
	"github.com/banshee-data/measurefirst/internal/height"
	"github.com/banshee-data/measurefirst/internal/measure"
	"github.com/banshee-data/measurefirst/internal/monitoring"
	"github.com/banshee-data/measurefirst/internal/perception"
	"github.com/banshee-data/measurefirst/internal/speed"
)

// PublishSink receives every frame's results for display.
type PublishSink interface {
	Apply(u display.Update) bool
}

// PersistenceSink stores successful measurements.
type PersistenceSink interface {
	RecordHeight(subject string, h measure.Height) error
	RecordSpeed(subject string, s measure.Speed) error
}

// Result is the outcome of one frame. A nil measurement carries the
// reason in the matching error.
type Result struct {
	Subject   string
	Timestamp float64
	Height    *measure.Height
	HeightErr error
	Speed     *measure.Speed
	SpeedErr  error
	// CenterDepthM is the depth at the frame center when a depth map was
	// supplied.
	CenterDepthM *float64
}

// Stats counts frames and outcomes since the Processor was created.
type Stats struct {
	Lines              uint64 `json:"lines"`
	Frames             uint64 `json:"frames"`
	ParseErrors        uint64 `json:"parse_errors"`
	IgnoredLines       uint64 `json:"ignored_lines"`
	Heights            uint64 `json:"heights"`
	Speeds             uint64 `json:"speeds"`
	AtRest             uint64 `json:"at_rest"`
	MissingObservation uint64 `json:"missing_observation"`
	InvalidGeometry    uint64 `json:"invalid_geometry"`
	NoPriorSample      uint64 `json:"no_prior_sample"`
	SubjectResets      uint64 `json:"subject_resets"`
	StoreErrors        uint64 `json:"store_errors"`
	Subjects           int    `json:"subjects"`
}

type counters struct {
	lines, frames, parseErrors, ignored          atomic.Uint64
	heights, speeds, atRest                      atomic.Uint64
	missing, invalid, noPrior, resets, storeErrs atomic.Uint64
}

// subjectState is the per-subject speed state. It is only touched with
// Processor.mu held.
type subjectState struct {
	estimator *speed.Estimator
	smoother  *speed.Smoother
	source    measure.Source
	lastTS    float64
}

// Processor runs the estimators over a stream of frames.
type Processor struct {
	cfg     *config.EstimatorConfig
	presets camera.Presets
	height  *height.Estimator
	speed   speed.Config

	board PublishSink
	store PersistenceSink

	mu       sync.Mutex
	subjects map[string]*subjectState

	stats counters
}

// NewProcessor builds a Processor from cfg. board and store may be nil.
func NewProcessor(cfg *config.EstimatorConfig, board PublishSink, store PersistenceSink) *Processor {
	if cfg == nil {
		cfg = config.EmptyEstimatorConfig()
	}
	return &Processor{
		cfg:      cfg,
		presets:  cfg.Presets(),
		height:   height.NewEstimator(cfg.HeightConfig()),
		speed:    cfg.SpeedConfig(),
		board:    board,
		store:    store,
		subjects: make(map[string]*subjectState),
	}
}

// Run consumes lines from src until ctx is done or src closes the
// subscription.
func (p *Processor) Run(ctx context.Context, src feed.Source) error {
	id, lines := src.Subscribe()
	defer src.Unsubscribe(id)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			p.HandleLine(line)
		}
	}
}

// HandleLine parses and processes one feed line. ok is false when the line
// was not a usable frame.
func (p *Processor) HandleLine(line string) (Result, bool) {
	p.stats.lines.Add(1)
	f, err := perception.ParseFrame(line)
	if err != nil {
		if errors.Is(err, perception.ErrNotFrame) {
			p.stats.ignored.Add(1)
			monitoring.Debugf("ignoring non-frame line: %q", line)
		} else {
			p.stats.parseErrors.Add(1)
			monitoring.Logf("pipeline: %v", err)
		}
		return Result{}, false
	}
	return p.Process(f), true
}

// Process runs the estimators over f and publishes the results.
func (p *Processor) Process(f *perception.Frame) Result {
	p.stats.frames.Add(1)
	res := Result{Subject: f.SubjectID(), Timestamp: f.Timestamp}

	if h, err := p.estimateHeight(f); err != nil {
		res.HeightErr = err
		p.countError(err)
	} else {
		h.Timestamp = f.Timestamp
		res.Height = &h
		p.stats.heights.Add(1)
	}

	p.mu.Lock()
	sp, err := p.estimateSpeed(res.Subject, f)
	p.mu.Unlock()
	if err != nil {
		res.SpeedErr = err
		p.countError(err)
	} else {
		res.Speed = &sp
		p.stats.speeds.Add(1)
		if sp.Suppressed {
			p.stats.atRest.Add(1)
		}
	}

	if f.Depth != nil {
		if d, ok := f.Depth.Map().Center(); ok {
			v := float64(d)
			res.CenterDepthM = &v
			monitoring.Debugf("%s: depth at center %.3f m", res.Subject, v)
		}
	}

	p.publish(res)
	return res
}

func (p *Processor) publish(res Result) {
	if p.board != nil {
		p.board.Apply(display.Update{
			Subject:   res.Subject,
			Timestamp: res.Timestamp,
			Height:    res.Height,
			Speed:     res.Speed,
		})
	}
	if p.store == nil {
		return
	}
	if res.Height != nil {
		if err := p.store.RecordHeight(res.Subject, *res.Height); err != nil {
			p.stats.storeErrs.Add(1)
			monitoring.Logf("failed to record height for %s: %v", res.Subject, err)
		}
	}
	if res.Speed != nil {
		if err := p.store.RecordSpeed(res.Subject, *res.Speed); err != nil {
			p.stats.storeErrs.Add(1)
			monitoring.Logf("failed to record speed for %s: %v", res.Subject, err)
		}
	}
}

func (p *Processor) countError(err error) {
	switch {
	case errors.Is(err, measure.ErrMissingObservation):
		p.stats.missing.Add(1)
	case errors.Is(err, measure.ErrNoPriorSample):
		p.stats.noPrior.Add(1)
	case errors.Is(err, measure.ErrInvalidGeometry):
		p.stats.invalid.Add(1)
		monitoring.Debugf("invalid geometry: %v", err)
	}
}

// estimateHeight prefers tracked 3D joints and falls back to 2D keypoints
// scaled by a monocular distance estimate.
func (p *Processor) estimateHeight(f *perception.Frame) (measure.Height, error) {
	if f.Joints != nil && f.Joints.Tracked() {
		return p.height.Estimate3D(*f.Joints.Head, *f.Joints.RightFoot)
	}
	if f.Keypoints == nil || !f.Keypoints.Complete() {
		return measure.Height{}, measure.ErrMissingObservation
	}
	kp := f.Keypoints
	dist, err := p.subjectDistance(f)
	if err != nil {
		return measure.Height{}, err
	}
	return p.height.Estimate2D(*kp.Nose, *kp.LeftAnkle, *kp.RightAnkle, dist)
}

// subjectDistance estimates distance from the face box when one was
// detected, otherwise from the head-to-feet separation.
func (p *Processor) subjectDistance(f *perception.Frame) (float64, error) {
	if d, ok := p.faceDistance(f); ok {
		return d, nil
	}
	kp := f.Keypoints
	if kp == nil || !kp.Complete() {
		return 0, measure.ErrMissingObservation
	}
	return distance.FromHeadToFeet(kp.Nose.Y, height.FeetY(*kp.LeftAnkle, *kp.RightAnkle), p.presets.Pose)
}

func (p *Processor) faceDistance(f *perception.Frame) (float64, bool) {
	if f.Face == nil || f.ViewHeight <= 0 {
		return 0, false
	}
	d, err := distance.FromFaceBox(f.Face.H, f.ViewHeight, p.presets.Face)
	if err != nil {
		monitoring.Debugf("face distance: %v", err)
		return 0, false
	}
	return d, true
}

// speedSample picks the most precise position in f: tracked head joint,
// device translation, nearest feature point, then the 2D object center.
func (p *Processor) speedSample(f *perception.Frame) (speed.Sample, bool) {
	s := speed.Sample{Timestamp: f.Timestamp, FrameWidth: f.FrameWidth}
	switch {
	case f.Joints != nil && f.Joints.Head != nil && f.Joints.Head.Tracked:
		s.Position = geometry.WorldPosition(f.Joints.Head.Vec())
		s.Source = measure.SourceJoints
	case f.CameraTransform != nil:
		s.Position = geometry.WorldPosition(geometry.TranslationFromTransform(*f.CameraTransform))
		s.Source = measure.SourceCamera
	default:
		if pt, ok := geometry.Nearest(f.Features()); ok {
			s.Position = geometry.WorldPosition(pt)
			s.Source = measure.SourceFeatures
			break
		}
		if f.Object == nil {
			return s, false
		}
		s.Position = geometry.ImagePosition(f.Object.X, f.Object.Y)
		s.Source = measure.SourceObject
		if p.cfg.GetSpeedDistanceSource() == config.DistanceSourceFace {
			if d, ok := p.faceDistance(f); ok {
				s.Distance = d
			}
		}
	}
	return s, true
}

// estimateSpeed must be called with p.mu held.
func (p *Processor) estimateSpeed(subject string, f *perception.Frame) (measure.Speed, error) {
	sample, ok := p.speedSample(f)
	if !ok {
		return measure.Speed{}, measure.ErrMissingObservation
	}

	st, ok := p.subjects[subject]
	if !ok {
		st = &subjectState{
			estimator: speed.NewEstimator(p.speed),
			smoother:  speed.NewSmoother(p.cfg.GetSmoothingWindow()),
		}
		p.subjects[subject] = st
	} else if p.stale(st, sample) {
		st.estimator.Reset()
		st.smoother.Reset()
		p.stats.resets.Add(1)
		monitoring.Debugf("%s: reset motion state (source %s -> %s, gap %.3fs)",
			subject, st.source, sample.Source, sample.Timestamp-st.lastTS)
	}
	st.source = sample.Source
	st.lastTS = sample.Timestamp

	sp, err := st.estimator.Update(sample)
	if err != nil {
		return measure.Speed{}, err
	}
	return st.smoother.Apply(sp, p.speed.ThresholdKMPH), nil
}

// stale reports whether the previous sample can no longer be differenced
// against s: the position source changed or the subject was unseen for
// longer than the subject timeout.
func (p *Processor) stale(st *subjectState, s speed.Sample) bool {
	if st.estimator.State().Empty() {
		return false
	}
	if st.source != s.Source {
		return true
	}
	timeout := p.cfg.GetSubjectTimeout().Seconds()
	return timeout > 0 && s.Timestamp-st.lastTS > timeout
}

// Reset discards all per-subject motion state.
func (p *Processor) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subjects = make(map[string]*subjectState)
}

// ResetSubject discards the motion state of one subject.
func (p *Processor) ResetSubject(subject string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.subjects, subject)
}

// Stats returns a snapshot of the counters.
func (p *Processor) Stats() Stats {
	p.mu.Lock()
	n := len(p.subjects)
	p.mu.Unlock()
	return Stats{
		Lines:              p.stats.lines.Load(),
		Frames:             p.stats.frames.Load(),
		ParseErrors:        p.stats.parseErrors.Load(),
		IgnoredLines:       p.stats.ignored.Load(),
		Heights:            p.stats.heights.Load(),
		Speeds:             p.stats.speeds.Load(),
		AtRest:             p.stats.atRest.Load(),
		MissingObservation: p.stats.missing.Load(),
		InvalidGeometry:    p.stats.invalid.Load(),
		NoPriorSample:      p.stats.noPrior.Load(),
		SubjectResets:      p.stats.resets.Load(),
		StoreErrors:        p.stats.storeErrs.Load(),
		Subjects:           n,
	}
}

// Config returns the calibration the Processor was built with.
func (p *Processor) Config() *config.EstimatorConfig { return p.cfg }
