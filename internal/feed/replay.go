package feed

import (
	"bufio"
	"bytes"
	"io"
	"sync"
	"time"

	"github.com/banshee-data/measurefirst/internal/monitoring"
	"github.com/banshee-data/measurefirst/internal/perception"
	"github.com/banshee-data/measurefirst/internal/timeutil"
)

// ReplayOptions controls how a recorded feed is played back.
type ReplayOptions struct {
	// Speedup divides the recorded inter-frame gaps. Zero or negative
	// replays as fast as the reader consumes.
	Speedup float64
	// MaxGap caps a single pause, so long idle stretches in a recording
	// do not stall playback.
	MaxGap time.Duration
	// Clock paces playback. Defaults to the real clock.
	Clock timeutil.Clock
}

// ReplayPort is a Porter that plays back a recorded JSON-lines feed, pacing
// lines by the gaps between their frame timestamps. Writes are accepted and
// discarded. A Mux over a ReplayPort delivers every line to every
// subscriber, however slowly they read.
type ReplayPort struct {
	pr   *io.PipeReader
	pw   *io.PipeWriter
	done chan struct{}
	once sync.Once
}

var _ Porter = (*ReplayPort)(nil)

// NewReplayPort starts playback of src. src is closed when playback ends if
// it implements io.Closer.
func NewReplayPort(src io.Reader, opts ReplayOptions) *ReplayPort {
	if opts.Clock == nil {
		opts.Clock = timeutil.RealClock{}
	}
	pr, pw := io.Pipe()
	p := &ReplayPort{pr: pr, pw: pw, done: make(chan struct{})}
	go p.play(src, opts)
	return p
}

func (p *ReplayPort) play(src io.Reader, opts ReplayOptions) {
	defer func() {
		if c, ok := src.(io.Closer); ok {
			c.Close()
		}
	}()

	scan := bufio.NewScanner(src)
	scan.Buffer(make([]byte, 0, 64*1024), maxScanLine)

	var prevTS float64
	havePrev := false
	for scan.Scan() {
		line := scan.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}

		if ts, ok := perception.PeekTimestamp(string(line)); ok {
			if havePrev && opts.Speedup > 0 && ts > prevTS {
				gap := time.Duration((ts - prevTS) / opts.Speedup * float64(time.Second))
				if opts.MaxGap > 0 && gap > opts.MaxGap {
					gap = opts.MaxGap
				}
				select {
				case <-p.done:
					return
				default:
				}
				opts.Clock.Sleep(gap)
			}
			prevTS, havePrev = ts, true
		}

		buf := make([]byte, 0, len(line)+1)
		buf = append(append(buf, line...), '\n')
		if _, err := p.pw.Write(buf); err != nil {
			// reader side closed
			return
		}
	}
	if err := scan.Err(); err != nil {
		monitoring.Logf("replay: read error: %v", err)
		p.pw.CloseWithError(err)
		return
	}
	p.pw.Close()
}

func (p *ReplayPort) Read(b []byte) (int, error) { return p.pr.Read(b) }

// Write discards commands; a recording cannot respond to them.
func (p *ReplayPort) Write(b []byte) (int, error) { return len(b), nil }

// Lossless reports that a recording can wait for its readers.
func (p *ReplayPort) Lossless() bool { return true }

// Close stops playback.
func (p *ReplayPort) Close() error {
	p.once.Do(func() { close(p.done) })
	return p.pr.Close()
}
